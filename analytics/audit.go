package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ExecutionAuditLog appends one JSON line per step transition and approval
// vote to a file. It is audit metadata only; the engine never reads it back.
type ExecutionAuditLog struct {
	fileName string
	logger   *zap.Logger
}

func NewExecutionAuditLog(fileName string) (*ExecutionAuditLog, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &ExecutionAuditLog{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (al *ExecutionAuditLog) RecordStepSuccess(executionId string, stepName string, stepOrder int, output any) {
	if al == nil {
		return
	}
	al.logger.Info("step completed", zap.String("executionId", executionId), zap.String("step", stepName), zap.Int("order", stepOrder), zap.Any("output", output))
}

func (al *ExecutionAuditLog) RecordStepFailure(executionId string, stepName string, stepOrder int, reason string) {
	if al == nil {
		return
	}
	al.logger.Info("step failed", zap.String("executionId", executionId), zap.String("step", stepName), zap.Int("order", stepOrder), zap.String("reason", reason))
}

func (al *ExecutionAuditLog) RecordApproval(executionId string, stepOrder int, approver string) {
	if al == nil {
		return
	}
	al.logger.Info("approval recorded", zap.String("executionId", executionId), zap.Int("order", stepOrder), zap.String("approver", approver))
}
