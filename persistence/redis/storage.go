package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
	"go.uber.org/zap"
)

const executionKey = "execution"
const stepsKey = "steps"
const activeKey = "active"
const scheduledKey = "scheduled"

var _ persistence.ExecutionStorage = new(RedisStorage)

// RedisStorage persists executions as JSON values, steps as one hash per
// execution keyed by order number, and keeps a sorted set of scheduled steps
// scored by wake time so the due query is a ZRANGEBYSCORE.
type RedisStorage struct {
	baseDao
	wfEncDec   util.EncoderDecoder[model.WorkflowExecution]
	stepEncDec util.EncoderDecoder[model.StepExecution]
}

func NewRedisStorage(conf Config) *RedisStorage {
	return &RedisStorage{
		baseDao:    *newBaseDao(conf),
		wfEncDec:   util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		stepEncDec: util.NewJsonEncoderDecoder[model.StepExecution](),
	}
}

func (s *RedisStorage) CreateExecution(wf *model.WorkflowExecution, steps []*model.StepExecution) error {
	ctx := context.Background()
	wfData, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	stepFields := make(map[string]any, len(steps))
	for _, step := range steps {
		data, err := s.stepEncDec.Encode(*step)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		stepFields[strconv.Itoa(step.OrderNumber)] = data
	}
	pipe := s.redisClient.Pipeline()
	pipe.Set(ctx, s.getNamespaceKey(executionKey, wf.Id), wfData, 0)
	pipe.HSet(ctx, s.getNamespaceKey(stepsKey, wf.Id), stepFields)
	pipe.Set(ctx, s.activeExecutionKey(wf.WorkflowType, wf.EntityType, wf.EntityId), wf.Id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while saving execution", zap.String("executionId", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *RedisStorage) GetExecution(executionId string) (*model.WorkflowExecution, error) {
	ctx := context.Background()
	data, err := s.redisClient.Get(ctx, s.getNamespaceKey(executionKey, executionId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.wfEncDec.Decode([]byte(data))
}

func (s *RedisStorage) UpdateExecution(wf *model.WorkflowExecution) error {
	ctx := context.Background()
	data, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	pipe := s.redisClient.Pipeline()
	pipe.Set(ctx, s.getNamespaceKey(executionKey, wf.Id), data, 0)
	if wf.Status.Terminal() {
		pipe.Del(ctx, s.activeExecutionKey(wf.WorkflowType, wf.EntityType, wf.EntityId))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *RedisStorage) DeleteExecution(executionId string) error {
	ctx := context.Background()
	wf, err := s.GetExecution(executionId)
	if err != nil {
		var notFound persistence.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	steps, err := s.GetSteps(executionId)
	if err != nil {
		var notFound persistence.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	pipe := s.redisClient.Pipeline()
	pipe.Del(ctx, s.getNamespaceKey(executionKey, executionId))
	pipe.Del(ctx, s.getNamespaceKey(stepsKey, executionId))
	pipe.Del(ctx, s.activeExecutionKey(wf.WorkflowType, wf.EntityType, wf.EntityId))
	for _, step := range steps {
		pipe.ZRem(ctx, s.getNamespaceKey(scheduledKey), scheduledMember(executionId, step.OrderNumber))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *RedisStorage) GetSteps(executionId string) ([]*model.StepExecution, error) {
	ctx := context.Background()
	fields, err := s.redisClient.HGetAll(ctx, s.getNamespaceKey(stepsKey, executionId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(fields) == 0 {
		return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
	}
	steps := make([]*model.StepExecution, 0, len(fields))
	for _, data := range fields {
		step, err := s.stepEncDec.Decode([]byte(data))
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		steps = append(steps, step)
	}
	sortSteps(steps)
	return steps, nil
}

func (s *RedisStorage) GetStep(executionId string, orderNumber int) (*model.StepExecution, error) {
	ctx := context.Background()
	data, err := s.redisClient.HGet(ctx, s.getNamespaceKey(stepsKey, executionId), strconv.Itoa(orderNumber)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "step", Id: executionId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.stepEncDec.Decode([]byte(data))
}

func (s *RedisStorage) UpdateStep(step *model.StepExecution) error {
	ctx := context.Background()
	data, err := s.stepEncDec.Encode(*step)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	member := scheduledMember(step.ExecutionId, step.OrderNumber)
	pipe := s.redisClient.Pipeline()
	pipe.HSet(ctx, s.getNamespaceKey(stepsKey, step.ExecutionId), strconv.Itoa(step.OrderNumber), data)
	if step.Status == model.STEP_SCHEDULED {
		pipe.ZAdd(ctx, s.getNamespaceKey(scheduledKey), rd.Z{
			Score:  float64(step.WakeAt().UnixMilli()),
			Member: member,
		})
	} else {
		pipe.ZRem(ctx, s.getNamespaceKey(scheduledKey), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while saving step", zap.String("executionId", step.ExecutionId), zap.Int("step", step.OrderNumber), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *RedisStorage) FindActiveExecution(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error) {
	ctx := context.Background()
	executionId, err := s.redisClient.Get(ctx, s.activeExecutionKey(workflowType, entityType, entityId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "execution", Id: entityId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	wf, err := s.GetExecution(executionId)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, persistence.NotFoundError{Kind: "execution", Id: entityId}
	}
	return wf, nil
}

func (s *RedisStorage) ScheduledStepsDue(now time.Time) ([]*model.StepExecution, error) {
	ctx := context.Background()
	opt := &rd.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	members, err := s.redisClient.ZRangeByScore(ctx, s.getNamespaceKey(scheduledKey), opt).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var due []*model.StepExecution
	for _, member := range members {
		executionId, order, err := parseScheduledMember(member)
		if err != nil {
			logger.Error("malformed scheduled entry", zap.String("member", member))
			continue
		}
		step, err := s.GetStep(executionId, order)
		if err != nil {
			var notFound persistence.NotFoundError
			if errors.As(err, &notFound) {
				s.redisClient.ZRem(ctx, s.getNamespaceKey(scheduledKey), member)
				continue
			}
			return nil, err
		}
		if step.Status == model.STEP_SCHEDULED {
			due = append(due, step)
		}
	}
	return due, nil
}

func (s *RedisStorage) activeExecutionKey(workflowType string, entityType string, entityId string) string {
	return s.getNamespaceKey(activeKey, workflowType, entityType, entityId)
}

func scheduledMember(executionId string, orderNumber int) string {
	return fmt.Sprintf("%s:%d", executionId, orderNumber)
}

func parseScheduledMember(member string) (string, int, error) {
	idx := strings.LastIndex(member, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("no separator in %s", member)
	}
	order, err := strconv.Atoi(member[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return member[:idx], order, nil
}

func sortSteps(steps []*model.StepExecution) {
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].OrderNumber < steps[j].OrderNumber
	})
}
