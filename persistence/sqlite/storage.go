package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/nkashyap/hireflow/model"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
)

var _ persistence.ExecutionStorage = new(SqliteStorage)

// SqliteStorage is an ExecutionStorage backed by SQLite through database/sql.
// The caller provides a *sql.DB opened with a SQLite driver, e.g.
//
//	import _ "modernc.org/sqlite"
//	db, _ := sql.Open("sqlite", path)
//
// Records are stored as JSON payloads alongside the columns the queries need:
// status and wake time for the scheduler's due query, the entity reference for
// the duplicate-execution check.
type SqliteStorage struct {
	db         *sql.DB
	wfEncDec   util.EncoderDecoder[model.WorkflowExecution]
	stepEncDec util.EncoderDecoder[model.StepExecution]
}

func NewSqliteStorage(db *sql.DB) (*SqliteStorage, error) {
	s := &SqliteStorage{
		db:         db,
		wfEncDec:   util.NewJsonEncoderDecoder[model.WorkflowExecution](),
		stepEncDec: util.NewJsonEncoderDecoder[model.StepExecution](),
	}
	if err := s.initSchema(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s, nil
}

func (s *SqliteStorage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_type TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload BLOB NOT NULL
		);`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS step_executions (
			execution_id TEXT NOT NULL,
			order_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			wake_at INTEGER,
			payload BLOB NOT NULL,
			PRIMARY KEY (execution_id, order_number)
		);`,
	)
	return err
}

func (s *SqliteStorage) CreateExecution(wf *model.WorkflowExecution, steps []*model.StepExecution) error {
	payload, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO executions (id, workflow_type, entity_type, entity_id, status, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wf.Id, wf.WorkflowType, wf.EntityType, wf.EntityId, string(wf.Status), payload,
	)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	for _, step := range steps {
		stepPayload, err := s.stepEncDec.Encode(*step)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
		_, err = tx.Exec(`
			INSERT INTO step_executions (execution_id, order_number, status, wake_at, payload)
			VALUES (?, ?, ?, ?, ?)`,
			step.ExecutionId, step.OrderNumber, string(step.Status), wakeAtMillis(step), stepPayload,
		)
		if err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *SqliteStorage) GetExecution(executionId string) (*model.WorkflowExecution, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM executions WHERE id = ?`, executionId).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.wfEncDec.Decode(payload)
}

func (s *SqliteStorage) UpdateExecution(wf *model.WorkflowExecution) error {
	payload, err := s.wfEncDec.Encode(*wf)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	res, err := s.db.Exec(`
		UPDATE executions SET status = ?, payload = ? WHERE id = ?`,
		string(wf.Status), payload, wf.Id,
	)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if affected == 0 {
		return persistence.NotFoundError{Kind: "execution", Id: wf.Id}
	}
	return nil
}

func (s *SqliteStorage) DeleteExecution(executionId string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM step_executions WHERE execution_id = ?`, executionId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if _, err := tx.Exec(`DELETE FROM executions WHERE id = ?`, executionId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *SqliteStorage) GetSteps(executionId string) ([]*model.StepExecution, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM step_executions WHERE execution_id = ? ORDER BY order_number ASC`,
		executionId,
	)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var steps []*model.StepExecution
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		step, err := s.stepEncDec.Decode(payload)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(steps) == 0 {
		return nil, persistence.NotFoundError{Kind: "execution", Id: executionId}
	}
	return steps, nil
}

func (s *SqliteStorage) GetStep(executionId string, orderNumber int) (*model.StepExecution, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT payload FROM step_executions WHERE execution_id = ? AND order_number = ?`,
		executionId, orderNumber,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NotFoundError{Kind: "step", Id: executionId}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.stepEncDec.Decode(payload)
}

func (s *SqliteStorage) UpdateStep(step *model.StepExecution) error {
	payload, err := s.stepEncDec.Encode(*step)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	res, err := s.db.Exec(`
		UPDATE step_executions SET status = ?, wake_at = ?, payload = ?
		WHERE execution_id = ? AND order_number = ?`,
		string(step.Status), wakeAtMillis(step), payload, step.ExecutionId, step.OrderNumber,
	)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if affected == 0 {
		return persistence.NotFoundError{Kind: "step", Id: step.ExecutionId}
	}
	return nil
}

func (s *SqliteStorage) FindActiveExecution(workflowType string, entityType string, entityId string) (*model.WorkflowExecution, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT payload FROM executions
		WHERE workflow_type = ? AND entity_type = ? AND entity_id = ?
		  AND status NOT IN ('completed', 'failed')
		LIMIT 1`,
		workflowType, entityType, entityId,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NotFoundError{Kind: "execution", Id: entityId}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.wfEncDec.Decode(payload)
}

func (s *SqliteStorage) ScheduledStepsDue(now time.Time) ([]*model.StepExecution, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM step_executions
		WHERE status = 'scheduled' AND wake_at IS NOT NULL AND wake_at <= ?
		ORDER BY wake_at ASC`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	var due []*model.StepExecution
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		step, err := s.stepEncDec.Decode(payload)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		due = append(due, step)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return due, nil
}

func wakeAtMillis(step *model.StepExecution) any {
	if step.Status != model.STEP_SCHEDULED || step.EligibleAt == nil {
		return nil
	}
	return step.WakeAt().UnixMilli()
}
