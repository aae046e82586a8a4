package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        data JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS scripts (
        id TEXT PRIMARY KEY,
        workflow_id TEXT NOT NULL,
        status TEXT NOT NULL,
        data JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS scripts_workflow_idx ON scripts (workflow_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS executions (
        id TEXT PRIMARY KEY,
        script_id TEXT NOT NULL,
        status TEXT NOT NULL,
        start_time TIMESTAMPTZ NOT NULL,
        data JSONB NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS executions_listing_idx ON executions (script_id, status, start_time DESC)`,
}

const (
	sqlInsertWorkflow = `
        INSERT INTO workflows (id, status, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)`
	sqlGetWorkflow    = `SELECT data FROM workflows WHERE id = $1`
	sqlLockWorkflow   = `SELECT data FROM workflows WHERE id = $1 FOR UPDATE`
	sqlListWorkflows  = `SELECT data FROM workflows ORDER BY created_at DESC, id DESC`
	sqlUpdateWorkflow = `UPDATE workflows SET status = $2, data = $3, updated_at = $4 WHERE id = $1`
	sqlDeleteWorkflow = `DELETE FROM workflows WHERE id = $1`

	sqlInsertScript = `
        INSERT INTO scripts (id, workflow_id, status, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	sqlGetScript             = `SELECT data FROM scripts WHERE id = $1`
	sqlLockScript            = `SELECT data FROM scripts WHERE id = $1 FOR UPDATE`
	sqlListScripts           = `SELECT data FROM scripts ORDER BY created_at DESC, id DESC`
	sqlListScriptsByWorkflow = `SELECT data FROM scripts WHERE workflow_id = $1 ORDER BY created_at DESC, id DESC`
	sqlUpdateScript          = `UPDATE scripts SET status = $2, data = $3, updated_at = $4 WHERE id = $1`
	sqlDeleteScript          = `DELETE FROM scripts WHERE id = $1`

	sqlInsertExecution = `
        INSERT INTO executions (id, script_id, status, start_time, data)
        VALUES ($1, $2, $3, $4, $5)`
	sqlGetExecution    = `SELECT data FROM executions WHERE id = $1`
	sqlLockExecution   = `SELECT data FROM executions WHERE id = $1 FOR UPDATE`
	sqlCountExecutions = `
        SELECT count(*) FROM executions
        WHERE ($1 = '' OR script_id = $1) AND ($2 = '' OR status = $2)`
	sqlListExecutions = `
        SELECT data FROM executions
        WHERE ($1 = '' OR script_id = $1) AND ($2 = '' OR status = $2)
        ORDER BY start_time DESC, id DESC
        LIMIT $3 OFFSET $4`
	sqlUpdateExecution = `UPDATE executions SET status = $2, data = $3 WHERE id = $1`
	sqlDeleteExecution = `DELETE FROM executions WHERE id = $1`
)

// -- Workflows --

// WorkflowStore is the PostgreSQL WorkflowRepository.
type WorkflowStore struct{ s *Store }

func (r *WorkflowStore) Create(ctx context.Context, w *schemas.Workflow) error {
	w.CreatedAt = utc(w.CreatedAt)
	w.UpdatedAt = utc(w.UpdatedAt)
	raw, err := encode("workflow", w.ID, w)
	if err != nil {
		return err
	}
	return r.s.insertDoc(ctx, "workflow", w.ID, sqlInsertWorkflow,
		w.ID, string(w.Status), raw, w.CreatedAt, w.UpdatedAt)
}

func (r *WorkflowStore) Get(ctx context.Context, id string) (*schemas.Workflow, error) {
	return getDoc[schemas.Workflow](ctx, r.s.pool, "workflow", sqlGetWorkflow, id)
}

func (r *WorkflowStore) List(ctx context.Context) ([]*schemas.Workflow, error) {
	return listDocs[schemas.Workflow](ctx, r.s.pool, "workflow", sqlListWorkflows)
}

func (r *WorkflowStore) Update(ctx context.Context, id string, mutate func(*schemas.Workflow) error) (*schemas.Workflow, error) {
	return updateDoc(ctx, r.s, "workflow", sqlLockWorkflow, id,
		func(w *schemas.Workflow) error {
			if err := mutate(w); err != nil {
				return err
			}
			w.UpdatedAt = time.Now().UTC()
			return nil
		},
		func(ctx context.Context, tx pgx.Tx, w *schemas.Workflow, raw []byte) error {
			_, err := tx.Exec(ctx, sqlUpdateWorkflow, id, string(w.Status), raw, w.UpdatedAt)
			return err
		})
}

func (r *WorkflowStore) Delete(ctx context.Context, id string) error {
	return r.s.deleteDoc(ctx, "workflow", id, sqlDeleteWorkflow)
}

// -- Scripts --

// ScriptStore is the PostgreSQL ScriptRepository.
type ScriptStore struct{ s *Store }

func (r *ScriptStore) Create(ctx context.Context, sc *schemas.GeneratedScript) error {
	sc.CreatedAt = utc(sc.CreatedAt)
	sc.UpdatedAt = utc(sc.UpdatedAt)
	raw, err := encode("script", sc.ID, sc)
	if err != nil {
		return err
	}
	return r.s.insertDoc(ctx, "script", sc.ID, sqlInsertScript,
		sc.ID, sc.WorkflowID, string(sc.Status), raw, sc.CreatedAt, sc.UpdatedAt)
}

func (r *ScriptStore) Get(ctx context.Context, id string) (*schemas.GeneratedScript, error) {
	return getDoc[schemas.GeneratedScript](ctx, r.s.pool, "script", sqlGetScript, id)
}

// List returns scripts newest first, optionally for one workflow.
func (r *ScriptStore) List(ctx context.Context, workflowID string) ([]*schemas.GeneratedScript, error) {
	if workflowID == "" {
		return listDocs[schemas.GeneratedScript](ctx, r.s.pool, "script", sqlListScripts)
	}
	return listDocs[schemas.GeneratedScript](ctx, r.s.pool, "script", sqlListScriptsByWorkflow, workflowID)
}

func (r *ScriptStore) Update(ctx context.Context, id string, mutate func(*schemas.GeneratedScript) error) (*schemas.GeneratedScript, error) {
	return updateDoc(ctx, r.s, "script", sqlLockScript, id, mutate,
		func(ctx context.Context, tx pgx.Tx, sc *schemas.GeneratedScript, raw []byte) error {
			_, err := tx.Exec(ctx, sqlUpdateScript, id, string(sc.Status), raw, utc(sc.UpdatedAt))
			return err
		})
}

func (r *ScriptStore) Delete(ctx context.Context, id string) error {
	return r.s.deleteDoc(ctx, "script", id, sqlDeleteScript)
}

// -- Executions --

// ExecutionStore is the PostgreSQL ExecutionRepository.
type ExecutionStore struct{ s *Store }

func (r *ExecutionStore) Create(ctx context.Context, e *schemas.Execution) error {
	e.StartTime = utc(e.StartTime)
	raw, err := encode("execution", e.ID, e)
	if err != nil {
		return err
	}
	return r.s.insertDoc(ctx, "execution", e.ID, sqlInsertExecution,
		e.ID, e.ScriptID, string(e.Status), e.StartTime, raw)
}

func (r *ExecutionStore) Get(ctx context.Context, id string) (*schemas.Execution, error) {
	return getDoc[schemas.Execution](ctx, r.s.pool, "execution", sqlGetExecution, id)
}

// List filters, orders newest start time first and pages.
func (r *ExecutionStore) List(ctx context.Context, filter schemas.ExecutionFilter) ([]*schemas.Execution, int, error) {
	filter = filter.Normalize()

	var total int
	if err := r.s.pool.QueryRow(ctx, sqlCountExecutions, filter.ScriptID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || filter.Offset() >= total {
		return []*schemas.Execution{}, total, nil
	}

	page, err := listDocs[schemas.Execution](ctx, r.s.pool, "execution", sqlListExecutions,
		filter.ScriptID, string(filter.Status), filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

func (r *ExecutionStore) Update(ctx context.Context, id string, mutate func(*schemas.Execution) error) (*schemas.Execution, error) {
	return updateDoc(ctx, r.s, "execution", sqlLockExecution, id, mutate,
		func(ctx context.Context, tx pgx.Tx, e *schemas.Execution, raw []byte) error {
			_, err := tx.Exec(ctx, sqlUpdateExecution, id, string(e.Status), raw)
			return err
		})
}

func (r *ExecutionStore) Delete(ctx context.Context, id string) error {
	return r.s.deleteDoc(ctx, "execution", id, sqlDeleteExecution)
}
