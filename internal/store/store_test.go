package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// -- Test Setup Helpers --

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *observer.ObservedLogs) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	core, logs := observer.New(zapcore.ErrorLevel)
	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, zap.New(core))
	require.NoError(t, err)
	return s, mockPool, logs
}

func docRows(t *testing.T, docs ...any) *pgxmock.Rows {
	t.Helper()
	rows := pgxmock.NewRows([]string{"data"})
	for _, d := range docs {
		raw, err := json.Marshal(d)
		require.NoError(t, err)
		rows.AddRow(raw)
	}
	return rows
}

func sampleWorkflow() *schemas.Workflow {
	return &schemas.Workflow{
		ID:     "wf-1",
		Name:   "Checkout",
		Status: schemas.WorkflowReady,
		Steps: []schemas.Step{
			{Order: 1, Action: schemas.ActionNavigate, Target: "https://shop.test"},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	t.Run("applies every statement in order", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		for _, stmt := range migrations {
			mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		require.NoError(t, s.Migrate(context.Background()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(migrations[0])).WillReturnError(errors.New("permission denied"))

		err := s.Migrate(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migration 1 failed")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestWorkflowStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Create inserts the document with indexed columns", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		wf := sampleWorkflow()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertWorkflow)).
			WithArgs(wf.ID, "ready", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Repositories().Workflows.Create(ctx, wf))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Create maps a duplicate key to ErrExists", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertWorkflow)).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})

		err := s.Repositories().Workflows.Create(ctx, sampleWorkflow())
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("Get decodes the document", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		want := sampleWorkflow()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetWorkflow)).WithArgs("wf-1").
			WillReturnRows(docRows(t, want))

		got, err := s.Repositories().Workflows.Get(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Steps, got.Steps)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("Get reports ErrNotFound for a missing row", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetWorkflow)).WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Repositories().Workflows.Get(ctx, "nope")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("List returns every document", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		a, b := sampleWorkflow(), sampleWorkflow()
		b.ID = "wf-2"
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListWorkflows)).WillReturnRows(docRows(t, b, a))

		got, err := s.Repositories().Workflows.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "wf-2", got[0].ID)
	})

	t.Run("Update locks, mutates and commits", func(t *testing.T) {
		s, mockPool, logs := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLockWorkflow)).WithArgs("wf-1").
			WillReturnRows(docRows(t, sampleWorkflow()))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateWorkflow)).
			WithArgs("wf-1", "generating", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		got, err := s.Repositories().Workflows.Update(ctx, "wf-1", func(w *schemas.Workflow) error {
			w.Status = schemas.WorkflowGenerating
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, schemas.WorkflowGenerating, got.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("Update rolls back when mutate rejects", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLockWorkflow)).WithArgs("wf-1").
			WillReturnRows(docRows(t, sampleWorkflow()))
		mockPool.ExpectRollback()

		rejection := &schemas.InvalidStateError{Entity: "workflow", ID: "wf-1", State: "ready", Operation: "finalize"}
		_, err := s.Repositories().Workflows.Update(ctx, "wf-1", func(*schemas.Workflow) error { return rejection })
		assert.ErrorIs(t, err, rejection)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Update of a missing row rolls back with ErrNotFound", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLockWorkflow)).WithArgs("nope").WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectRollback()

		_, err := s.Repositories().Workflows.Update(ctx, "nope", func(*schemas.Workflow) error { return nil })
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Delete reports ErrNotFound when nothing matched", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteWorkflow)).WithArgs("nope").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, s.Repositories().Workflows.Delete(ctx, "nope"), schemas.ErrNotFound)
	})
}

func TestScriptStore(t *testing.T) {
	ctx := context.Background()

	t.Run("List filters by workflow", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		sc := &schemas.GeneratedScript{ID: "s-1", WorkflowID: "wf-1", Status: schemas.ScriptPending}
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListScriptsByWorkflow)).WithArgs("wf-1").
			WillReturnRows(docRows(t, sc))

		got, err := s.Repositories().Scripts.List(ctx, "wf-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "s-1", got[0].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Update persists the validation verdict", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		sc := &schemas.GeneratedScript{ID: "s-1", WorkflowID: "wf-1", Status: schemas.ScriptPending}
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLockScript)).WithArgs("s-1").WillReturnRows(docRows(t, sc))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateScript)).
			WithArgs("s-1", "validated", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		got, err := s.Repositories().Scripts.Update(ctx, "s-1", func(g *schemas.GeneratedScript) error {
			g.AttachValidation(&schemas.ValidationResult{Success: true, TotalSteps: 1, PassedSteps: 1})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, schemas.ScriptValidated, got.Status)
		require.NotNil(t, got.Validation)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestExecutionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("List counts, then pages", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		e := &schemas.Execution{ID: "e-1", ScriptID: "s-1", Status: schemas.ExecutionCompleted, StartTime: time.Now().UTC()}

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlCountExecutions)).WithArgs("s-1", "completed").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListExecutions)).WithArgs("s-1", "completed", 2, 2).
			WillReturnRows(docRows(t, e))

		page, total, err := s.Repositories().Executions.List(ctx, schemas.ExecutionFilter{
			ScriptID: "s-1", Status: schemas.ExecutionCompleted, Page: 2, Limit: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, "e-1", page[0].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("List skips the page query past the end", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlCountExecutions)).WithArgs("", "").
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

		page, total, err := s.Repositories().Executions.List(ctx, schemas.ExecutionFilter{Page: 5})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Empty(t, page)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Update rejects a transition out of a terminal state", func(t *testing.T) {
		s, mockPool, _ := newMockStore(t)
		e := &schemas.Execution{ID: "e-1", ScriptID: "s-1", Status: schemas.ExecutionCompleted, StartTime: time.Now().UTC()}
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlLockExecution)).WithArgs("e-1").WillReturnRows(docRows(t, e))
		mockPool.ExpectRollback()

		_, err := s.Repositories().Executions.Update(ctx, "e-1", func(x *schemas.Execution) error {
			return x.Transition(schemas.ExecutionStopped, time.Now())
		})
		assert.True(t, schemas.IsInvalidState(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
