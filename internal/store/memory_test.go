package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

func TestMemoryWorkflows(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWorkflows()

	wf := sampleWorkflow()
	require.NoError(t, repo.Create(ctx, wf))

	t.Run("Create rejects a taken id", func(t *testing.T) {
		err := repo.Create(ctx, sampleWorkflow())
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("Get returns a copy", func(t *testing.T) {
		got, err := repo.Get(ctx, wf.ID)
		require.NoError(t, err)
		got.Steps[0].Target = "https://changed.test"

		again, err := repo.Get(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.test", again.Steps[0].Target)
	})

	t.Run("Get unknown id", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("failed mutation leaves the record untouched", func(t *testing.T) {
		_, err := repo.Update(ctx, wf.ID, func(w *schemas.Workflow) error {
			w.Status = schemas.WorkflowGenerating
			return errors.New("boom")
		})
		require.Error(t, err)

		got, err := repo.Get(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, schemas.WorkflowReady, got.Status)
	})

	t.Run("Update stores the mutation", func(t *testing.T) {
		updated, err := repo.Update(ctx, wf.ID, func(w *schemas.Workflow) error {
			w.Status = schemas.WorkflowCompleted
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, schemas.WorkflowCompleted, updated.Status)
	})

	t.Run("List is newest first", func(t *testing.T) {
		newer := sampleWorkflow()
		newer.ID = "wf-2"
		newer.CreatedAt = wf.CreatedAt.Add(time.Hour)
		require.NoError(t, repo.Create(ctx, newer))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "wf-2", list[0].ID)
		assert.Equal(t, "wf-1", list[1].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, wf.ID))
		assert.ErrorIs(t, repo.Delete(ctx, wf.ID), schemas.ErrNotFound)
	})
}

func TestMemoryScripts_ListByWorkflow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryScripts()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, wfID := range []string{"wf-a", "wf-b", "wf-a"} {
		require.NoError(t, repo.Create(ctx, &schemas.GeneratedScript{
			ID:         fmt.Sprintf("sc-%d", i),
			WorkflowID: wfID,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := repo.List(ctx, "wf-a")
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "sc-2", onlyA[0].ID)
	assert.Equal(t, "sc-0", onlyA[1].ID)
}

func TestMemoryScripts_ValidationIsCopied(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryScripts()
	require.NoError(t, repo.Create(ctx, &schemas.GeneratedScript{ID: "sc-1"}))

	_, err := repo.Update(ctx, "sc-1", func(s *schemas.GeneratedScript) error {
		s.Validation = &schemas.ValidationResult{Steps: []schemas.StepResult{{StepIndex: 1, Passed: true}}}
		return nil
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "sc-1")
	require.NoError(t, err)
	got.Validation.Steps[0].Passed = false

	again, err := repo.Get(ctx, "sc-1")
	require.NoError(t, err)
	assert.True(t, again.Validation.Steps[0].Passed)
}

func TestMemoryExecutions_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutions()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		status := schemas.ExecutionCompleted
		if i%2 == 0 {
			status = schemas.ExecutionRunning
		}
		require.NoError(t, repo.Create(ctx, &schemas.Execution{
			ID:        fmt.Sprintf("ex-%d", i),
			ScriptID:  "sc-1",
			Status:    status,
			StartTime: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Create(ctx, &schemas.Execution{ID: "other", ScriptID: "sc-2", Status: schemas.ExecutionRunning, StartTime: base}))

	t.Run("newest first with paging", func(t *testing.T) {
		page, total, err := repo.List(ctx, schemas.ExecutionFilter{ScriptID: "sc-1", Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, "ex-4", page[0].ID)
		assert.Equal(t, "ex-3", page[1].ID)

		last, _, err := repo.List(ctx, schemas.ExecutionFilter{ScriptID: "sc-1", Page: 3, Limit: 2})
		require.NoError(t, err)
		require.Len(t, last, 1)
		assert.Equal(t, "ex-0", last[0].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		running, total, err := repo.List(ctx, schemas.ExecutionFilter{Status: schemas.ExecutionRunning})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, running, 4)
	})

	t.Run("page past the end", func(t *testing.T) {
		page, total, err := repo.List(ctx, schemas.ExecutionFilter{Page: 10, Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
		assert.Empty(t, page)
	})
}

func TestMemoryExecutions_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExecutions()
	require.NoError(t, repo.Create(ctx, &schemas.Execution{ID: "ex-1", Status: schemas.ExecutionRunning}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := repo.Update(ctx, "ex-1", func(e *schemas.Execution) error {
				e.AppendLog(schemas.LogInfo, fmt.Sprintf("line %d", n))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.Get(ctx, "ex-1")
	require.NoError(t, err)
	assert.Len(t, got.Logs, 50)
}
