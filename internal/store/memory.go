package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

// NewMemoryRepositories returns process-local repositories. Every read and
// write hands out copies so callers never share a record with the store.
func NewMemoryRepositories() schemas.Repositories {
	return schemas.Repositories{
		Workflows:  NewMemoryWorkflows(),
		Scripts:    NewMemoryScripts(),
		Executions: NewMemoryExecutions(),
	}
}

// memTable is a mutex guarded map with copy-in/copy-out semantics. Update
// runs mutate on a copy and only stores it when mutate succeeds, so a failed
// mutation leaves the record untouched.
type memTable[T any] struct {
	mu     sync.RWMutex
	rows   map[string]*T
	clone  func(*T) *T
	entity string
}

func newMemTable[T any](entity string, clone func(*T) *T) *memTable[T] {
	return &memTable[T]{rows: make(map[string]*T), clone: clone, entity: entity}
}

func (m *memTable[T]) create(id string, row *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[id]; exists {
		return fmt.Errorf("%s %s: %w", m.entity, id, ErrExists)
	}
	m.rows[id] = m.clone(row)
	return nil
}

func (m *memTable[T]) get(id string) (*T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, schemas.NotFoundf(m.entity, id)
	}
	return m.clone(row), nil
}

func (m *memTable[T]) all() []*T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*T, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, m.clone(row))
	}
	return out
}

func (m *memTable[T]) update(id string, mutate func(*T) error) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, schemas.NotFoundf(m.entity, id)
	}
	working := m.clone(row)
	if err := mutate(working); err != nil {
		return nil, err
	}
	m.rows[id] = working
	return m.clone(working), nil
}

func (m *memTable[T]) delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return schemas.NotFoundf(m.entity, id)
	}
	delete(m.rows, id)
	return nil
}

// -- Workflows --

// MemoryWorkflows is an in-memory WorkflowRepository.
type MemoryWorkflows struct{ t *memTable[schemas.Workflow] }

func NewMemoryWorkflows() *MemoryWorkflows {
	return &MemoryWorkflows{t: newMemTable("workflow", (*schemas.Workflow).Clone)}
}

func (r *MemoryWorkflows) Create(_ context.Context, w *schemas.Workflow) error {
	return r.t.create(w.ID, w)
}

func (r *MemoryWorkflows) Get(_ context.Context, id string) (*schemas.Workflow, error) {
	return r.t.get(id)
}

// List returns workflows newest first.
func (r *MemoryWorkflows) List(_ context.Context) ([]*schemas.Workflow, error) {
	out := r.t.all()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryWorkflows) Update(_ context.Context, id string, mutate func(*schemas.Workflow) error) (*schemas.Workflow, error) {
	return r.t.update(id, mutate)
}

func (r *MemoryWorkflows) Delete(_ context.Context, id string) error {
	return r.t.delete(id)
}

// -- Scripts --

// MemoryScripts is an in-memory ScriptRepository.
type MemoryScripts struct{ t *memTable[schemas.GeneratedScript] }

func NewMemoryScripts() *MemoryScripts {
	return &MemoryScripts{t: newMemTable("script", cloneScript)}
}

func (r *MemoryScripts) Create(_ context.Context, s *schemas.GeneratedScript) error {
	return r.t.create(s.ID, s)
}

func (r *MemoryScripts) Get(_ context.Context, id string) (*schemas.GeneratedScript, error) {
	return r.t.get(id)
}

func (r *MemoryScripts) List(_ context.Context, workflowID string) ([]*schemas.GeneratedScript, error) {
	all := r.t.all()
	out := all[:0]
	for _, s := range all {
		if workflowID == "" || s.WorkflowID == workflowID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryScripts) Update(_ context.Context, id string, mutate func(*schemas.GeneratedScript) error) (*schemas.GeneratedScript, error) {
	return r.t.update(id, mutate)
}

func (r *MemoryScripts) Delete(_ context.Context, id string) error {
	return r.t.delete(id)
}

func cloneScript(s *schemas.GeneratedScript) *schemas.GeneratedScript {
	c := *s
	c.Expectations = append([]schemas.Expectation(nil), s.Expectations...)
	if s.Validation != nil {
		v := *s.Validation
		v.Steps = append([]schemas.StepResult(nil), s.Validation.Steps...)
		c.Validation = &v
	}
	return &c
}

// -- Executions --

// MemoryExecutions is an in-memory ExecutionRepository.
type MemoryExecutions struct{ t *memTable[schemas.Execution] }

func NewMemoryExecutions() *MemoryExecutions {
	return &MemoryExecutions{t: newMemTable("execution", (*schemas.Execution).Clone)}
}

func (r *MemoryExecutions) Create(_ context.Context, e *schemas.Execution) error {
	return r.t.create(e.ID, e)
}

func (r *MemoryExecutions) Get(_ context.Context, id string) (*schemas.Execution, error) {
	return r.t.get(id)
}

// List filters, orders newest start time first (id breaks ties) and pages.
func (r *MemoryExecutions) List(_ context.Context, filter schemas.ExecutionFilter) ([]*schemas.Execution, int, error) {
	filter = filter.Normalize()
	all := r.t.all()
	matched := all[:0]
	for _, e := range all {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartTime.After(matched[j].StartTime)
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []*schemas.Execution{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryExecutions) Update(_ context.Context, id string, mutate func(*schemas.Execution) error) (*schemas.Execution, error) {
	return r.t.update(id, mutate)
}

func (r *MemoryExecutions) Delete(_ context.Context, id string) error {
	return r.t.delete(id)
}
