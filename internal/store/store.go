package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// ErrExists is returned when creating a record whose id is taken.
var ErrExists = errors.New("record already exists")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// querier is satisfied by both DBPool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides PostgreSQL implementations of the repository interfaces.
// Each record is stored as a JSONB document next to the columns used for
// filtering and ordering.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	s.log.Debug("Schema migrations applied.", zap.Int("statements", len(migrations)))
	return nil
}

// Repositories returns the PostgreSQL repository set.
func (s *Store) Repositories() schemas.Repositories {
	return schemas.Repositories{
		Workflows:  &WorkflowStore{s: s},
		Scripts:    &ScriptStore{s: s},
		Executions: &ExecutionStore{s: s},
	}
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// getDoc loads and decodes the document selected by query.
func getDoc[T any](ctx context.Context, q querier, entity, query, id string) (*T, error) {
	var raw []byte
	if err := q.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schemas.NotFoundf(entity, id)
		}
		return nil, fmt.Errorf("failed to load %s %s: %w", entity, id, err)
	}
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", entity, id, err)
	}
	return &doc, nil
}

// listDocs decodes every document returned by query.
func listDocs[T any](ctx context.Context, pool DBPool, entity, query string, args ...any) ([]*T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %ss: %w", entity, err)
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", entity, err)
		}
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", entity, err)
		}
		out = append(out, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// updateDoc locks the row, applies mutate to the decoded document and writes
// it back through write. A mutate error aborts without changing the row.
func updateDoc[T any](
	ctx context.Context,
	s *Store,
	entity, lockQuery, id string,
	mutate func(*T) error,
	write func(ctx context.Context, tx pgx.Tx, doc *T, raw []byte) error,
) (*T, error) {
	var out *T
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		doc, err := getDoc[T](ctx, tx, entity, lockQuery, id)
		if err != nil {
			return err
		}
		if err := mutate(doc); err != nil {
			return err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", entity, id, err)
		}
		if err := write(ctx, tx, doc, raw); err != nil {
			return fmt.Errorf("failed to update %s %s: %w", entity, id, err)
		}
		out = doc
		return nil
	})
	return out, err
}

// insertDoc executes an INSERT and maps duplicate keys to ErrExists.
func (s *Store) insertDoc(ctx context.Context, entity, id, query string, args ...any) error {
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s %s: %w", entity, id, ErrExists)
		}
		return fmt.Errorf("failed to insert %s %s: %w", entity, id, err)
	}
	return nil
}

// deleteDoc executes a DELETE and reports ErrNotFound when nothing matched.
func (s *Store) deleteDoc(ctx context.Context, entity, id, query string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", entity, id, err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NotFoundf(entity, id)
	}
	return nil
}

// encode marshals a document for a JSONB column.
func encode(entity, id string, doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", entity, id, err)
	}
	return raw, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
