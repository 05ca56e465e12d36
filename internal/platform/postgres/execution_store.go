package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/platform/logger"
	"github.com/phrazzld/topicq/internal/recovery"
	"github.com/phrazzld/topicq/internal/store"
)

const executionColumns = `id, topic_id, level, status, retry_count, result, created_at, updated_at`

const (
	queryTimedOutExecutions = `SELECT ` + executionColumns + `
		FROM task_execution_records
		WHERE status IN ('pending', 'running')
			AND level = 0
			AND retry_count < $1
			AND created_at >= $2
			AND created_at < $3
			AND updated_at < $4
		ORDER BY created_at, id
		LIMIT $5`

	queryReclaimExecution = `
		UPDATE task_execution_records
		SET status = 'pending', retry_count = retry_count + 1, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')`

	queryGetExecution = `SELECT ` + executionColumns + `
		FROM task_execution_records
		WHERE id = $1`
)

// ExecutionStore implements recovery.Store on PostgreSQL.
type ExecutionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ recovery.Store = (*ExecutionStore)(nil)

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(db store.DBTX, logger *slog.Logger) *ExecutionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionStore{
		db:     db,
		logger: logger.With(slog.String("component", "execution_store")),
	}
}

// TimedOut implements recovery.Store.
func (s *ExecutionStore) TimedOut(ctx context.Context, c recovery.Criteria) ([]*domain.TaskExecutionRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	rows, err := s.db.QueryContext(ctx, queryTimedOutExecutions,
		c.RetryLimit,
		c.CreatedAfter.UTC(),
		c.CreatedBefore.UTC(),
		c.UpdatedBefore.UTC(),
		c.Limit,
	)
	if err != nil {
		log.Error("failed to query timed-out executions", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to query timed-out executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.TaskExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution rows: %w", err)
	}
	return out, nil
}

// Reclaim implements recovery.Store.
func (s *ExecutionStore) Reclaim(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryReclaimExecution, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to reclaim execution %d: %w", id, MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Get implements recovery.Store.
func (s *ExecutionStore) Get(ctx context.Context, id int64) (*domain.TaskExecutionRecord, error) {
	rec, err := scanExecution(s.db.QueryRowContext(ctx, queryGetExecution, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %d: %w", id, MapError(err))
	}
	return rec, nil
}

func scanExecution(row rowScanner) (*domain.TaskExecutionRecord, error) {
	var (
		rec     domain.TaskExecutionRecord
		topicID sql.NullString
		status  string
		result  []byte
	)
	if err := row.Scan(
		&rec.ID,
		&topicID,
		&rec.Level,
		&status,
		&rec.RetryCount,
		&result,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	rec.TopicID = topicID.String
	if len(result) > 0 {
		rec.Result = result
	}
	return &rec, nil
}
