package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/platform/logger"
	"github.com/phrazzld/topicq/internal/queue"
	"github.com/phrazzld/topicq/internal/store"
)

const messageColumns = `id, topic_id, organization_code, user_id, project_id, payload_type, payload,
	status, eligible_at, retry_count, last_error, fence_token, created_at, updated_at`

const (
	queryInsertMessage = `
		INSERT INTO queued_messages
			(topic_id, organization_code, user_id, project_id, payload_type, payload,
			 status, eligible_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`

	queryGetMessage = `SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE id = $1`

	queryCompensationTopics = `
		SELECT topic_id
		FROM queued_messages
		WHERE status = 'pending' AND eligible_at <= $1
		GROUP BY topic_id
		ORDER BY MIN(eligible_at), topic_id
		LIMIT $2`

	queryCompensationTopicsByOrg = `
		SELECT topic_id
		FROM queued_messages
		WHERE status = 'pending' AND eligible_at <= $1 AND organization_code = ANY($3)
		GROUP BY topic_id
		ORDER BY MIN(eligible_at), topic_id
		LIMIT $2`

	queryEarliestPending = `SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE topic_id = $1 AND status = 'pending'
		ORDER BY eligible_at, id
		LIMIT 1`

	queryHasRunning = `
		SELECT EXISTS (
			SELECT 1 FROM queued_messages WHERE topic_id = $1 AND status = 'running'
		)`

	queryDelayTopic = `
		UPDATE queued_messages
		SET eligible_at = eligible_at + make_interval(secs => $2), updated_at = $3
		WHERE topic_id = $1 AND status = 'pending'`

	queryStuckRunning = `SELECT ` + messageColumns + `
		FROM queued_messages
		WHERE status = 'running' AND updated_at < $1
		ORDER BY updated_at, id
		LIMIT $2`
)

// MessageStore implements queue.Store on PostgreSQL.
type MessageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ queue.Store = (*MessageStore)(nil)

// NewMessageStore creates a MessageStore. db may be a *sql.DB or a *sql.Tx;
// WithinTx only opens a transaction when given a *sql.DB.
func NewMessageStore(db store.DBTX, logger *slog.Logger) *MessageStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStore{
		db:     db,
		logger: logger.With(slog.String("component", "message_store")),
	}
}

// Insert implements queue.Store.
func (s *MessageStore) Insert(ctx context.Context, msg domain.NewMessage) (*domain.QueuedMessage, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	now := time.Now().UTC()

	var id int64
	err := s.db.QueryRowContext(ctx, queryInsertMessage,
		msg.TopicID,
		msg.OrganizationCode,
		msg.UserID,
		msg.ProjectID,
		msg.Payload.Type,
		nullableJSON(msg.Payload.Data),
		domain.StatusPending,
		msg.EligibleAt.UTC(),
		now,
	).Scan(&id)
	if err != nil {
		log.Error("failed to insert queued message",
			slog.String("topic_id", msg.TopicID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	return &domain.QueuedMessage{
		ID:               id,
		TopicID:          msg.TopicID,
		OrganizationCode: msg.OrganizationCode,
		UserID:           msg.UserID,
		ProjectID:        msg.ProjectID,
		Payload:          msg.Payload,
		Status:           domain.StatusPending,
		EligibleAt:       msg.EligibleAt.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Get implements queue.Store.
func (s *MessageStore) Get(ctx context.Context, id int64) (*domain.QueuedMessage, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, queryGetMessage, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued message %d: %w", id, MapError(err))
	}
	return msg, nil
}

// CompensationTopics implements queue.Store.
func (s *MessageStore) CompensationTopics(
	ctx context.Context,
	now time.Time,
	limit int,
	organizations []string,
) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(organizations) > 0 {
		rows, err = s.db.QueryContext(ctx, queryCompensationTopicsByOrg, now.UTC(), limit, organizations)
	} else {
		rows, err = s.db.QueryContext(ctx, queryCompensationTopics, now.UTC(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query compensation topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("failed to scan topic row: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating topic rows: %w", err)
	}
	return topics, nil
}

// EarliestPending implements queue.Store.
func (s *MessageStore) EarliestPending(ctx context.Context, topicID string) (*domain.QueuedMessage, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, queryEarliestPending, topicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query topic head: %w", err)
	}
	return msg, nil
}

// HasRunning implements queue.Store.
func (s *MessageStore) HasRunning(ctx context.Context, topicID string) (bool, error) {
	var running bool
	if err := s.db.QueryRowContext(ctx, queryHasRunning, topicID).Scan(&running); err != nil {
		return false, fmt.Errorf("failed to check running messages: %w", err)
	}
	return running, nil
}

// DelayTopic implements queue.Store.
func (s *MessageStore) DelayTopic(ctx context.Context, topicID string, delay time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryDelayTopic, topicID, delay.Seconds(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delay topic: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// UpdateStatus implements queue.Store. The transition guard is part of the
// statement so a row that moved on concurrently is left untouched.
func (s *MessageStore) UpdateStatus(ctx context.Context, id int64, upd queue.StatusUpdate) (bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query, args := buildStatusUpdate(id, upd, time.Now().UTC())
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to update message status",
			slog.Int64("message_id", id),
			slog.String("status", string(upd.Status)),
			slog.String("error", err.Error()))
		return false, MapError(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		log.Debug("status update matched no row",
			slog.Int64("message_id", id),
			slog.String("status", string(upd.Status)))
	}
	return n > 0, nil
}

// StuckRunning implements queue.Store.
func (s *MessageStore) StuckRunning(ctx context.Context, cutoff time.Time, limit int) ([]*domain.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, queryStuckRunning, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.QueuedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stuck messages: %w", err)
	}
	return out, nil
}

// WithinTx implements queue.Store.
func (s *MessageStore) WithinTx(ctx context.Context, fn func(tx queue.Store) error) error {
	db, ok := s.db.(*sql.DB)
	if !ok {
		// Already inside a transaction.
		return fn(s)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(NewMessageStore(tx, s.logger))
	})
}

// buildStatusUpdate renders the guarded UPDATE for upd.
func buildStatusUpdate(id int64, upd queue.StatusUpdate, now time.Time) (string, []any) {
	var b strings.Builder
	args := []any{string(upd.Status), now}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString("UPDATE queued_messages SET status = $1, updated_at = $2")
	if upd.ErrorMessage != nil {
		b.WriteString(", last_error = " + arg(*upd.ErrorMessage))
	}
	if upd.IncrementRetry {
		b.WriteString(", retry_count = retry_count + 1")
	}
	if upd.Status == domain.StatusRunning {
		b.WriteString(", fence_token = " + arg(upd.AssignFence))
	}

	b.WriteString(" WHERE id = " + arg(id))
	b.WriteString(" AND status = ANY(" + arg(statusStrings(domain.SourceStatuses(upd.Status))) + ")")
	if upd.RequireFence > 0 {
		b.WriteString(" AND fence_token = " + arg(upd.RequireFence))
	}
	if !upd.UpdatedBefore.IsZero() {
		b.WriteString(" AND updated_at < " + arg(upd.UpdatedBefore.UTC()))
	}
	return b.String(), args
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.QueuedMessage, error) {
	var (
		msg     domain.QueuedMessage
		payload []byte
		status  string
	)
	err := row.Scan(
		&msg.ID,
		&msg.TopicID,
		&msg.OrganizationCode,
		&msg.UserID,
		&msg.ProjectID,
		&msg.Payload.Type,
		&payload,
		&status,
		&msg.EligibleAt,
		&msg.RetryCount,
		&msg.LastError,
		&msg.FenceToken,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status, err = domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		msg.Payload.Data = payload
	}
	return &msg, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
