package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/queue"
	"github.com/phrazzld/topicq/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageColumnNames = []string{
	"id", "topic_id", "organization_code", "user_id", "project_id", "payload_type", "payload",
	"status", "eligible_at", "retry_count", "last_error", "fence_token", "created_at", "updated_at",
}

func messageRow(rows *sqlmock.Rows, id int64, topic string, status domain.Status, eligible time.Time) *sqlmock.Rows {
	return rows.AddRow(id, topic, "org-a", "user-1", "", "agent_reply", []byte(`{"text":"hi"}`),
		string(status), eligible, 1, "boom", int64(4), eligible, eligible)
}

func TestMessageStore_Insert(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())

	eligible := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(queryInsertMessage).
		WithArgs("topic-1", "org-a", "user-1", "project-9", "agent_reply", `{"text":"hi"}`,
			"pending", eligible, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	msg, err := s.Insert(context.Background(), domain.NewMessage{
		TopicID:          "topic-1",
		OrganizationCode: "org-a",
		UserID:           "user-1",
		ProjectID:        "project-9",
		Payload:          domain.Payload{Type: "agent_reply", Data: json.RawMessage(`{"text":"hi"}`)},
		EligibleAt:       eligible,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, domain.StatusPending, msg.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_InsertWithoutPayloadData(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())

	mock.ExpectQuery(queryInsertMessage).
		WithArgs("topic-1", "org-a", "", "", "ping", nil, "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := s.Insert(context.Background(), domain.NewMessage{
		TopicID:          "topic-1",
		OrganizationCode: "org-a",
		Payload:          domain.Payload{Type: "ping"},
		EligibleAt:       time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_Get(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())
	eligible := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(queryGetMessage).WithArgs(int64(7)).
		WillReturnRows(messageRow(sqlmock.NewRows(messageColumnNames), 7, "topic-1", domain.StatusRunning, eligible))

	msg, err := s.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, domain.StatusRunning, msg.Status)
	assert.Equal(t, "agent_reply", msg.Payload.Type)
	assert.JSONEq(t, `{"text":"hi"}`, string(msg.Payload.Data))
	assert.Equal(t, int64(4), msg.FenceToken)
	assert.Equal(t, "boom", msg.LastError)

	mock.ExpectQuery(queryGetMessage).WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(messageColumnNames))
	_, err = s.Get(context.Background(), 8)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_GetRejectsUnknownStatus(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())
	now := time.Now()

	mock.ExpectQuery(queryGetMessage).WithArgs(int64(7)).
		WillReturnRows(messageRow(sqlmock.NewRows(messageColumnNames), 7, "topic-1", domain.Status("archived"), now))

	_, err := s.Get(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestMessageStore_CompensationTopics(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("all organizations", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())

		mock.ExpectQuery(queryCompensationTopics).WithArgs(now, 10).
			WillReturnRows(sqlmock.NewRows([]string{"topic_id"}).AddRow("t-1").AddRow("t-2"))

		topics, err := s.CompensationTopics(context.Background(), now, 10, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"t-1", "t-2"}, topics)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("whitelist", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())

		mock.ExpectQuery(queryCompensationTopicsByOrg).WithArgs(now, 5, []string{"org-a", "org-b"}).
			WillReturnRows(sqlmock.NewRows([]string{"topic_id"}).AddRow("t-9"))

		topics, err := s.CompensationTopics(context.Background(), now, 5, []string{"org-a", "org-b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"t-9"}, topics)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())

		mock.ExpectQuery(queryCompensationTopics).WillReturnError(errors.New("db down"))

		_, err := s.CompensationTopics(context.Background(), now, 5, nil)
		assert.ErrorContains(t, err, "db down")
	})
}

func TestMessageStore_EarliestPending(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())
	eligible := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(queryEarliestPending).WithArgs("topic-1").
		WillReturnRows(messageRow(sqlmock.NewRows(messageColumnNames), 3, "topic-1", domain.StatusPending, eligible))
	msg, err := s.EarliestPending(context.Background(), "topic-1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(3), msg.ID)

	mock.ExpectQuery(queryEarliestPending).WithArgs("topic-2").
		WillReturnRows(sqlmock.NewRows(messageColumnNames))
	msg, err = s.EarliestPending(context.Background(), "topic-2")
	require.NoError(t, err)
	assert.Nil(t, msg)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_HasRunning(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())

	mock.ExpectQuery(queryHasRunning).WithArgs("topic-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	running, err := s.HasRunning(context.Background(), "topic-1")
	require.NoError(t, err)
	assert.True(t, running)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_DelayTopic(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())

	mock.ExpectExec(queryDelayTopic).WithArgs("topic-1", float64(120), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DelayTopic(context.Background(), "topic-1", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildStatusUpdate(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	errText := "boom"

	tests := []struct {
		name      string
		upd       queue.StatusUpdate
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "mark running assigns the fence",
			upd:       queue.StatusUpdate{Status: domain.StatusRunning, AssignFence: 9},
			wantQuery: "UPDATE queued_messages SET status = $1, updated_at = $2, fence_token = $3 WHERE id = $4 AND status = ANY($5)",
			wantArgs:  []any{"running", now, int64(9), int64(1), []string{"pending"}},
		},
		{
			name: "retry with fence",
			upd: queue.StatusUpdate{
				Status:         domain.StatusPending,
				ErrorMessage:   &errText,
				IncrementRetry: true,
				RequireFence:   9,
			},
			wantQuery: "UPDATE queued_messages SET status = $1, updated_at = $2, last_error = $3, retry_count = retry_count + 1 WHERE id = $4 AND status = ANY($5) AND fence_token = $6",
			wantArgs:  []any{"pending", now, "boom", int64(1), []string{"running"}, int64(9)},
		},
		{
			name:      "fail from pending or running",
			upd:       queue.StatusUpdate{Status: domain.StatusFailed},
			wantQuery: "UPDATE queued_messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)",
			wantArgs:  []any{"failed", now, int64(1), []string{"pending", "running"}},
		},
		{
			name:      "reclaim guard",
			upd:       queue.StatusUpdate{Status: domain.StatusPending, UpdatedBefore: now.Add(-time.Minute)},
			wantQuery: "UPDATE queued_messages SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4) AND updated_at < $5",
			wantArgs:  []any{"pending", now, int64(1), []string{"running"}, now.Add(-time.Minute)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildStatusUpdate(1, tt.upd, now)
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestMessageStore_UpdateStatus(t *testing.T) {
	upd := queue.StatusUpdate{Status: domain.StatusCompleted, RequireFence: 3}
	query, _ := buildStatusUpdate(5, upd, time.Now())

	t.Run("updated", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())
		mock.ExpectExec(query).
			WithArgs("completed", sqlmock.AnyArg(), int64(5), []string{"running"}, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.UpdateStatus(context.Background(), 5, upd)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard rejected", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())
		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := s.UpdateStatus(context.Background(), 5, upd)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMessageStore_StuckRunning(t *testing.T) {
	db, mock := newMock(t)
	s := NewMessageStore(db, discardLogger())
	cutoff := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(messageColumnNames)
	messageRow(rows, 1, "topic-1", domain.StatusRunning, cutoff.Add(-time.Hour))
	messageRow(rows, 2, "topic-2", domain.StatusRunning, cutoff.Add(-time.Hour))
	mock.ExpectQuery(queryStuckRunning).WithArgs(cutoff, 50).WillReturnRows(rows)

	stuck, err := s.StuckRunning(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, stuck, 2)
	assert.Equal(t, "topic-2", stuck[1].TopicID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_WithinTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())

		mock.ExpectBegin()
		mock.ExpectExec(queryDelayTopic).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithinTx(ctx, func(tx queue.Store) error {
			_, err := tx.DelayTopic(ctx, "topic-1", time.Minute)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMock(t)
		s := NewMessageStore(db, discardLogger())

		mock.ExpectBegin()
		mock.ExpectExec(queryDelayTopic).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := s.WithinTx(ctx, func(tx queue.Store) error {
			_, err := tx.DelayTopic(ctx, "topic-1", time.Minute)
			return err
		})
		assert.ErrorContains(t, err, "deadlock detected")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageStore_RetryLaterTransaction(t *testing.T) {
	ctx := context.Background()
	const fencedRetry = "UPDATE queued_messages SET status = $1, updated_at = $2, last_error = $3, " +
		"retry_count = retry_count + 1 WHERE id = $4 AND status = ANY($5) AND fence_token = $6"
	msg := &domain.QueuedMessage{ID: 42, TopicID: "topic-1", Status: domain.StatusRunning}

	t.Run("status and delay commit together", func(t *testing.T) {
		db, mock := newMock(t)
		svc := queue.NewService(NewMessageStore(db, discardLogger()), discardLogger())

		mock.ExpectBegin()
		mock.ExpectExec(fencedRetry).
			WithArgs("pending", sqlmock.AnyArg(), "webhook returned 503", int64(42), []string{"running"}, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(queryDelayTopic).
			WithArgs("topic-1", float64(300), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		ok, err := svc.RetryLater(ctx, msg, 7, "webhook returned 503", 5)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed delay rolls back the status change", func(t *testing.T) {
		db, mock := newMock(t)
		svc := queue.NewService(NewMessageStore(db, discardLogger()), discardLogger())

		mock.ExpectBegin()
		mock.ExpectExec(fencedRetry).
			WithArgs("pending", sqlmock.AnyArg(), "webhook returned 503", int64(42), []string{"running"}, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(queryDelayTopic).
			WithArgs("topic-1", float64(300), sqlmock.AnyArg()).
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		ok, err := svc.RetryLater(ctx, msg, 7, "webhook returned 503", 5)
		require.Error(t, err)
		assert.False(t, ok)
		assert.Contains(t, err.Error(), "failed to schedule retry of message 42")
		assert.Contains(t, err.Error(), "lock timeout")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale fence skips the delay", func(t *testing.T) {
		db, mock := newMock(t)
		svc := queue.NewService(NewMessageStore(db, discardLogger()), discardLogger())

		mock.ExpectBegin()
		mock.ExpectExec(fencedRetry).
			WithArgs("pending", sqlmock.AnyArg(), "webhook returned 503", int64(42), []string{"running"}, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		ok, err := svc.RetryLater(ctx, msg, 7, "webhook returned 503", 5)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
