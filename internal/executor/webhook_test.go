package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *domain.QueuedMessage {
	return &domain.QueuedMessage{
		ID:               42,
		TopicID:          "conv-1",
		OrganizationCode: "org-a",
		Payload:          domain.Payload{Type: "agent_reply", Data: json.RawMessage(`{"text":"hi"}`)},
		RetryCount:       1,
	}
}

func TestWebhook_Success(t *testing.T) {
	var body webhookRequest
	var idempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idempotencyKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Execute(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, "42", idempotencyKey)
	assert.Equal(t, int64(42), body.MessageID)
	assert.Equal(t, "conv-1", body.TopicID)
	assert.Equal(t, "agent_reply", body.Type)
	assert.Equal(t, 2, body.Attempt)
	assert.JSONEq(t, `{"text":"hi"}`, string(body.Data))
}

func TestWebhook_StatusClassification(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"not found is permanent", http.StatusNotFound, true},
		{"request timeout is retryable", http.StatusRequestTimeout, false},
		{"too many requests is retryable", http.StatusTooManyRequests, false},
		{"server error is retryable", http.StatusBadGateway, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			err := NewWebhook(srv.URL, time.Second).Execute(context.Background(), testMessage())
			require.Error(t, err)
			assert.Equal(t, tc.permanent, IsPermanent(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestWebhook_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewWebhook(srv.URL, time.Minute).Execute(ctx, testMessage())
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "timeouts are retried")
}
