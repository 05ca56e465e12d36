package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/topicq/internal/auth"
	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/queue"
	"github.com/phrazzld/topicq/internal/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "an-admin-secret-of-at-least-32-chars"

type stubCompensation struct {
	mu    sync.Mutex
	calls [][]string
	stats queue.Stats
	err   error
}

func (s *stubCompensation) SweepOrganizations(ctx context.Context, orgs []string) (queue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, orgs)
	return s.stats, s.err
}

type stubRecovery struct {
	calls int
	stats recovery.Stats
	err   error
}

func (s *stubRecovery) Sweep(ctx context.Context) (recovery.Stats, error) {
	s.calls++
	return s.stats, s.err
}

type apiFixture struct {
	router       http.Handler
	compensation *stubCompensation
	recovery     *stubRecovery
	service      *queue.Service
	token        string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	token, err := tokens.GenerateToken(context.Background(), "ops", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)

	f := &apiFixture{
		compensation: &stubCompensation{},
		recovery:     &stubRecovery{},
		service:      queue.NewService(queue.NewMemoryStore(), logger),
		token:        token,
	}
	f.router = NewRouter(RouterConfig{
		Handler: NewAdminHandler(f.compensation, f.recovery, f.service, logger),
		Tokens:  tokens,
		Logger:  logger,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/compensation/sweeps", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.compensation.calls)
}

func TestAdminRoutesDisabledWithoutTokens(t *testing.T) {
	t.Parallel()

	router := NewRouter(RouterConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	req := httptest.NewRequest(http.MethodGet, "/admin/messages/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCompensationSweeps(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.compensation.stats = queue.Stats{Processed: 2, Success: 1, Failed: 1, Duration: 4 * time.Millisecond}

	w := f.do(t, http.MethodPost, "/admin/compensation/sweeps", `{"loops":3,"organizations":["acme"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Iterations, 3)
	assert.Equal(t, 3, resp.Summary.Iterations)
	assert.Equal(t, 6, resp.Summary.Processed)
	assert.Equal(t, 3, resp.Summary.Failed)
	assert.Equal(t, 12*time.Millisecond, resp.Summary.Total)
	assert.Equal(t, [][]string{{"acme"}, {"acme"}, {"acme"}}, f.compensation.calls)
}

func TestRunCompensationSweeps_DefaultsToOneLoop(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/admin/compensation/sweeps", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.compensation.calls, 1)
	assert.Nil(t, f.compensation.calls[0])
}

func TestRunCompensationSweeps_RecordsIterationErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.compensation.err = errors.New("postgres://user:secret@db failed")

	w := f.do(t, http.MethodPost, "/admin/compensation/sweeps", `{"loops":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Summary.Errors)
}

func TestRunCompensationSweeps_InvalidBody(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"loops":`},
		{"negative loops", `{"loops":-1}`},
		{"too many loops", `{"loops":1000}`},
		{"blank organization", `{"organizations":[""]}`},
		{"unknown field", `{"topics":["t1"]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/admin/compensation/sweeps", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, f.compensation.calls)
}

func TestRunRecoverySweeps(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	f.recovery.stats = recovery.Stats{Scanned: 4, Reclaimed: 3, Skipped: 1}

	w := f.do(t, http.MethodPost, "/admin/recovery/sweeps", `{"loops":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SweepResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, f.recovery.calls)
	assert.Equal(t, 8, resp.Summary.Processed)
	assert.Equal(t, 6, resp.Summary.Reclaimed)
	assert.Equal(t, 2, resp.Summary.Skipped)

	w = f.do(t, http.MethodPost, "/admin/recovery/sweeps", `{"organizations":["acme"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueAndGetMessage(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/admin/messages",
		`{"topic_id":"thread-1","organization_code":"acme","payload_type":"agent.reply","data":{"text":"hi"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.QueuedMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "thread-1", created.TopicID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.NotZero(t, created.ID)

	w = f.do(t, http.MethodGet, "/admin/messages/"+strconv.FormatInt(created.ID, 10), "")
	require.Equal(t, http.StatusOK, w.Code)

	var fetched domain.QueuedMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(fetched.Payload.Data))
}

func TestEnqueueMessage_Invalid(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/admin/messages", `{"topic_id":"thread-1","payload_type":"agent.reply"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessage_Errors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/admin/messages/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/admin/messages/999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Message not found")
}
