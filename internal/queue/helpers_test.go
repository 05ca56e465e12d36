package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/events"
	"github.com/phrazzld/topicq/internal/executor"
	"github.com/phrazzld/topicq/internal/lock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by the store, service and locker.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.MessageOutcomeEvent
}

func (r *eventRecorder) HandleEvent(ctx context.Context, event *events.MessageOutcomeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Kinds() []events.OutcomeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.OutcomeKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type testEnv struct {
	clock    *testClock
	store    *MemoryStore
	service  *Service
	locker   *lock.MemoryLocker
	recorder *eventRecorder
	emitter  *events.InMemoryEventEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTestClock()
	st := NewMemoryStore()
	st.SetClock(clock.Now)
	svc := NewService(st, discardLogger())
	svc.SetClock(clock.Now)
	locker := lock.NewMemoryLocker()
	locker.SetClock(clock.Now)

	recorder := &eventRecorder{}
	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.RegisterHandler(recorder)

	return &testEnv{
		clock:    clock,
		store:    st,
		service:  svc,
		locker:   locker,
		recorder: recorder,
		emitter:  emitter,
	}
}

func (e *testEnv) sweeper(exec executor.Executor, cfg SweeperConfig) *Sweeper {
	return NewSweeper(e.service, e.locker, exec, e.emitter, cfg, discardLogger())
}

// enqueue stores a pending message due offset from the test clock.
func (e *testEnv) enqueue(t *testing.T, topic, org string, offset time.Duration) *domain.QueuedMessage {
	t.Helper()
	msg, err := e.service.Enqueue(context.Background(), domain.NewMessage{
		TopicID:          topic,
		OrganizationCode: org,
		Payload:          domain.Payload{Type: "agent_reply"},
		EligibleAt:       e.clock.Now().Add(offset),
	})
	require.NoError(t, err)
	return msg
}

func (e *testEnv) get(t *testing.T, id int64) *domain.QueuedMessage {
	t.Helper()
	msg, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func testSweeperConfig() SweeperConfig {
	cfg := DefaultSweeperConfig()
	cfg.Concurrency = 4
	cfg.ExecutionTimeout = time.Second
	cfg.LockTTL = time.Minute
	return cfg
}
