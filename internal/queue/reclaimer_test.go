package queue

import (
	"context"
	"testing"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReclaimer_Reclaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := newTestEnv(t)
	seed := func(status domain.Status, retries int, touched time.Duration) int64 {
		env.store.Put(domain.QueuedMessage{
			TopicID:          "topic-1",
			OrganizationCode: "org-a",
			Payload:          domain.Payload{Type: "agent_reply"},
			Status:           status,
			RetryCount:       retries,
			EligibleAt:       baseTime.Add(-time.Hour),
			CreatedAt:        baseTime.Add(-time.Hour),
			UpdatedAt:        baseTime.Add(-touched),
		})
		all := env.store.All()
		return all[len(all)-1].ID
	}

	stuck := seed(domain.StatusRunning, 0, 30*time.Minute)
	exhausted := seed(domain.StatusRunning, 3, 30*time.Minute)
	fresh := seed(domain.StatusRunning, 0, time.Minute)
	done := seed(domain.StatusCompleted, 0, 30*time.Minute)

	r := NewReclaimer(env.service, env.emitter, 10*time.Minute, 3, 100, discardLogger())
	n, err := r.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got := env.get(t, stuck)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, reclaimReason, got.LastError)

	got = env.get(t, exhausted)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)

	assert.Equal(t, domain.StatusRunning, env.get(t, fresh).Status)
	assert.Equal(t, domain.StatusCompleted, env.get(t, done).Status)
	assert.ElementsMatch(t, []events.OutcomeKind{events.OutcomeReclaimed, events.OutcomeFailed}, env.recorder.Kinds())
}

func TestReclaimer_Disabled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.store.Put(domain.QueuedMessage{
		TopicID:   "topic-1",
		Status:    domain.StatusRunning,
		UpdatedAt: baseTime.Add(-time.Hour),
	})

	n, err := NewReclaimer(env.service, nil, 0, 3, 100, nil).Reclaim(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.StatusRunning, env.store.All()[0].Status)
}
