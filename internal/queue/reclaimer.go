package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/events"
)

const reclaimReason = "reclaimed after stalling in running state"

// Reclaimer returns messages stuck in running back to pending, or fails them
// once their retries are spent. A message is stuck when it has not been
// updated for longer than StuckAfter, which must exceed the lock TTL so the
// worker that owned it can no longer be holding the topic lock.
type Reclaimer struct {
	service    *Service
	emitter    events.EventEmitter
	logger     *slog.Logger
	stuckAfter time.Duration
	maxRetries int
	batchLimit int
}

// NewReclaimer creates a Reclaimer. A nil emitter discards events.
func NewReclaimer(
	service *Service,
	emitter events.EventEmitter,
	stuckAfter time.Duration,
	maxRetries int,
	batchLimit int,
	logger *slog.Logger,
) *Reclaimer {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{
		service:    service,
		emitter:    emitter,
		logger:     logger.With("component", "reclaimer"),
		stuckAfter: stuckAfter,
		maxRetries: maxRetries,
		batchLimit: batchLimit,
	}
}

// Reclaim processes one batch of stuck messages and returns how many were
// moved out of running.
func (r *Reclaimer) Reclaim(ctx context.Context) (int, error) {
	if r.stuckAfter <= 0 {
		return 0, nil
	}

	cutoff := r.service.Now().Add(-r.stuckAfter)
	stuck, err := r.service.store.StuckRunning(ctx, cutoff, r.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stuck messages: %w", err)
	}

	reclaimed := 0
	for _, msg := range stuck {
		target := domain.StatusPending
		opts := []UpdateOption{withUpdatedBefore(cutoff), WithRetryIncrement()}
		if msg.RetryCount >= r.maxRetries {
			target = domain.StatusFailed
			opts = []UpdateOption{withUpdatedBefore(cutoff)}
		}

		ok, err := r.service.UpdateStatus(ctx, msg.ID, target, reclaimReason, opts...)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to reclaim stuck message",
				"message_id", msg.ID,
				"topic_id", msg.TopicID,
				"error", err)
			continue
		}
		if !ok {
			// Finished or re-dispatched since the listing.
			continue
		}
		reclaimed++

		kind := events.OutcomeReclaimed
		retries := msg.RetryCount + 1
		if target == domain.StatusFailed {
			kind = events.OutcomeFailed
			retries = msg.RetryCount
		}
		r.logger.WarnContext(ctx, "reclaimed stuck message",
			"message_id", msg.ID,
			"topic_id", msg.TopicID,
			"new_status", target,
			"stalled_since", msg.UpdatedAt)
		r.emit(ctx, events.NewMessageOutcomeEvent(kind, msg.ID, msg.TopicID, msg.OrganizationCode, retries, reclaimReason))
	}
	return reclaimed, nil
}

func (r *Reclaimer) emit(ctx context.Context, event *events.MessageOutcomeEvent) {
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "failed to emit event", "event_type", event.Kind, "error", err)
	}
}
