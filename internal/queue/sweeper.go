package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/events"
	"github.com/phrazzld/topicq/internal/executor"
	"github.com/phrazzld/topicq/internal/lock"
	"github.com/phrazzld/topicq/internal/redact"
)

// finalizeTimeout bounds the writes that record an outcome. They run on a
// context detached from the sweep so shutdown does not strand a message in
// running.
const finalizeTimeout = 10 * time.Second

// SweeperConfig holds the compensation sweep parameters.
type SweeperConfig struct {
	// Enabled turns the sweep into a no-op returning zero stats when false.
	Enabled bool

	// OrganizationWhitelist restricts sweeps to these organizations. Empty
	// means all organizations.
	OrganizationWhitelist []string

	// BatchLimit is the maximum number of topics examined per sweep.
	BatchLimit int

	// MaxRetries is how many times a failing message is retried before it is
	// marked failed.
	MaxRetries int

	Backoff BackoffPolicy

	// Concurrency is the number of topics processed in parallel.
	Concurrency int

	// ExecutionTimeout bounds one executor call.
	ExecutionTimeout time.Duration

	// LockTTL is the lifetime of a topic lock. It must exceed
	// ExecutionTimeout.
	LockTTL time.Duration
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:          true,
		BatchLimit:       50,
		MaxRetries:       3,
		Backoff:          FixedBackoff(1),
		Concurrency:      8,
		ExecutionTimeout: 2 * time.Minute,
		LockTTL:          5 * time.Minute,
	}
}

// Stats summarizes one sweep. Processed counts messages handed to the
// executor and equals Success + Failed. Skipped counts topics that could not
// be worked on because their lock was busy or they already had a running
// message.
type Stats struct {
	Processed int           `json:"processed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Reclaimed int           `json:"reclaimed"`
	Duration  time.Duration `json:"duration_ns"`
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSkipped
	outcomeSuccess
	outcomeFailed
)

// Sweeper drives due messages to completion one topic head at a time.
type Sweeper struct {
	service   *Service
	locker    lock.Locker
	executor  executor.Executor
	emitter   events.EventEmitter
	reclaimer *Reclaimer
	config    SweeperConfig
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper. A nil emitter discards events.
func NewSweeper(
	service *Service,
	locker lock.Locker,
	exec executor.Executor,
	emitter events.EventEmitter,
	config SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "compensation_sweeper")

	if config.Concurrency <= 0 {
		logger.Warn("invalid concurrency specified, using default",
			"specified", config.Concurrency,
			"default", 1)
		config.Concurrency = 1
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}

	return &Sweeper{
		service:  service,
		locker:   locker,
		executor: exec,
		emitter:  emitter,
		config:   config,
		logger:   logger,
	}
}

// SetReclaimer makes every sweep start by reclaiming stuck messages.
func (s *Sweeper) SetReclaimer(r *Reclaimer) {
	s.reclaimer = r
}

// Sweep runs one compensation pass over the configured organizations.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	return s.SweepOrganizations(ctx, nil)
}

// SweepOrganizations runs one compensation pass restricted to organizations.
// When a whitelist is configured only organizations present in both lists are
// swept. A nil slice applies the whitelist alone.
//
// The returned error covers topic selection only. Failures while processing a
// topic are logged and counted, never returned.
func (s *Sweeper) SweepOrganizations(ctx context.Context, organizations []string) (stats Stats, err error) {
	if !s.config.Enabled {
		return stats, nil
	}

	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
	}()

	orgs, ok := s.effectiveOrganizations(organizations)
	if !ok {
		s.logger.InfoContext(ctx, "no organizations left after whitelist filter, nothing to sweep")
		return stats, nil
	}

	if s.reclaimer != nil {
		n, err := s.reclaimer.Reclaim(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "reclaim of stuck messages failed", "error", err)
		}
		stats.Reclaimed = n
	}

	topics, err := s.service.CompensationTopics(ctx, s.config.BatchLimit, orgs)
	if err != nil {
		return stats, err
	}
	if len(topics) == 0 {
		s.logger.DebugContext(ctx, "no topics need compensation")
		return stats, nil
	}

	s.logger.InfoContext(ctx, "starting compensation sweep",
		"topics", len(topics),
		"concurrency", s.config.Concurrency)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(s.config.Concurrency))
	)
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeSuccess:
			stats.Processed++
			stats.Success++
		case outcomeFailed:
			stats.Processed++
			stats.Failed++
		}
	}

	for _, topic := range topics {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled; topics not yet started wait for the next sweep.
			break
		}
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			defer sem.Release(1)
			record(s.processTopicSafely(ctx, topic))
		}(topic)
	}
	wg.Wait()

	s.logger.InfoContext(ctx, "compensation sweep finished",
		"processed", stats.Processed,
		"success", stats.Success,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"reclaimed", stats.Reclaimed,
		"duration", time.Since(start))
	return stats, nil
}

func (s *Sweeper) effectiveOrganizations(requested []string) ([]string, bool) {
	whitelist := s.config.OrganizationWhitelist
	if len(requested) == 0 {
		return whitelist, true
	}
	if len(whitelist) == 0 {
		return requested, true
	}

	allowed := make(map[string]bool, len(whitelist))
	for _, org := range whitelist {
		allowed[org] = true
	}
	var orgs []string
	for _, org := range requested {
		if allowed[org] {
			orgs = append(orgs, org)
		}
	}
	return orgs, len(orgs) > 0
}

func (s *Sweeper) processTopicSafely(ctx context.Context, topic string) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic while processing topic",
				"topic_id", topic,
				"panic", r)
			o = outcomeNone
		}
	}()
	return s.processTopic(ctx, topic)
}

func (s *Sweeper) processTopic(ctx context.Context, topic string) outcome {
	logger := s.logger.With("topic_id", topic)

	handle, err := s.locker.Acquire(ctx, topic, s.config.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		logger.DebugContext(ctx, "topic lock busy, skipping")
		return outcomeSkipped
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire topic lock", "error", err)
		return outcomeNone
	}
	defer s.release(ctx, handle, logger)

	// Everything below is re-read under the lock; the topic list is only a hint.
	running, err := s.service.HasRunningMessage(ctx, topic)
	if err != nil {
		logger.ErrorContext(ctx, "failed to check for running message", "error", err)
		return outcomeNone
	}
	if running {
		logger.DebugContext(ctx, "topic already has a running message, skipping")
		return outcomeSkipped
	}

	msg, err := s.service.EarliestMessageByTopic(ctx, topic)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read topic head", "error", err)
		return outcomeNone
	}
	if msg == nil || msg.EligibleAt.After(s.service.Now()) {
		return outcomeNone
	}

	logger = logger.With("message_id", msg.ID)
	marked, err := s.service.MarkRunning(ctx, msg.ID, handle.Token)
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark message running", "error", err)
		return outcomeNone
	}
	if !marked {
		logger.DebugContext(ctx, "message changed before dispatch, skipping")
		return outcomeNone
	}

	execErr := s.execute(ctx, msg)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if execErr == nil {
		s.complete(fctx, msg, handle.Token, logger)
		return outcomeSuccess
	}
	s.fail(fctx, msg, handle.Token, execErr, logger)
	return outcomeFailed
}

func (s *Sweeper) execute(ctx context.Context, msg *domain.QueuedMessage) (err error) {
	execCtx := ctx
	if s.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.config.ExecutionTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return s.executor.Execute(execCtx, msg)
}

func (s *Sweeper) complete(ctx context.Context, msg *domain.QueuedMessage, token int64, logger *slog.Logger) {
	ok, err := s.service.UpdateStatus(ctx, msg.ID, domain.StatusCompleted, "", WithFenceToken(token))
	if err != nil {
		logger.ErrorContext(ctx, "failed to record completion", "error", err)
		return
	}
	if !ok {
		logger.WarnContext(ctx, "completion rejected, topic lock was lost during execution")
		return
	}
	logger.InfoContext(ctx, "message completed")
	s.emit(ctx, events.NewMessageOutcomeEvent(events.OutcomeCompleted, msg.ID, msg.TopicID, msg.OrganizationCode, msg.RetryCount, ""))
}

func (s *Sweeper) fail(ctx context.Context, msg *domain.QueuedMessage, token int64, execErr error, logger *slog.Logger) {
	errText := domain.TruncateError(redact.Error(execErr))

	if !executor.IsPermanent(execErr) && msg.RetryCount < s.config.MaxRetries {
		delay := s.config.Backoff.DelayMinutes(msg.RetryCount)
		ok, err := s.service.RetryLater(ctx, msg, token, errText, delay)
		if err != nil {
			logger.ErrorContext(ctx, "failed to schedule retry", "error", err)
			return
		}
		if !ok {
			logger.WarnContext(ctx, "retry rejected, topic lock was lost during execution")
			return
		}
		logger.WarnContext(ctx, "message failed, retry scheduled",
			"retry_count", msg.RetryCount+1,
			"delay_minutes", delay,
			"error", errText)
		s.emit(ctx, events.NewMessageOutcomeEvent(events.OutcomeRetried, msg.ID, msg.TopicID, msg.OrganizationCode, msg.RetryCount+1, errText))
		return
	}

	ok, err := s.service.UpdateStatus(ctx, msg.ID, domain.StatusFailed, errText, WithFenceToken(token))
	if err != nil {
		logger.ErrorContext(ctx, "failed to record failure", "error", err)
		return
	}
	if !ok {
		logger.WarnContext(ctx, "failure rejected, topic lock was lost during execution")
		return
	}
	logger.ErrorContext(ctx, "message failed permanently",
		"retry_count", msg.RetryCount,
		"error", errText)
	s.emit(ctx, events.NewMessageOutcomeEvent(events.OutcomeFailed, msg.ID, msg.TopicID, msg.OrganizationCode, msg.RetryCount, errText))
}

func (s *Sweeper) release(ctx context.Context, handle *lock.Handle, logger *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.locker.Release(rctx, handle); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			logger.WarnContext(ctx, "topic lock expired before release")
			return
		}
		logger.ErrorContext(ctx, "failed to release topic lock", "error", err)
	}
}

func (s *Sweeper) emit(ctx context.Context, event *events.MessageOutcomeEvent) {
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit event", "event_type", event.Kind, "error", err)
	}
}
