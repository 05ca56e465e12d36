package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the recovery sweep parameters.
type Config struct {
	Enabled bool
	// LookbackWindow bounds how old a record may be and still be reclaimed.
	LookbackWindow time.Duration
	// TimeoutThreshold is how long a record may stay active before it counts
	// as timed out.
	TimeoutThreshold time.Duration
	RetryLimit       int
	BatchLimit       int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		LookbackWindow:   2 * time.Hour,
		TimeoutThreshold: 15 * time.Minute,
		RetryLimit:       3,
		BatchLimit:       100,
	}
}

// Stats summarizes one recovery sweep. Skipped counts selected records that
// reached a terminal state before they could be reclaimed.
type Stats struct {
	Scanned   int           `json:"scanned"`
	Reclaimed int           `json:"reclaimed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration_ns"`
}

// Sweeper runs the execution-timeout recovery sweep.
type Sweeper struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store Store, config Config, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:  store,
		config: config,
		logger: logger.With("component", "recovery_sweeper"),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep reclaims one batch of timed-out root-level execution records. Errors
// reclaiming a single record are logged and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (stats Stats, err error) {
	if !s.config.Enabled {
		return stats, nil
	}

	start := time.Now()
	defer func() {
		stats.Duration = time.Since(start)
	}()

	now := s.now()
	stale := now.Add(-s.config.TimeoutThreshold)
	records, err := s.store.TimedOut(ctx, Criteria{
		CreatedAfter:  now.Add(-s.config.LookbackWindow),
		CreatedBefore: stale,
		UpdatedBefore: stale,
		RetryLimit:    s.config.RetryLimit,
		Limit:         s.config.BatchLimit,
	})
	if err != nil {
		return stats, fmt.Errorf("failed to select timed-out executions: %w", err)
	}
	stats.Scanned = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			break
		}

		ok, err := s.store.Reclaim(ctx, rec.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reclaim execution",
				"execution_id", rec.ID,
				"error", err)
			continue
		}
		if !ok {
			stats.Skipped++
			continue
		}
		stats.Reclaimed++
		s.logger.InfoContext(ctx, "reclaimed timed-out execution",
			"execution_id", rec.ID,
			"topic_id", rec.TopicID,
			"previous_status", rec.Status,
			"retry_count", rec.RetryCount+1,
			"created_at", rec.CreatedAt)
	}

	if stats.Scanned > 0 {
		s.logger.InfoContext(ctx, "recovery sweep finished",
			"scanned", stats.Scanned,
			"reclaimed", stats.Reclaimed,
			"skipped", stats.Skipped)
	}
	return stats, nil
}
