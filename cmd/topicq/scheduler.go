package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// scheduler runs sweeps on cron specs. A run that is still going when its
// next tick fires is skipped rather than overlapped.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	cl := cronLogger{logger: logger}
	return &scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger.With("component", "scheduler"),
	}
}

// add registers job under spec. Standard five-field specs and descriptors
// such as "@every 30s" are accepted.
func (s *scheduler) add(ctx context.Context, name, spec string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("scheduled job registered", "job", name, "schedule", spec)
	return nil
}

// run starts the scheduler and blocks until ctx is done and every running
// job has returned.
func (s *scheduler) run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
	return nil
}
