package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/topicq/internal/api"
	"github.com/phrazzld/topicq/internal/api/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled sweeps and the admin API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), root, serve)
		},
	}
}

// serve runs the scheduler and the admin HTTP server until ctx is cancelled,
// then shuts both down gracefully.
func serve(ctx context.Context, app *application) error {
	sched := newScheduler(app.logger)
	if app.config.Compensation.Enabled {
		if err := sched.add(ctx, "compensation", app.config.Compensation.Schedule, func(ctx context.Context) error {
			_, err := app.compensation.Sweep(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if app.config.Recovery.Enabled {
		if err := sched.add(ctx, "recovery", app.config.Recovery.Schedule, func(ctx context.Context) error {
			_, err := app.recovery.Sweep(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.run(gctx)
	})
	g.Go(func() error {
		app.logger.Info("starting admin server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down admin server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	app.logger.Info("shutdown completed")
	return err
}

// router builds the admin HTTP handler. Admin routes are only mounted when
// a token secret is configured.
func (app *application) router() http.Handler {
	cfg := api.RouterConfig{Logger: app.logger}
	if app.tokens != nil {
		cfg.Tokens = middleware.TokenValidator(app.tokens)
		cfg.Handler = api.NewAdminHandler(app.compensation, app.recovery, app.service, app.logger)
	}
	return api.NewRouter(cfg)
}

func (app *application) shutdownTimeout() time.Duration {
	if app.config.Server.ShutdownTimeout > 0 {
		return app.config.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
