package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceshelf/backend/internal/config"
	"invoiceshelf/backend/internal/httpapi"
	"invoiceshelf/backend/internal/lock"
	"invoiceshelf/backend/internal/logger"
	"invoiceshelf/backend/internal/metrics"
	"invoiceshelf/backend/internal/recurring"
	"invoiceshelf/backend/internal/scheduler"
	"invoiceshelf/backend/internal/service"
	"invoiceshelf/backend/internal/store"
	"invoiceshelf/backend/internal/store/memory"
	pgstore "invoiceshelf/backend/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	cmd := &cobra.Command{
		Use:           "invoiceshelf",
		Short:         "Invoicing backend with recurring invoice generation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			config.LoadDotEnv()
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			return logger.Setup(cfg.LoggerConfig())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the recurring invoice scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "trigger",
		Short: "Generate every due recurring invoice once and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrigger(cmd, cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	})
	return cmd
}

// app holds the wired dependencies shared by every subcommand.
type app struct {
	repo     store.Repository
	metrics  *metrics.Metrics
	auth     *httpapi.AuthManager
	service  *service.Service
	location *time.Location
	closers  []func() error
	logger   zerolog.Logger
}

func buildApp(ctx context.Context, cfg config.Config, migrateSchema bool) (*app, error) {
	a := &app{logger: logger.WithComponent("server"), metrics: metrics.New()}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.location = loc

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(initCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if migrateSchema {
			if err := pg.Migrate(initCtx); err != nil {
				a.close()
				return nil, err
			}
		}
		a.repo = pg
		a.logger.Info().Msg("repository: postgres")
	} else {
		a.repo = memory.NewSeeded()
		a.logger.Info().Msg("repository: in-memory")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		redisLocker := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisLocker.Ping(initCtx); err != nil {
			a.logger.Warn().Err(err).Msg("redis unavailable, using in-process locks")
			_ = redisLocker.Close()
		} else {
			locker = redisLocker
			a.closers = append(a.closers, redisLocker.Close)
			a.logger.Info().Msg("locks: redis")
		}
	}

	generator := recurring.NewGenerator(a.repo, locker, recurring.Options{
		Location:    loc,
		Concurrency: cfg.RecurringConcurrency,
		LockTTL:     cfg.RecurringLockTTL(),
		Metrics:     a.metrics,
		Logger:      logger.WithComponent("recurring"),
	})
	a.auth = httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), a.repo)
	a.service = service.New(a.repo, generator, a.auth)
	return a, nil
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn().Err(err).Msg("close error")
		}
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled {
		sched = scheduler.New(a.service, cfg.RecurringSchedule, a.location, logger.WithComponent("scheduler"))
		if err := sched.Start(); err != nil {
			return err
		}
	}

	api := httpapi.New(a.service, a.auth, a.metrics, cfg.AllowedOrigin)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", cfg.Address()).Msg("invoiceshelf backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("shutdown error")
	}
	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			a.logger.Warn().Msg("recurring job still running at shutdown")
		}
	}

	a.logger.Info().Msg("server stopped")
	return nil
}

func runTrigger(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.service.TriggerRecurring(recurring.WithSource(ctx, "cli"), time.Now())
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d recurring invoice(s) failed to generate", len(result.Failed))
	}
	return nil
}

func runMigrate(ctx context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required to run migrations")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.WithComponent("server").Info().Msg("migrations applied")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name the dashboard origin, not *")
	}
	if cfg.SchedulerEnabled {
		if _, err := cron.ParseStandard(cfg.RecurringSchedule); err != nil {
			return fmt.Errorf("RECURRING_SCHEDULE is invalid: %w", err)
		}
	}
	return nil
}
