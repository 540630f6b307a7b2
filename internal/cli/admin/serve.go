package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/closerbrain/internal/api/handlers"
	"github.com/cloo-solutions/closerbrain/internal/jobs"
	"github.com/cloo-solutions/closerbrain/internal/logger"
	"github.com/cloo-solutions/closerbrain/internal/server"
	"github.com/cloo-solutions/closerbrain/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout    = 30 * time.Second
	staleSweepInterval = time.Minute
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the closerbrain API server, applying bundled migrations first",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CLOSERBRAIN_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", "file://migrations", "Migration source URL")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	debug, _ := cmd.Flags().GetBool("debug")
	cfg, log, err := loadConfig(debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.SentryDSN != "" {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		}, log)
		if err != nil {
			log.Warn("telemetry init failed, continuing without tracing", "error", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("connected to database")

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := runMigrations(cfg.DatabaseURL, source, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg, log, pool)
	if err != nil {
		return err
	}
	defer a.Close()

	router := server.NewRouter(server.RouterConfig{
		Logger:            log,
		HealthCheck:       pool.Ping,
		SourceHandler:     handlers.NewSourceHandler(a.ingestion),
		BrainHandler:      handlers.NewBrainHandler(a.brain),
		ProspectHandler:   handlers.NewProspectHandler(a.prospects),
		SuggestionHandler: handlers.NewSuggestionHandler(a.suggestions),
		WorkspaceHandler:  handlers.NewWorkspaceHandler(a.workspaces),
	})

	sweeper := jobs.NewWorker("stale-runs", jobs.NewStaleRunProcessor(a.ingestion, log), staleSweepInterval, log)
	go sweeper.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		sweeper.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down")

	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func runMigrations(databaseURL, sourceURL string, log *logger.Logger) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info("migrations: no migrations applied")
	case err != nil:
		return fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return fmt.Errorf("migration version %d is dirty, manual intervention required", version)
	case errors.Is(upErr, migrate.ErrNoChange):
		log.Info("migrations: database is up to date", "version", version)
	default:
		log.Info("migrations: applied", "version", version)
	}
	return nil
}
