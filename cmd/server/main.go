package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/surveysync/surveysync-api/internal/config"
	"github.com/surveysync/surveysync-api/internal/handlers"
	"github.com/surveysync/surveysync-api/internal/maintenance"
	"github.com/surveysync/surveysync-api/internal/middleware"
	"github.com/surveysync/surveysync-api/internal/migration"
	"github.com/surveysync/surveysync-api/internal/repository"
	"github.com/surveysync/surveysync-api/internal/routes"
	"github.com/surveysync/surveysync-api/internal/surveycto"
	"github.com/surveysync/surveysync-api/internal/sync"
	"github.com/surveysync/surveysync-api/internal/target"
	"github.com/surveysync/surveysync-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load()

	// Initialize the app-state database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Repositories over the app-state store.
	jobRepo := repository.NewJobRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)
	cooldownRepo := repository.NewCooldownRepository(db)
	connRepo := repository.NewConnectionRepository(db)

	// Source and target adapters.
	sctoClient := surveycto.NewClient(logger)
	connector := target.NewConnector(cfg.TargetDatabaseURL, cfg.Worker.ConnectAttempts, logger)

	// Sync runner and the polling worker that feeds it.
	runner := sync.NewRunner(jobRepo, checkpointRepo, cooldownRepo, connRepo, sctoClient, connector, logger)
	syncWorker := worker.New(worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		Concurrency:  cfg.Worker.Concurrency,
	}, jobRepo, runner, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := syncWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker exited with error")
		}
	}()

	// Background housekeeping.
	scheduler, err := maintenance.NewScheduler(maintenance.Config{
		CooldownPurgeSpec: cfg.Maintenance.CooldownPurgeSpec,
		JobRetention:      cfg.Maintenance.JobRetention,
		JobSweepSpec:      cfg.Maintenance.JobSweepSpec,
	}, cooldownRepo, jobRepo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure maintenance scheduler")
	}
	scheduler.Start()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(jobRepo, cooldownRepo, connRepo, sctoClient, connector)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	// Stop background work after the HTTP server has drained.
	stopWorker()
	<-workerDone
	scheduler.Stop()

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(
	jobRepo repository.JobRepository,
	cooldownRepo repository.CooldownRepository,
	connRepo repository.ConnectionRepository,
	sctoClient *surveycto.Client,
	connector *target.Connector,
) http.Handler {
	jobHandler := handlers.NewJobHandler(jobRepo, app.logger)
	connHandler := handlers.NewConnectionHandler(connRepo, sctoClient, app.logger)
	metaHandler := handlers.NewMetadataHandler(connector, app.logger)
	cooldownHandler := handlers.NewCooldownHandler(cooldownRepo, app.logger)

	return routes.NewRouter(jobHandler, connHandler, metaHandler, cooldownHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
