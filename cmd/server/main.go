/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine HTTP server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, CONFIG_PATH YAML, environment), then flags
  2. Configure logging and tracing
  3. Open the store selected by DB_DRIVER
  4. Pick the event publisher (SQS when a queue URL is set)
  5. Build service, handler and router; start server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH, selects sqlite)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Flush traces, close the store
  4. Exit

EXAMPLES:
  ./server -db="./data/payroll.db"
  DB_DRIVER=postgres DATABASE_URL=postgres://... ./server
  PAYROLL_EVENTS_QUEUE_URL=http://localhost:4566/000000000000/payroll-events LOCAL_DEV=true ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/events"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/store/postgres"
	"github.com/warp/payroll-engine/store/sqlite"
	"github.com/warp/payroll-engine/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	if *port > 0 {
		cfg.HTTPPort = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLitePath = *dbPath
	}

	logger := logging.Setup(cfg.LocalDev, cfg.LogLevel)

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.TracingExporter, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	txStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("Failed to initialize store")
	}
	defer closeStore()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize event publisher")
	}

	svc := payroll.NewService(txStore,
		payroll.WithLogger(logger),
		payroll.WithPublisher(publisher),
	)
	handler := api.NewHandler(svc, cfg.PayslipCompany)
	router := api.NewRouter(handler, logger, cfg.AllowedOrigins())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      otelhttp.NewHandler(router, "payroll-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Str("driver", cfg.Database.Driver).Msg("Payroll API starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server stopped")
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (payroll.TxStore, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", cfg.Database.SQLitePath).Msg("Using SQLite store")
		return s, func() { _ = s.Close() }, nil

	case config.DriverPostgres:
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Int("max_conns", cfg.Database.MaxConns).Msg("Using PostgreSQL store")
		return postgres.New(pool), pool.Close, nil

	case config.DriverMemory:
		logger.Warn().Msg("Using in-memory store, data is lost on exit")
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.Database.Driver)
}

func newPublisher(ctx context.Context, cfg config.Config, logger zerolog.Logger) (payroll.Publisher, error) {
	if cfg.EventsQueueURL == "" {
		return events.Noop{Logger: logger}, nil
	}
	client, err := events.NewSQSClient(ctx, events.ClientConfig{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSEndpoint,
		LocalDev: cfg.LocalDev,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("queue_url", cfg.EventsQueueURL).Msg("Publishing payroll events to SQS")
	return events.NewSQSPublisher(client, cfg.EventsQueueURL, logger), nil
}
