/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the barangay appointment scheduling server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (YAML file and/or environment)
  2. Build logger and tracer provider
  3. Open the store (sqlite, postgres or memory)
  4. Build the date locker (local or redis) and event publisher (kafka or none)
  5. Create the scheduling manager, load holidays, start the refresher
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional; environment variables always apply)
  -port    HTTP server port, overrides http_server.address
  -db      SQLite database path, overrides storage.sqlite_path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http_server.shutdown_timeout)
  3. Stop the holiday refresher, flush events and traces
  4. Close store and locker

EXAMPLES:
  # Run with file database
  ./server -db="./data/appointments.db"

  # Several instances sharing Postgres and Redis
  STORAGE_DRIVER=postgres POSTGRES_URL=postgres://... LOCK_DRIVER=redis ./server

SEE ALSO:
  - config/config.go: all settings
  - api/server.go: Router configuration
  - scheduler/manager.go: scheduling transaction manager
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/barangay/appointments/api"
	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/booking/store"
	"github.com/barangay/appointments/config"
	"github.com/barangay/appointments/events"
	"github.com/barangay/appointments/lock"
	"github.com/barangay/appointments/observability"
	"github.com/barangay/appointments/scheduler"
	"github.com/barangay/appointments/store/postgres"
	"github.com/barangay/appointments/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.HTTPServer.Address = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLitePath = *dbPath
	}

	logger, err := observability.NewLogger(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRatio:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	checks := map[string]api.ReadyCheck{}

	// Store
	st, closeStore, err := openStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore.Close()
	logger.Info("store ready", zap.String("driver", cfg.Storage.Driver))

	// Locks
	var locker lock.Locker = lock.NewLocal()
	if cfg.Lock.Driver == "redis" {
		rl, err := lock.NewRedis(lock.RedisOptions{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
			TTL:      cfg.Lock.TTL,
		})
		if err != nil {
			return fmt.Errorf("redis locker: %w", err)
		}
		defer rl.Close()
		checks["redis"] = rl.Ping
		locker = rl
	}
	logger.Info("locker ready", zap.String("driver", cfg.Lock.Driver))

	// Events
	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Brokers != "" {
		kp, err := events.NewKafka(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, TopicPrefix: cfg.Kafka.TopicPrefix})
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		checks["kafka"] = events.ReadyCheck(cfg.Kafka.Brokers)
		publisher = kp
	}
	defer publisher.Close()

	// Manager
	mgr := scheduler.New(st,
		scheduler.WithLocker(locker),
		scheduler.WithPublisher(publisher),
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithConfig(scheduler.Config{
			StoreTimeout:          cfg.Scheduling.StoreTimeout,
			LockWait:              cfg.Lock.WaitTimeout,
			MaxRangeDays:          cfg.Scheduling.MaxRangeDays,
			RequireRequestedDates: cfg.Scheduling.RequireRequestedDates,
		}),
	)
	if err := mgr.LoadHolidays(ctx); err != nil {
		logger.Warn("failed to load holidays", zap.Error(err))
	}
	refresher := scheduler.NewHolidayRefresher(mgr, cfg.Scheduling.HolidayRefresh, logger.Named("holidays"))
	refresher.Start()
	defer refresher.Stop()

	// Router
	handler := api.NewHandler(mgr, logger.Named("http"))
	for name, check := range checks {
		handler.AddReadyCheck(name, check)
	}
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimit:      cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTPServer.Address), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and registers its readiness probe.
func openStore(ctx context.Context, cfg *config.Config, checks map[string]api.ReadyCheck) (booking.TxStore, io.Closer, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		checks["postgres"] = pg.Ping
		return pg, pg, nil
	case "memory":
		return store.NewMemory(), closerFunc(func() error { return nil }), nil
	default:
		db, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		checks["sqlite"] = db.Ping
		return db, db, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
