package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/tickbridge-systems/tickbridge/internal/announce"
	"github.com/tickbridge-systems/tickbridge/internal/config"
	"github.com/tickbridge-systems/tickbridge/internal/forwarder"
	"github.com/tickbridge-systems/tickbridge/internal/handlers"
	"github.com/tickbridge-systems/tickbridge/internal/ledger"
	"github.com/tickbridge-systems/tickbridge/internal/pipeline"
	"github.com/tickbridge-systems/tickbridge/internal/server"
	"github.com/tickbridge-systems/tickbridge/internal/spool"
	"github.com/tickbridge-systems/tickbridge/internal/store"
	"github.com/tickbridge-systems/tickbridge/pkg/logging"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	// Run database migrations
	if cfg.Database.RunMigrations {
		m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to initialize migrations: %v", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Database migrations completed")
	}

	// Initialize storage
	tickStore, err := store.NewPostgresStore(context.Background(), cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer tickStore.Close()

	auditLedger := ledger.NewPostgresLedger(tickStore.Pool())

	// Initialize the spool directory
	queue, err := spool.NewQueue(cfg.Spool.Dir)
	if err != nil {
		log.Fatalf("Failed to initialize spool directory: %v", err)
	}
	slog.Info("Spool initialized",
		slog.String("dir", cfg.Spool.Dir),
		slog.Int("depth", queue.Depth()),
	)

	// Initialize the forwarding pipeline
	client := forwarder.New()
	pipe := pipeline.New(tickStore, auditLedger, client, queue, logger)

	batchDest := pipeline.Destination{
		Name:            "ingest",
		ForwardURL:      cfg.Forward.IngestURL,
		ConfirmURL:      cfg.Forward.ConfirmURL,
		Token:           cfg.Forward.Token,
		Timeout:         cfg.Forward.Timeout,
		ConfirmTimeout:  cfg.Forward.ConfirmTimeout,
		ConfirmKeyLimit: cfg.Forward.ConfirmKeys,
		SpoolPrefix:     "ingest",
	}
	tickDest := pipeline.Destination{
		Name:            "tick",
		ForwardURL:      cfg.Forward.TickURL,
		ConfirmURL:      cfg.Forward.ConfirmURL,
		Token:           cfg.Forward.Token,
		Timeout:         cfg.Forward.TickTimeout,
		ConfirmTimeout:  cfg.Forward.ConfirmTimeout,
		ConfirmKeyLimit: cfg.Forward.ConfirmKeys,
		SpoolPrefix:     "tick",
	}
	pipe.RegisterDestination(batchDest)
	pipe.RegisterDestination(tickDest)

	if cfg.Forward.IngestURL == "" {
		log.Println("Forwarding disabled - no downstream ingest URL configured")
	} else {
		slog.Info("Forwarding enabled",
			slog.String("ingest_url", cfg.Forward.IngestURL),
			slog.String("tick_url", cfg.Forward.TickURL),
			slog.String("confirm_url", cfg.Forward.ConfirmURL),
		)
	}

	// Initialize the NATS announcer
	if cfg.NATS.Enabled {
		publisher, err := announce.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Printf("WARNING: Failed to connect to NATS: %v", err)
			log.Println("Continuing without ingest announcements")
		} else {
			pipe.SetAnnouncer(publisher)
			defer publisher.Close()
			log.Printf("Ingest announcements enabled (nats: %s)", cfg.NATS.URL)
		}
	} else {
		log.Println("Ingest announcements disabled")
	}

	// Start the spool replayer
	replayer := spool.NewReplayer(queue, pipe.ReplaySend, pipe.ReplayResult,
		cfg.Spool.ReplayInterval, cfg.Spool.ReplayTimeout)
	replayer.Start(context.Background())
	defer replayer.Stop()

	// Initialize HTTP handlers
	handler := handlers.NewIngestHandler(pipe, tickStore, auditLedger, queue, batchDest, tickDest, logger)
	router := server.NewRouter(handler, cfg.Auth.Token)

	// Create server with config values
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ingest service listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
