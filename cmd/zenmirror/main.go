package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zenmirror/internal/config"
	"zenmirror/internal/events"
	"zenmirror/internal/log"
	"zenmirror/internal/mcp"
	"zenmirror/internal/service"
	"zenmirror/internal/storage"
	"zenmirror/internal/store"
	"zenmirror/internal/sync"
	"zenmirror/internal/zenapi"
)

const version = "1.0.0"

const bootstrapTimeout = 2 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		// Logger is not configured yet; stderr directly.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open snapshot database", log.FieldError, err)
		os.Exit(1)
	}
	defer repo.Close()

	st := store.New()
	saved, cursor, err := repo.Load(ctx)
	if err != nil {
		logger.Error("Failed to load persisted snapshot", log.FieldError, err)
		os.Exit(1)
	}
	if cursor > 0 {
		if err := st.ReplaceAll(saved, cursor); err != nil {
			logger.Error("Persisted snapshot is unusable, starting empty", log.FieldError, err)
		} else {
			logger.Info("Restored snapshot", log.FieldCursor, cursor)
		}
	}

	client, err := zenapi.NewClient(zenapi.Options{
		BaseURL:    cfg.APIURL,
		Token:      cfg.Token,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
	})
	if err != nil {
		logger.Error("Failed to configure API client", log.FieldError, err)
		os.Exit(1)
	}

	engine := sync.NewEngine(st, client)
	engine.Saver = repo

	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Error("Failed to connect to AMQP, continuing without events", log.FieldError, err)
		} else {
			defer publisher.Close()
			engine.Events = publisher
		}
	}

	bootstrap(ctx, logger, engine, cursor)

	ledger := service.NewLedger(st, engine)
	go ledger.RunCacheJanitor(ctx)

	registry := mcp.NewRegistry()
	if err := mcp.RegisterTools(registry, ledger); err != nil {
		logger.Error("Failed to register tools", log.FieldError, err)
		os.Exit(1)
	}

	server := mcp.NewServer("zenmirror", version, registry, os.Stdin, os.Stdout)
	logger.Info("Serving on stdio", "version", version)
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// bootstrap brings the mirror up to date before serving. A failure here is
// logged but not fatal: the restored snapshot still answers reads, and the
// agent can retry with the sync tool.
func bootstrap(ctx context.Context, logger *log.Logger, engine *sync.Engine, cursor int64) {
	syncCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	var err error
	if cursor > 0 {
		err = engine.Sync(syncCtx)
	} else {
		err = engine.FullSync(syncCtx)
	}
	if err != nil {
		logger.Warn("Initial sync failed, serving cached data", log.FieldError, err)
	}
}
