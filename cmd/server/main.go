// Command server runs the stock ledger engine: the outbox processor, event
// handlers, optional RabbitMQ forwarding and the maintenance scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/stockledger/internal/infrastructure/config"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath string
		runTask    string
	)
	flag.StringVar(&configPath, "config", "", "Path to a config file (default: ./config.toml or /app/config.toml)")
	flag.StringVar(&runTask, "run-task", "", "Run one maintenance task and exit (refresh_analytics, verify_ledger, expire_pending)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting stock ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build engine", zap.Error(err))
	}

	if runTask != "" {
		err := eng.runTask(ctx, runTask)
		shutdown(eng, log)
		if err != nil {
			log.Fatal("Maintenance task failed", zap.String("task", runTask), zap.Error(err))
		}
		log.Info("Maintenance task completed", zap.String("task", runTask))
		return
	}

	if err := eng.start(ctx); err != nil {
		shutdown(eng, log)
		log.Fatal("Failed to start engine", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("Shutting down stock ledger")
	shutdown(eng, log)
	log.Info("Stock ledger stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func shutdown(eng *engine, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.close(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
	}
}
