package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/histograph/histograph-sink/pkg/adapters/document"
	"github.com/histograph/histograph-sink/pkg/adapters/relational"
	"github.com/histograph/histograph-sink/pkg/config"
	"github.com/histograph/histograph-sink/pkg/database"
	"github.com/histograph/histograph-sink/pkg/logging"
	"github.com/histograph/histograph-sink/pkg/queue"
	"github.com/histograph/histograph-sink/pkg/router"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env == "local")
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("histograph-sink stopped", zap.String("error", logging.SanitizeError(err)))
	}
	logger.Info("histograph-sink stopped")
}

// loadConfig reads path when it exists and falls back to the environment.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.LoadEnv(Version)
	}
	return config.Load(path, Version)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("elasticsearch", fmt.Sprintf("%s:%d/%s", cfg.Elasticsearch.Host, cfg.Elasticsearch.Port, cfg.Elasticsearch.Index)),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("queue", cfg.Redis.Queue))

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	rel := relational.NewStore(db.Pool, logger, relational.WithSchema(cfg.Database.Schema))

	searchOpts := document.Options{
		Host:      cfg.Elasticsearch.Host,
		Port:      cfg.Elasticsearch.Port,
		Index:     cfg.Elasticsearch.Index,
		SchemaDir: cfg.Elasticsearch.SchemaDir,
		Refresh:   cfg.Elasticsearch.Refresh,
	}
	searchClient, err := document.NewClient(searchOpts, cfg.Elasticsearch.User, cfg.Elasticsearch.Password)
	if err != nil {
		return err
	}
	docs := document.NewStore(searchClient, searchOpts, logger)
	if err := docs.TestConnection(ctx); err != nil {
		return err
	}
	logger.Info("Connected to Elasticsearch", zap.String("address", searchOpts.Address()))

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))

	rtr := router.New(rel, docs, logger)
	if err := rtr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	consumer := queue.NewConsumer(redisClient, cfg.Redis.Queue, cfg.Redis.DatasetDoneQueue(), rtr.Handle, logger)
	if err := consumer.Run(ctx); err != nil {
		return err
	}

	logger.Info("Queue drained",
		zap.Int64("applied", consumer.Stats.Applied.Load()),
		zap.Int64("failed", consumer.Stats.Failed.Load()),
		zap.Int64("skipped", consumer.Stats.Skipped.Load()),
		zap.Int64("dataset_done", consumer.Stats.Forwards.Load()))
	return nil
}
