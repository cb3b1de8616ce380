package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"goldchain/config"
	"goldchain/core"
	"goldchain/indexer"
	"goldchain/integrations/webhooks"
	"goldchain/native/ledger"
	"goldchain/observability/logging"
	telemetry "goldchain/observability/otel"
	"goldchain/rpc"
	"goldchain/storage"
)

const (
	serviceName        = "goldchaind"
	subscriberBuffer   = 1024
	telemetryShutdown  = 5 * time.Second
	stateDirectoryName = "state"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup(serviceName, cfg.Logging.Env, cfg.Logging.File)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("goldchaind stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("goldchaind stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := core.NewNode(db)
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}
	defer node.Close()
	node.SetLogger(logger)

	head := node.Head()
	logger.Info("ledger state loaded",
		slog.String("component", "node"),
		slog.Uint64("height", head.Height),
		slog.String("root", head.Root.Hex()))

	if cfg.VerifyOnStart {
		if err := node.VerifyState(); err != nil {
			return fmt.Errorf("verify state: %w", err)
		}
		logger.Info("ledger index verified", slog.String("component", "node"))
	}

	nonces, err := openNonceStore(cfg)
	if err != nil {
		return err
	}
	defer nonces.Close()

	var (
		workers sync.WaitGroup
		closers []func()
	)
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		workers.Wait()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var searcher rpc.Searcher
	if cfg.Indexer.Driver != "" {
		idx, err := startIndexer(workerCtx, cfg, node, logger, &workers)
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = idx.Close() })
		searcher = idx
	}

	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := startWebhooks(workerCtx, cfg, node, logger, &workers)
		if err != nil {
			return err
		}
		closers = append(closers, dispatcher.Close)
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		AllowedSkew: time.Duration(cfg.AllowedSkewSeconds) * time.Second,
		Nonces:      nonces,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
			TrustedProxies:    cfg.RateLimit.TrustedProxies,
		},
		Searcher:    searcher,
		Logger:      logger,
		ServiceName: serviceName,
	})
	return server.Serve(ctx, cfg.ListenAddress)
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemDB(), nil
	default:
		dir := filepath.Join(cfg.DataDir, stateDirectoryName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
		db, err := storage.NewLevelDB(dir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}

func openNonceStore(cfg *config.Config) (rpc.NonceStore, error) {
	path := strings.TrimSpace(cfg.NonceStorePath)
	if path == "" || cfg.Storage == config.StorageMemory {
		return rpc.NewMemoryNonceStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare nonce store directory: %w", err)
	}
	return rpc.NewBoltNonceStore(path)
}

// startIndexer subscribes before backfilling so no commit falls between the
// snapshot and the live stream. Replays are absorbed by idempotent upserts.
func startIndexer(ctx context.Context, cfg *config.Config, node *core.Node, logger *slog.Logger, workers *sync.WaitGroup) (*indexer.Indexer, error) {
	if cfg.Indexer.Driver == config.IndexerSQLite && !strings.HasPrefix(cfg.Indexer.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Indexer.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("prepare indexer directory: %w", err)
		}
	}
	idx, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		return nil, err
	}
	idx.SetLogger(logger)
	idx.SetResync(func(context.Context) ([]*ledger.Ledger, error) {
		return node.GetAllLedgers()
	})

	stream, unsubscribe := node.Subscribe(subscriberBuffer)
	records, err := node.GetAllLedgers()
	if err == nil {
		err = idx.Backfill(ctx, records)
	}
	if err != nil {
		unsubscribe()
		_ = idx.Close()
		return nil, fmt.Errorf("backfill indexer: %w", err)
	}
	logger.Info("indexer backfilled",
		slog.String("component", "indexer"),
		slog.Int("records", len(records)))

	runWorker(ctx, workers, unsubscribe, func(ctx context.Context) error {
		return idx.Run(ctx, stream)
	}, logger, "indexer")
	return idx, nil
}

func startWebhooks(ctx context.Context, cfg *config.Config, node *core.Node, logger *slog.Logger, workers *sync.WaitGroup) (*webhooks.Dispatcher, error) {
	secret := os.Getenv(cfg.Webhook.SecretEnv)
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret %s is not set", cfg.Webhook.SecretEnv)
	}
	dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(secret), webhooks.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	stream, unsubscribe := node.Subscribe(subscriberBuffer)
	runWorker(ctx, workers, unsubscribe, func(ctx context.Context) error {
		return dispatcher.Forward(ctx, stream)
	}, logger, "webhooks")
	return dispatcher, nil
}

func runWorker(ctx context.Context, workers *sync.WaitGroup, cleanup func(), fn func(context.Context) error, logger *slog.Logger, component string) {
	workers.Add(1)
	go func() {
		defer workers.Done()
		defer cleanup()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", slog.String("component", component), slog.Any("error", err))
		}
	}()
}
