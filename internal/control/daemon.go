package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/duchft/blobcached/internal/api"
	"github.com/duchft/blobcached/internal/core/config"
	"github.com/duchft/blobcached/internal/core/worker"
	"github.com/duchft/blobcached/internal/fetch"
	"github.com/duchft/blobcached/internal/infra/origin"
	redisclient "github.com/duchft/blobcached/internal/infra/redis"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/infra/store/memory"
	"github.com/duchft/blobcached/internal/infra/store/sqlite"
	"github.com/duchft/blobcached/internal/warm"
)

// Daemon is the main application struct that manages the cache lifecycle.
type Daemon struct {
	cfg         *config.AppConfig
	store       store.Store
	origin      *origin.Client
	fetcher     *fetch.Fetcher
	janitor     *worker.Janitor
	warmWorker  *warm.Worker
	redisClient *redisclient.Client
	apiServer   *api.Server
	log         *slog.Logger
}

// NewDaemon creates a new Daemon instance with all dependencies initialized.
func NewDaemon(cfg *config.AppConfig) (*Daemon, error) {
	if cfg.Origin.BaseURL == "" {
		return nil, fmt.Errorf("origin base url is required")
	}

	limits := cfg.Cache.Limits()

	// 1. Initialize Storage. A broken cache never takes the daemon down: the
	// fetch path degrades to origin-only serving instead.
	var st store.Store
	switch cfg.Cache.Backend {
	case "memory":
		memStore, err := memory.New(limits)
		if err != nil {
			return nil, fmt.Errorf("failed to init memory store: %w", err)
		}
		st = memStore
		slog.Info("Using memory storage")
	default:
		db, err := sqlite.Open(cfg.Cache.Path)
		if err == nil {
			var sqlStore *sqlite.Store
			sqlStore, err = sqlite.New(db, limits)
			if err == nil {
				st = sqlStore
				slog.Info("Using SQLite storage", "path", cfg.Cache.Path)
			}
		}
		if err != nil {
			slog.Warn("Cache unavailable, serving without cache", "path", cfg.Cache.Path, "error", err)
			st = store.NewNoop(limits)
		}
	}

	// 2. Initialize Origin and Fetcher. The fetcher sees the failsafe view so
	// a storage failure behaves like a miss rather than an outage.
	originClient := origin.NewClient(cfg.Origin.Client())
	fetcher := fetch.New(store.NewFailsafe(st), originClient, cfg.Retry.Policy())

	// 3. Initialize Janitor
	janitor := worker.NewJanitor(st, limits.TTL, cfg.Cache.CleanupInterval.Std())

	// 4. Initialize Redis and Warm Worker
	var redisClient *redisclient.Client
	var warmWorker *warm.Worker

	if cfg.Warm.Enabled && cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, warming disabled", "error", err)
		} else {
			warmWorker = warm.NewWorker(warm.WorkerConfig{
				EmptySleep:  cfg.Warm.EmptySleep.Std(),
				TaskTimeout: cfg.Warm.TaskTimeout.Std(),
			}, redisClient, fetcher)
			slog.Info("Warm worker initialized")
		}
	}

	// 5. Initialize API Server. Admin endpoints get the raw store so storage
	// failures stay visible to operators.
	var warmer api.Warmer
	if redisClient != nil {
		warmer = redisClient
	}
	apiServer := api.NewServer(fmt.Sprintf(":%d", cfg.Server.Port), fetcher, st, warmer)

	return &Daemon{
		cfg:         cfg,
		store:       st,
		origin:      originClient,
		fetcher:     fetcher,
		janitor:     janitor,
		warmWorker:  warmWorker,
		redisClient: redisClient,
		apiServer:   apiServer,
		log:         slog.Default(),
	}, nil
}

// Start starts the daemon and all its components.
func (d *Daemon) Start(ctx context.Context) error {
	go func() {
		d.log.Info("Starting API server", "port", d.cfg.Server.Port)
		if err := d.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("API server failed", "error", err)
		}
	}()

	go d.janitor.Start(ctx)

	if d.warmWorker != nil {
		go d.warmWorker.Run(ctx)
	}

	return nil
}

// Stop stops the daemon.
func (d *Daemon) Stop(ctx context.Context) error {
	d.log.Info("Stopping daemon...")

	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.log.Warn("Failed to close Redis", "error", err)
		}
	}

	d.origin.Close()

	if err := d.store.Close(); err != nil {
		d.log.Warn("Failed to close store", "error", err)
	}

	return d.apiServer.Stop(ctx)
}

// Store exposes the backing store for administrative commands.
func (d *Daemon) Store() store.Store {
	return d.store
}
