// Package control wires the application together: storage, gateway, rule set,
// pipeline, task runner and HTTP servers, with one lifecycle per process role.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/proyecto-sentinel/sentinel/internal/api"
	"github.com/proyecto-sentinel/sentinel/internal/core/config"
	"github.com/proyecto-sentinel/sentinel/internal/core/rules"
	"github.com/proyecto-sentinel/sentinel/internal/infra/gateway"
	"github.com/proyecto-sentinel/sentinel/internal/infra/redisstate"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/memory"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/postgres"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
	"github.com/proyecto-sentinel/sentinel/internal/pipeline"
	"github.com/proyecto-sentinel/sentinel/internal/task"
)

// Service is the classification service: task runner plus its HTTP API.
type Service struct {
	cfg        *config.AppConfig
	runner     *task.Runner
	apiServer  *api.Server
	db         *postgres.DB
	redisStore *redisstate.Store
	cancel     context.CancelFunc
}

// NewService builds the classification service from configuration.
//
// Storage access is resolved in two steps: gateway.url selects remote HTTP
// storage when set; otherwise database.url selects direct Postgres, and an
// in-memory store is the final fallback for local runs and tests.
func NewService(cfg *config.AppConfig) (*Service, error) {
	s := &Service{cfg: cfg}

	ruleSet, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule dictionary: %w", err)
	}
	slog.Info("Rule dictionary loaded", "path", cfg.Rules.Path, "categories", len(ruleSet.Categories))

	var gw gateway.Gateway
	var counter task.Counter
	checks := make(map[string]api.HealthChecker)

	if cfg.Gateway.URL != "" {
		client := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Timeout, gateway.DefaultRetryConfig)
		gw = client
		checks["gateway"] = client
		slog.Info("Using remote storage gateway", "url", cfg.Gateway.URL)
	} else {
		repo, db, err := openRepository(cfg)
		if err != nil {
			return nil, err
		}
		s.db = db
		if db != nil {
			checks["database"] = db
		}
		exporter := ingest.NewExporter(repo, cfg.Data.FinalDir)
		gw = gateway.NewLocal(repo, exporter)
		counter = repo
	}

	var store task.StateStore
	if cfg.Redis.URL != "" {
		redisStore, err := redisstate.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis state store: %w", err)
		}
		s.redisStore = redisStore
		store = redisStore
		checks["redis"] = redisStore
		slog.Info("Using Redis task state store")
	} else {
		store = task.NewMemoryStore()
		slog.Info("Using in-memory task state store")
	}

	orch := pipeline.New(pipeline.Config{
		Gateway:        gw,
		Rules:          ruleSet,
		RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
	})
	s.runner = task.NewRunner(orch, store, counter)
	s.apiServer = api.NewServer(s.runner, checks, cfg.Server.Port)

	return s, nil
}

// Start launches the worker pool and the HTTP API.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.runner.Start(ctx, s.cfg.Server.Workers)
	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go func() {
		slog.Info("API server listening", "port", s.cfg.Server.Port)
		if err := s.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server exited", "error", err)
		}
	}()
	return nil
}

// Stop drains the worker pool and shuts down the API and connections.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.apiServer.Stop(ctx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	s.runner.Stop()
	if s.redisStore != nil {
		_ = s.redisStore.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return nil
}

// openRepository picks Postgres when configured, memory otherwise, and runs
// migrations on the Postgres path.
func openRepository(cfg *config.AppConfig) (storage.IncidentRepository, *postgres.DB, error) {
	if cfg.Database.URL == "" {
		slog.Info("Using in-memory incident storage")
		return memory.NewStore(), nil, nil
	}

	db, err := postgres.NewDB(context.Background(), cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate("migrations"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	slog.Info("Using PostgreSQL incident storage")
	return postgres.NewIncidentRepo(db), db, nil
}
