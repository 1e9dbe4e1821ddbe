package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/proyecto-sentinel/sentinel/internal/core/config"
	"github.com/proyecto-sentinel/sentinel/internal/core/worker"
	"github.com/proyecto-sentinel/sentinel/internal/infra/gateway"
	"github.com/proyecto-sentinel/sentinel/internal/infra/storage/postgres"
	"github.com/proyecto-sentinel/sentinel/internal/ingest"
)

// GatewayService is the storage gateway process: the HTTP surface over
// incident storage and final export.
type GatewayService struct {
	cfg    *config.AppConfig
	server *gateway.Server
	db     *postgres.DB
	pruner *worker.Pruner
}

// NewGatewayService builds the storage gateway from configuration.
func NewGatewayService(cfg *config.AppConfig) (*GatewayService, error) {
	repo, db, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	exporter := ingest.NewExporter(repo, cfg.Data.FinalDir)
	return &GatewayService{
		cfg:    cfg,
		server: gateway.NewServer(repo, exporter, cfg.Gateway.Port),
		db:     db,
		pruner: worker.NewPruner(cfg.Data.FinalDir, cfg.Data.Retention),
	}, nil
}

// Start launches the gateway HTTP server.
func (g *GatewayService) Start(ctx context.Context) error {
	if g.db != nil {
		g.db.StartMetricsCollector(ctx)
	}
	go g.pruner.Start(ctx)
	go func() {
		slog.Info("Gateway server listening", "port", g.cfg.Gateway.Port)
		if err := g.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Gateway server exited", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the HTTP server and the database pool.
func (g *GatewayService) Stop(ctx context.Context) error {
	if err := g.server.Stop(ctx); err != nil {
		slog.Error("Gateway server shutdown failed", "error", err)
	}
	if g.db != nil {
		_ = g.db.Close()
	}
	return nil
}
