// Package app wires the synchronization engine from configuration.
package app

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/config"
	"github.com/jafarshop/erpsync/internal/hooks"
	"github.com/jafarshop/erpsync/internal/idempotency"
	"github.com/jafarshop/erpsync/internal/metrics"
	"github.com/jafarshop/erpsync/internal/reconcile"
	"github.com/jafarshop/erpsync/internal/repository"
	"github.com/jafarshop/erpsync/internal/repository/postgres"
	"github.com/jafarshop/erpsync/internal/service"
	"github.com/jafarshop/erpsync/internal/transport"
)

// App holds the wired engine
type App struct {
	Config   *config.Config
	Repos    *repository.Repositories
	Hooks    *hooks.Registry
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Client   *transport.Client
	Resolver *transport.RuleResolver
	Sync     service.SyncService
}

// New builds the engine on top of an open database
func New(cfg *config.Config, db *sql.DB, logger *zap.Logger) *App {
	return NewWithRepositories(cfg, postgres.NewRepositories(db, logger), logger)
}

// NewWithRepositories builds the engine on top of the given repositories
func NewWithRepositories(cfg *config.Config, repos *repository.Repositories, logger *zap.Logger) *App {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	registry := hooks.NewRegistry()
	registry.OnTransport(&transportLogger{logger: logger})
	registry.OnConnection(&connectionLogger{logger: logger})

	client := transport.NewClient(cfg.ERP, logger,
		transport.WithTransportObserver(registry),
		transport.WithConnectionObserver(registry),
		transport.WithMetrics(m),
	)
	resolver := transport.NewRuleResolver(cfg.ERP)

	sync := service.NewSyncService(service.Dependencies{
		Repos:     repos,
		Transport: client,
		Resolver:  resolver,
		Guard:     idempotency.NewGuard(cfg.Sync.VolatileColumns),
		Merger:    reconcile.NewReconciler(repos.Order, logger),
		Orders:    registry,
		Metrics:   m,
	}, logger)

	return &App{
		Config:   cfg,
		Repos:    repos,
		Hooks:    registry,
		Registry: reg,
		Metrics:  m,
		Client:   client,
		Resolver: resolver,
		Sync:     sync,
	}
}

// NewLogger builds a zap logger for the configured environment and level
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
