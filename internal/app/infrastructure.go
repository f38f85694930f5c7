// Package app is the composition root: config → docstore → broker →
// rule engine → ingress → integration, wired with manual dependency
// injection rather than a DI framework, mirroring the teacher's own
// module-oriented bootstrap.
//
// Import Path: clientflow.io/flow/internal/app
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/audit"
	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/config"
	"clientflow.io/flow/internal/docstore"
	"clientflow.io/flow/internal/pkg/logger"
	"clientflow.io/flow/internal/pkg/worker"
)

// Container and queue names this deployment's single domain (ClienteUnificado,
// see internal/domain) is wired to.
const (
	UnifiedContainer      = "cliente_unificado"
	AuditChangeContainer  = "audit_cambios"
	AuditIntegrationCont  = "audit_integraciones"
	IngressMaestraQueue   = "ingress_maestra"
	IngressContactoQueue  = "ingress_contacto"
	IngressAuditoriaQueue = "ingress_auditoria"
	TopicMaestra          = "Maestra"
	TopicContacto         = "Contacto"
	TopicRoot             = "root"
)

// Infrastructure holds the cross-cutting dependencies every higher-level
// component (rule engine, ingress, integration) is built on top of. It is
// a provider, not itself a pipeline stage.
type Infrastructure struct {
	Config *config.Config

	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	Router      *broker.Router
	Broker      *broker.Client

	Docstore          *docstore.Client
	UnifiedDocs       *docstore.Container
	AuditChanges      *docstore.Container
	AuditIntegrations *docstore.Container
	AuditLogger       *audit.Logger

	Pools *worker.Pools
}

// NewInfrastructure connects the shared Postgres pool, runs River's own
// migration, wires the broker's queue router (handlers are registered
// later by the rule engine and integration layers, before Start), and
// prepares the document containers and worker pools.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = cfg.Database.MinConns
	}
	if cfg.Database.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	}
	if cfg.Database.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create river migrator: %w", err)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			pool.Close()
			return nil, fmt.Errorf("river migrate up: %w", err)
		}
	}

	router := broker.NewRouter()
	workers := river.NewWorkers()
	broker.RegisterWorker(workers, router)

	queueCfg := map[string]river.QueueConfig{
		river.QueueDefault:    {MaxWorkers: cfg.River.MaxWorkers},
		IngressMaestraQueue:   {MaxWorkers: cfg.River.MaxWorkers},
		IngressContactoQueue:  {MaxWorkers: cfg.River.MaxWorkers},
		IngressAuditoriaQueue: {MaxWorkers: cfg.River.MaxWorkers},
		TopicMaestra:          {MaxWorkers: cfg.River.MaxWorkers},
		TopicContacto:         {MaxWorkers: cfg.River.MaxWorkers},
		TopicRoot:             {MaxWorkers: cfg.River.MaxWorkers},
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:                      queueCfg,
		Workers:                     workers,
		CompletedJobRetentionPeriod: cfg.River.CompletedJobRetentionPeriod,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}

	brokerClient := broker.NewClient(riverClient, pool, broker.Config{
		MaxRetries: cfg.Broker.MaxRetries,
		RetryDelay: cfg.Broker.RetryDelay,
	})

	docstoreClient := docstore.NewClientFromPool(pool)

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		EngineSize:      cfg.Worker.EngineSize,
		IntegrationSize: cfg.Worker.IntegrationSize,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	infra := &Infrastructure{
		Config:            cfg,
		Pool:              pool,
		RiverClient:       riverClient,
		Router:            router,
		Broker:            brokerClient,
		Docstore:          docstoreClient,
		UnifiedDocs:       docstoreClient.Container(UnifiedContainer),
		AuditChanges:      docstoreClient.Container(AuditChangeContainer),
		AuditIntegrations: docstoreClient.Container(AuditIntegrationCont),
		Pools:             pools,
	}
	infra.AuditLogger = audit.NewLogger(infra.AuditChanges, infra.AuditIntegrations)

	if err := infra.ensureContainers(ctx); err != nil {
		infra.Close()
		return nil, fmt.Errorf("ensure document containers: %w", err)
	}

	logger.Info("infrastructure initialized",
		zap.Int32("max_conns", cfg.Database.MaxConns),
		zap.Int("engine_pool", cfg.Worker.EngineSize),
		zap.Int("integration_pool", cfg.Worker.IntegrationSize),
	)
	return infra, nil
}

func (i *Infrastructure) ensureContainers(ctx context.Context) error {
	for _, c := range []*docstore.Container{i.UnifiedDocs, i.AuditChanges, i.AuditIntegrations} {
		if err := c.EnsureTable(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.RiverClient != nil {
		_ = i.RiverClient.Stop(context.Background())
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
}
