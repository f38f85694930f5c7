// Package worker provides goroutine pool management.
//
// Naked goroutines are forbidden: all concurrency goes through a Pool
// with context propagation.
//
// Import Path: clientflow.io/flow/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools holds two sized pools, Engine and Integration. The pull scheduler
// submits its per-element tasks to Engine. Rule-engine message handlers and
// integration runs are executed by River queue workers, not by these pools.
type Pools struct {
	Engine      *Pool
	Integration *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizing.
type PoolConfig struct {
	EngineSize      int
	IntegrationSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		EngineSize:      100,
		IntegrationSize: 50,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	enginePool, err := ants.NewPool(cfg.EngineSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	integrationPool, err := ants.NewPool(cfg.IntegrationSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		enginePool.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Engine:        &Pool{pool: enginePool, name: "engine"},
		Integration:   &Pool{pool: integrationPool, name: "integration"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// The task receives the caller's context and should check ctx.Done() at
// blocking points. If the context is already cancelled, Submit returns
// ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached submits a background task that survives request
// cancellation but still respects graceful shutdown of the pool.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	var pool *Pool
	switch poolName {
	case "engine":
		pool = p.Engine
	case "integration":
		pool = p.Integration
	default:
		pool = p.Engine
	}

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown gracefully shuts down all pools with a timeout.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Engine.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("engine pool shutdown timeout", zap.Error(err))
	}
	if err := p.Integration.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("integration pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"engine": map[string]int{
			"running": p.Engine.pool.Running(),
			"free":    p.Engine.pool.Free(),
			"cap":     p.Engine.pool.Cap(),
		},
		"integration": map[string]int{
			"running": p.Integration.pool.Running(),
			"free":    p.Integration.pool.Free(),
			"cap":     p.Integration.pool.Cap(),
		},
	}
}
