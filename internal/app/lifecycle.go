package app

import (
	"context"
	"fmt"

	"clientflow.io/flow/internal/pkg/logger"
)

// Start starts all background services: the River client (so queued jobs
// begin flowing through the broker router) and the pull scheduler.
func (a *Application) Start(ctx context.Context) error {
	if a.Infra != nil && a.Infra.RiverClient != nil {
		if err := a.Infra.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("river client started, jobs will now be consumed")
	}

	if a.Pull != nil {
		a.Pull.Start(ctx)
		logger.Info("pull scheduler started")
	}

	return nil
}

// Shutdown gracefully shuts down all application components in reverse
// dependency order.
func (a *Application) Shutdown() {
	if a.Pull != nil {
		a.Pull.Stop()
	}

	a.Infra.Close()
}
