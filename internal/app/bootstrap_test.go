package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientflow.io/flow/internal/config"
	"clientflow.io/flow/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestBootstrap_NoDB(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     65432, // non-existent port
			User:     "test",
			Password: "test",
			Database: "test",
			SSLMode:  "disable",
			MaxConns: 5,
			MinConns: 1,
		},
		Worker: config.WorkerConfig{
			EngineSize:      10,
			IntegrationSize: 5,
		},
	}

	ctx := context.Background()
	application, err := Bootstrap(ctx, cfg)
	require.Error(t, err, "Bootstrap should fail without a reachable database")
	assert.Nil(t, application, "Application should be nil on bootstrap failure")
}

func TestApplication_Shutdown_Nil(t *testing.T) {
	application := &Application{}

	assert.NotPanics(t, func() {
		application.Shutdown()
	}, "Shutdown on an empty Application should not panic")
}
