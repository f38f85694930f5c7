package broker

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *pgxpool.Pool) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		t.Fatalf("PostgreSQL test DSN is required: set TEST_DATABASE_URL or DATABASE_URL")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	require.NoError(t, err)
	_, err = migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	require.NoError(t, err)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
			"maestra":          {MaxWorkers: 1},
			"broker_test":      {MaxWorkers: 1},
		},
	})
	require.NoError(t, err)

	return NewClient(riverClient, pool, Config{MaxRetries: 3, RetryDelay: 10 * time.Millisecond}), pool
}

func TestClient_Send_Enqueues(t *testing.T) {
	client, pool := newTestClient(t)
	ctx := context.Background()

	err := client.Send(ctx, "broker_test", map[string]any{"id": "CLI001-PROD001"}, "CLI001-PROD001")
	require.NoError(t, err)

	var count int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE queue = 'broker_test'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestClient_TopicSend_Enqueues(t *testing.T) {
	client, pool := newTestClient(t)
	ctx := context.Background()

	err := client.TopicSend(ctx, "maestra", map[string]any{"info": "hello"})
	require.NoError(t, err)

	var count int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE queue = 'maestra'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
