// Package docstore implements a lazy-initialized document container
// accessor backed by Postgres, standing in for the Cosmos DB containers of
// the source system: each "container" is a table with a JSONB document
// column and a partition key.
//
// Import Path: clientflow.io/flow/internal/docstore
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/pkg/apperrors"
	"clientflow.io/flow/internal/pkg/logger"
)

// Client is the connection-string-scoped entry point, mirroring
// CosmosDBSingleton.get_container_client: one Client per
// (connection string, database), stateless Container lookups off it.
type Client struct {
	pool *pgxpool.Pool
}

// Config configures the underlying pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime int64 // seconds, 0 = driver default
}

// NewClient connects and prepares the pool. Connection parameters come
// from the DATABASE_URL-equivalent configuration key, mapped to a Postgres
// DSN at the composition root.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.DSN == "" {
		return nil, apperrors.New("DOCSTORE_CONFIG", "dsn must be provided")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse docstore dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect docstore pool: %w", err)
	}

	return &Client{pool: pool}, nil
}

// NewClientFromPool wraps an already-constructed pool, letting the
// composition root share one pgxpool across docstore, the broker and
// River migrations (ADR-style "one pool per process" the teacher's own
// DatabaseClients follows) instead of opening a second connection pool.
func NewClientFromPool(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Close drains the pool. Only call this on a Client built with NewClient;
// a Client built with NewClientFromPool does not own the pool, and
// closing it here would close a pool the broker/River are still using —
// the composition root that built the shared pool closes it instead.
func (c *Client) Close() {
	c.pool.Close()
}

// Container returns a stateless accessor bound to name. Creating the
// accessor does not touch the network; EnsureTable does, and should be
// called once at startup per container.
func (c *Client) Container(name string) *Container {
	return &Container{pool: c.pool, table: name}
}

// Container is one logical document collection (unified, audit-change,
// audit-integration, ...).
type Container struct {
	pool  *pgxpool.Pool
	table string
}

// EnsureTable creates the backing table if it does not already exist.
// Idempotent; safe to call from multiple composition roots.
func (c *Container) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			partition_key TEXT PRIMARY KEY,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgx.Identifier{c.table}.Sanitize())
	if _, err := c.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure table %s: %w", c.table, err)
	}
	return nil
}

// Get fetches the document stored under key and decodes it into out.
// Returns (false, nil) when no document exists — the document-level
// analogue of the original's get_current_entrada returning null.
func (c *Container) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	query := fmt.Sprintf(`SELECT document FROM %s WHERE partition_key = $1`, pgx.Identifier{c.table}.Sanitize())
	err := c.pool.QueryRow(ctx, query, key).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("get %s/%s: %w", c.table, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", c.table, key, err)
	}
	return true, nil
}

// Upsert writes doc under key, replacing any existing document.
func (c *Container) Upsert(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c.table, key, err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (partition_key, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (partition_key) DO UPDATE SET document = $2, updated_at = now()`,
		pgx.Identifier{c.table}.Sanitize())
	if _, err := c.pool.Exec(ctx, stmt, key, raw); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", c.table, key, err)
	}
	return nil
}

// Create writes doc under an auto-generated key (a UUIDv7, matching the
// teacher's audit-ID generation style) and returns the key used.
func (c *Container) Create(ctx context.Context, doc any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	key := id.String()
	if err := c.Upsert(ctx, key, doc); err != nil {
		return "", err
	}
	logger.Debug("docstore: created document", zap.String("container", c.table), zap.String("key", key))
	return key, nil
}
