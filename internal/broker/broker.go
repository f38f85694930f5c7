// Package broker implements the session-aware queue sender described in
// spec.md §4.3: send(queue, message, session_id), topic-send(topic,
// message), a fixed-delay retry wrapper, and a sender cache.
//
// Backed by River (a Postgres-backed durable queue) rather than a message
// broker SDK: each Send/TopicSend call inserts a River job row into a River
// queue named after the target. A session ID only switches on River's
// by-args uniqueness for the insert (see sendJobArgs.InsertOpts); jobs that
// share a session ID are not serialized against each other, and a queue
// runs as many of them at once as its configured worker count allows.
//
// Import Path: clientflow.io/flow/internal/broker
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/pkg/apperrors"
	"clientflow.io/flow/internal/pkg/logger"
)

// sendJobArgs is the River job payload for both Send and TopicSend; Queue
// carries the target queue/topic name, SessionID is empty for a topic-send.
type sendJobArgs struct {
	Queue     string          `json:"queue"`
	Body      json.RawMessage `json:"body"`
	SessionID string          `json:"session_id,omitempty"`
}

// Kind returns the job kind identifier.
func (sendJobArgs) Kind() string { return "broker_send" }

// InsertOpts pins the job to its target queue. A job with a session ID is
// inserted with River's by-args uniqueness, so an insert whose queue, body
// and session ID equal those of a job River still holds is skipped as a
// duplicate; it imposes no ordering between distinct jobs of one session.
func (a sendJobArgs) InsertOpts() river.InsertOpts {
	opts := river.InsertOpts{Queue: a.Queue}
	if a.SessionID != "" {
		opts.UniqueOpts = river.UniqueOpts{
			ByArgs: true,
		}
	}
	return opts
}

// Config configures the retry policy (spec.md §4.3, §6: MAX_RETRIES,
// RETRY_DELAY).
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig matches spec.md's literal defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Second}
}

// Client is the single shared broker instance per connection string.
type Client struct {
	river   *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	cfg     Config
	mu      sync.Mutex
	senders map[string]time.Time // queue/topic name -> last successful send
}

// NewClient wires a broker Client on top of an already-constructed River
// client and its backing pool (both owned by the composition root).
func NewClient(riverClient *river.Client[pgx.Tx], pool *pgxpool.Pool, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultConfig()
	}
	return &Client{
		river:   riverClient,
		pool:    pool,
		cfg:     cfg,
		senders: make(map[string]time.Time),
	}
}

// Send serializes message as JSON, attaches sessionID for per-key
// ordering, and publishes to queue with at most cfg.MaxRetries attempts
// separated by cfg.RetryDelay. Final failure is ErrBrokerUnavailable.
func (c *Client) Send(ctx context.Context, queue string, message any, sessionID string) error {
	return c.send(ctx, queue, message, sessionID)
}

// TopicSend is the session-less analogue of Send, routed to a River queue
// named after the topic.
func (c *Client) TopicSend(ctx context.Context, topic string, message any) error {
	return c.send(ctx, topic, message, "")
}

func (c *Client) send(ctx context.Context, queue string, message any, sessionID string) error {
	body, err := json.Marshal(message)
	if err != nil {
		return apperrors.Wrap(err, "BROKER_ENCODE", "failed to encode broker message")
	}

	args := sendJobArgs{Queue: queue, Body: body, SessionID: sessionID}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		_, err := c.river.Insert(ctx, args, nil)
		if err == nil {
			c.markSent(queue)
			return nil
		}
		lastErr = err
		logger.Warn("broker: send attempt failed",
			zap.String("queue", queue),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if attempt < c.cfg.MaxRetries-1 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	c.evictSender(queue)
	return apperrors.Wrap(apperrors.ErrBrokerUnavailable, "BROKER_UNAVAILABLE",
		fmt.Sprintf("send to %s failed after %d attempts: %v", queue, c.cfg.MaxRetries, lastErr))
}

func (c *Client) markSent(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders[queue] = time.Now()
}

func (c *Client) evictSender(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, queue)
}

// Close drains tracked senders then stops the underlying River client. The
// pool is not closed here; it belongs to the composition root.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.senders = make(map[string]time.Time)
	c.mu.Unlock()

	if err := c.river.Stop(ctx); err != nil {
		return fmt.Errorf("stop river client: %w", err)
	}
	return nil
}
