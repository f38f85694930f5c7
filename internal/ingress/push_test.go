package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/stretchr/testify/require"

	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/config"
)

func newTestBrokerClient(t *testing.T) (*broker.Client, *pgxpool.Pool) {
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

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	require.NoError(t, err)
	_, err = migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	require.NoError(t, err)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
			"ingress_push":     {MaxWorkers: 1},
		},
	})
	require.NoError(t, err)

	return broker.NewClient(riverClient, pool, broker.Config{MaxRetries: 3, RetryDelay: 10 * time.Millisecond}), pool
}

func signedTestToken(t *testing.T, key []byte) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestPushServer_RegisterEndpoint_PublishesValidatedEvent(t *testing.T) {
	brokerClient, pool := newTestBrokerClient(t)
	key := []byte("test-signing-key-01234567890123456")

	cfg := &config.Config{Server: config.ServerConfig{UnsafeAllowAllOrigins: true}}
	server := NewPushServer(cfg, JWTConfig{VerificationKeys: [][]byte{key}})

	processor := EventProcessorFunc(func(_ context.Context, raw any) ([]any, error) {
		body := raw.(map[string]any)
		return []any{&ingressTestEvent{
			ID:     ingressTestID{ClienteID: body["cliente_id"].(string), ProductoID: body["producto_id"].(string)},
			Nombre: body["nombre"].(string),
		}}, nil
	})
	server.RegisterEndpoint("/events/maestra", "ingress_push", processor, brokerClient)

	payload, err := json.Marshal(map[string]any{"cliente_id": "CLI200", "producto_id": "PROD200", "nombre": "Ada"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events/maestra", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t, key))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var count int
	ctx := context.Background()
	err = pool.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE queue = 'ingress_push'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPushServer_RegisterEndpoint_RejectsMissingToken(t *testing.T) {
	brokerClient, _ := newTestBrokerClient(t)
	key := []byte("test-signing-key-01234567890123456")

	cfg := &config.Config{Server: config.ServerConfig{UnsafeAllowAllOrigins: true}}
	server := NewPushServer(cfg, JWTConfig{VerificationKeys: [][]byte{key}})
	server.RegisterEndpoint("/events/maestra", "ingress_push", EventProcessorFunc(func(context.Context, any) ([]any, error) {
		return nil, nil
	}), brokerClient)

	req := httptest.NewRequest(http.MethodPost, "/events/maestra", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushServer_RegisterEndpoint_ValidationFailureDoesNotPublish(t *testing.T) {
	brokerClient, pool := newTestBrokerClient(t)
	key := []byte("test-signing-key-01234567890123456")

	cfg := &config.Config{Server: config.ServerConfig{UnsafeAllowAllOrigins: true}}
	server := NewPushServer(cfg, JWTConfig{VerificationKeys: [][]byte{key}})
	server.RegisterEndpoint("/events/maestra-invalid", "ingress_push_invalid", EventProcessorFunc(func(context.Context, any) ([]any, error) {
		return nil, fmt.Errorf("body does not match any registered rule")
	}), brokerClient)

	req := httptest.NewRequest(http.MethodPost, "/events/maestra-invalid", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+signedTestToken(t, key))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var count int
	ctx := context.Background()
	err := pool.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE queue = 'ingress_push_invalid'`).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
