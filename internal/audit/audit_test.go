package audit

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"clientflow.io/flow/internal/docstore"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		t.Fatalf("PostgreSQL test DSN is required: set TEST_DATABASE_URL or DATABASE_URL")
	}

	client, err := docstore.NewClient(context.Background(), docstore.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	changes := client.Container("audit_test_changes")
	integrations := client.Container("audit_test_integrations")
	require.NoError(t, changes.EnsureTable(context.Background()))
	require.NoError(t, integrations.EnsureTable(context.Background()))

	return NewLogger(changes, integrations)
}

func TestNoChangesEntry(t *testing.T) {
	e := NoChangesEntry("CLI001-PROD001")
	if e.Subesquema != NoChangesSubschema {
		t.Errorf("Subesquema = %q, want %q", e.Subesquema, NoChangesSubschema)
	}
	if e.Campo != "Ninguno" {
		t.Errorf("Campo = %q, want Ninguno", e.Campo)
	}
	if e.OldValue != "No cambios" || e.NewValue != "No cambios" {
		t.Errorf("OldValue/NewValue = %v/%v, want No cambios/No cambios", e.OldValue, e.NewValue)
	}
}

func TestLogger_LogChanges(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	err := l.LogChanges(ctx, []ChangeEntry{
		{IDEntrada: "CLI001-PROD001", Subesquema: "maestra", Campo: "info", OldValue: nil, NewValue: "hello"},
	})
	require.NoError(t, err)
}

func TestLogger_LogIntegration(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	err := l.LogIntegration(ctx, IntegrationEntry{
		ID:        "CLI001-PROD001",
		Regla:     "SalesforceSync",
		Contenido: map[string]any{"info": "hello"},
		Success:   true,
		Response:  map[string]any{"status": "ok"},
	})
	require.NoError(t, err)
}
