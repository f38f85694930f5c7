// Package audit implements the append-only audit trail: one entry per
// changed field produced by a merge (Audit-Change), and one entry per
// integration attempt (Audit-Integration).
//
// Audit logs are append-only; hard-delete is not supported.
//
// Import Path: clientflow.io/flow/internal/audit
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clientflow.io/flow/internal/docstore"
	"clientflow.io/flow/internal/pkg/logger"
)

// NoChangesSubschema is the synthetic subschema tag emitted when a merge
// produces no diff (spec.md §4.5.4).
const NoChangesSubschema = "No Changes"

// ChangeEntry is one field-level audit record (Audit-Change, C3a).
type ChangeEntry struct {
	IDEntrada   string    `json:"id_entrada"`
	Subesquema  string    `json:"subesquema"`
	Campo       string    `json:"campo"`
	OldValue    any       `json:"old_value"`
	NewValue    any       `json:"new_value"`
	FechaEvento time.Time `json:"fecha_evento"`
}

// IntegrationEntry is one integration-attempt audit record
// (Audit-Integration, C3b).
type IntegrationEntry struct {
	ID          string    `json:"id"`
	Regla       string    `json:"regla"`
	Contenido   any       `json:"contenido"`
	Success     bool      `json:"success"`
	Response    any       `json:"response"`
	FechaEvento time.Time `json:"fecha_evento"`
}

// NoChangesEntry builds the sentinel Audit-Change entry emitted when a
// merge produces no observable diff.
func NoChangesEntry(idEntrada string) ChangeEntry {
	return ChangeEntry{
		IDEntrada:   idEntrada,
		Subesquema:  NoChangesSubschema,
		Campo:       "Ninguno",
		OldValue:    "No cambios",
		NewValue:    "No cambios",
		FechaEvento: time.Now().UTC(),
	}
}

// Logger writes audit entries to their respective containers.
type Logger struct {
	changes      *docstore.Container
	integrations *docstore.Container
}

// NewLogger wires a Logger to the audit-change and audit-integration
// containers.
func NewLogger(changes, integrations *docstore.Container) *Logger {
	return &Logger{changes: changes, integrations: integrations}
}

// LogChanges appends every entry in one merge's diff, auto-generating an
// ID per entry (C3a's "auto-generated IDs"). Order between entries of one
// merge is not guaranteed — only that all complete before fan-out
// (spec.md §5(c), §9).
func (l *Logger) LogChanges(ctx context.Context, entries []ChangeEntry) error {
	for _, e := range entries {
		if _, err := l.changes.Create(ctx, e); err != nil {
			logger.Error("audit: failed to write change entry",
				zap.String("id_entrada", e.IDEntrada),
				zap.String("subesquema", e.Subesquema),
				zap.String("campo", e.Campo),
				zap.Error(err),
			)
			return fmt.Errorf("log change entry: %w", err)
		}
	}
	return nil
}

// LogIntegration appends one Audit-Integration entry.
func (l *Logger) LogIntegration(ctx context.Context, e IntegrationEntry) error {
	if _, err := l.integrations.Create(ctx, e); err != nil {
		logger.Error("audit: failed to write integration entry",
			zap.String("id", e.ID),
			zap.String("regla", e.Regla),
			zap.Error(err),
		)
		return fmt.Errorf("log integration entry: %w", err)
	}
	return nil
}
