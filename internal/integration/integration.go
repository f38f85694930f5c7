// Package integration implements the Integration Rule framework (C8):
// a user-supplied Integrator pushes a unified record to an external
// system, wrapped in validation, exponential-backoff retry, and an
// append-only integration audit trail.
//
// Import Path: clientflow.io/flow/internal/integration
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/audit"
	"clientflow.io/flow/internal/compositeid"
	"clientflow.io/flow/internal/pkg/apperrors"
	"clientflow.io/flow/internal/pkg/logger"
	"clientflow.io/flow/internal/unified"
)

// IntegrationResult is the outcome of one Integrate call. Response and
// BodySent are both required non-empty — an empty value here is a
// programming error in the user's Integrator, not a runtime failure.
type IntegrationResult struct {
	Success  bool
	Response any
	BodySent any
}

// NewIntegrationResult validates the non-empty invariant before
// construction.
func NewIntegrationResult(success bool, response, bodySent any) (*IntegrationResult, error) {
	if isEmptyValue(response) {
		return nil, fmt.Errorf("integration: response must not be empty")
	}
	if isEmptyValue(bodySent) {
		return nil, fmt.Errorf("integration: bodysent must not be empty")
	}
	return &IntegrationResult{Success: success, Response: response, BodySent: bodySent}, nil
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch m := v.(type) {
	case map[string]any:
		return len(m) == 0
	case string:
		return m == ""
	}
	return false
}

// Integrator is the user extension point: map a unified record to an
// external call, returning the outcome. Implementations set BodySent to
// exactly what was sent downstream; Rule.Run does not read the result that
// accompanies a returned error.
type Integrator interface {
	Integrate(ctx context.Context, record any) (*IntegrationResult, error)
}

// IntegratorFunc adapts a plain function to Integrator.
type IntegratorFunc func(ctx context.Context, record any) (*IntegrationResult, error)

// Integrate implements Integrator.
func (f IntegratorFunc) Integrate(ctx context.Context, record any) (*IntegrationResult, error) {
	return f(ctx, record)
}

// Rule binds a named Integrator to a unified-record type and its audit
// trail, with the retry parameters from spec.md §4.6.3.
type Rule struct {
	Name        string
	Schema      *unified.Schema
	IDCodec     *compositeid.Codec
	Integrator  Integrator
	AuditLogger *audit.Logger
	MaxRetries  int
	BaseDelay   time.Duration
}

// DefaultMaxRetries and DefaultBaseDelay match spec.md §4.6.3's literal
// defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// NewRule wires a Rule, filling in the retry defaults when unset.
func NewRule(name string, schema *unified.Schema, idCodec *compositeid.Codec, integrator Integrator, auditLogger *audit.Logger) *Rule {
	return &Rule{
		Name:        name,
		Schema:      schema,
		IDCodec:     idCodec,
		Integrator:  integrator,
		AuditLogger: auditLogger,
		MaxRetries:  DefaultMaxRetries,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Run implements the §4.6.2 contract: decode, validate, integrate through
// backoff, post-condition check, register_log. On UnifiedValidationError
// the message is rejected outright — it is never silently swallowed.
func (r *Rule) Run(ctx context.Context, message []byte) error {
	record := reflect.New(r.Schema.Type()).Interface()
	if err := json.Unmarshal(message, record); err != nil {
		logger.Error("integration: message does not match unified model",
			zap.String("rule", r.Name), zap.Error(err))
		return apperrors.Wrap(apperrors.ErrUnifiedValidation, "UNIFIED_VALIDATION",
			fmt.Sprintf("rule %s: message does not conform to %s: %v", r.Name, r.Schema.Type(), err))
	}

	result, err := r.runWithBackoff(ctx, record)
	if err != nil {
		if errors.Is(err, apperrors.ErrIntegrationValidation) {
			result = &IntegrationResult{
				Success:  false,
				Response: map[string]any{"error_validacion": err.Error()},
				BodySent: map[string]any{"error_validacion": true},
			}
		} else {
			logger.Error("integration: integrate failed after retries",
				zap.String("rule", r.Name), zap.Error(err))
			return err
		}
	}

	if result.BodySent == nil {
		return apperrors.Wrap(apperrors.ErrContractViolation, "CONTRACT_VIOLATION",
			fmt.Sprintf("rule %s: integrate did not set BodySent", r.Name))
	}

	return r.registerLog(ctx, record, result)
}

// runWithBackoff invokes r.Integrator.Integrate through a capped
// exponential backoff: attempt n (0-indexed) on failure sleeps
// base_delay × 2ⁿ before the next attempt, MaxRetries attempts total.
func (r *Rule) runWithBackoff(ctx context.Context, record any) (*IntegrationResult, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetriesMinusOne(r.MaxRetries))), ctx)

	var result *IntegrationResult
	operation := func() error {
		res, err := r.Integrator.Integrate(ctx, record)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	err := backoff.RetryNotify(operation, bo, func(err error, delay time.Duration) {
		logger.Warn("integration: retrying after failure",
			zap.String("rule", r.Name), zap.Error(err), zap.Duration("delay", delay))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func maxRetriesMinusOne(maxRetries int) int {
	if maxRetries <= 1 {
		return 0
	}
	return maxRetries - 1
}

// registerLog upserts an Audit-Integration entry. A record with no
// renderable ID is a ContractViolation — the log cannot be keyed.
func (r *Rule) registerLog(ctx context.Context, record any, result *IntegrationResult) error {
	id := r.Schema.ID(record)
	rendered, err := r.IDCodec.Render(id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrContractViolation, "CONTRACT_VIOLATION",
			fmt.Sprintf("rule %s: record has no usable id for audit log: %v", r.Name, err))
	}

	entry := audit.IntegrationEntry{
		ID:          rendered,
		Regla:       r.Name,
		Contenido:   result.BodySent,
		Success:     result.Success,
		Response:    result.Response,
		FechaEvento: time.Now().UTC(),
	}
	return r.AuditLogger.LogIntegration(ctx, entry)
}
