// Package ingress implements the two event-producer adapters (C6): Push
// (HTTP receiver) and Pull (timer). Both funnel through the same
// EventProcessor → publish path onto the broker.
//
// Import Path: clientflow.io/flow/internal/ingress
package ingress

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/compositeid"
	"clientflow.io/flow/internal/pkg/apperrors"
	"clientflow.io/flow/internal/pkg/logger"
)

// EventProcessor validates and shapes one inbound payload into zero or
// more events ready to publish. A validation failure must be returned as
// an error carrying apperrors.ErrUnifiedValidation (or similar) rather
// than panicking — both adapters log and skip on error instead of
// aborting the batch/request.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, raw any) ([]any, error)
}

// EventProcessorFunc adapts a plain function to EventProcessor.
type EventProcessorFunc func(ctx context.Context, raw any) ([]any, error)

// ProcessEvent implements EventProcessor.
func (f EventProcessorFunc) ProcessEvent(ctx context.Context, raw any) ([]any, error) {
	return f(ctx, raw)
}

// publisher sends each produced event to queue, using the event's
// Composite-ID (its first exported field) rendered to a string as the
// broker session ID (spec.md §4.4, §5).
type publisher struct {
	broker *broker.Client
	queue  string
}

func newPublisher(brokerClient *broker.Client, queue string) *publisher {
	return &publisher{broker: brokerClient, queue: queue}
}

func (p *publisher) publish(ctx context.Context, event any) error {
	sessionID, err := sessionIDOf(event)
	if err != nil {
		return fmt.Errorf("derive session id: %w", err)
	}
	return p.broker.Send(ctx, p.queue, event, sessionID)
}

// sessionIDOf extracts and renders an event's first field as its
// Composite-ID session identifier.
func sessionIDOf(event any) (string, error) {
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", fmt.Errorf("event is a nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() == 0 {
		return "", fmt.Errorf("event has no id field")
	}
	idField := v.Field(0)
	codec, ok := compositeid.Lookup(idField.Type())
	if !ok {
		return "", apperrors.Wrap(apperrors.ErrContractViolation, "CONTRACT_VIOLATION",
			fmt.Sprintf("event's first field %s is not a registered compositeid type", idField.Type()))
	}
	return codec.Render(idField.Interface())
}

func logSkippedValidationFailure(source string, err error) {
	logger.Warn("ingress: validation failed, skipping element",
		zap.String("source", source), zap.Error(err))
}
