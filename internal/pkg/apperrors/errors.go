// Package apperrors provides the error taxonomy for the client-flow pipeline.
//
// Import Path: clientflow.io/flow/internal/pkg/apperrors
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure scenarios named by the rule engine and
// integration framework contracts.
var (
	ErrFormat                = errors.New("format error")
	ErrUnderspecifiedID      = errors.New("underspecified composite id")
	ErrSchemaDefinition      = errors.New("schema definition error")
	ErrNoMatchingRule        = errors.New("no matching rule")
	ErrUnifiedValidation     = errors.New("unified record validation error")
	ErrIntegrationValidation = errors.New("integration validation error")
	ErrHTTP                  = errors.New("http error")
	ErrBrokerUnavailable     = errors.New("broker unavailable")
	ErrContractViolation     = errors.New("contract violation")
	ErrTopicNotInSchema      = errors.New("topic not in schema")
)

// FlowError is a structured pipeline error: a stable code, a human message,
// and the wrapped cause that triggered it.
type FlowError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// New creates a new FlowError with no wrapped cause.
func New(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code, message string) *FlowError {
	return &FlowError{Code: code, Message: message, Err: err}
}

// Format wraps err as ErrFormat.
func Format(code, message string, err error) *FlowError {
	return &FlowError{Code: code, Message: message, Err: errors.Join(ErrFormat, err)}
}

// IsFlowError unwraps err into a *FlowError, if any is present in its chain.
func IsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
