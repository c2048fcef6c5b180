package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode categorizes generation errors.
//
// Codes E2xx are configuration errors (the event set or strategy is
// inconsistent), E3xx are unsupported feature combinations.
type ErrorCode string

const (
	// ErrCodeUnrollMismatch: the computed block length disagrees with the
	// externally fixed unroll factor.
	ErrCodeUnrollMismatch ErrorCode = "E201"

	// ErrCodeDeferralTooLarge: an occurrence is deferred past its own period,
	// so it would fall outside the block.
	ErrCodeDeferralTooLarge ErrorCode = "E202"

	// ErrCodeWarmupTooLong: an occurrence resolves before the start of the
	// permitted warmup window.
	ErrCodeWarmupTooLong ErrorCode = "E203"

	// ErrCodeNoSteadyState: no main-loop threshold makes every loop trip
	// identical to the block template.
	ErrCodeNoSteadyState ErrorCode = "E204"

	// ErrCodeIncompatibleLookahead: operands sharing a staging buffer
	// barrier declare different store lookaheads.
	ErrCodeIncompatibleLookahead ErrorCode = "E205"

	// ErrCodeInvalidDescriptor: an event descriptor is malformed.
	ErrCodeInvalidDescriptor ErrorCode = "E206"

	// ErrCodeEmptyCatalog: nothing was registered.
	ErrCodeEmptyCatalog ErrorCode = "E207"

	// ErrCodeStaleSchedule: the schedule was analysed from a different catalog.
	ErrCodeStaleSchedule ErrorCode = "E208"

	// ErrCodeUnsupported: a requested feature combination has no codegen path.
	ErrCodeUnsupported ErrorCode = "E301"
)

// ConfigurationError is a fatal generation-time error: the configuration is
// inconsistent and nothing has been emitted.
type ConfigurationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Field names the event or strategy knob at fault, if any.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error [%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error [%s]: %s", e.Code, e.Message)
}

// NewConfigurationError creates a ConfigurationError with a formatted message.
func NewConfigurationError(code ErrorCode, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsConfigurationError returns true if err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ConfigurationErrorCode returns the code of a wrapped ConfigurationError,
// or "" if err is not one.
func ConfigurationErrorCode(err error) ErrorCode {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// UnsupportedError reports a feature combination with no available codegen
// path. It is fatal rather than approximated: an approximation could produce
// a kernel computing wrong results.
type UnsupportedError struct {
	Code    ErrorCode
	Feature string
	Message string
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported [%s] %s: %s", e.Code, e.Feature, e.Message)
}

// NewUnsupportedError creates an UnsupportedError.
func NewUnsupportedError(feature, format string, args ...any) *UnsupportedError {
	return &UnsupportedError{
		Code:    ErrCodeUnsupported,
		Feature: feature,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsUnsupportedError returns true if err is, or wraps, an UnsupportedError.
func IsUnsupportedError(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}

// Code returns the code of a wrapped ConfigurationError or
// UnsupportedError, or "" for any other error.
func Code(err error) ErrorCode {
	if c := ConfigurationErrorCode(err); c != "" {
		return c
	}
	var ue *UnsupportedError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}
