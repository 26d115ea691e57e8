// Package errors provides structured error handling for netsweep operations.
// It defines error codes matching the scan error taxonomy, a structured
// error type carrying target context, and utilities for classifying errors.
package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorCode represents different kinds of errors that can occur during a sweep.
type ErrorCode string

const (
	CodeUnknown ErrorCode = "UNKNOWN"

	// Configuration errors abort before any work is dispatched.
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// Target and resolution errors.
	CodeResolution    ErrorCode = "RESOLUTION"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"

	// Probe and scan outcomes.
	CodeProbeTimeout      ErrorCode = "PROBE_TIMEOUT"
	CodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	CodeFilteredTimeout   ErrorCode = "FILTERED_TIMEOUT"

	// TransientResource is the only retryable kind: local descriptor or
	// buffer exhaustion, not anything the remote host did.
	CodeTransientResource ErrorCode = "TRANSIENT_RESOURCE"

	// Cancelled surfaces as a scan-level status, never per item.
	CodeCancelled ErrorCode = "CANCELLED"
)

// ScanError represents an error that occurred for a specific target or port.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Port    int
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	switch {
	case e.Target != "" && e.Port > 0:
		return fmt.Sprintf("[%s] %s (target: %s:%d)", e.Code, e.Message, e.Target, e.Port)
	case e.Target != "":
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithPort attaches the port the error occurred on.
func (e *ScanError) WithPort(port int) *ScanError {
	e.Port = port
	return e
}

// New creates a new scan error with the specified code and message.
func New(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewWithTarget creates a scan error for a specific target.
func NewWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// Wrap wraps an existing error as a scan error.
func Wrap(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// WrapWithTarget wraps an error with target information.
func WrapWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target, Cause: err}
}

// ConfigError represents a configuration error for a specific field. It is
// the only error class that aborts a sweep before work starts.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", CodeConfiguration, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", CodeConfiguration, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a configuration error for a specific field.
func NewConfigError(field, message string, value interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: message, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(message string, err error) *ConfigError {
	return &ConfigError{Message: message, Cause: err}
}

// AsScanError extracts a ScanError from an error chain.
func AsScanError(err error) (*ScanError, bool) {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr, true
	}
	return nil, false
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return CodeConfiguration
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
// Only local transient resource exhaustion qualifies; refused and filtered
// outcomes are terminal for that attempt so retries never amplify load.
func IsRetryable(err error) bool {
	return GetCode(err) == CodeTransientResource
}

// IsFatal determines if an error should stop the sweep before it starts.
func IsFatal(err error) bool {
	return GetCode(err) == CodeConfiguration
}

// ClassifyDialError maps a raw dial error onto the scan taxonomy. The
// filtered-vs-transient distinction is heuristic on real networks; the rule
// here is that only local resource exhaustion counts as transient, every
// timeout or non-refusal network failure is filtered.
func ClassifyDialError(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CodeConnectionRefused
	}

	if isTransientResource(err) {
		return CodeTransientResource
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeFilteredTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeFilteredTimeout
	}

	// Host or network unreachable and similar non-refusal failures read the
	// same as a firewall drop from the scanner's point of view.
	return CodeFilteredTimeout
}

// isTransientResource reports whether an error indicates local resource
// exhaustion (file descriptors, socket buffers) rather than a remote outcome.
func isTransientResource(err error) bool {
	if errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.EAGAIN) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "too many open files") ||
		strings.Contains(msg, "no buffer space available")
}
