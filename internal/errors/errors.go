// Package errors provides centralized error definitions and error handling utilities
// for the nebula hub. It defines the spawn failure taxonomy, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain errors describe a failure of one session lifecycle:
//   - SessionError: a spawn or teardown failed; carries the session key and the
//     lifecycle state the session reached
//   - ConflictError: a concurrent spawn for the same key asked for another profile
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or configuration
//   - TimeoutError: an orchestrator-enforced budget elapsed
//
// # Usage
//
//	err := errors.NewSessionError("readiness probe failed", errors.ErrStartupTimeout).
//		WithKey("alice", "").
//		WithState("failed")
//
//	if errors.Is(err, errors.ErrStartupTimeout) { ... }
//
//	var sessErr *errors.SessionError
//	if errors.As(err, &sessErr) {
//		fmt.Println(sessErr.State)
//	}
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Spawn taxonomy sentinel errors
var (
	// ErrUnknownProfile indicates that no profile matches the requested slug.
	ErrUnknownProfile = New("unknown profile")
	// ErrProfileConflict indicates that a spawn for the same key is in flight
	// with a different profile.
	ErrProfileConflict = New("profile conflict")
	// ErrNetworkUnavailable indicates that the session network could not be
	// attached. It aborts the spawn attempt.
	ErrNetworkUnavailable = New("network unavailable")
	// ErrImagePull indicates that the profile image could not be pulled.
	ErrImagePull = New("image pull failed")
	// ErrStartupTimeout indicates that the session did not become ready
	// within its budget.
	ErrStartupTimeout = New("startup timeout")
	// ErrCapacityExceeded indicates that the running-session cap is reached.
	ErrCapacityExceeded = New("capacity exceeded")
	// ErrSessionNotFound indicates that no session exists for a key.
	ErrSessionNotFound = New("session not found")
)

// Lifecycle sentinel errors
var (
	// ErrInvalidTransition indicates a lifecycle state change the state
	// machine does not allow.
	ErrInvalidTransition = New("invalid state transition")
	// ErrSessionStopped indicates that a spawn was interrupted by a stop.
	ErrSessionStopped = New("session stopped during spawn")
	// ErrBackendUnavailable indicates that the compute-unit control plane
	// cannot be reached.
	ErrBackendUnavailable = New("backend unavailable")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrForbidden indicates that the caller may not act on the resource.
	ErrForbidden = New("forbidden")
)

// retryableSentinels are failures a caller may reasonably retry.
var retryableSentinels = []error{
	ErrImagePull,
	ErrStartupTimeout,
	ErrCapacityExceeded,
	ErrProfileConflict,
	ErrSessionStopped,
	ErrTimeout,
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// NebulaError is the base interface for all hub errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type NebulaError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// SessionError reports a failed lifecycle operation on one session. State is
// the lifecycle state the session reached, so callers can tell a session
// that failed from one that was stopped.
//
// Example:
//
//	err := errors.NewSessionError("spawn failed", errors.ErrImagePull).
//		WithKey("alice", "").WithProfile("uv-lab-small").WithState("failed")
//	fmt.Println(err) // "session error [user=alice, profile=uv-lab-small, state=failed]: spawn failed: image pull failed"
type SessionError struct {
	baseError
	User    string
	Name    string
	Profile string
	State   string
}

// NewSessionError creates a new SessionError. Retryability is derived from
// the cause.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  isRetryableCause(cause),
			userFacing: true,
		},
	}
}

// WithKey adds the session key to the error context.
func (e *SessionError) WithKey(user, name string) *SessionError {
	e.User = user
	e.Name = name
	return e
}

// WithProfile adds the profile slug to the error context.
func (e *SessionError) WithProfile(slug string) *SessionError {
	e.Profile = slug
	return e
}

// WithState records the lifecycle state the session reached.
func (e *SessionError) WithState(state string) *SessionError {
	e.State = state
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", e.User))
	}
	if e.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%s", e.Name))
	}
	if e.Profile != "" {
		parts = append(parts, fmt.Sprintf("profile=%s", e.Profile))
	}
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConflictError is returned to a spawn that joined an in-flight spawn for the
// same key with a different profile. Realized names the profile that won.
type ConflictError struct {
	baseError
	Requested string
	Realized  string
}

// NewConflictError creates a new ConflictError.
func NewConflictError(requested, realized string) *ConflictError {
	return &ConflictError{
		baseError: baseError{
			message:    fmt.Sprintf("requested profile %q but %q is already being spawned", requested, realized),
			cause:      ErrProfileConflict,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Requested: requested,
		Realized:  realized,
	}
}

// Error returns the formatted error message.
func (e *ConflictError) Error() string {
	return "profile conflict: " + e.message
}

// Is checks if this error matches the target.
func (e *ConflictError) Is(target error) bool {
	if _, ok := target.(*ConflictError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("profile", "uv-lab-huge").WithCause(errors.ErrUnknownProfile)
//	fmt.Println(err) // "profile 'uv-lab-huge' not found: unknown profile"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("slug cannot be empty").WithField("profiles[2].slug")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an orchestrator budget that elapsed.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for readiness", 120*time.Second).WithCause(errors.ErrStartupTimeout)
//	fmt.Println(err) // "timeout error: waiting for readiness (timeout: 2m0s): startup timeout"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// isRetryableCause reports whether cause wraps one of the retryable sentinels.
func isRetryableCause(cause error) bool {
	if cause == nil {
		return false
	}
	for _, s := range retryableSentinels {
		if errors.Is(cause, s) {
			return true
		}
	}
	return false
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Errors implementing NebulaError decide for
// themselves; anything else is checked against the retryable sentinels
// (image pull, startup timeout, capacity, profile conflict, timeout).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var nebulaErr NebulaError
	if As(err, &nebulaErr) {
		return nebulaErr.IsRetryable()
	}

	return isRetryableCause(err)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var nebulaErr NebulaError
	if As(err, &nebulaErr) {
		return nebulaErr.IsUserFacing()
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement NebulaError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var nebulaErr NebulaError
	if As(err, &nebulaErr) {
		return nebulaErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "docker pull")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "attach network %s", name)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
