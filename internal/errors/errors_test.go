package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// SessionError Tests
// -----------------------------------------------------------------------------

func TestNewSessionError_RetryableFromCause(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  bool
	}{
		{"image pull", ErrImagePull, true},
		{"startup timeout", ErrStartupTimeout, true},
		{"capacity", ErrCapacityExceeded, true},
		{"wrapped timeout", fmt.Errorf("probe: %w", ErrStartupTimeout), true},
		{"network", ErrNetworkUnavailable, false},
		{"unknown profile", ErrUnknownProfile, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSessionError("spawn failed", tt.cause)
			if err.IsRetryable() != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", err.IsRetryable(), tt.want)
			}
			if !err.IsUserFacing() {
				t.Error("IsUserFacing() = false, want true")
			}
			if err.Severity() != SeverityError {
				t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
			}
		})
	}
}

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "no context",
			err:  NewSessionError("spawn failed", nil),
			want: "session error: spawn failed",
		},
		{
			name: "default session",
			err: NewSessionError("spawn failed", ErrImagePull).
				WithKey("alice", "").
				WithProfile("uv-lab-small").
				WithState("failed"),
			want: "session error [user=alice, profile=uv-lab-small, state=failed]: spawn failed: image pull failed",
		},
		{
			name: "named session",
			err:  NewSessionError("stop failed", nil).WithKey("bob", "gpu"),
			want: "session error [user=bob, name=gpu]: stop failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Is(t *testing.T) {
	err := NewSessionError("probe failed", ErrStartupTimeout).WithState("failed")

	if !errors.Is(err, ErrStartupTimeout) {
		t.Error("errors.Is(err, ErrStartupTimeout) = false, want true")
	}
	if !errors.Is(err, &SessionError{}) {
		t.Error("errors.Is(err, &SessionError{}) = false, want true")
	}
	if errors.Is(err, ErrImagePull) {
		t.Error("errors.Is(err, ErrImagePull) = true, want false")
	}

	var sessErr *SessionError
	wrapped := fmt.Errorf("spawn alice: %w", err)
	if !errors.As(wrapped, &sessErr) {
		t.Fatal("errors.As failed to find SessionError")
	}
	if sessErr.State != "failed" {
		t.Errorf("State = %q, want %q", sessErr.State, "failed")
	}
}

func TestSessionError_WithMethods(t *testing.T) {
	err := NewSessionError("test", ErrNetworkUnavailable).
		WithSeverity(SeverityCritical)

	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityCritical)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false for an unavailable network")
	}
}

// -----------------------------------------------------------------------------
// ConflictError Tests
// -----------------------------------------------------------------------------

func TestConflictError(t *testing.T) {
	err := NewConflictError("uv-lab-large", "uv-lab-small")

	if !errors.Is(err, ErrProfileConflict) {
		t.Error("errors.Is(err, ErrProfileConflict) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true")
	}
	if err.Realized != "uv-lab-small" {
		t.Errorf("Realized = %q, want %q", err.Realized, "uv-lab-small")
	}
	want := `profile conflict: requested profile "uv-lab-large" but "uv-lab-small" is already being spawned`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// -----------------------------------------------------------------------------
// Semantic Error Tests
// -----------------------------------------------------------------------------

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NotFoundError
		want string
	}{
		{
			name: "without cause",
			err:  NewNotFoundError("session", "alice/"),
			want: "session 'alice/' not found",
		},
		{
			name: "with cause",
			err:  NewNotFoundError("profile", "huge").WithCause(ErrUnknownProfile),
			want: "profile 'huge' not found: unknown profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFoundError_Is(t *testing.T) {
	err := NewNotFoundError("profile", "huge").WithCause(ErrUnknownProfile)
	if !errors.Is(err, ErrUnknownProfile) {
		t.Error("errors.Is(err, ErrUnknownProfile) = false, want true")
	}
	if !errors.Is(err, &NotFoundError{}) {
		t.Error("errors.Is(err, &NotFoundError{}) = false, want true")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("must not be empty").WithField("profiles[0].slug").WithValue("")

	want := "validation error [field=profiles[0].slug, value=]: must not be empty"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is(err, ErrInvalidInput) = false, want true")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("waiting for readiness", 2*time.Minute).WithCause(ErrStartupTimeout)

	want := "timeout error: waiting for readiness (timeout: 2m0s): startup timeout"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false, want true")
	}
	if !errors.Is(err, ErrStartupTimeout) {
		t.Error("errors.Is(err, ErrStartupTimeout) = false, want true")
	}
	if !err.IsRetryable() {
		t.Error("IsRetryable() = false, want true")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("boom"), false},
		{"capacity sentinel", ErrCapacityExceeded, true},
		{"wrapped pull", fmt.Errorf("docker: %w", ErrImagePull), true},
		{"network sentinel", ErrNetworkUnavailable, false},
		{"session error from pull", NewSessionError("x", ErrImagePull), true},
		{"session error from network", NewSessionError("x", ErrNetworkUnavailable), false},
		{"conflict", NewConflictError("a", "b"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
	if IsUserFacing(New("internal")) {
		t.Error("IsUserFacing(plain) = true, want false")
	}
	if !IsUserFacing(NewNotFoundError("session", "x")) {
		t.Error("IsUserFacing(NotFoundError) = false, want true")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want %v", got, SeverityDebug)
	}
	if got := GetSeverity(New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want %v", got, SeverityError)
	}
	if got := GetSeverity(NewValidationError("x")); got != SeverityWarning {
		t.Errorf("GetSeverity(validation) = %v, want %v", got, SeverityWarning)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	err := Wrapf(ErrImagePull, "pull %s", "local/uv-lab:latest")
	if !errors.Is(err, ErrImagePull) {
		t.Error("Wrapf lost the cause")
	}
	if got, want := err.Error(), "pull local/uv-lab:latest: image pull failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
