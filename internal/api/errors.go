package api

import (
	"net/http"

	"github.com/Iron-Ham/nebula/internal/errors"
)

var errUnauthenticated = errors.New("unauthenticated")

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	State     string `json:"state,omitempty"`
	Retryable bool   `json:"retryable"`
	// Realized is the profile actually being spawned on a profile conflict.
	Realized string `json:"realized_profile,omitempty"`
}

// statusMap pairs sentinels with HTTP statuses. Order matters: the first
// match wins, so more specific causes come before the generic ones they
// may wrap.
var statusMap = []struct {
	err    error
	status int
}{
	{errUnauthenticated, http.StatusUnauthorized},
	{errors.ErrForbidden, http.StatusForbidden},
	{errors.ErrInvalidInput, http.StatusBadRequest},
	{errors.ErrUnknownProfile, http.StatusBadRequest},
	{errors.ErrSessionNotFound, http.StatusNotFound},
	{errors.ErrProfileConflict, http.StatusConflict},
	{errors.ErrSessionStopped, http.StatusConflict},
	{errors.ErrInvalidTransition, http.StatusConflict},
	{errors.ErrCapacityExceeded, http.StatusTooManyRequests},
	{errors.ErrStartupTimeout, http.StatusGatewayTimeout},
	{errors.ErrImagePull, http.StatusBadGateway},
	{errors.ErrNetworkUnavailable, http.StatusServiceUnavailable},
	{errors.ErrBackendUnavailable, http.StatusServiceUnavailable},
	{errors.ErrTimeout, http.StatusGatewayTimeout},
	{errors.ErrCanceled, http.StatusRequestTimeout},
}

// StatusFor maps an error to the HTTP status the API answers with.
func StatusFor(err error) int {
	for _, m := range statusMap {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// sentinelFor is the inverse of StatusFor, used by the client so callers
// can match API errors with errors.Is.
func sentinelFor(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return errUnauthenticated
	case http.StatusForbidden:
		return errors.ErrForbidden
	case http.StatusBadRequest:
		return errors.ErrInvalidInput
	case http.StatusNotFound:
		return errors.ErrSessionNotFound
	case http.StatusConflict:
		return errors.ErrProfileConflict
	case http.StatusTooManyRequests:
		return errors.ErrCapacityExceeded
	case http.StatusGatewayTimeout:
		return errors.ErrStartupTimeout
	case http.StatusBadGateway:
		return errors.ErrImagePull
	case http.StatusServiceUnavailable:
		return errors.ErrBackendUnavailable
	case http.StatusRequestTimeout:
		return errors.ErrCanceled
	}
	return nil
}

// errorBody builds the response for err. Unclassified server errors are
// reported without their text, which may carry backend details.
func errorBody(err error, status int) ErrorBody {
	body := ErrorBody{
		Error:     err.Error(),
		Retryable: errors.IsRetryable(err),
	}
	if status == http.StatusInternalServerError && !errors.IsUserFacing(err) {
		body.Error = "internal error"
	}
	var sessErr *errors.SessionError
	if errors.As(err, &sessErr) {
		body.State = sessErr.State
	}
	var conflict *errors.ConflictError
	if errors.As(err, &conflict) {
		body.Realized = conflict.Realized
	}
	return body
}

// writeError answers with the status for err and logs it at the error's
// severity. Client errors log at warning at most.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	sev := errors.GetSeverity(err)
	if status < http.StatusInternalServerError && sev > errors.SeverityWarning {
		sev = errors.SeverityWarning
	}
	args := []any{"status", status, "error", err}
	switch sev {
	case errors.SeverityDebug:
		s.logger.Debug("request failed", args...)
	case errors.SeverityInfo:
		s.logger.Info("request failed", args...)
	case errors.SeverityWarning:
		s.logger.Warn("request failed", args...)
	default:
		s.logger.Error("request failed", args...)
	}
	writeJSON(w, status, errorBody(err, status))
}
