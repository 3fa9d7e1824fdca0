// Package errors maps domain errors onto gofulmen error envelopes and writes
// them as HTTP responses.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// Error codes used in HTTP responses.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPError is the wire form of an error envelope.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse wraps HTTPError under an "error" key.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// StatusError carries an explicit HTTP status and code through handler code.
type StatusError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StatusError) Unwrap() error { return e.Err }

// NewStatusError builds a StatusError.
func NewStatusError(status int, code, message string, err error) *StatusError {
	return &StatusError{Status: status, Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(message string) *StatusError {
	return NewStatusError(http.StatusNotFound, CodeNotFound, message, nil)
}

// BadRequest reports an invalid request.
func BadRequest(message string, err error) *StatusError {
	return NewStatusError(http.StatusBadRequest, CodeBadRequest, message, err)
}

// Unavailable reports a dependency that cannot serve the request.
func Unavailable(message string, details map[string]any) *StatusError {
	e := NewStatusError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil)
	e.Details = details
	return e
}

// Classify maps err onto an HTTP status and error code.
func Classify(err error) (int, string) {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.Status, se.Code
	case indexermodel.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case indexermodel.IsConflict(err), indexermodel.IsLockUnavailable(err):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, indexermodel.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// NewEnvelope builds the error envelope for err as seen by request r.
// Details must be flat (strings, numbers, bools or string slices); anything
// else is dropped from the envelope context.
func NewEnvelope(r *http.Request, err error) (*gferrors.ErrorEnvelope, int) {
	status, code := Classify(err)
	message := err.Error()
	var details map[string]any

	var se *StatusError
	if errors.As(err, &se) {
		message = se.Message
		details = se.Details
	}

	envelope := gferrors.NewErrorEnvelope(code, message).
		WithCorrelationID(RequestIDFrom(r))
	envelope = gferrors.SafeWithSeverity(envelope, severityFor(status))
	if len(details) > 0 {
		envelope, _ = envelope.WithContext(details)
	}
	return envelope, status
}

func severityFor(status int) gferrors.Severity {
	switch {
	case status >= http.StatusInternalServerError:
		return gferrors.SeverityHigh
	case status == http.StatusConflict:
		return gferrors.SeverityMedium
	default:
		return gferrors.SeverityLow
	}
}

// RespondWithError writes err as a JSON error response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	envelope, status := NewEnvelope(r, err)
	WriteEnvelope(w, envelope, status)
}

// WriteEnvelope writes envelope under an "error" key with the given status.
func WriteEnvelope(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, HTTPErrorResponse{Error: HTTPError{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
		Severity:  string(envelope.Severity),
		Timestamp: envelope.Timestamp,
		Details:   envelope.Context,
	}})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestIDFrom returns the request id set by the RequestID middleware.
func RequestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return r.Header.Get(RequestIDHeader)
}

type requestIDKey struct{}

// RequestIDKey is the context key under which the request id is stored.
var RequestIDKey any = requestIDKey{}
