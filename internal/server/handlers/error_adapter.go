package handlers

import (
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/indexwarden/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder overrides how handlers write errors. nil restores the
// default.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = fn
}

// LoggingErrorResponder logs server-side failures before writing the
// envelope. Client errors are logged at debug.
func LoggingErrorResponder(logger *zap.Logger) HTTPErrorResponder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status, code := apperrors.Classify(err)
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("code", code),
			zap.String("path", r.URL.Path),
			zap.String("request_id", apperrors.RequestIDFrom(r)),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		apperrors.RespondWithError(w, r, err)
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
