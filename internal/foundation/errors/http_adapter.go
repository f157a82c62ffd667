package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter handles error presentation and status code determination for HTTP handlers.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates a new HTTP error adapter with an optional slog logger.
// If logger is nil, the default package logger will be used.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse represents a standard JSON error payload.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor determines the HTTP status code for a given error based on
// its classification. Unknown errors map to 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if c, ok := AsClassified(err); ok {
		switch c.Category() {
		case CategoryValidation, CategoryConfig:
			return http.StatusBadRequest
		case CategoryNotFound:
			return http.StatusNotFound
		case CategoryConflict:
			return http.StatusConflict
		case CategoryTimeout:
			return http.StatusGatewayTimeout
		case CategoryTransport, CategorySync:
			return http.StatusBadGateway
		case CategoryStore:
			return http.StatusInternalServerError
		case CategoryRuntime, CategoryDaemon:
			return http.StatusServiceUnavailable
		case CategoryInternal:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}

	return http.StatusInternalServerError
}

// FormatErrorResponse builds the JSON payload for an error. Classified errors
// expose their category as a machine-readable code plus their context map so
// callers can retry with force_refresh where applicable.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if c, ok := AsClassified(err); ok {
		details := make(map[string]any, len(c.Context()))
		for k, v := range c.Context() {
			details[k] = v
		}
		return HTTPErrorResponse{
			Error:     c.Message(),
			Code:      string(c.Category()),
			Details:   details,
			Retryable: c.CanRetry(),
		}
	}
	return HTTPErrorResponse{Error: err.Error(), Code: string(CategoryInternal)}
}

// WriteErrorResponse writes a JSON error response and logs with appropriate level.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	switch GetSeverity(err) {
	case SeverityWarning, SeverityInfo:
		a.logger.Warn("request failed", "error", err, "status", status)
	default:
		a.logger.Error("request failed", "error", err, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(payload); encErr != nil {
		a.logger.Error("write error response", "error", encErr)
	}
}
