// Package handler provides HTTP handlers for the application.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/middleware"
	"github.com/teslaelectricidad/teslabot/internal/validation"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error apperrors.ErrorDetail `json:"error"`
	// Errors lists field failures for validation errors.
	Errors []validation.ValidationError `json:"errors,omitempty"`
	// FallbackURL is a WhatsApp link offered when a submission failed.
	FallbackURL string `json:"fallback_url,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// BaseHandler provides shared functionality for all handlers.
type BaseHandler struct {
	logger *zap.Logger
}

// NewBaseHandler creates a BaseHandler.
func NewBaseHandler(logger *zap.Logger) BaseHandler {
	if logger == nil {
		panic("logger is required")
	}
	return BaseHandler{logger: logger}
}

// Logger returns the handler's logger.
func (b *BaseHandler) Logger() *zap.Logger {
	return b.logger
}

// WriteJSON writes a JSON response with the appropriate headers.
func (b *BaseHandler) WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	JSONWithRequest(w, r, status, data)
}

// WriteError writes err as an ErrorResponse. Validation errors become 400
// with field details; application errors use their HTTP status; anything
// else is a 500 with a generic message.
func (b *BaseHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	b.WriteErrorResponse(w, r, err, ErrorResponse{})
}

// WriteErrorResponse writes err, merging it into resp.
func (b *BaseHandler) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error, resp ErrorResponse) {
	var verrs validation.ValidationErrors
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &verrs):
		appErr = apperrors.ValidationFailed("Validation failed")
		resp.Errors = verrs
	case !errors.As(err, &appErr):
		appErr = apperrors.InternalError("internal server error", err)
	}
	status := apperrors.GetHTTPStatus(appErr)
	resp.Error = appErr.ToResponse().Error
	resp.RequestID = middleware.GetRequestID(r.Context())

	logger := middleware.LoggerWithCorrelation(r.Context(), b.logger)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("code", string(apperrors.GetCode(appErr))),
			zap.Error(err),
		)
	case apperrors.IsUserError(appErr):
		logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("code", string(resp.Error.Code)),
		)
	default:
		logger.Warn("request refused",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("code", string(resp.Error.Code)),
			zap.Error(err),
		)
	}

	JSONWithRequest(w, r, status, resp)
}

// DecodeJSON decodes the request body into dst.
func (b *BaseHandler) DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperrors.New(apperrors.CodeInvalidInput, "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.New(apperrors.CodeInvalidInput, "request body too large")
		}
		return apperrors.New(apperrors.CodeInvalidInput, "invalid JSON body")
	}
	return nil
}

// JSON writes a JSON response with the appropriate headers.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// JSONWithRequest writes a JSON response, echoing the request id header.
func JSONWithRequest(w http.ResponseWriter, r *http.Request, status int, data any) {
	if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
		w.Header().Set(middleware.RequestIDHeader, reqID)
	}
	JSON(w, status, data)
}
