package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestCorrelation_GeneratesIDs(t *testing.T) {
	middleware := NewRequestCorrelation(zap.NewNop())

	var correlationID, requestID string
	handler := middleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		correlationID = GetCorrelationID(ctx)
		requestID = GetRequestID(ctx)
		if GetRequestStartTime(ctx).IsZero() {
			t.Error("request start time not set")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if correlationID == "" || requestID == "" {
		t.Fatalf("ids not set: correlation=%q request=%q", correlationID, requestID)
	}
	if correlationID == requestID {
		t.Error("correlation and request ids should differ")
	}
	if rec.Header().Get(CorrelationIDHeader) != correlationID {
		t.Error("correlation ID header not set in response")
	}
	if rec.Header().Get(RequestIDHeader) != requestID {
		t.Error("request ID header not set in response")
	}
}

func TestRequestCorrelation_PreservesIncomingIDs(t *testing.T) {
	middleware := NewRequestCorrelation(zap.NewNop())

	var capturedCorrelationID, capturedRequestID string
	handler := middleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCorrelationID = GetCorrelationID(r.Context())
		capturedRequestID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(CorrelationIDHeader, "test-correlation-123")
	req.Header.Set(RequestIDHeader, "test-request-456")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedCorrelationID != "test-correlation-123" {
		t.Errorf("correlation ID not preserved: got %s", capturedCorrelationID)
	}
	if capturedRequestID != "test-request-456" {
		t.Errorf("request ID not preserved: got %s", capturedRequestID)
	}
	if rec.Header().Get(CorrelationIDHeader) != "test-correlation-123" {
		t.Errorf("correlation ID not in response headers")
	}
}

func TestRequestCorrelation_LogsCompletion(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	middleware := NewRequestCorrelation(zap.New(core))

	handler := middleware.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 completion log, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusAccepted) {
		t.Errorf("expected logged status 202, got %v", got)
	}
}

func TestGetCorrelationID_NoContext(t *testing.T) {
	if id := GetCorrelationID(context.Background()); id != "" {
		t.Errorf("expected empty correlation ID, got %s", id)
	}
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty request ID, got %s", id)
	}
}

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "my-correlation-id")
	if got := GetCorrelationID(ctx); got != "my-correlation-id" {
		t.Errorf("WithCorrelationID: got %s, want my-correlation-id", got)
	}
}

func TestGenerateID(t *testing.T) {
	id1 := generateID()
	id2 := generateID()

	if id1 == id2 {
		t.Error("generateID should return unique IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("expected a UUID, got %q: %v", id1, err)
	}
}

func TestLoggerWithCorrelation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	if LoggerWithCorrelation(context.Background(), logger) != logger {
		t.Error("expected the same logger without correlation context")
	}

	ctx := WithCorrelationID(context.Background(), "test-correlation")
	ctx = context.WithValue(ctx, requestIDKey{}, "test-request")
	LoggerWithCorrelation(ctx, logger).Info("hello")

	fields := logs.All()[0].ContextMap()
	if fields["correlation_id"] != "test-correlation" {
		t.Errorf("correlation_id field = %v", fields["correlation_id"])
	}
	if fields["request_id"] != "test-request" {
		t.Errorf("request_id field = %v", fields["request_id"])
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusCreated)

	if wrapped.statusCode != http.StatusCreated {
		t.Errorf("status code not captured: got %d, want %d", wrapped.statusCode, http.StatusCreated)
	}
}

func TestResponseWriter_DefaultStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	wrapped.Write([]byte("test"))

	if wrapped.statusCode != http.StatusOK {
		t.Errorf("default status code should be 200, got %d", wrapped.statusCode)
	}
}

func TestGetRequestStartTime(t *testing.T) {
	ctx := context.Background()
	if !GetRequestStartTime(ctx).IsZero() {
		t.Error("expected zero time for context without start time")
	}

	now := time.Now()
	ctx = context.WithValue(ctx, requestStartTimeKey{}, now)
	if got := GetRequestStartTime(ctx); !got.Equal(now) {
		t.Errorf("GetRequestStartTime: got %v, want %v", got, now)
	}
}
