package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Use a fresh registry to avoid conflicts
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal not initialized")
	}
	if m.AutomationOutcomesTotal == nil {
		t.Error("AutomationOutcomesTotal not initialized")
	}
	if m.ChatTurnsTotal == nil {
		t.Error("ChatTurnsTotal not initialized")
	}
}

func TestMetrics_RecordSubmission(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSubmission("form", true)
	m.RecordSubmission("form", true)
	m.RecordSubmission("chat", false)

	if got := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("form", "success")); got != 2 {
		t.Errorf("form success = %f, expected 2", got)
	}
	if got := testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("chat", "failure")); got != 1 {
		t.Errorf("chat failure = %f, expected 1", got)
	}
}

func TestMetrics_RecordAutomationOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordAutomationOutcome("messaging", true, false, 200*time.Millisecond)
	m.RecordAutomationOutcome("email", false, true, 0)
	m.RecordAutomationOutcome("analytics", false, false, time.Second)

	tests := []struct {
		channel, result string
	}{
		{"messaging", "delivered"},
		{"email", "skipped"},
		{"analytics", "failed"},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.AutomationOutcomesTotal.WithLabelValues(tt.channel, tt.result)); got != 1 {
			t.Errorf("%s/%s = %f, expected 1", tt.channel, tt.result, got)
		}
	}

	// Skipped channels make no call, so no duration is observed.
	if n := testutil.CollectAndCount(m.AutomationDuration); n != 2 {
		t.Errorf("duration series = %d, expected 2", n)
	}
}

func TestMetrics_Dispatches(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.DispatchStarted()
	m.DispatchStarted()
	m.DispatchFinished()

	if got := testutil.ToFloat64(m.DispatchesInFlight); got != 1 {
		t.Errorf("in flight = %f, expected 1", got)
	}
}

func TestMetrics_ChatMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordChatSessionCreated()
	m.RecordChatSessionCreated()
	m.SetActiveChatSessions(7)
	m.RecordChatTurn("quotation", "recognized")
	m.RecordChatTurn("data_collection", "fallback")

	if got := testutil.ToFloat64(m.ChatSessionsCreated); got != 2 {
		t.Errorf("created = %f, expected 2", got)
	}
	if got := testutil.ToFloat64(m.ChatSessionsActive); got != 7 {
		t.Errorf("active = %f, expected 7", got)
	}
	if got := testutil.ToFloat64(m.ChatTurnsTotal.WithLabelValues("data_collection", "fallback")); got != 1 {
		t.Errorf("fallback turns = %f, expected 1", got)
	}
}

func TestMetrics_SetCircuitBreakerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetCircuitBreakerState("email", 0)
	m.SetCircuitBreakerState("email", 2)

	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("email")); got != 2 {
		t.Errorf("state = %f, expected 2", got)
	}
	if got := testutil.ToFloat64(m.CircuitBreakerTrips.WithLabelValues("email")); got != 1 {
		t.Errorf("trips = %f, expected 1", got)
	}
}

func TestMetrics_RecordDBQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordDBQuery("insert", 10*time.Millisecond, nil)
	m.RecordDBQuery("insert", 5*time.Millisecond, errors.New("db error"))

	if got := testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("insert")); got != 1 {
		t.Errorf("errors = %f, expected 1", got)
	}
}

func TestMetrics_RateLimiting(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRateLimitHit("contact")
	m.RecordRateLimitHit("contact")
	m.RecordRateLimitHit("chat")

	if got := testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("contact")); got != 2 {
		t.Errorf("contact hits = %f, expected 2", got)
	}
}

func TestMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions/abc-123/messages", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, expected %d", rr.Code, http.StatusCreated)
	}

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/chat/sessions/:id/messages", "201"))
	if count != 1 {
		t.Errorf("request count = %f, expected 1", count)
	}
}

func TestMetrics_Middleware_InFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	inFlightDuringHandler := float64(-1)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlightDuringHandler = testutil.ToFloat64(m.HTTPRequestsInFlight)
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if inFlightDuringHandler != 1 {
		t.Errorf("in-flight during handler = %f, expected 1", inFlightDuringHandler)
	}
	if after := testutil.ToFloat64(m.HTTPRequestsInFlight); after != 0 {
		t.Errorf("in-flight after = %f, expected 0", after)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/api/contact", "/api/contact"},
		{"/api/services", "/api/services"},
		{"/api/chat/sessions", "/api/chat/sessions"},
		{"/api/chat/sessions/", "/api/chat/sessions/"},
		{"/api/chat/sessions/abc", "/api/chat/sessions/:id"},
		{"/api/chat/sessions/abc/messages", "/api/chat/sessions/:id/messages"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizePath(tt.input)
			if got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("WriteHeader", func(t *testing.T) {
		w := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		rw.WriteHeader(http.StatusNotFound)
		if rw.statusCode != http.StatusNotFound {
			t.Errorf("statusCode = %d, expected %d", rw.statusCode, http.StatusNotFound)
		}

		// Second call should be ignored
		rw.WriteHeader(http.StatusOK)
		if rw.statusCode != http.StatusNotFound {
			t.Errorf("statusCode after second call = %d, expected %d", rw.statusCode, http.StatusNotFound)
		}
	})

	t.Run("Write", func(t *testing.T) {
		w := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		rw.Write([]byte("test"))
		if rw.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, expected %d", rw.statusCode, http.StatusOK)
		}
		if !rw.written {
			t.Error("written should be true after Write")
		}
	})
}

func TestMetrics_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	m.RecordSubmission("form", true)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, expected %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "teslabot_submissions_total") {
		t.Error("expected submissions metric in scrape output")
	}
}
