package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/circuitbreaker"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/email"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&Config{
		BaseURL: srv.URL + "/api/",
		APIKey:  "secret",
		Timeout: time.Second,
		Breaker: &circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMaxRequests: 1},
	}, zap.NewNop())
}

func TestClient_SubmitContact(t *testing.T) {
	var got domain.ContactSubmission
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/contact" {
			t.Errorf("path = %q, want /api/contact", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"lead_id":"L-100","message":"ok"}`))
	})

	sub := domain.ContactSubmission{Name: "Ana", Phone: "987654321", Service: "itse"}
	leadID, err := client.SubmitContact(context.Background(), sub)
	if err != nil {
		t.Fatalf("SubmitContact() error = %v", err)
	}
	if leadID != "L-100" {
		t.Errorf("leadID = %q, want L-100", leadID)
	}
	if got != sub {
		t.Errorf("backend received %+v, want %+v", got, sub)
	}
}

func TestClient_SubmitContactFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"message":"db down"}`},
		{"success false", http.StatusOK, `{"success":false,"message":"rechazado"}`},
		{"missing lead id", http.StatusOK, `{"success":true}`},
		{"invalid json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.SubmitContact(context.Background(), domain.ContactSubmission{Name: "Ana"})
			if err == nil {
				t.Fatal("expected error")
			}
			if apperrors.GetCode(err) != apperrors.CodeSubmissionFailed {
				t.Errorf("code = %v, want %v", apperrors.GetCode(err), apperrors.CodeSubmissionFailed)
			}
		})
	}
}

func TestClient_PostAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"success":false,"message":"whatsapp down"}`))
	})

	err := client.Post(context.Background(), PathWhatsAppSend, map[string]string{"to": "1"}, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "whatsapp down" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_PostEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Post(context.Background(), PathAnalytics, struct{}{}, nil); err != nil {
		t.Errorf("Post() error = %v, want nil for 204", err)
	}
}

func TestClient_SubmitContactOpensBreaker(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 3; i++ {
		_, _ = client.SubmitContact(context.Background(), domain.ContactSubmission{Name: "Ana"})
	}

	if calls != 2 {
		t.Errorf("backend called %d times, want 2 before the breaker opened", calls)
	}
	if !client.Breaker().IsOpen() {
		t.Error("breaker should be open")
	}
}

func TestClient_SendMessage(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/whatsapp/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if err := client.SendMessage(context.Background(), "+51987654321", "hola"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if body["to"] != "+51987654321" || body["message"] != "hola" {
		t.Errorf("body = %v", body)
	}
}

func TestClient_SendConfirmation(t *testing.T) {
	var body struct {
		To       string            `json:"to"`
		Subject  string            `json:"subject"`
		Template string            `json:"template"`
		Data     map[string]string `json:"data"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/email/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"success":false,"message":"template missing"}`))
	})

	err := client.SendConfirmation(context.Background(), "ana@example.com", "Confirmación", email.ConfirmationData{
		Name:    "Ana",
		LeadID:  "L-1",
		Service: "ITSE",
		Phone:   "987654321",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "template missing" {
		t.Fatalf("SendConfirmation() error = %v, want APIError from success=false", err)
	}
	if body.Template != "confirmation" || body.To != "ana@example.com" {
		t.Errorf("body = %+v", body)
	}
	if body.Data["nombre"] != "Ana" || body.Data["lead_id"] != "L-1" {
		t.Errorf("data = %v", body.Data)
	}
}

func TestClient_SubmitContactNumericLeadID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"lead_id":42,"message":"ok"}`))
	})

	leadID, err := client.SubmitContact(context.Background(), domain.ContactSubmission{Name: "Ana"})
	if err != nil {
		t.Fatalf("SubmitContact() error = %v", err)
	}
	if leadID != "42" {
		t.Errorf("leadID = %q, want 42", leadID)
	}
}

func TestLeadID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    LeadID
		wantErr bool
	}{
		{`"L-7"`, "L-7", false},
		{`7`, "7", false},
		{`1234567890123`, "1234567890123", false},
		{`null`, "", false},
		{`1.5`, "", true},
		{`true`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var id LeadID
			err := json.Unmarshal([]byte(tt.in), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && id != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
			}
		})
	}
}

func TestClient_SubmitContactRetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"lead_id":9}`))
	}))
	t.Cleanup(srv.Close)

	client := New(&Config{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   &retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 2, RetryableStatusCodes: []int{http.StatusServiceUnavailable}},
	}, zap.NewNop())

	leadID, err := client.SubmitContact(context.Background(), domain.ContactSubmission{Name: "Ana"})
	if err != nil {
		t.Fatalf("SubmitContact() error = %v", err)
	}
	if leadID != "9" {
		t.Errorf("leadID = %q, want 9", leadID)
	}
	if calls != 2 {
		t.Errorf("backend called %d times, want 2", calls)
	}
	stats, ok := client.RetryStats()
	if !ok || stats.SuccessfulRetries != 1 {
		t.Errorf("RetryStats() = %+v, %v", stats, ok)
	}
}

func TestClient_PostIsNeverRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := New(&Config{BaseURL: srv.URL, Retry: retry.DefaultConfig()}, zap.NewNop())

	for _, path := range []string{PathWhatsAppSend, PathSpecialists, PathAnalytics} {
		if err := client.Post(context.Background(), path, struct{}{}, nil); err == nil {
			t.Errorf("Post(%s) error = nil, want 503 failure", path)
		}
	}
	if calls != 3 {
		t.Errorf("backend called %d times, want one call per route", calls)
	}
}

func TestClient_SubmitContactDoesNotRetryRejection(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"success":false,"message":"rechazado"}`))
	}))
	t.Cleanup(srv.Close)

	client := New(&Config{BaseURL: srv.URL, Retry: retry.DefaultConfig()}, zap.NewNop())

	_, err := client.SubmitContact(context.Background(), domain.ContactSubmission{Name: "Ana"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "rechazado" {
		t.Fatalf("error = %v, want APIError", err)
	}
	if calls != 1 {
		t.Errorf("backend called %d times, want 1", calls)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 10 ", 10 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := retryAfter(tt.in); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
