package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return zap.New(core), logs
}

func TestBusinessEventLogger_LeadSubmitted(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.LeadSubmitted(context.Background(), "lead-42", "form", "instalaciones", "+51987654321", "ana@example.com")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.Message != "lead_submitted" {
		t.Errorf("expected message 'lead_submitted', got '%s'", entry.Message)
	}
	if entry.LoggerName != "business_events" {
		t.Errorf("expected logger name 'business_events', got '%s'", entry.LoggerName)
	}

	fields := entry.ContextMap()
	if fields["event_type"] != "lead.submitted" {
		t.Errorf("expected event_type 'lead.submitted', got '%v'", fields["event_type"])
	}
	if fields["lead_id"] != "lead-42" {
		t.Errorf("expected lead_id 'lead-42', got '%v'", fields["lead_id"])
	}
	if fields["phone"] != "********4321" {
		t.Errorf("expected masked phone, got '%v'", fields["phone"])
	}
	if fields["email"] != "an***@example.com" {
		t.Errorf("expected masked email, got '%v'", fields["email"])
	}
}

func TestBusinessEventLogger_SubmissionFailed(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.SubmissionFailed(context.Background(), "chat", "itse", errors.New("backend rejected 987654321"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("expected warn level, got %v", entries[0].Level)
	}
	if entries[0].ContextMap()["error"] != "backend rejected *****4321" {
		t.Errorf("expected error field, got %v", entries[0].ContextMap()["error"])
	}
}

func TestBusinessEventLogger_DispatchCompleted(t *testing.T) {
	tests := []struct {
		name   string
		failed int
		level  zapcore.Level
	}{
		{"all delivered", 0, zapcore.InfoLevel},
		{"with failures", 2, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newTestLogger()
			bel := NewBusinessEventLogger(logger)

			bel.DispatchCompleted(context.Background(), "lead-1", 5-tt.failed, tt.failed, 0, 300*time.Millisecond)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected 1 log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %v, want %v", entries[0].Level, tt.level)
			}
			if entries[0].ContextMap()["failed"] != int64(tt.failed) {
				t.Errorf("failed = %v, want %d", entries[0].ContextMap()["failed"], tt.failed)
			}
		})
	}
}

func TestBusinessEventLogger_ChatEvents(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.ChatSessionStarted(context.Background(), "sess-1")
	bel.ChatFallback(context.Background(), "sess-1", "data_collection", 3)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Message != "chat_session_started" {
		t.Errorf("first message = %q", entries[0].Message)
	}
	fields := entries[1].ContextMap()
	if fields["stage"] != "data_collection" || fields["retries"] != int64(3) {
		t.Errorf("fallback fields = %v", fields)
	}
}

func TestBusinessEventLogger_RateLimitExceeded(t *testing.T) {
	logger, logs := newTestLogger()
	bel := NewBusinessEventLogger(logger)

	bel.RateLimitExceeded(context.Background(), "api", "192.168.1.100")

	fields := logs.All()[0].ContextMap()
	if fields["identifier"] != "19****00" {
		t.Errorf("expected masked identifier, got '%v'", fields["identifier"])
	}
	if fields["limiter_type"] != "api" {
		t.Errorf("limiter_type = %v", fields["limiter_type"])
	}
}
