package dialogue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslaelectricidad/teslabot/internal/clock"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

func newTestStore(ttl time.Duration, max int) (*Store, *clock.Mock) {
	clk := clock.NewMock(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC))
	return NewStore(ttl, max, clk, nil), clk
}

func TestStore_CreateAndGet(t *testing.T) {
	store, clk := newTestStore(time.Hour, 0)
	sess := NewSession("abc", "greeting", clk.Now())

	if err := store.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.Get("abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "abc" || got.Stage != "greeting" {
		t.Errorf("Get() = %+v", got)
	}

	// Returned sessions are copies.
	got.Fields["nombre"] = "Ana"
	again, _ := store.Get("abc")
	if again.Field("nombre") != "" {
		t.Error("mutating a returned session changed the stored one")
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(time.Hour, 0)

	_, err := store.Get("missing")
	if !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
	if !apperrors.IsNotFound(err) {
		t.Error("IsNotFound() = false for missing session")
	}
}

func TestStore_Expiry(t *testing.T) {
	store, clk := newTestStore(30*time.Minute, 0)
	_ = store.Create(NewSession("abc", "greeting", clk.Now()))

	clk.Advance(29 * time.Minute)
	if _, err := store.Get("abc"); err != nil {
		t.Fatalf("Get() before TTL error = %v", err)
	}

	clk.Advance(2 * time.Minute)
	if _, err := store.Get("abc"); !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("Get() after TTL error = %v, want ErrSessionNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want expired session dropped", store.Len())
	}
}

func TestStore_UpdateKeepsSessionAlive(t *testing.T) {
	store, clk := newTestStore(30*time.Minute, 0)
	_ = store.Create(NewSession("abc", "greeting", clk.Now()))

	clk.Advance(20 * time.Minute)
	got, err := store.Update("abc", func(s *Session) error {
		s.Stage = "quotation"
		s.UpdatedAt = clk.Now()
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Stage != "quotation" {
		t.Errorf("Update() returned stage %q", got.Stage)
	}

	clk.Advance(20 * time.Minute)
	if _, err := store.Get("abc"); err != nil {
		t.Errorf("Get() error = %v, want session kept alive by update", err)
	}
}

func TestStore_UpdateError(t *testing.T) {
	store, clk := newTestStore(0, 0)
	_ = store.Create(NewSession("abc", "greeting", clk.Now()))
	boom := errors.New("boom")

	_, err := store.Update("abc", func(s *Session) error {
		s.LeadID = "lead-1"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want %v", err, boom)
	}
	got, _ := store.Get("abc")
	if got.LeadID != "lead-1" {
		t.Error("changes made before the error should be kept")
	}

	if _, err := store.Update("missing", func(*Session) error { return nil }); !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Errorf("Update(missing) error = %v", err)
	}
}

func TestStore_Limit(t *testing.T) {
	store, clk := newTestStore(time.Minute, 2)
	_ = store.Create(NewSession("a", "greeting", clk.Now()))
	_ = store.Create(NewSession("b", "greeting", clk.Now()))

	err := store.Create(NewSession("c", "greeting", clk.Now()))
	if !errors.Is(err, apperrors.ErrSessionLimit) {
		t.Fatalf("Create() over limit error = %v, want ErrSessionLimit", err)
	}

	// Expired sessions make room.
	clk.Advance(2 * time.Minute)
	if err := store.Create(NewSession("c", "greeting", clk.Now())); err != nil {
		t.Errorf("Create() after expiry error = %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestStore_DeleteAndPurge(t *testing.T) {
	store, clk := newTestStore(time.Minute, 0)
	_ = store.Create(NewSession("a", "greeting", clk.Now()))
	_ = store.Create(NewSession("b", "greeting", clk.Now()))

	store.Delete("a")
	if store.Len() != 1 {
		t.Errorf("Len() after Delete = %d, want 1", store.Len())
	}

	clk.Advance(2 * time.Minute)
	if n := store.Purge(); n != 1 {
		t.Errorf("Purge() = %d, want 1", n)
	}
}

func TestStore_Run(t *testing.T) {
	store, clk := newTestStore(time.Minute, 0)
	_ = store.Create(NewSession("a", "greeting", clk.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Minute)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.Len() != 0 {
		clk.Advance(5 * time.Minute)
		select {
		case <-deadline:
			t.Fatal("Run() did not purge the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
