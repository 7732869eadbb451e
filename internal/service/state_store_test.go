package service

import (
	"context"
	"testing"
	"time"

	"auth-sync/internal/domain"
)

func TestMemoryStoreSnapshotLifecycle(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	got, err := store.Snapshot(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected empty store, got %v %v", got, err)
	}

	snap := domain.PersistedSnapshot{
		UserID:    "u1",
		Email:     "u1@example.com",
		Role:      domain.RoleUser,
		Timestamp: time.Now().UTC(),
	}
	if err := store.SetSnapshot(ctx, snap); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err = store.Snapshot(ctx)
	if err != nil || got == nil {
		t.Fatalf("expected snapshot, got %v %v", got, err)
	}
	if got.UserID != "u1" || got.Role != domain.RoleUser {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := store.ClearSnapshot(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	got, err = store.Snapshot(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected cleared snapshot, got %v %v", got, err)
	}
}

func TestMemoryStoreLoggedInFlag(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	on, err := store.LoggedIn(ctx)
	if err != nil || on {
		t.Fatalf("expected flag off initially")
	}
	if err := store.SetLoggedIn(ctx, true); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	on, _ = store.LoggedIn(ctx)
	if !on {
		t.Fatalf("expected flag on")
	}
	if err := store.SetLoggedIn(ctx, false); err != nil {
		t.Fatalf("unset failed: %v", err)
	}
	on, _ = store.LoggedIn(ctx)
	if on {
		t.Fatalf("expected flag off")
	}
}

func TestMemoryStoreMarkerIsMonotonic(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		marker, err := store.BumpChangeMarker(ctx)
		if err != nil {
			t.Fatalf("bump failed: %v", err)
		}
		if marker <= prev {
			t.Fatalf("expected strictly increasing marker, got %d after %d", marker, prev)
		}
		prev = marker
	}

	current, err := store.ChangeMarker(ctx)
	if err != nil || current != prev {
		t.Fatalf("expected marker %d, got %d %v", prev, current, err)
	}
}

func TestMemoryStoreWatchClosesOnCancel(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	cancel()

	// El canal debe cerrarse para que el consumidor en range termine.
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got a value")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel closed after cancel")
	}

	// Un bump posterior no debe entrar en panico por el watcher removido.
	if _, err := store.BumpChangeMarker(context.Background()); err != nil {
		t.Fatalf("bump after cancel failed: %v", err)
	}
}

func TestMemoryStoreWatchDeliversBumps(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	want, err := store.BumpChangeMarker(ctx)
	if err != nil {
		t.Fatalf("bump failed: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected marker %d, got %d", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected watch notification")
	}
}
