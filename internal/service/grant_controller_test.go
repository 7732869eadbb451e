package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestGrantValidExactlyWithinTTL(t *testing.T) {
	store := NewMemoryStateStore()
	ctrl := NewEmergencyGrantController(zap.NewNop(), store, 30*time.Minute, nil, "")

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return t0 }

	grant, err := ctrl.Issue(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if grant.TTL != 30*time.Minute {
		t.Fatalf("unexpected ttl %v", grant.TTL)
	}

	// Un instante antes de expirar sigue valida.
	ctrl.now = func() time.Time { return t0.Add(30*time.Minute - time.Millisecond) }
	if got := ctrl.CurrentValid(context.Background()); got == nil {
		t.Fatalf("expected grant still valid just before ttl")
	}

	// Un instante despues ya no, y se limpia defensivamente.
	ctrl.now = func() time.Time { return t0.Add(30*time.Minute + time.Millisecond) }
	if got := ctrl.CurrentValid(context.Background()); got != nil {
		t.Fatalf("expected grant invalid past ttl, got %+v", got)
	}
	stored, err := store.EmergencyGrant(context.Background())
	if err != nil {
		t.Fatalf("store read failed: %v", err)
	}
	if stored != nil {
		t.Fatalf("expected stale grant cleared from store")
	}
}

func TestGrantTTLIsCapped(t *testing.T) {
	ctrl := NewEmergencyGrantController(zap.NewNop(), NewMemoryStateStore(), 6*time.Hour, nil, "")
	grant, err := ctrl.Issue(context.Background(), "ops@example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if grant.TTL != time.Hour {
		t.Fatalf("expected ttl capped at 1h, got %v", grant.TTL)
	}
}

func TestGrantRejectsEmptyEmail(t *testing.T) {
	ctrl := NewEmergencyGrantController(zap.NewNop(), NewMemoryStateStore(), time.Hour, nil, "")
	if _, err := ctrl.Issue(context.Background(), "   "); !errors.Is(err, ErrInvalidGrantEmail) {
		t.Fatalf("expected ErrInvalidGrantEmail, got %v", err)
	}
}

func TestAdminOverrideRequiresOperatorKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	store := NewMemoryStateStore()
	ctrl := NewEmergencyGrantController(zap.NewNop(), store, time.Hour, []string{"Admin@Example.com"}, string(hash))

	if _, err := ctrl.IssueAdminOverride(context.Background(), "admin@example.com", "wrong"); !errors.Is(err, ErrRecoveryKeyInvalid) {
		t.Fatalf("expected ErrRecoveryKeyInvalid, got %v", err)
	}
	if _, err := ctrl.IssueAdminOverride(context.Background(), "intruder@example.com", "correct horse"); !errors.Is(err, ErrNotInAdminAllowList) {
		t.Fatalf("expected ErrNotInAdminAllowList, got %v", err)
	}

	grant, err := ctrl.IssueAdminOverride(context.Background(), "admin@example.com", "correct horse")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if grant.Role != "admin" {
		t.Fatalf("expected admin role, got %q", grant.Role)
	}
	if got := ctrl.AdminOverrideValid(context.Background()); got == nil {
		t.Fatalf("expected override valid")
	}
}

func TestAdminOverrideDisabledWithoutHash(t *testing.T) {
	ctrl := NewEmergencyGrantController(zap.NewNop(), NewMemoryStateStore(), time.Hour, []string{"admin@example.com"}, "")
	if _, err := ctrl.IssueAdminOverride(context.Background(), "admin@example.com", "anything"); !errors.Is(err, ErrRecoveryDisabled) {
		t.Fatalf("expected ErrRecoveryDisabled, got %v", err)
	}
}

func TestClearAllRemovesGrants(t *testing.T) {
	store := NewMemoryStateStore()
	ctrl := NewEmergencyGrantController(zap.NewNop(), store, time.Hour, nil, "")
	if _, err := ctrl.Issue(context.Background(), "ops@example.com"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	ctrl.ClearAll(context.Background())
	if got := ctrl.CurrentValid(context.Background()); got != nil {
		t.Fatalf("expected no grant after ClearAll, got %+v", got)
	}
}
