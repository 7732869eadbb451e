package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"auth-sync/internal/domain"
	"auth-sync/internal/repository"
)

type flakyProfileRepo struct {
	mu        sync.Mutex
	inner     *repository.MemoryProfileRepository
	failsLeft int
	inserts   int
}

func newFlakyProfileRepo(failsLeft int) *flakyProfileRepo {
	return &flakyProfileRepo{
		inner:     repository.NewMemoryProfileRepository(),
		failsLeft: failsLeft,
	}
}

func (r *flakyProfileRepo) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	r.mu.Lock()
	if r.failsLeft > 0 {
		r.failsLeft--
		r.mu.Unlock()
		return domain.Profile{}, errors.New("read tcp: connection reset by peer")
	}
	r.mu.Unlock()
	return r.inner.GetByID(ctx, id)
}

func (r *flakyProfileRepo) Insert(ctx context.Context, profile domain.Profile) error {
	r.mu.Lock()
	r.inserts++
	r.mu.Unlock()
	return r.inner.Insert(ctx, profile)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 4, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestResolveProfileReturnsExisting(t *testing.T) {
	repo := repository.NewMemoryProfileRepository()
	existing := domain.Profile{
		ID:        "u1",
		Email:     "u1@example.com",
		Role:      domain.RoleAdmin,
		Status:    domain.ProfileActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Insert(context.Background(), existing); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	prov := NewProfileProvisioner(zap.NewNop(), repo, NewMemoryStateStore(), fastRetry())
	got, err := prov.ResolveProfile(context.Background(), "u1", domain.SeedProfile{Email: "other@example.com"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.Email != "u1@example.com" || got.Role != domain.RoleAdmin {
		t.Fatalf("expected existing row untouched, got %+v", got)
	}
}

func TestResolveProfileCreatesWithRoleUser(t *testing.T) {
	repo := repository.NewMemoryProfileRepository()
	store := NewMemoryStateStore()
	prov := NewProfileProvisioner(zap.NewNop(), repo, store, fastRetry())

	got, err := prov.ResolveProfile(context.Background(), "u2", domain.SeedProfile{
		Email:     "u2@example.com",
		FirstName: "Nora",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.ID != "u2" {
		t.Fatalf("expected profile id == user id, got %q", got.ID)
	}
	if got.Role != domain.RoleUser || got.Status != domain.ProfileActive {
		t.Fatalf("expected new profile with role user, got %+v", got)
	}

	// Copia desnormalizada para sobrevivir caidas futuras del oraculo.
	cached, err := store.FallbackProfile(context.Background())
	if err != nil || cached == nil {
		t.Fatalf("expected fallback profile cached, got %v %v", cached, err)
	}
	if cached.ID != "u2" {
		t.Fatalf("expected cached profile u2, got %q", cached.ID)
	}
}

func TestResolveProfileConcurrentCallersSingleRow(t *testing.T) {
	repo := newFlakyProfileRepo(0)
	prov := NewProfileProvisioner(zap.NewNop(), repo, NewMemoryStateStore(), fastRetry())

	const n = 16
	var wg sync.WaitGroup
	results := make([]domain.Profile, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = prov.ResolveProfile(context.Background(), "u3", domain.SeedProfile{Email: "u3@example.com"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].ID != "u3" {
			t.Fatalf("caller %d got id %q", i, results[i].ID)
		}
	}

	stored, err := repo.GetByID(context.Background(), "u3")
	if err != nil {
		t.Fatalf("expected stored row, got %v", err)
	}
	if stored.ID != "u3" {
		t.Fatalf("expected single canonical row, got %+v", stored)
	}
}

func TestResolveProfileRetriesTransientFailures(t *testing.T) {
	repo := newFlakyProfileRepo(2)
	prov := NewProfileProvisioner(zap.NewNop(), repo, NewMemoryStateStore(), fastRetry())

	got, err := prov.ResolveProfile(context.Background(), "u4", domain.SeedProfile{Email: "u4@example.com"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got.ID != "u4" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestResolveProfileExhaustsRetries(t *testing.T) {
	repo := newFlakyProfileRepo(100)
	prov := NewProfileProvisioner(zap.NewNop(), repo, NewMemoryStateStore(), fastRetry())

	_, err := prov.ResolveProfile(context.Background(), "u5", domain.SeedProfile{Email: "u5@example.com"})
	if !errors.Is(err, ErrProvisionExhausted) {
		t.Fatalf("expected ErrProvisionExhausted, got %v", err)
	}
}

func TestResolveProfileRequiresUserID(t *testing.T) {
	prov := NewProfileProvisioner(zap.NewNop(), repository.NewMemoryProfileRepository(), NewMemoryStateStore(), fastRetry())
	if _, err := prov.ResolveProfile(context.Background(), "  ", domain.SeedProfile{}); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}
