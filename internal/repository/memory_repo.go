package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"auth-sync/internal/domain"
)

// MemoryProfileRepository implementa ProfileRepository en memoria. Sirve
// para despliegues sin capa de datos y para tests. Mantiene el mismo
// contrato que la implementacion pg: pgx.ErrNoRows en ausencia y un
// Insert que no pisa filas existentes.
type MemoryProfileRepository struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]domain.Profile)}
}

func (r *MemoryProfileRepository) GetByID(_ context.Context, id string) (domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[id]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	return profile, nil
}

func (r *MemoryProfileRepository) Insert(_ context.Context, profile domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; ok {
		// Conflicto: no-op, igual que ON CONFLICT DO NOTHING.
		return nil
	}
	r.profiles[profile.ID] = profile
	return nil
}
