package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-sync/internal/domain"
)

// ProfileRepository define el contrato de persistencia para perfiles.
// Insert debe ser tolerante a conflictos: dos agentes pueden correr a
// aprovisionar el mismo perfil y el segundo no debe fallar.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (domain.Profile, error)
	Insert(ctx context.Context, profile domain.Profile) error
}

// PgProfileRepository implementa ProfileRepository usando pgxpool.
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

func (r *PgProfileRepository) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	const query = `
		SELECT id, email, first_name, last_name, avatar_url, role, status, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	var p domain.Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Email,
		&p.FirstName,
		&p.LastName,
		&p.AvatarURL,
		&p.Role,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, err
	}
	return p, err
}

func (r *PgProfileRepository) Insert(ctx context.Context, profile domain.Profile) error {
	// ON CONFLICT DO NOTHING: si otro agente ya inserto la fila, el insert
	// es un no-op y el llamador relee la fila existente.
	const query = `
		INSERT INTO profiles (id, email, first_name, last_name, avatar_url, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.Email,
		profile.FirstName,
		profile.LastName,
		profile.AvatarURL,
		profile.Role,
		profile.Status,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	return err
}
