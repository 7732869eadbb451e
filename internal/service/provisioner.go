package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"auth-sync/internal/domain"
	"auth-sync/internal/repository"
)

var (
	// ErrProvisionExhausted indica que se agotaron los reintentos. El
	// reconciliador degrada a estado autenticado sin perfil en vez de
	// bloquear el sign-in.
	ErrProvisionExhausted = errors.New("profile provisioning exhausted")
)

// ProfileProvisioner resuelve el perfil de un usuario de forma
// idempotente: lee el existente o crea uno nuevo a partir de los datos
// semilla. Creadores concurrentes nunca producen filas duplicadas.
type ProfileProvisioner struct {
	logger *zap.Logger
	repo   repository.ProfileRepository
	store  StateStore
	retry  RetryPolicy
	now    func() time.Time
}

func NewProfileProvisioner(logger *zap.Logger, repo repository.ProfileRepository, store StateStore, retry RetryPolicy) *ProfileProvisioner {
	return &ProfileProvisioner{
		logger: logger,
		repo:   repo,
		store:  store,
		retry:  retry.normalized(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveProfile devuelve el perfil para userID, creandolo si no existe.
// Fallos transitorios se reintentan con backoff; al agotar los intentos
// devuelve ErrProvisionExhausted envuelto.
func (p *ProfileProvisioner) ResolveProfile(ctx context.Context, userID string, seed domain.SeedProfile) (domain.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Profile{}, errors.New("user id is required")
	}
	if p.repo == nil {
		return domain.Profile{}, errors.New("profile provisioner not configured")
	}

	var resolved domain.Profile
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		profile, err := p.resolveOnce(ctx, userID, seed)
		if err != nil {
			return err
		}
		resolved = profile
		return nil
	}, isTransient)
	if err != nil {
		if isTransient(err) {
			return domain.Profile{}, fmt.Errorf("%w: %v", ErrProvisionExhausted, err)
		}
		return domain.Profile{}, err
	}

	p.cacheFallback(ctx, resolved)
	return resolved, nil
}

func (p *ProfileProvisioner) resolveOnce(ctx context.Context, userID string, seed domain.SeedProfile) (domain.Profile, error) {
	existing, err := p.repo.GetByID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, err
	}

	now := p.now()
	profile := domain.Profile{
		ID:        userID,
		Email:     seed.Email,
		FirstName: seed.FirstName,
		LastName:  seed.LastName,
		AvatarURL: seed.AvatarURL,
		Role:      domain.RoleUser,
		Status:    domain.ProfileActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.repo.Insert(ctx, profile); err != nil {
		if !isUniqueViolation(err) {
			return domain.Profile{}, err
		}
		// Otro agente gano la carrera; la fila ya existe.
	}

	// Releer siempre: con ON CONFLICT DO NOTHING la fila canonica puede
	// ser la del creador concurrente, no la recien construida.
	stored, err := p.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, fmt.Errorf("profile vanished after insert: %w", err)
		}
		return domain.Profile{}, err
	}
	return stored, nil
}

// cacheFallback guarda una copia desnormalizada en el store para poder
// mostrar una identidad plausible durante una caida futura del oraculo.
func (p *ProfileProvisioner) cacheFallback(ctx context.Context, profile domain.Profile) {
	if p.store == nil {
		return
	}
	if err := p.store.SetFallbackProfile(ctx, profile); err != nil {
		if p.logger != nil {
			p.logger.Warn("fallback profile cache write failed", zap.Error(err))
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isTransient clasifica errores de clase timeout/conexion-reseteada que
// ameritan reintento.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin_shutdown, 53300 too_many_connections, 08XXX fallos
		// de conexion.
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "53300" {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout")
}
