package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"auth-sync/internal/domain"
)

var (
	ErrInvalidGrantEmail   = errors.New("invalid grant email")
	ErrRecoveryDisabled    = errors.New("recovery key not configured")
	ErrRecoveryKeyInvalid  = errors.New("recovery key invalid")
	ErrNotInAdminAllowList = errors.New("email not in admin allow list")
)

// Limite duro del TTL de una concesion. Nunca se renueva en silencio:
// cada emision requiere un disparo explicito.
const maxGrantTTL = time.Hour

// EmergencyGrantController emite, valida y expira concesiones locales
// acotadas en el tiempo. Una concesion trata la sesion como autenticada
// sin oraculo vivo; es estrictamente un camino de recuperacion ante
// desastres.
type EmergencyGrantController struct {
	logger          *zap.Logger
	store           StateStore
	ttl             time.Duration
	allowList       map[string]struct{}
	recoveryKeyHash string
	now             func() time.Time
}

func NewEmergencyGrantController(logger *zap.Logger, store StateStore, ttl time.Duration, allowList []string, recoveryKeyHash string) *EmergencyGrantController {
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	if ttl > maxGrantTTL {
		ttl = maxGrantTTL
	}
	allowed := make(map[string]struct{}, len(allowList))
	for _, email := range allowList {
		email = normalizeEmail(email)
		if email != "" {
			allowed[email] = struct{}{}
		}
	}
	return &EmergencyGrantController{
		logger:          logger,
		store:           store,
		ttl:             ttl,
		allowList:       allowed,
		recoveryKeyHash: strings.TrimSpace(recoveryKeyHash),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Issue emite una concesion de emergencia con rol user.
func (c *EmergencyGrantController) Issue(ctx context.Context, email string) (domain.EmergencyGrant, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.EmergencyGrant{}, ErrInvalidGrantEmail
	}
	grant := domain.EmergencyGrant{
		ID:       uuid.NewString(),
		Email:    email,
		Role:     domain.RoleUser,
		IssuedAt: c.now(),
		TTL:      c.ttl,
	}
	if err := c.store.SetEmergencyGrant(ctx, grant); err != nil {
		return domain.EmergencyGrant{}, err
	}
	if c.logger != nil {
		c.logger.Warn("emergency grant issued",
			zap.String("grant_id", grant.ID),
			zap.String("email", email),
			zap.Time("expires_at", grant.ExpiresAt()),
		)
	}
	return grant, nil
}

// IssueAdminOverride emite un override de admin. Exige la clave de
// recuperacion del operador (verificada contra el hash bcrypt de config)
// y pertenencia a la allow-list: nunca se infiere de estado cliente sin
// verificar.
func (c *EmergencyGrantController) IssueAdminOverride(ctx context.Context, email, operatorKey string) (domain.EmergencyGrant, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.EmergencyGrant{}, ErrInvalidGrantEmail
	}
	if c.recoveryKeyHash == "" {
		return domain.EmergencyGrant{}, ErrRecoveryDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.recoveryKeyHash), []byte(operatorKey)); err != nil {
		return domain.EmergencyGrant{}, ErrRecoveryKeyInvalid
	}
	if _, ok := c.allowList[email]; !ok {
		return domain.EmergencyGrant{}, ErrNotInAdminAllowList
	}
	grant := domain.EmergencyGrant{
		ID:       uuid.NewString(),
		Email:    email,
		Role:     domain.RoleAdmin,
		IssuedAt: c.now(),
		TTL:      c.ttl,
	}
	if err := c.store.SetAdminOverride(ctx, grant); err != nil {
		return domain.EmergencyGrant{}, err
	}
	if c.logger != nil {
		c.logger.Warn("admin override issued",
			zap.String("grant_id", grant.ID),
			zap.String("email", email),
			zap.Time("expires_at", grant.ExpiresAt()),
		)
	}
	return grant, nil
}

// CurrentValid devuelve la concesion de emergencia vigente, o nil. El TTL
// se revisa contra el reloj en cada llamada; una concesion vencida se
// limpia defensivamente y jamas se devuelve.
func (c *EmergencyGrantController) CurrentValid(ctx context.Context) *domain.EmergencyGrant {
	grant, err := c.store.EmergencyGrant(ctx)
	if err != nil || grant == nil {
		return nil
	}
	if !grant.ValidAt(c.now()) {
		if err := c.store.ClearEmergencyGrant(ctx); err != nil && c.logger != nil {
			c.logger.Warn("stale emergency grant clear failed", zap.Error(err))
		}
		return nil
	}
	return grant
}

// AdminOverrideValid devuelve el override de admin vigente, o nil. Misma
// disciplina de TTL que CurrentValid.
func (c *EmergencyGrantController) AdminOverrideValid(ctx context.Context) *domain.EmergencyGrant {
	grant, err := c.store.AdminOverride(ctx)
	if err != nil || grant == nil {
		return nil
	}
	if !grant.ValidAt(c.now()) {
		if err := c.store.ClearAdminOverride(ctx); err != nil && c.logger != nil {
			c.logger.Warn("stale admin override clear failed", zap.Error(err))
		}
		return nil
	}
	return grant
}

// ClearIfExpired limpia proactivamente concesiones vencidas.
func (c *EmergencyGrantController) ClearIfExpired(ctx context.Context) {
	c.CurrentValid(ctx)
	c.AdminOverrideValid(ctx)
}

// ClearAll elimina toda concesion, vigente o no. Se usa en sign-out.
func (c *EmergencyGrantController) ClearAll(ctx context.Context) {
	if err := c.store.ClearEmergencyGrant(ctx); err != nil && c.logger != nil {
		c.logger.Warn("emergency grant clear failed", zap.Error(err))
	}
	if err := c.store.ClearAdminOverride(ctx); err != nil && c.logger != nil {
		c.logger.Warn("admin override clear failed", zap.Error(err))
	}
}
