package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auth-sync/internal/service"
)

// AuthHandler expone el AuthState reactivo y los triggers manuales a la
// capa de UI. No contiene logica de negocio: solo adapta el reconciliador
// al borde HTTP.
type AuthHandler struct {
	logger *zap.Logger
	rec    *service.Reconciler
	grants *service.EmergencyGrantController
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, rec *service.Reconciler, grants *service.EmergencyGrantController) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		rec:    rec,
		grants: grants,
	}
}

// GetState maneja GET /auth/state.
func (h *AuthHandler) GetState(c *gin.Context) {
	state := h.rec.State()
	c.JSON(http.StatusOK, gin.H{
		"state":            state,
		"is_authenticated": state.IsAuthenticated(),
		"is_admin":         h.rec.IsAdmin(c.Request.Context()),
		"is_loading":       state.IsLoading(),
	})
}

// Refresh maneja POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	h.rec.Refresh(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"status": "reconciling"})
}

// SignOut maneja POST /auth/signout.
func (h *AuthHandler) SignOut(c *gin.Context) {
	h.rec.SignOut(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "signed_out"})
}

// IssueGrant maneja POST /auth/recovery/grant.
func (h *AuthHandler) IssueGrant(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid grant request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	grant, err := h.grants.Issue(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrInvalidGrantEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		}
		h.logger.Error("grant issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue grant"})
		return
	}

	h.rec.Refresh(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{
		"grant":      grant,
		"expires_at": grant.ExpiresAt(),
	})
}

// IssueAdminOverride maneja POST /auth/recovery/admin-override.
func (h *AuthHandler) IssueAdminOverride(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		OperatorKey string `json:"operator_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid admin override request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	grant, err := h.grants.IssueAdminOverride(c.Request.Context(), req.Email, req.OperatorKey)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRecoveryDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "recovery disabled"})
			return
		case errors.Is(err, service.ErrRecoveryKeyInvalid),
			errors.Is(err, service.ErrNotInAdminAllowList):
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
			return
		case errors.Is(err, service.ErrInvalidGrantEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
			return
		default:
			h.logger.Error("admin override failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue override"})
			return
		}
	}

	h.rec.Refresh(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{
		"grant":      grant,
		"expires_at": grant.ExpiresAt(),
	})
}

// StreamStates maneja GET /auth/state/stream con server-sent events: cada
// AuthState comprometido se emite como un evento.
func (h *AuthHandler) StreamStates(c *gin.Context) {
	ch, unsubscribe := h.rec.SubscribeStates()
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	// Estado actual primero, luego cada cambio.
	c.SSEvent("auth_state", h.rec.State())
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("auth_state", state)
			c.Writer.Flush()
		}
	}
}
