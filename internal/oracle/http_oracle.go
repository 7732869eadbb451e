package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"auth-sync/internal/domain"
)

// HTTPOracle implementa SessionOracle contra el endpoint de sesion del
// proveedor de identidad. Cada request lleva un timeout acotado: excederlo
// se trata igual que un error de oraculo.
type HTTPOracle struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int

	pollInterval time.Duration
	lastUserID   string
	lastExpiry   time.Time
	primed       bool
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewHTTPOracle construye el cliente apuntando al proveedor de identidad.
func NewHTTPOracle(baseURL, apiKey string, timeout, pollInterval time.Duration, logger *zap.Logger) *HTTPOracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &HTTPOracle{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		handlers:     make(map[int]Handler),
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
	}
}

type sessionPayload struct {
	Session *struct {
		UserID      string `json:"user_id"`
		Email       string `json:"email"`
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	} `json:"session"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GetSession consulta la sesion vigente. (nil, nil) significa que el
// proveedor respondio y no hay sesion.
func (o *HTTPOracle) GetSession(ctx context.Context) (*domain.Session, error) {
	body, status, err := o.get(ctx, "/session")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status == http.StatusNoContent || status == http.StatusUnauthorized {
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, status)
	}

	var payload sessionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal session: %v", ErrUnavailable, err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, payload.Error.Message)
	}
	if payload.Session == nil {
		return nil, nil
	}

	sess := &domain.Session{
		UserID:      payload.Session.UserID,
		Email:       payload.Session.Email,
		AccessToken: payload.Session.AccessToken,
	}
	if payload.Session.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(payload.Session.ExpiresAt, 0).UTC()
	}
	// Algunos proveedores omiten user_id/email en la respuesta de sesion;
	// los claims del access token los traen.
	if sess.UserID == "" || sess.Email == "" {
		fillFromToken(sess)
	}
	return sess, nil
}

// GetUser consulta el registro crudo del usuario actual.
func (o *HTTPOracle) GetUser(ctx context.Context) (*domain.User, error) {
	body, status, err := o.get(ctx, "/user")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if status == http.StatusNoContent || status == http.StatusUnauthorized {
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, status)
	}

	var payload struct {
		User *domain.User `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal user: %v", ErrUnavailable, err)
	}
	return payload.User, nil
}

// Subscribe registra un handler de cambios de sesion.
func (o *HTTPOracle) Subscribe(h Handler) Unsubscribe {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.handlers[id] = h
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.handlers, id)
	}
}

// Start lanza el loop de sondeo que deriva SIGNED_IN, SIGNED_OUT y
// TOKEN_REFRESHED comparando la sesion observada contra la anterior.
func (o *HTTPOracle) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(o.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stop:
				return
			case <-ticker.C:
				o.pollOnce(ctx)
			}
		}
	}()
}

// Close detiene el loop de sondeo.
func (o *HTTPOracle) Close() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *HTTPOracle) pollOnce(ctx context.Context) {
	sess, err := o.GetSession(ctx)
	if err != nil {
		// Un oraculo caido no genera eventos: no se puede distinguir
		// "sin sesion" de "inalcanzable".
		if o.logger != nil {
			o.logger.Debug("oracle poll failed", zap.Error(err))
		}
		return
	}

	o.mu.Lock()
	prevUserID := o.lastUserID
	prevExpiry := o.lastExpiry
	primed := o.primed
	if sess != nil {
		o.lastUserID = sess.UserID
		o.lastExpiry = sess.ExpiresAt
	} else {
		o.lastUserID = ""
		o.lastExpiry = time.Time{}
	}
	o.primed = true
	o.mu.Unlock()

	switch {
	case sess != nil && sess.UserID != prevUserID:
		o.emit(EventSignedIn, sess)
	case sess == nil && primed && prevUserID != "":
		o.emit(EventSignedOut, nil)
	case sess != nil && !sess.ExpiresAt.IsZero() && !sess.ExpiresAt.Equal(prevExpiry):
		o.emit(EventTokenRefreshed, sess)
	}
}

func (o *HTTPOracle) emit(ev Event, sess *domain.Session) {
	o.mu.Lock()
	handlers := make([]Handler, 0, len(o.handlers))
	for _, h := range o.handlers {
		handlers = append(handlers, h)
	}
	o.mu.Unlock()
	for _, h := range handlers {
		h(ev, sess)
	}
}

func (o *HTTPOracle) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// fillFromToken decodifica los claims del access token sin verificar la
// firma: la verificacion criptografica es responsabilidad del proveedor,
// aca solo se recupera identidad que la respuesta omitio.
func fillFromToken(sess *domain.Session) {
	if sess.AccessToken == "" {
		return
	}
	var claims struct {
		Email string `json:"email"`
		jwt.RegisteredClaims
	}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(sess.AccessToken, &claims); err != nil {
		return
	}
	if sess.UserID == "" {
		sess.UserID = claims.Subject
	}
	if sess.Email == "" {
		sess.Email = claims.Email
	}
	if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
}
