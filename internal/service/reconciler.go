package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"auth-sync/internal/alert"
	"auth-sync/internal/domain"
	"auth-sync/internal/oracle"
)

// Trigger identifica que disparo una pasada de reconciliacion.
type Trigger string

const (
	TriggerMount       Trigger = "mount"
	TriggerOracleEvent Trigger = "oracle_event"
	TriggerBroadcast   Trigger = "broadcast"
	TriggerManual      Trigger = "manual"
	TriggerSweep       Trigger = "sweep"
)

type profileResolver interface {
	ResolveProfile(ctx context.Context, userID string, seed domain.SeedProfile) (domain.Profile, error)
}

type grantSource interface {
	CurrentValid(ctx context.Context) *domain.EmergencyGrant
	AdminOverrideValid(ctx context.Context) *domain.EmergencyGrant
	ClearAll(ctx context.Context)
}

type changePublisher interface {
	Publish(ctx context.Context, event domain.ChangeEvent)
	Subscribe(handler func()) func()
}

// ReconcilerConfig agrupa los parametros de tiempo del reconciliador.
type ReconcilerConfig struct {
	// GraceWindow evita mostrar un falso "signed out" durante un arranque
	// lento: dentro de la ventana un fallo total produce unknown, no error.
	GraceWindow time.Duration
	// SnapshotMaxAge define cuando un snapshot persistido es obviamente
	// viejo y deja de servir como fallback.
	SnapshotMaxAge time.Duration
	// SweepAttempts/SweepDelay acotan el barrido agresivo de arranque.
	SweepAttempts int
	SweepDelay    time.Duration
	// AlertStreak es el numero de fallos consecutivos del oraculo que
	// dispara un aviso al operador.
	AlertStreak int
}

func (c ReconcilerConfig) normalized() ReconcilerConfig {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 8 * time.Second
	}
	if c.SnapshotMaxAge <= 0 {
		c.SnapshotMaxAge = 7 * 24 * time.Hour
	}
	if c.SweepAttempts <= 0 {
		c.SweepAttempts = 3
	}
	if c.SweepDelay <= 0 {
		c.SweepDelay = 2 * time.Second
	}
	if c.AlertStreak <= 0 {
		c.AlertStreak = 5
	}
	return c
}

// Reconciler fusiona las fuentes parcialmente confiables (oraculo remoto,
// snapshot persistido, concesion de emergencia, broadcasts) en un unico
// AuthState canonico. Es seguro ante triggers superpuestos: la pasada mas
// nueva gana por timestamp, no por orden de llegada.
type Reconciler struct {
	logger      *zap.Logger
	oracle      oracle.SessionOracle
	provisioner profileResolver
	store       StateStore
	grants      grantSource
	broadcaster changePublisher
	alerts      alert.Sender
	cfg         ReconcilerConfig
	now         func() time.Time

	mu        sync.Mutex
	current   domain.AuthState
	startedAt time.Time
	subs      map[int]chan domain.AuthState
	nextSub   int

	failMu     sync.Mutex
	failStreak int
	lastFail   error
	alerted    bool
}

func NewReconciler(
	logger *zap.Logger,
	sessionOracle oracle.SessionOracle,
	provisioner profileResolver,
	store StateStore,
	grants grantSource,
	broadcaster changePublisher,
	alerts alert.Sender,
	cfg ReconcilerConfig,
) *Reconciler {
	now := func() time.Time { return time.Now().UTC() }
	return &Reconciler{
		logger:      logger,
		oracle:      sessionOracle,
		provisioner: provisioner,
		store:       store,
		grants:      grants,
		broadcaster: broadcaster,
		alerts:      alerts,
		cfg:         cfg.normalized(),
		now:         now,
		current:     domain.AuthState{Status: domain.StatusUnknown, Timestamp: now()},
		subs:        make(map[int]chan domain.AuthState),
	}
}

// Start registra las suscripciones (eventos del oraculo, broadcasts) y
// corre la pasada inicial mas el barrido de recuperacion acotado.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	r.startedAt = r.now()
	r.mu.Unlock()

	r.oracle.Subscribe(func(ev oracle.Event, _ *domain.Session) {
		if r.logger != nil {
			r.logger.Debug("oracle event", zap.String("event", string(ev)))
		}
		go r.Reconcile(ctx, TriggerOracleEvent)
	})
	if r.broadcaster != nil {
		r.broadcaster.Subscribe(func() {
			go r.Reconcile(ctx, TriggerBroadcast)
		})
	}

	r.Reconcile(ctx, TriggerMount)

	// Pre-chequeo barato: si el flag logged-in quedo en el store pero la
	// pasada inicial no logro autenticar, el arranque fue mas lento que
	// el oraculo y vale la pena insistir un numero acotado de veces.
	loggedIn, _ := r.store.LoggedIn(ctx)
	if loggedIn && !r.State().IsAuthenticated() {
		go r.recoverySweep(ctx)
	}
}

func (r *Reconciler) recoverySweep(ctx context.Context) {
	for attempt := 0; attempt < r.cfg.SweepAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.SweepDelay):
		}
		if r.State().IsAuthenticated() {
			return
		}
		r.Reconcile(ctx, TriggerSweep)
	}
}

// State devuelve el AuthState actual.
func (r *Reconciler) State() domain.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// IsAdmin proyecta profile.role == admin, o un override de admin vigente
// validado por separado.
func (r *Reconciler) IsAdmin(ctx context.Context) bool {
	state := r.State()
	if !state.IsAuthenticated() {
		return false
	}
	if state.Profile != nil && state.Profile.IsAdmin() {
		return true
	}
	if override := r.grants.AdminOverrideValid(ctx); override != nil {
		return normalizeEmail(override.Email) == normalizeEmail(state.Email)
	}
	return false
}

// SubscribeStates entrega cada AuthState comprometido. El canal se cierra
// al desuscribir.
func (r *Reconciler) SubscribeStates() (<-chan domain.AuthState, func()) {
	ch := make(chan domain.AuthState, 8)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
	}
}

// Refresh dispara una reconciliacion manual sin bloquear al llamador. La
// pasada se desacopla de la cancelacion del contexto recibido: un request
// HTTP que ya respondio no debe abortar la reconciliacion en curso.
func (r *Reconciler) Refresh(ctx context.Context) {
	go r.Reconcile(context.WithoutCancel(ctx), TriggerManual)
}

// SignOut transiciona explicitamente a unauthenticated, limpia snapshot y
// concesiones y avisa a los demas agentes.
func (r *Reconciler) SignOut(ctx context.Context) {
	state := domain.AuthState{
		Status:    domain.StatusUnauthenticated,
		Source:    domain.SourceOracle,
		Timestamp: r.now(),
	}
	if r.commit(state) {
		r.clearPersisted(ctx)
		r.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedOut})
	}
}

// Reconcile corre una pasada completa: consulta las fuentes en orden
// estricto de prioridad y compromete el primer resultado. Tolerante a
// pasadas superpuestas.
func (r *Reconciler) Reconcile(ctx context.Context, trigger Trigger) domain.AuthState {
	began := r.now()
	r.commit(domain.AuthState{Status: domain.StatusChecking, Timestamp: began})

	state := r.resolve(ctx, began)
	committed := r.commit(state)
	if r.logger != nil {
		r.logger.Debug("reconciliation pass",
			zap.String("trigger", string(trigger)),
			zap.String("status", string(state.Status)),
			zap.String("source", string(state.Source)),
			zap.Bool("committed", committed),
		)
	}
	if !committed {
		return r.State()
	}

	switch {
	case state.Status == domain.StatusAuthenticated && state.Source == domain.SourceOracle:
		r.writeThrough(ctx, state)
		r.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedIn, UserID: state.UserID, Email: state.Email})
	case state.Status == domain.StatusAuthenticated && state.Source == domain.SourceEmergency:
		// Sin snapshot: el cache nunca inventa un usuario que el oraculo
		// no haya avalado. Solo el flag y el aviso a otros agentes.
		if err := r.store.SetLoggedIn(ctx, true); err != nil {
			r.warnStore("logged-in flag write failed", err)
		}
		r.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeGrantIssued, Email: state.Email})
	case state.Status == domain.StatusUnauthenticated:
		r.clearPersisted(ctx)
		r.publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedOut})
	}
	return state
}

// resolve aplica la cadena de prioridad: oraculo → sin-sesion definitivo
// → snapshot persistido → concesion de emergencia → error/unknown.
func (r *Reconciler) resolve(ctx context.Context, began time.Time) domain.AuthState {
	sess, err := r.oracle.GetSession(ctx)
	if err == nil {
		r.resetFailures()
		if sess == nil {
			// Respuesta definitiva del oraculo: no hay sesion. Distinto
			// de "oraculo inalcanzable", que cae al siguiente paso.
			return domain.AuthState{
				Status:    domain.StatusUnauthenticated,
				Source:    domain.SourceOracle,
				Timestamp: began,
			}
		}
		if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(r.now()) {
			return domain.AuthState{
				Status:    domain.StatusExpired,
				UserID:    sess.UserID,
				Email:     sess.Email,
				Source:    domain.SourceOracle,
				Timestamp: began,
			}
		}
		return r.authenticatedFromOracle(ctx, sess, began)
	}

	r.recordFailure(ctx, err)

	// Paso 3: snapshot persistido, si no esta obviamente viejo.
	snap, serr := r.store.Snapshot(ctx)
	if serr != nil {
		r.warnStore("snapshot read failed", serr)
	}
	if snap != nil {
		if snap.StaleAt(r.now(), r.cfg.SnapshotMaxAge) {
			if cerr := r.store.ClearSnapshot(ctx); cerr != nil {
				r.warnStore("stale snapshot clear failed", cerr)
			}
		} else {
			state := domain.AuthState{
				Status:    domain.StatusAuthenticated,
				UserID:    snap.UserID,
				Email:     snap.Email,
				Source:    domain.SourcePersisted,
				Degraded:  true,
				Timestamp: began,
			}
			if profile, perr := r.store.FallbackProfile(ctx); perr == nil && profile != nil {
				state.Profile = profile
			}
			return state
		}
	}

	// Paso 4: concesion de emergencia vigente.
	if grant := r.grants.CurrentValid(ctx); grant != nil {
		now := r.now()
		return domain.AuthState{
			Status: domain.StatusAuthenticated,
			Email:  grant.Email,
			Profile: &domain.Profile{
				ID:        "emergency:" + grant.Email,
				Email:     grant.Email,
				Role:      grant.Role,
				Status:    domain.ProfileActive,
				CreatedAt: now,
				UpdatedAt: now,
			},
			Source:    domain.SourceEmergency,
			Degraded:  true,
			Timestamp: began,
		}
	}

	// Paso 5: sin fallback. Dentro de la ventana de gracia se reporta
	// unknown para no mostrar un falso "signed out" en arranques lentos.
	status := domain.StatusError
	r.mu.Lock()
	startedAt := r.startedAt
	r.mu.Unlock()
	if !startedAt.IsZero() && r.now().Sub(startedAt) < r.cfg.GraceWindow {
		status = domain.StatusUnknown
	}
	return domain.AuthState{Status: status, Timestamp: began}
}

func (r *Reconciler) authenticatedFromOracle(ctx context.Context, sess *domain.Session, began time.Time) domain.AuthState {
	state := domain.AuthState{
		Status:    domain.StatusAuthenticated,
		UserID:    sess.UserID,
		Email:     sess.Email,
		Source:    domain.SourceOracle,
		Timestamp: began,
	}

	seed := domain.SeedProfile{Email: normalizeEmail(sess.Email)}
	if user, uerr := r.oracle.GetUser(ctx); uerr == nil && user != nil {
		if state.UserID == "" {
			state.UserID = user.ID
		}
		if state.Email == "" {
			state.Email = normalizeEmail(user.Email)
		}
		seed = ExtractSeedProfile(*user)
	}

	// La ausencia de perfil no bloquea authenticated: solo lo omite y
	// marca el estado como degradado.
	profile, perr := r.provisioner.ResolveProfile(ctx, state.UserID, seed)
	if perr != nil {
		if r.logger != nil {
			r.logger.Warn("profile resolution degraded", zap.String("user_id", state.UserID), zap.Error(perr))
		}
		state.Degraded = true
		return state
	}
	state.Profile = &profile
	if state.Email == "" {
		state.Email = profile.Email
	}
	return state
}

// commit reemplaza el estado actual solo si el nuevo no es mas viejo:
// una pasada lenta y desactualizada no pisa un resultado mas nuevo.
func (r *Reconciler) commit(state domain.AuthState) bool {
	r.mu.Lock()
	if state.Timestamp.Before(r.current.Timestamp) {
		r.mu.Unlock()
		return false
	}
	r.current = state
	subs := make([]chan domain.AuthState, 0, len(r.subs))
	for _, ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- state:
		default:
		}
	}
	return true
}

func (r *Reconciler) writeThrough(ctx context.Context, state domain.AuthState) {
	role := domain.RoleUser
	if state.Profile != nil {
		role = state.Profile.Role
	}
	snap := domain.PersistedSnapshot{
		UserID:    state.UserID,
		Email:     state.Email,
		Role:      role,
		Timestamp: state.Timestamp,
	}
	if err := r.store.SetSnapshot(ctx, snap); err != nil {
		r.warnStore("snapshot write failed", err)
	}
	if err := r.store.SetLoggedIn(ctx, true); err != nil {
		r.warnStore("logged-in flag write failed", err)
	}
}

func (r *Reconciler) clearPersisted(ctx context.Context) {
	if err := r.store.ClearSnapshot(ctx); err != nil {
		r.warnStore("snapshot clear failed", err)
	}
	if err := r.store.ClearFallbackProfile(ctx); err != nil {
		r.warnStore("fallback profile clear failed", err)
	}
	if err := r.store.SetLoggedIn(ctx, false); err != nil {
		r.warnStore("logged-in flag clear failed", err)
	}
	r.grants.ClearAll(ctx)
}

func (r *Reconciler) publish(ctx context.Context, event domain.ChangeEvent) {
	if r.broadcaster != nil {
		r.broadcaster.Publish(ctx, event)
	}
}

func (r *Reconciler) recordFailure(ctx context.Context, err error) {
	r.failMu.Lock()
	r.failStreak++
	r.lastFail = err
	streak := r.failStreak
	shouldAlert := streak >= r.cfg.AlertStreak && !r.alerted
	if shouldAlert {
		r.alerted = true
	}
	r.failMu.Unlock()

	if r.logger != nil {
		r.logger.Warn("session oracle failed", zap.Int("streak", streak), zap.Error(err))
	}
	if shouldAlert && r.alerts != nil {
		go func() {
			if aerr := r.alerts.SendOracleDown(ctx, streak, err); aerr != nil && r.logger != nil {
				r.logger.Warn("oracle-down alert failed", zap.Error(aerr))
			}
		}()
	}
}

func (r *Reconciler) resetFailures() {
	r.failMu.Lock()
	r.failStreak = 0
	r.lastFail = nil
	r.alerted = false
	r.failMu.Unlock()
}

func (r *Reconciler) warnStore(msg string, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, zap.Error(err))
	}
}
