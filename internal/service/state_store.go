package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"auth-sync/internal/domain"
)

// ErrStoreUnavailable indica que el almacenamiento local no esta
// disponible. Los llamadores lo tratan como "cache inexistente", nunca
// como error fatal: el sistema degrada a modo solo-oraculo.
var ErrStoreUnavailable = errors.New("state store unavailable")

// StateStore es el unico componente que conoce los nombres literales de
// las claves de almacenamiento. Todo el resto direcciona los datos por
// accesores semanticos.
type StateStore interface {
	Snapshot(ctx context.Context) (*domain.PersistedSnapshot, error)
	SetSnapshot(ctx context.Context, snap domain.PersistedSnapshot) error
	ClearSnapshot(ctx context.Context) error

	FallbackProfile(ctx context.Context) (*domain.Profile, error)
	SetFallbackProfile(ctx context.Context, profile domain.Profile) error
	ClearFallbackProfile(ctx context.Context) error

	EmergencyGrant(ctx context.Context) (*domain.EmergencyGrant, error)
	SetEmergencyGrant(ctx context.Context, grant domain.EmergencyGrant) error
	ClearEmergencyGrant(ctx context.Context) error

	AdminOverride(ctx context.Context) (*domain.EmergencyGrant, error)
	SetAdminOverride(ctx context.Context, grant domain.EmergencyGrant) error
	ClearAdminOverride(ctx context.Context) error

	LoggedIn(ctx context.Context) (bool, error)
	SetLoggedIn(ctx context.Context, v bool) error

	ChangeMarker(ctx context.Context) (int64, error)
	BumpChangeMarker(ctx context.Context) (int64, error)
	// Watch entrega valores del marcador cuando otro escritor lo sube.
	// La entrega es at-least-once y sin orden garantizado dentro del
	// mismo tick; el consumidor debe releer el store, no confiar en el
	// valor como delta.
	Watch(ctx context.Context) (<-chan int64, error)
}

// Esquema de claves, version fija. Nadie fuera de este archivo debe
// construir ni escanear claves.
const (
	keyPrefix          = "authsync:v1:"
	keySnapshot        = keyPrefix + "snapshot"
	keyFallbackProfile = keyPrefix + "fallback_profile"
	keyEmergencyGrant  = keyPrefix + "emergency_grant"
	keyAdminOverride   = keyPrefix + "admin_override"
	keyLoggedIn        = keyPrefix + "logged_in"
	keyChangeMarker    = keyPrefix + "last_update"
)

// --- Implementacion en memoria ---

type memoryStateStore struct {
	mu       sync.Mutex
	items    map[string]string
	marker   int64
	watchers map[int]chan int64
	nextID   int
}

// NewMemoryStateStore crea un store en memoria para un solo proceso y
// para tests.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{
		items:    make(map[string]string),
		watchers: make(map[int]chan int64),
	}
}

func (s *memoryStateStore) getJSON(key string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.items[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, key, err)
	}
	return true, nil
}

func (s *memoryStateStore) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreUnavailable, key, err)
	}
	s.mu.Lock()
	s.items[key] = string(raw)
	s.mu.Unlock()
	return nil
}

func (s *memoryStateStore) remove(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

func (s *memoryStateStore) Snapshot(_ context.Context) (*domain.PersistedSnapshot, error) {
	var snap domain.PersistedSnapshot
	ok, err := s.getJSON(keySnapshot, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *memoryStateStore) SetSnapshot(_ context.Context, snap domain.PersistedSnapshot) error {
	return s.setJSON(keySnapshot, snap)
}

func (s *memoryStateStore) ClearSnapshot(_ context.Context) error {
	s.remove(keySnapshot)
	return nil
}

func (s *memoryStateStore) FallbackProfile(_ context.Context) (*domain.Profile, error) {
	var p domain.Profile
	ok, err := s.getJSON(keyFallbackProfile, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *memoryStateStore) SetFallbackProfile(_ context.Context, profile domain.Profile) error {
	return s.setJSON(keyFallbackProfile, profile)
}

func (s *memoryStateStore) ClearFallbackProfile(_ context.Context) error {
	s.remove(keyFallbackProfile)
	return nil
}

func (s *memoryStateStore) EmergencyGrant(_ context.Context) (*domain.EmergencyGrant, error) {
	var g domain.EmergencyGrant
	ok, err := s.getJSON(keyEmergencyGrant, &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (s *memoryStateStore) SetEmergencyGrant(_ context.Context, grant domain.EmergencyGrant) error {
	return s.setJSON(keyEmergencyGrant, grant)
}

func (s *memoryStateStore) ClearEmergencyGrant(_ context.Context) error {
	s.remove(keyEmergencyGrant)
	return nil
}

func (s *memoryStateStore) AdminOverride(_ context.Context) (*domain.EmergencyGrant, error) {
	var g domain.EmergencyGrant
	ok, err := s.getJSON(keyAdminOverride, &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (s *memoryStateStore) SetAdminOverride(_ context.Context, grant domain.EmergencyGrant) error {
	return s.setJSON(keyAdminOverride, grant)
}

func (s *memoryStateStore) ClearAdminOverride(_ context.Context) error {
	s.remove(keyAdminOverride)
	return nil
}

func (s *memoryStateStore) LoggedIn(_ context.Context) (bool, error) {
	s.mu.Lock()
	raw, ok := s.items[keyLoggedIn]
	s.mu.Unlock()
	return ok && raw == "true", nil
}

func (s *memoryStateStore) SetLoggedIn(_ context.Context, v bool) error {
	s.mu.Lock()
	if v {
		s.items[keyLoggedIn] = "true"
	} else {
		delete(s.items, keyLoggedIn)
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStateStore) ChangeMarker(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *memoryStateStore) BumpChangeMarker(_ context.Context) (int64, error) {
	// Los envios ocurren bajo el lock, igual que el close del canal al
	// cancelar un watch: nunca se envia sobre un canal ya cerrado.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker++
	for _, ch := range s.watchers {
		select {
		case ch <- s.marker:
		default:
			// Watcher lento: se pierde este tick pero el siguiente
			// publish vuelve a despertar, at-least-once sobre el total.
		}
	}
	return s.marker, nil
}

func (s *memoryStateStore) Watch(ctx context.Context) (<-chan int64, error) {
	ch := make(chan int64, 8)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
		s.mu.Unlock()
	}()
	return ch, nil
}

// --- Implementacion redis ---

type redisStateStore struct {
	client       *redis.Client
	pollInterval time.Duration
}

// NewRedisStateStore crea un store compartido entre procesos. El watch se
// implementa sondeando el marcador: la convergencia entre agentes queda
// acotada por pollInterval.
func NewRedisStateStore(client *redis.Client, pollInterval time.Duration) StateStore {
	if client == nil {
		return nil
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &redisStateStore{client: client, pollInterval: pollInterval}
}

func (s *redisStateStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 500*time.Millisecond)
}

func (s *redisStateStore) getJSON(key string, out any) (bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, key, err)
	}
	return true, nil
}

func (s *redisStateStore) setJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrStoreUnavailable, key, err)
	}
	ctx, cancel := s.opCtx()
	defer cancel()
	if err := s.client.Set(ctx, key, string(raw), 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStateStore) remove(key string) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStateStore) Snapshot(_ context.Context) (*domain.PersistedSnapshot, error) {
	var snap domain.PersistedSnapshot
	ok, err := s.getJSON(keySnapshot, &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *redisStateStore) SetSnapshot(_ context.Context, snap domain.PersistedSnapshot) error {
	return s.setJSON(keySnapshot, snap)
}

func (s *redisStateStore) ClearSnapshot(_ context.Context) error {
	return s.remove(keySnapshot)
}

func (s *redisStateStore) FallbackProfile(_ context.Context) (*domain.Profile, error) {
	var p domain.Profile
	ok, err := s.getJSON(keyFallbackProfile, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *redisStateStore) SetFallbackProfile(_ context.Context, profile domain.Profile) error {
	return s.setJSON(keyFallbackProfile, profile)
}

func (s *redisStateStore) ClearFallbackProfile(_ context.Context) error {
	return s.remove(keyFallbackProfile)
}

func (s *redisStateStore) EmergencyGrant(_ context.Context) (*domain.EmergencyGrant, error) {
	var g domain.EmergencyGrant
	ok, err := s.getJSON(keyEmergencyGrant, &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (s *redisStateStore) SetEmergencyGrant(_ context.Context, grant domain.EmergencyGrant) error {
	return s.setJSON(keyEmergencyGrant, grant)
}

func (s *redisStateStore) ClearEmergencyGrant(_ context.Context) error {
	return s.remove(keyEmergencyGrant)
}

func (s *redisStateStore) AdminOverride(_ context.Context) (*domain.EmergencyGrant, error) {
	var g domain.EmergencyGrant
	ok, err := s.getJSON(keyAdminOverride, &g)
	if err != nil || !ok {
		return nil, err
	}
	return &g, nil
}

func (s *redisStateStore) SetAdminOverride(_ context.Context, grant domain.EmergencyGrant) error {
	return s.setJSON(keyAdminOverride, grant)
}

func (s *redisStateStore) ClearAdminOverride(_ context.Context) error {
	return s.remove(keyAdminOverride)
}

func (s *redisStateStore) LoggedIn(_ context.Context) (bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	raw, err := s.client.Get(ctx, keyLoggedIn).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return raw == "true", nil
}

func (s *redisStateStore) SetLoggedIn(_ context.Context, v bool) error {
	if !v {
		return s.remove(keyLoggedIn)
	}
	ctx, cancel := s.opCtx()
	defer cancel()
	if err := s.client.Set(ctx, keyLoggedIn, "true", 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *redisStateStore) ChangeMarker(_ context.Context) (int64, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	raw, err := s.client.Get(ctx, keyChangeMarker).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	marker, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: marker corrupt: %v", ErrStoreUnavailable, err)
	}
	return marker, nil
}

func (s *redisStateStore) BumpChangeMarker(_ context.Context) (int64, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	marker, err := s.client.Incr(ctx, keyChangeMarker).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return marker, nil
}

func (s *redisStateStore) Watch(ctx context.Context) (<-chan int64, error) {
	last, err := s.ChangeMarker(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan int64, 8)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				marker, err := s.ChangeMarker(ctx)
				if err != nil || marker == last {
					continue
				}
				last = marker
				select {
				case ch <- marker:
				default:
				}
			}
		}
	}()
	return ch, nil
}
