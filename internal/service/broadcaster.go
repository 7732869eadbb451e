package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"auth-sync/internal/domain"
)

// Broadcaster publica y recibe notificaciones de cambio de estado entre
// agentes usando el marcador monotono del store como transporte. El
// transporte solo entrega "algo cambio": cada notificacion dispara una
// re-reconciliacion, nunca se aplica como delta.
type Broadcaster struct {
	logger *zap.Logger
	store  StateStore

	mu        sync.Mutex
	handlers  map[int]func()
	nextID    int
	selfMarks map[int64]struct{}
	started   bool
}

func NewBroadcaster(logger *zap.Logger, store StateStore) *Broadcaster {
	return &Broadcaster{
		logger:    logger,
		store:     store,
		handlers:  make(map[int]func()),
		selfMarks: make(map[int64]struct{}),
	}
}

// Publish sube el marcador de cambio. Los marcadores propios se recuerdan
// para no re-entregarse al agente que origino el cambio.
func (b *Broadcaster) Publish(ctx context.Context, event domain.ChangeEvent) {
	// El bump y el registro como propio ocurren bajo el mismo lock que toma
	// el loop de watch: el marcador no puede procesarse antes de quedar
	// marcado como propio.
	b.mu.Lock()
	marker, err := b.store.BumpChangeMarker(ctx)
	if err != nil {
		b.mu.Unlock()
		if b.logger != nil {
			b.logger.Warn("broadcast publish failed", zap.Error(err))
		}
		return
	}
	b.selfMarks[marker] = struct{}{}
	// Acotar el set de marcadores propios; solo interesan los recientes.
	if len(b.selfMarks) > 64 {
		for m := range b.selfMarks {
			if m < marker-64 {
				delete(b.selfMarks, m)
			}
		}
	}
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Debug("auth change published",
			zap.String("kind", string(event.Kind)),
			zap.Int64("marker", marker),
		)
	}
}

// Subscribe registra un handler que corre ante cambios de otros agentes.
func (b *Broadcaster) Subscribe(handler func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Start conecta el broadcaster al watch del store. Idempotente.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	ch, err := b.store.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for marker := range ch {
			b.mu.Lock()
			_, self := b.selfMarks[marker]
			if self {
				delete(b.selfMarks, marker)
			}
			handlers := make([]func(), 0, len(b.handlers))
			for _, h := range b.handlers {
				handlers = append(handlers, h)
			}
			b.mu.Unlock()
			if self {
				continue
			}
			for _, h := range handlers {
				h()
			}
		}
	}()
	return nil
}
