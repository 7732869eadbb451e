package oracle

import (
	"context"
	"errors"

	"auth-sync/internal/domain"
)

// Event clasifica las notificaciones del proveedor de identidad.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// ErrUnavailable indica que el oraculo no respondio (red, timeout, 5xx).
// Un (nil, nil) de GetSession significa "definitivamente sin sesion";
// este error significa "no se pudo saber". El llamador nunca debe
// confundir ambos casos.
var ErrUnavailable = errors.New("session oracle unavailable")

// Handler recibe notificaciones de cambio de sesion. La entrega es
// at-least-once durante la vida de la suscripcion.
type Handler func(event Event, session *domain.Session)

// Unsubscribe cancela una suscripcion.
type Unsubscribe func()

// SessionOracle es el accesor asincrono a la sesion y usuario actuales del
// proveedor de identidad remoto. Las llamadas son seguras de invocar
// concurrentemente.
type SessionOracle interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	GetUser(ctx context.Context) (*domain.User, error)
	Subscribe(h Handler) Unsubscribe
}
