package domain

import "time"

// Status representa el estado de autenticacion de la sesion actual.
type Status string

const (
	StatusUnknown         Status = "unknown"
	StatusChecking        Status = "checking"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusExpired         Status = "expired"
	StatusError           Status = "error"
)

// Source indica que sub-fuente produjo el AuthState.
type Source string

const (
	SourceOracle    Source = "oracle"
	SourcePersisted Source = "persisted"
	SourceEmergency Source = "emergency"
	SourceBroadcast Source = "broadcast"
)

// AuthState es el valor canonico que emite el reconciliador. Es inmutable:
// cada pasada de reconciliacion lo reemplaza completo, nunca lo muta.
type AuthState struct {
	Status    Status    `json:"status"`
	UserID    string    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Profile   *Profile  `json:"profile,omitempty"`
	Source    Source    `json:"source,omitempty"`
	Degraded  bool      `json:"degraded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsAuthenticated indica si el estado representa una sesion valida.
func (s AuthState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated
}

// IsLoading indica si todavia no hay un resultado concluyente.
func (s AuthState) IsLoading() bool {
	return s.Status == StatusUnknown || s.Status == StatusChecking
}

// NewerThan compara por timestamp para resolver carreras entre pasadas:
// gana la ultima escritura por timestamp, no por orden de llegada.
func (s AuthState) NewerThan(other AuthState) bool {
	return s.Timestamp.After(other.Timestamp)
}
