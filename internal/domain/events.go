package domain

// ChangeKind clasifica una notificacion de cambio de estado entre agentes.
type ChangeKind string

const (
	ChangeSignedIn    ChangeKind = "signed_in"
	ChangeSignedOut   ChangeKind = "signed_out"
	ChangeGrantIssued ChangeKind = "grant_issued"
)

// ChangeEvent acompana un publish del broadcaster. El transporte solo
// garantiza "algo cambio": los consumidores deben re-reconciliar leyendo el
// store, no aplicar este evento como delta.
type ChangeEvent struct {
	Kind   ChangeKind `json:"kind"`
	UserID string     `json:"user_id,omitempty"`
	Email  string     `json:"email,omitempty"`
}
