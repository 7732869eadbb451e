package domain

import "time"

// Session es la sesion vigente segun el proveedor de identidad.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email,omitempty"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Identity es un vinculo OAuth reportado por el proveedor.
type Identity struct {
	Provider string         `json:"provider"`
	Data     map[string]any `json:"data,omitempty"`
}

// User es el registro crudo del usuario tal como lo entrega el proveedor,
// con sus distintas formas de metadatos. La normalizacion a SeedProfile
// ocurre en un solo lugar (ExtractSeedProfile).
type User struct {
	ID          string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
	Identities  []Identity     `json:"identities,omitempty"`
}
