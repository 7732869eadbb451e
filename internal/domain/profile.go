package domain

import "time"

// Role define el rol de un perfil.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ProfileStatus define el estado del perfil.
type ProfileStatus string

const (
	ProfileActive    ProfileStatus = "active"
	ProfileSuspended ProfileStatus = "suspended"
)

// Profile es el registro de perfil normalizado. ID coincide 1:1 con el
// user id del proveedor de identidad y es inmutable.
type Profile struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	FirstName string        `json:"first_name,omitempty"`
	LastName  string        `json:"last_name,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	Role      Role          `json:"role"`
	Status    ProfileStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsAdmin es una proyeccion pura de profile.role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// SeedProfile son los datos minimos extraidos de los metadatos del
// proveedor para construir un perfil nuevo.
type SeedProfile struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}
