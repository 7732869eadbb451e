package domain

import "time"

// PersistedSnapshot es el subconjunto serializado de AuthState que se
// escribe en el store al transicionar a authenticated. Es un cache: puede
// decir "probablemente sigue autenticado" pero nunca inventa un usuario
// que el oraculo no haya avalado en algun momento.
type PersistedSnapshot struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// StaleAt indica si el snapshot supero la edad maxima tolerada.
func (s PersistedSnapshot) StaleAt(now time.Time, maxAge time.Duration) bool {
	if s.UserID == "" || s.Timestamp.IsZero() {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.Timestamp) > maxAge
}
