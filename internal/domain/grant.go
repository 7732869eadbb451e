package domain

import "time"

// EmergencyGrant es una concesion local acotada en el tiempo que trata la
// sesion como autenticada sin un oraculo vivo. Solo para recuperacion ante
// desastres; nunca se renueva en silencio.
type EmergencyGrant struct {
	ID       string        `json:"id"`
	Email    string        `json:"email"`
	Role     Role          `json:"role"`
	IssuedAt time.Time     `json:"issued_at"`
	TTL      time.Duration `json:"ttl"`
}

// ValidAt revisa el TTL contra el reloj recibido. Una concesion vencida
// jamas cuenta como autenticada.
func (g EmergencyGrant) ValidAt(now time.Time) bool {
	if g.Email == "" || g.IssuedAt.IsZero() || g.TTL <= 0 {
		return false
	}
	return now.Sub(g.IssuedAt) < g.TTL
}

// ExpiresAt devuelve el instante de expiracion.
func (g EmergencyGrant) ExpiresAt() time.Time {
	return g.IssuedAt.Add(g.TTL)
}
