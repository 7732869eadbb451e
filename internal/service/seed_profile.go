package service

import (
	"strings"

	"auth-sync/internal/domain"
)

// ExtractSeedProfile normaliza el registro crudo del usuario a los campos
// minimos de un perfil nuevo. Las fuentes se consultan en orden fijo:
// campos explicitos de perfil → metadatos del proveedor → metadatos
// crudos → payload de identidad OAuth. La primera fuente con valor gana.
func ExtractSeedProfile(user domain.User) domain.SeedProfile {
	seed := domain.SeedProfile{
		Email: normalizeEmail(user.Email),
	}
	if seed.Email == "" {
		seed.Email = normalizeEmail(stringField(user.Metadata, "email"))
	}

	sources := metadataSources(user)

	seed.FirstName = firstNonEmpty(sources, "first_name", "given_name", "name")
	seed.LastName = firstNonEmpty(sources, "last_name", "family_name", "surname")
	seed.AvatarURL = firstNonEmpty(sources, "avatar_url", "picture", "photo_url")

	// full_name solo se usa si ninguna fuente trajo nombre propio.
	if seed.FirstName == "" && seed.LastName == "" {
		for _, src := range sources {
			if full := stringField(src, "full_name"); full != "" {
				seed.FirstName, seed.LastName = splitFullName(full)
				break
			}
		}
	}
	return seed
}

func metadataSources(user domain.User) []map[string]any {
	sources := make([]map[string]any, 0, 2+len(user.Identities))
	if user.Metadata != nil {
		sources = append(sources, user.Metadata)
	}
	if user.RawMetadata != nil {
		sources = append(sources, user.RawMetadata)
	}
	for _, identity := range user.Identities {
		if identity.Data != nil {
			sources = append(sources, identity.Data)
		}
	}
	return sources
}

func firstNonEmpty(sources []map[string]any, keys ...string) string {
	for _, src := range sources {
		for _, key := range keys {
			if v := stringField(src, key); v != "" {
				return v
			}
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

func splitFullName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
