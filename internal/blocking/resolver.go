package blocking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Settings is the stored blocking configuration for a user or a device.
type Settings struct {
	Adult                bool     `json:"adult"`
	Social               bool     `json:"social"`
	Gambling             bool     `json:"gambling"`
	CustomAllowedDomains []string `json:"customAllowedDomains"`
}

// DefaultSettings returns the sign-up defaults: adult content blocked, nothing allowed.
func DefaultSettings() Settings {
	return Settings{
		Adult:                true,
		CustomAllowedDomains: []string{},
	}
}

// Normalized returns a copy with the allowlist canonicalised.
func (s Settings) Normalized() Settings {
	s.CustomAllowedDomains = NormalizeSet(s.CustomAllowedDomains)
	return s
}

// Enabled reports whether the category is switched on.
func (s Settings) Enabled(category Category) bool {
	switch category {
	case CategoryAdult:
		return s.Adult
	case CategorySocial:
		return s.Social
	case CategoryGambling:
		return s.Gambling
	default:
		return false
	}
}

// Resolved holds the final deny and allow sets, both sorted and de-duplicated.
type Resolved struct {
	Deny  []string `json:"deny"`
	Allow []string `json:"allow"`

	registryVersion string
}

// Fingerprint digests the resolved lists together with the registry version.
func (r Resolved) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.registryVersion))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(r.Deny, "\n")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(r.Allow, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// Resolver expands enabled categories against a registry.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a resolver backed by registry, or the built-in lists when nil.
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Resolver{registry: registry}
}

// Registry exposes the backing registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve computes the deny and allow sets. A domain present in both is removed from the
// deny set: allow entries always win, and the client receives no overlapping entries.
func (r *Resolver) Resolve(settings Settings) Resolved {
	var deny []string
	for _, category := range Categories {
		if settings.Enabled(category) {
			deny = append(deny, r.registry.Domains(category)...)
		}
	}
	deny = NormalizeSet(deny)
	allow := NormalizeSet(settings.CustomAllowedDomains)

	allowed := make(map[string]struct{}, len(allow))
	for _, d := range allow {
		allowed[d] = struct{}{}
	}
	filtered := deny[:0]
	for _, d := range deny {
		if _, ok := allowed[d]; ok {
			continue
		}
		filtered = append(filtered, d)
	}

	return Resolved{
		Deny:            filtered,
		Allow:           allow,
		registryVersion: r.registry.Version(),
	}
}
