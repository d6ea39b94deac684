package blocking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Category names a curated group of domains that can be blocked as a unit.
type Category string

const (
	CategoryAdult    Category = "adult"
	CategorySocial   Category = "social"
	CategoryGambling Category = "gambling"
)

// Categories lists every category understood by the resolver in evaluation order.
var Categories = []Category{CategoryAdult, CategorySocial, CategoryGambling}

// DefaultRegistryVersion identifies the built-in lists. Bump it whenever they change so
// cached profiles are invalidated.
const DefaultRegistryVersion = "builtin-2025.1"

// Registry maps category names to their curated domain lists. It is immutable once built;
// lookups return copies.
type Registry struct {
	version string
	domains map[Category][]string
}

// NewRegistry builds a registry from raw lists. Domains are normalised and sorted.
func NewRegistry(version string, lists map[Category][]string) (*Registry, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, errors.New("blocking: registry version is required")
	}

	r := &Registry{
		version: version,
		domains: make(map[Category][]string, len(lists)),
	}
	for category, domains := range lists {
		if !IsKnownCategory(category) {
			return nil, fmt.Errorf("blocking: unknown category %q", category)
		}
		r.domains[category] = NormalizeSet(domains)
	}
	return r, nil
}

// DefaultRegistry returns the built-in curated lists.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRegistryVersion, map[Category][]string{
		CategoryAdult: {
			"pornhub.com", "www.pornhub.com",
			"xvideos.com", "www.xvideos.com",
			"xnxx.com", "www.xnxx.com",
			"redtube.com", "www.redtube.com",
			"xhamster.com", "www.xhamster.com",
		},
		CategorySocial: {
			"instagram.com", "www.instagram.com",
			"reddit.com", "www.reddit.com",
			"twitter.com", "www.twitter.com",
			"x.com", "www.x.com", "t.co",
			"youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be",
			"tiktok.com", "www.tiktok.com",
			"facebook.com", "www.facebook.com",
		},
		CategoryGambling: {
			"bet365.com", "www.bet365.com",
			"williamhill.com", "www.williamhill.com",
			"skybet.com", "www.skybet.com",
			"pokerstars.com", "www.pokerstars.com",
			"ladbrokes.com", "www.ladbrokes.com",
			"888.com",
		},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads category lists from a YAML/JSON/TOML file:
//
//	version: "2025-06-01"
//	categories:
//	  adult: [example.com]
//
// Categories missing from the file keep their built-in lists.
func LoadRegistry(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("blocking: read registry %s: %w", path, err)
	}

	var file struct {
		Version    string              `mapstructure:"version"`
		Categories map[string][]string `mapstructure:"categories"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("blocking: decode registry %s: %w", path, err)
	}

	lists := make(map[Category][]string, len(Categories))
	base := DefaultRegistry()
	for _, category := range Categories {
		lists[category] = base.Domains(category)
	}
	for name, domains := range file.Categories {
		lists[Category(strings.ToLower(strings.TrimSpace(name)))] = domains
	}

	return NewRegistry(file.Version, lists)
}

// Version identifies the list revision; it participates in profile cache keys.
func (r *Registry) Version() string {
	if r == nil {
		return ""
	}
	return r.version
}

// Domains returns a copy of the normalised domains for a category.
func (r *Registry) Domains(category Category) []string {
	if r == nil {
		return nil
	}
	list := r.domains[category]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Summary reports how many domains each category holds.
func (r *Registry) Summary() map[Category]int {
	out := make(map[Category]int, len(Categories))
	if r == nil {
		return out
	}
	for _, category := range Categories {
		out[category] = len(r.domains[category])
	}
	return out
}

// IsKnownCategory reports whether name is one of the supported categories.
func IsKnownCategory(name Category) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// CategoryNames returns the sorted category names as strings.
func CategoryNames() []string {
	out := make([]string, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
