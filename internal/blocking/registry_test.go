package blocking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryIsNormalised(t *testing.T) {
	registry := DefaultRegistry()
	require.Equal(t, DefaultRegistryVersion, registry.Version())

	for _, category := range Categories {
		domains := registry.Domains(category)
		require.NotEmpty(t, domains, category)
		require.Equal(t, NormalizeSet(domains), domains, category)
	}
}

func TestRegistryDomainsReturnsCopy(t *testing.T) {
	registry := DefaultRegistry()
	domains := registry.Domains(CategoryAdult)
	domains[0] = "mutated.example"

	require.NotContains(t, registry.Domains(CategoryAdult), "mutated.example")
}

func TestNewRegistryRejectsUnknownCategory(t *testing.T) {
	_, err := NewRegistry("v1", map[Category][]string{"news": {"example.com"}})
	require.Error(t, err)

	_, err = NewRegistry(" ", nil)
	require.Error(t, err)
}

func TestLoadRegistryOverridesCategories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2025-06-01"
categories:
  gambling:
    - "https://Casino.example/"
    - casino.example
`), 0o600))

	registry, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Equal(t, "2025-06-01", registry.Version())
	require.Equal(t, []string{"casino.example"}, registry.Domains(CategoryGambling))
	require.Equal(t, DefaultRegistry().Domains(CategoryAdult), registry.Domains(CategoryAdult))
}

func TestLoadRegistryMissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
