package blocking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "Example.com", want: "example.com", ok: true},
		{in: "  https://Example.com/  ", want: "example.com", ok: true},
		{in: "http://news.example.com///", want: "news.example.com", ok: true},
		{in: "HTTPS://Example.com/", want: "example.com", ok: true},
		{in: "example.com/path", want: "example.com/path", ok: true},
		{in: "   ", ok: false},
		{in: "https://", ok: false},
		{in: "///", ok: false},
	}

	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeSetDedupesAndSorts(t *testing.T) {
	got := NormalizeSet([]string{"HTTPS://Example.com/", "example.com", " example.com "})
	require.Equal(t, []string{"example.com"}, got)

	got = NormalizeSet([]string{"zeta.io", "", "Alpha.io", "https://beta.io/", "alpha.io"})
	require.Equal(t, []string{"alpha.io", "beta.io", "zeta.io"}, got)
}

func TestNormalizeSetNeverNil(t *testing.T) {
	require.NotNil(t, NormalizeSet(nil))
	require.Empty(t, NormalizeSet([]string{" ", "http://"}))
}
