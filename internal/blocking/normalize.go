package blocking

import (
	"sort"
	"strings"
)

// Normalize canonicalises a raw domain string. The second return value is false when the
// input reduces to nothing and must be dropped.
func Normalize(raw string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(d, scheme) {
			d = strings.TrimPrefix(d, scheme)
			break
		}
	}
	d = strings.TrimRight(d, "/")
	d = strings.TrimSpace(d)
	if d == "" {
		return "", false
	}
	return d, true
}

// NormalizeSet normalises every entry, drops rejects and duplicates, and sorts the result
// so identical inputs always produce identical output. It never returns nil.
func NormalizeSet(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		d, ok := Normalize(entry)
		if !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
