package pipeline

import (
	"sort"
	"strings"
)

// NormalizeProperty folds the spellings configs use for one property name,
// so "parameters-string" and "Parameters_String" both become
// "parameters_string".
func NormalizeProperty(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
}

// normalizedKeys returns the normalized property names of props in a stable
// order together with the original key each came from.
func normalizedKeys(props map[string]interface{}) ([]string, map[string]string) {
	orig := make(map[string]string, len(props))
	keys := make([]string, 0, len(props))
	for k := range props {
		n := NormalizeProperty(k)
		prev, dup := orig[n]
		switch {
		case !dup:
			keys = append(keys, n)
			orig[n] = k
		case k < prev:
			orig[n] = k
		}
	}
	sort.Strings(keys)
	return keys, orig
}
