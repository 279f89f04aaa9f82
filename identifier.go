package dbal

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

var disallowedIdentChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeIdentifier strips every character outside [A-Za-z0-9_].
func SanitizeIdentifier(name string) string {
	return disallowedIdentChars.ReplaceAllString(name, "")
}

// identifier sanitizes name and rejects it if nothing is left.
func identifier(name string) (string, error) {
	clean := SanitizeIdentifier(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return clean, nil
}

// field pairs a caller supplied key with its sanitized column name.
type field struct {
	key  string
	name string
}

// fields sanitizes the keys of m in lexical order. Two keys naming the same
// column after sanitizing are rejected.
func fields[V any](m map[string]V) ([]field, error) {
	out := make([]field, 0, len(m))
	seen := make(map[string]string, len(m))
	for _, k := range sortedKeys(m) {
		c, err := identifier(k)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[c]; dup {
			return nil, fmt.Errorf("%w: %q and %q both name column %s", ErrInvalidIdentifier, prev, k, c)
		}
		seen[c] = k
		out = append(out, field{key: k, name: c})
	}
	return out, nil
}

// OrderTerm is one column of an ORDER BY.
type OrderTerm struct {
	Column string
	Desc   bool
}

// ParseOrder turns "t.created_at DESC, name" into ordered terms. Table
// qualifiers and quoting are dropped. Direction defaults to ascending.
func ParseOrder(order string) []OrderTerm {
	var terms []OrderTerm
	for _, part := range strings.Split(order, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}

		col := fields[0]
		if idx := strings.LastIndex(col, "."); idx != -1 {
			col = col[idx+1:]
		}
		col = SanitizeIdentifier(col)
		if col == "" {
			continue
		}

		term := OrderTerm{Column: col}
		if len(fields) > 1 && strings.EqualFold(fields[1], "DESC") {
			term.Desc = true
		}
		terms = append(terms, term)
	}
	return terms
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// listValues reports whether v is a list for IN matching and returns its
// elements. Strings and []byte are scalars.
func listValues(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return t, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
