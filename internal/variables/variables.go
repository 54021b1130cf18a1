// Package variables parses {{key}} placeholders in agent prompt templates and
// substitutes per-call values.
package variables

import (
	"sort"
	"strings"

	"github.com/soyeahso/dialdeck/internal/domain"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// token is one placeholder occurrence within a template.
type token struct {
	start, end int    // byte range of the whole token, delimiters included
	key        string // trimmed body
}

// scan walks the template and returns every placeholder. A token runs from
// the first "{{" to the next "}}"; an unterminated "{{" is plain text.
func scan(template string) []token {
	var tokens []token
	pos := 0
	for {
		open := strings.Index(template[pos:], openDelim)
		if open < 0 {
			return tokens
		}
		open += pos
		bodyStart := open + len(openDelim)
		shut := strings.Index(template[bodyStart:], closeDelim)
		if shut < 0 {
			return tokens
		}
		shut += bodyStart
		tokens = append(tokens, token{
			start: open,
			end:   shut + len(closeDelim),
			key:   strings.TrimSpace(template[bodyStart:shut]),
		})
		pos = shut + len(closeDelim)
	}
}

// Render replaces every {{key}} whose trimmed key has a value. Tokens with no
// value are left exactly as written.
func Render(template string, values map[string]string) string {
	tokens := scan(template)
	if len(tokens) == 0 {
		return template
	}

	var b strings.Builder
	b.Grow(len(template))
	last := 0
	for _, tok := range tokens {
		b.WriteString(template[last:tok.start])
		if v, ok := values[tok.key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(template[tok.start:tok.end])
		}
		last = tok.end
	}
	b.WriteString(template[last:])
	return b.String()
}

// Placeholders lists the distinct placeholder keys in first-seen order.
func Placeholders(template string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, tok := range scan(template) {
		if seen[tok.key] {
			continue
		}
		seen[tok.key] = true
		keys = append(keys, tok.key)
	}
	return keys
}

// Unresolved lists placeholder keys that have no value in values.
func Unresolved(template string, values map[string]string) []string {
	var missing []string
	for _, key := range Placeholders(template) {
		if _, ok := values[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// SanitizeKey strips every character outside [A-Za-z0-9_].
func SanitizeKey(raw string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return -1
	}, raw)
}

// NormalizeDefs sanitizes keys and collapses duplicates. Rows whose key is
// empty after sanitizing are dropped. For a repeated key the last row's
// description and example win, at the position the key first appeared.
func NormalizeDefs(defs []domain.VariableDef) []domain.VariableDef {
	out := make([]domain.VariableDef, 0, len(defs))
	index := make(map[string]int, len(defs))
	for _, d := range defs {
		d.Key = SanitizeKey(d.Key)
		if d.Key == "" {
			continue
		}
		if i, ok := index[d.Key]; ok {
			out[i] = d
			continue
		}
		index[d.Key] = len(out)
		out = append(out, d)
	}
	return out
}

// ValidateValues rejects values for keys the agent does not define. Missing
// values are allowed; they stay unresolved in the rendered prompt.
func ValidateValues(defs []domain.VariableDef, values map[string]string) error {
	defined := make(map[string]bool, len(defs))
	for _, d := range defs {
		defined[d.Key] = true
	}

	var unknown []string
	for k := range values {
		if !defined[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return &domain.ValidationError{
		Field:   "variables",
		Message: "unknown variable(s): " + strings.Join(unknown, ", "),
	}
}
