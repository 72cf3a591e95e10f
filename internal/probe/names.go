package probe

import (
	"strings"

	"spreadtap/pkg/records"
)

// maxNameLen matches the Postgres identifier limit.
const maxNameLen = 63

// NormalizeName converts an arbitrary string (a directory path, a file
// name) into a lowercase identifier made of [a-z0-9_]. Separators collapse
// to a single underscore; other characters are dropped.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\' || r == ':' || r == ';' {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}

	return truncateName(strings.Trim(b.String(), "_"))
}

func truncateName(s string) string {
	if len(s) <= maxNameLen {
		return s
	}
	return strings.TrimRight(s[:maxNameLen], "_")
}

// SuggestKey picks a candidate primary key from a sample: the first field
// that has a value in every record and no repeated value. It returns nil
// when no field qualifies.
func SuggestKey(sample []*records.Record) []string {
	if len(sample) == 0 {
		return nil
	}
	for _, name := range sample[0].Names() {
		seen := make(map[string]struct{}, len(sample))
		ok := true
		for _, rec := range sample {
			v, present := rec.Get(name)
			if !present || v.IsNull() {
				ok = false
				break
			}
			k := v.String()
			if _, dup := seen[k]; dup {
				ok = false
				break
			}
			seen[k] = struct{}{}
		}
		if ok {
			return []string{name}
		}
	}
	return nil
}
