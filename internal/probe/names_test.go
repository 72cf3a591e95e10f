package probe

import (
	"strings"
	"testing"

	"spreadtap/pkg/records"
)

// TestNormalizeName verifies identifier normalization of paths and labels.
func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Orders", "orders"},
		{"exports/2020 Q1", "exports_2020_q1"},
		{"  a--b..c  ", "a_b_c"},
		{"/leading/slash/", "leading_slash"},
		{"Ünïcode názvy", "ncode_nzvy"},
		{"", ""},
		{strings.Repeat("x", 70), strings.Repeat("x", 63)},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestSuggestKey verifies that the first complete, distinct field is chosen.
func TestSuggestKey(t *testing.T) {
	t.Parallel()

	mk := func(kind, id string) *records.Record {
		r := records.New(2)
		r.Set("kind", records.Text(kind))
		r.Set("id", records.Text(id))
		return r
	}

	got := SuggestKey([]*records.Record{mk("a", "1"), mk("a", "2"), mk("b", "3")})
	if len(got) != 1 || got[0] != "id" {
		t.Fatalf("SuggestKey() = %v, want [id]", got)
	}

	if got := SuggestKey([]*records.Record{mk("a", ""), mk("b", "2")}); len(got) != 1 || got[0] != "kind" {
		t.Fatalf("SuggestKey() = %v, want [kind]", got)
	}

	if got := SuggestKey([]*records.Record{mk("a", "1"), mk("a", "1")}); got != nil {
		t.Fatalf("SuggestKey() = %v, want nil", got)
	}
}
