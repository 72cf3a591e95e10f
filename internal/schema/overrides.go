package schema

import "sort"

// Override is an operator-declared pin for one field.
type Override struct {
	Type Field `json:"type" yaml:"type"`
}

// ApplyOverrides merges operator overrides into an inferred table and returns
// the result. The input is not modified.
//
// A declared type replaces the inferred type outright; the two are never
// widened together. Overridden fields missing from the inferred table are
// appended in name order. selected replaces the table's flag when non-nil,
// otherwise the result is selected.
//
// Applying the same overrides twice yields the same table.
func ApplyOverrides(inferred *Table, overrides map[string]Override, selected *bool) *Table {
	out := inferred.Clone()

	names := make([]string, 0, len(overrides))
	for n := range overrides {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		ov := overrides[n]
		if len(ov.Type.types) == 0 {
			continue
		}
		out.Set(n, ov.Type)
	}

	out.Selected = true
	if selected != nil {
		out.Selected = *selected
	}
	return out
}
