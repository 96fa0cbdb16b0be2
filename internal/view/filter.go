// Package view derives filtered, paginated and aggregated projections from
// record lists. Everything here is a pure function of its inputs; the
// package holds no state and talks to no backend.
package view

import "telar/api/internal/record"

// FilterState is the set of filter dimensions. An empty field means no
// constraint on that dimension; all populated dimensions are ANDed. Date
// bounds are inclusive and compare the record's calendar date, not its
// creation timestamp.
type FilterState struct {
	From     string // YYYY-MM-DD
	To       string // YYYY-MM-DD
	Machine  string
	Boss     string
	Operator string
}

// IsZero reports whether no dimension is constrained.
func (f FilterState) IsZero() bool {
	return f == FilterState{}
}

// Filter returns the records matching every populated dimension. The input
// slice is never mutated and relative order is preserved.
func Filter(records []record.Record, f FilterState) []record.Record {
	if f.IsZero() {
		out := make([]record.Record, len(records))
		copy(out, records)
		return out
	}

	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if f.From != "" && r.Date < f.From {
			continue
		}
		if f.To != "" && r.Date > f.To {
			continue
		}
		if f.Machine != "" && r.Machine != f.Machine {
			continue
		}
		if f.Boss != "" && r.Boss != f.Boss {
			continue
		}
		if f.Operator != "" && r.Operator != f.Operator {
			continue
		}
		out = append(out, r)
	}
	return out
}
