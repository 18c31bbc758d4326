// Package table is the small tabular layer behind assembled datasets: an
// ordered schema, rows projected onto it, and the concat / dedup / right
// join operations the assembler needs.
package table

import (
	"fmt"
	"reflect"
)

// Record is one flat row keyed by column name. Absent values are nil.
type Record map[string]any

// Project returns a copy of r restricted to cols. Missing columns become nil.
func (r Record) Project(cols []string) Record {
	out := make(Record, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of rows sharing a fixed column schema. A table
// with zero rows still carries its columns.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"data"`
}

// New returns the empty-schema placeholder for cols.
func New(cols []string) *Table {
	c := make([]string, len(cols))
	copy(c, cols)
	return &Table{Columns: c, Rows: [][]any{}}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Append concatenates records after the existing rows, projecting each onto
// the table's columns. Keys outside the schema are dropped.
func (t *Table) Append(records ...Record) *Table {
	for _, r := range records {
		row := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = r[c]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Records returns the rows as records, in row order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.Rows))
	for i, row := range t.Rows {
		r := make(Record, len(t.Columns))
		for j, c := range t.Columns {
			r[c] = row[j]
		}
		out[i] = r
	}
	return out
}

// Column returns the values of one column, or an error for an unknown name.
func (t *Table) Column(name string) ([]any, error) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("unknown column %q", name)
	}

	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Concat returns a single slice holding every record of every set, in order.
func Concat(sets ...[]Record) []Record {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]Record, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// DedupFirst keeps the first record for every distinct value of key.
// Records lacking the key share the nil bucket.
func DedupFirst(records []Record, key string) []Record {
	seen := make(map[any]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := keyOf(r[key])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RightJoin keeps every right record, in order. Each right record is emitted
// once per matching left record (in left order), with the left columns merged
// in; a right record without a match is emitted once with left columns unset.
// Columns present on both sides keep the right-hand value. A nil key never
// matches.
func RightJoin(left, right []Record, key string) []Record {
	index := make(map[any][]Record, len(left))
	for _, l := range left {
		v := l[key]
		if v == nil {
			continue
		}
		k := keyOf(v)
		index[k] = append(index[k], l)
	}

	out := make([]Record, 0, len(right))
	for _, r := range right {
		var matches []Record
		if v := r[key]; v != nil {
			matches = index[keyOf(v)]
		}
		if len(matches) == 0 {
			out = append(out, r.Clone())
			continue
		}
		for _, l := range matches {
			merged := l.Clone()
			for k, v := range r {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out
}

// keyOf turns a cell into a usable map key. Non-comparable values (slices,
// maps) fall back to their printed form.
func keyOf(v any) any {
	if v == nil {
		return nil
	}
	if reflect.TypeOf(v).Comparable() {
		return v
	}
	return fmt.Sprintf("%T:%v", v, v)
}
