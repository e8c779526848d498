package aggregate

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// Result is a finished aggregation. Only in-memory matrices merge by value.
type Result interface {
	Variables() int
	Funcs() []Func
	Merge(other Result) (Result, error)
}

// Group is one row of a matrix: the group-by key and one partial per
// (variable, function) slot, variable-major.
type Group struct {
	Key    []any
	Values []Partial
}

// MatrixResult is an immutable in-memory result. Ungrouped results hold a
// single group with an empty key.
type MatrixResult struct {
	variables int
	funcs     []Func
	groups    map[string]Group
}

func newMatrix(variables int, funcs []Func) *MatrixResult {
	return &MatrixResult{variables: variables, funcs: slices.Clone(funcs), groups: make(map[string]Group)}
}

// NewMatrixResult builds a result from groups, checking each row's shape.
// Groups with equal keys are merged.
func NewMatrixResult(variables int, funcs []Func, groups []Group) (*MatrixResult, error) {
	m := newMatrix(variables, funcs)
	for _, g := range groups {
		if err := m.checkShape(g.Values); err != nil {
			return nil, err
		}
		if err := m.add(g); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MatrixResult) Variables() int { return m.variables }
func (m *MatrixResult) Funcs() []Func  { return slices.Clone(m.funcs) }
func (m *MatrixResult) Len() int       { return len(m.groups) }

func (m *MatrixResult) checkShape(values []Partial) error {
	if want := m.variables * len(m.funcs); len(values) != want {
		return fmt.Errorf("%w: got %d values, want %d", ErrSizeMismatch, len(values), want)
	}
	for i, p := range values {
		if f := m.funcs[i%len(m.funcs)]; p.Func != f {
			return fmt.Errorf("%w: slot %d holds %s, want %s", ErrSizeMismatch, i, p.Func, f)
		}
	}
	return nil
}

// add merges g into the matrix; callers own m.
func (m *MatrixResult) add(g Group) error {
	k := groupKey(g.Key)
	cur, ok := m.groups[k]
	if !ok {
		m.groups[k] = Group{Key: slices.Clone(g.Key), Values: slices.Clone(g.Values)}
		return nil
	}
	vals := make([]Partial, len(cur.Values))
	for i := range cur.Values {
		p, err := cur.Values[i].Merge(g.Values[i])
		if err != nil {
			return err
		}
		vals[i] = p
	}
	m.groups[k] = Group{Key: cur.Key, Values: vals}
	return nil
}

// Groups returns the rows ordered by key.
func (m *MatrixResult) Groups() []Group {
	keys := make([]string, 0, len(m.groups))
	for k := range m.groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return compareKeys(m.groups[a].Key, m.groups[b].Key)
	})
	out := make([]Group, len(keys))
	for i, k := range keys {
		g := m.groups[k]
		out[i] = Group{Key: slices.Clone(g.Key), Values: slices.Clone(g.Values)}
	}
	return out
}

// Value returns the aggregate for variable v and function slot a in the group
// with the given key.
func (m *MatrixResult) Value(key []any, v, a int) (any, bool) {
	g, ok := m.groups[groupKey(key)]
	if !ok || v < 0 || v >= m.variables || a < 0 || a >= len(m.funcs) {
		return nil, false
	}
	return g.Values[v*len(m.funcs)+a].Value(), true
}

// Merge returns a new matrix combining both sides slot by slot. Groups present
// on one side only are carried through.
func (m *MatrixResult) Merge(other Result) (Result, error) {
	o, ok := other.(*MatrixResult)
	if !ok {
		return nil, fmt.Errorf("%w: matrix with %T", ErrUnsupportedMerge, other)
	}
	if o.variables != m.variables || !slices.Equal(o.funcs, m.funcs) {
		return nil, fmt.Errorf("%w: %dx%v with %dx%v", ErrSizeMismatch, m.variables, m.funcs, o.variables, o.funcs)
	}
	out := newMatrix(m.variables, m.funcs)
	for _, src := range []*MatrixResult{m, o} {
		for _, g := range src.groups {
			if err := out.add(g); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// IterableResult is a lazily produced result, typically streamed from a
// store. It is consumed once and never merges by value.
type IterableResult struct {
	variables int
	funcs     []Func
	rows      iter.Seq2[Group, error]
}

func NewIterableResult(variables int, funcs []Func, rows iter.Seq2[Group, error]) *IterableResult {
	return &IterableResult{variables: variables, funcs: slices.Clone(funcs), rows: rows}
}

func (r *IterableResult) Variables() int                { return r.variables }
func (r *IterableResult) Funcs() []Func                 { return slices.Clone(r.funcs) }
func (r *IterableResult) Rows() iter.Seq2[Group, error] { return r.rows }

func (r *IterableResult) Merge(Result) (Result, error) {
	return nil, fmt.Errorf("%w: iterable result", ErrUnsupportedMerge)
}

// Materialize drains an iterable result into a matrix.
func Materialize(r *IterableResult) (*MatrixResult, error) {
	m := newMatrix(r.variables, r.funcs)
	for g, err := range r.rows {
		if err != nil {
			return nil, err
		}
		if err := m.checkShape(g.Values); err != nil {
			return nil, err
		}
		if err := m.add(g); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func groupKey(key []any) string {
	var b strings.Builder
	for i, v := range key {
		if i > 0 {
			b.WriteByte(0)
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String()
}

// compareKeys orders nulls first, then numbers, then everything else by text.
func compareKeys(a, b []any) int {
	for i := range min(len(a), len(b)) {
		if c := compareKeyValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareKeyValue(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, okA := filter.AsFloat(a)
	fb, okB := filter.AsFloat(b)
	switch {
	case okA && okB:
		return cmp.Compare(fa, fb)
	case okA:
		return -1
	case okB:
		return 1
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
