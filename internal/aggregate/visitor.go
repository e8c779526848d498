package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// MatrixVisitor aggregates every (variable, function) pair over the features
// it visits, one row per distinct group-by key.
type MatrixVisitor struct {
	variables []filter.Expr
	funcs     []Func
	groupBy   []filter.Expr

	local    *MatrixResult
	visited  int
	external Result
}

var _ feature.Visitor = (*MatrixVisitor)(nil)

func NewMatrixVisitor(variables []filter.Expr, funcs []Func, groupBy []filter.Expr) (*MatrixVisitor, error) {
	if len(variables) == 0 || len(funcs) == 0 {
		return nil, errors.New("aggregation needs at least one variable and one function")
	}
	m := &MatrixVisitor{
		variables: slices.Clone(variables),
		funcs:     slices.Clone(funcs),
		groupBy:   slices.Clone(groupBy),
		local:     newMatrix(len(variables), funcs),
	}
	if len(groupBy) == 0 {
		m.local.groups[groupKey(nil)] = Group{Values: m.emptyRow()}
	}
	return m, nil
}

func (m *MatrixVisitor) emptyRow() []Partial {
	row := make([]Partial, 0, len(m.variables)*len(m.funcs))
	for range m.variables {
		for _, f := range m.funcs {
			row = append(row, NewPartial(f))
		}
	}
	return row
}

func (m *MatrixVisitor) Visit(f feature.Feature) error {
	key := make([]any, len(m.groupBy))
	for i, e := range m.groupBy {
		v, err := filter.Value(e, f)
		if err != nil {
			return fmt.Errorf("group by %d: %w", i, err)
		}
		key[i] = v
	}
	k := groupKey(key)
	g, ok := m.local.groups[k]
	if !ok {
		g = Group{Key: key, Values: m.emptyRow()}
	}
	for vi, e := range m.variables {
		v, err := filter.Value(e, f)
		if err != nil {
			return fmt.Errorf("variable %d: %w", vi, err)
		}
		for a := range m.funcs {
			g.Values[vi*len(m.funcs)+a].Add(v)
		}
	}
	m.local.groups[k] = g
	m.visited++
	return nil
}

// SetResults registers pushed-down values for an ungrouped aggregation, one
// per slot in variable-major order.
func (m *MatrixVisitor) SetResults(flat []any) error {
	if want := len(m.variables) * len(m.funcs); len(flat) != want {
		return fmt.Errorf("%w: got %d results, want %d", ErrSizeMismatch, len(flat), want)
	}
	if len(m.groupBy) > 0 {
		return fmt.Errorf("%w: flat results for a grouped aggregation", ErrSizeMismatch)
	}
	row := make([]Partial, len(flat))
	for i, v := range flat {
		p, err := FromValue(m.funcs[i%len(m.funcs)], v)
		if err != nil {
			return fmt.Errorf("result %d: %w", i, err)
		}
		row[i] = p
	}
	r, err := NewMatrixResult(len(m.variables), m.funcs, []Group{{Values: row}})
	if err != nil {
		return err
	}
	m.external = r
	return nil
}

// SetExternal registers a partial result computed elsewhere over features this
// visitor does not see.
func (m *MatrixVisitor) SetExternal(r Result) error {
	if r.Variables() != len(m.variables) || !slices.Equal(r.Funcs(), m.funcs) {
		return fmt.Errorf("%w: external result is %dx%v, want %dx%v", ErrSizeMismatch, r.Variables(), r.Funcs(), len(m.variables), m.funcs)
	}
	m.external = r
	return nil
}

// Result returns the local matrix merged with any external result. An
// external iterable is returned as is when nothing was visited locally and
// fails with ErrUnsupportedMerge otherwise.
func (m *MatrixVisitor) Result() (Result, error) {
	local := newMatrix(len(m.variables), m.funcs)
	for _, g := range m.local.groups {
		if err := local.add(g); err != nil {
			return nil, err
		}
	}
	if m.external == nil {
		return local, nil
	}
	if m.visited == 0 {
		if _, ok := m.external.(*IterableResult); ok {
			return m.external, nil
		}
	}
	return local.Merge(m.external)
}

// Aggregate feeds c to v and returns its result.
func Aggregate(ctx context.Context, c feature.Collection, v *MatrixVisitor) (Result, error) {
	if err := c.Accepts(ctx, v); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return v.Result()
}
