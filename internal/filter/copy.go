package filter

import "fmt"

// Copy duplicates a predicate tree. Literal values and bound function
// implementations are shared; slices are not.
func Copy(f Filter) Filter {
	switch n := f.(type) {
	case Include, Exclude:
		return n
	case And:
		return And{Children: copyFilters(n.Children)}
	case Or:
		return Or{Children: copyFilters(n.Children)}
	case Not:
		return Not{Child: Copy(n.Child)}
	case Equal:
		return Equal{Left: CopyExpr(n.Left), Right: CopyExpr(n.Right)}
	case Compare:
		return Compare{Op: n.Op, Left: CopyExpr(n.Left), Right: CopyExpr(n.Right)}
	case In:
		vals := make([]Literal, len(n.Values))
		copy(vals, n.Values)
		return In{Expr: CopyExpr(n.Expr), Values: vals}
	case Between:
		return Between{Expr: CopyExpr(n.Expr), Lower: CopyExpr(n.Lower), Upper: CopyExpr(n.Upper)}
	case Like:
		return Like{Expr: CopyExpr(n.Expr), Pattern: n.Pattern}
	case IsNull:
		return IsNull{Expr: CopyExpr(n.Expr)}
	case Intersects:
		return Intersects{Left: CopyExpr(n.Left), Right: CopyExpr(n.Right)}
	case BBox:
		return BBox{Expr: CopyExpr(n.Expr), Box: n.Box}
	case Predicate:
		return Predicate{Function: CopyExpr(n.Function).(Function)}
	default:
		panic(fmt.Sprintf("filter: copy of unhandled node %T", f))
	}
}

func copyFilters(in []Filter) []Filter {
	out := make([]Filter, len(in))
	for i, c := range in {
		out[i] = Copy(c)
	}
	return out
}

// CopyExpr duplicates an expression tree.
func CopyExpr(e Expr) Expr {
	switch n := e.(type) {
	case nil:
		return nil
	case Property, Literal:
		return n
	case Function:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = CopyExpr(a)
		}
		return Function{Name: n.Name, Args: args, Impl: n.Impl}
	default:
		panic(fmt.Sprintf("filter: copy of unhandled expression %T", e))
	}
}

// MapFunctions duplicates f, replacing every function call (innermost first)
// with the result of fn.
func MapFunctions(f Filter, fn func(Function) (Expr, error)) (Filter, error) {
	m := funcMapper{fn: fn}
	return m.filter(f)
}

type funcMapper struct {
	fn func(Function) (Expr, error)
}

func (m funcMapper) filters(in []Filter) ([]Filter, error) {
	out := make([]Filter, len(in))
	for i, c := range in {
		var err error
		if out[i], err = m.filter(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m funcMapper) filter(f Filter) (Filter, error) {
	switch n := f.(type) {
	case Include, Exclude:
		return n, nil
	case And:
		cs, err := m.filters(n.Children)
		return And{Children: cs}, err
	case Or:
		cs, err := m.filters(n.Children)
		return Or{Children: cs}, err
	case Not:
		c, err := m.filter(n.Child)
		return Not{Child: c}, err
	case Equal:
		l, r, err := m.pair(n.Left, n.Right)
		return Equal{Left: l, Right: r}, err
	case Compare:
		l, r, err := m.pair(n.Left, n.Right)
		return Compare{Op: n.Op, Left: l, Right: r}, err
	case In:
		e, err := m.expr(n.Expr)
		vals := make([]Literal, len(n.Values))
		copy(vals, n.Values)
		return In{Expr: e, Values: vals}, err
	case Between:
		e, err := m.expr(n.Expr)
		if err != nil {
			return nil, err
		}
		lo, hi, err := m.pair(n.Lower, n.Upper)
		return Between{Expr: e, Lower: lo, Upper: hi}, err
	case Like:
		e, err := m.expr(n.Expr)
		return Like{Expr: e, Pattern: n.Pattern}, err
	case IsNull:
		e, err := m.expr(n.Expr)
		return IsNull{Expr: e}, err
	case Intersects:
		l, r, err := m.pair(n.Left, n.Right)
		return Intersects{Left: l, Right: r}, err
	case BBox:
		e, err := m.expr(n.Expr)
		return BBox{Expr: e, Box: n.Box}, err
	case Predicate:
		e, err := m.expr(n.Function)
		if err != nil {
			return nil, err
		}
		fn, ok := e.(Function)
		if !ok {
			return nil, fmt.Errorf("predicate %s mapped to non-function %T", n.Function.Name, e)
		}
		return Predicate{Function: fn}, nil
	default:
		panic(fmt.Sprintf("filter: map of unhandled node %T", f))
	}
}

func (m funcMapper) pair(a, b Expr) (Expr, Expr, error) {
	x, err := m.expr(a)
	if err != nil {
		return nil, nil, err
	}
	y, err := m.expr(b)
	return x, y, err
}

func (m funcMapper) expr(e Expr) (Expr, error) {
	fn, ok := e.(Function)
	if !ok {
		return e, nil
	}
	args := make([]Expr, len(fn.Args))
	for i, a := range fn.Args {
		var err error
		if args[i], err = m.expr(a); err != nil {
			return nil, err
		}
	}
	fn.Args = args
	return m.fn(fn)
}
