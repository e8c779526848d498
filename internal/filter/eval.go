package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

var (
	ErrUnboundFunction = errors.New("unbound function")
	ErrNotBoolean      = errors.New("predicate function did not return a boolean")
)

// Record exposes named properties to evaluation. feature.Feature satisfies it.
type Record interface {
	Property(name string) (any, bool)
}

// Evaluate applies f to one record. Comparisons involving a null operand are false.
func Evaluate(f Filter, r Record) (bool, error) {
	switch n := f.(type) {
	case Include:
		return true, nil
	case Exclude:
		return false, nil
	case And:
		for _, c := range n.Children {
			ok, err := Evaluate(c, r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, c := range n.Children {
			ok, err := Evaluate(c, r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Evaluate(n.Child, r)
		return !ok && err == nil, err
	case Equal:
		a, b, err := values2(n.Left, n.Right, r)
		if err != nil {
			return false, err
		}
		return equalValues(a, b), nil
	case Compare:
		a, b, err := values2(n.Left, n.Right, r)
		if err != nil {
			return false, err
		}
		if n.Op == OpNotEqual {
			return a != nil && b != nil && !equalValues(a, b), nil
		}
		c, ok := compareValues(a, b)
		if !ok {
			return false, nil
		}
		switch n.Op {
		case OpLess:
			return c < 0, nil
		case OpLessEqual:
			return c <= 0, nil
		case OpGreater:
			return c > 0, nil
		case OpGreaterEqual:
			return c >= 0, nil
		}
		return false, fmt.Errorf("unknown comparison operator %q", n.Op)
	case In:
		v, err := Value(n.Expr, r)
		if err != nil || v == nil {
			return false, err
		}
		for _, lit := range n.Values {
			if equalValues(v, lit.Value) {
				return true, nil
			}
		}
		return false, nil
	case Between:
		v, err := Value(n.Expr, r)
		if err != nil {
			return false, err
		}
		lo, hi, err := values2(n.Lower, n.Upper, r)
		if err != nil {
			return false, err
		}
		c1, ok1 := compareValues(v, lo)
		c2, ok2 := compareValues(v, hi)
		return ok1 && ok2 && c1 >= 0 && c2 <= 0, nil
	case Like:
		v, err := Value(n.Expr, r)
		if err != nil {
			return false, err
		}
		s, ok := v.(string)
		return ok && likeMatch(s, n.Pattern), nil
	case IsNull:
		v, err := Value(n.Expr, r)
		return v == nil && err == nil, err
	case Intersects:
		a, b, err := values2(n.Left, n.Right, r)
		if err != nil {
			return false, err
		}
		ga, oka := toGeometry(a)
		gb, okb := toGeometry(b)
		return oka && okb && geom.Intersects(ga, gb), nil
	case BBox:
		v, err := Value(n.Expr, r)
		if err != nil {
			return false, err
		}
		g, ok := toGeometry(v)
		if !ok {
			return false, nil
		}
		return geom.Intersects(g, geometry.ToGeom(n.Box.Polygon()).AsGeometry()), nil
	case Predicate:
		v, err := Value(n.Function, r)
		if err != nil {
			return false, err
		}
		switch b := v.(type) {
		case nil:
			return false, nil
		case bool:
			return b, nil
		}
		return false, fmt.Errorf("%s: %w (got %T)", n.Function.Name, ErrNotBoolean, v)
	default:
		panic(fmt.Sprintf("filter: evaluate of unhandled node %T", f))
	}
}

// Value resolves an expression against a record. Missing properties are nil.
func Value(e Expr, r Record) (any, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil
	case Property:
		if r == nil {
			return nil, nil
		}
		v, _ := r.Property(n.Name)
		return v, nil
	case Function:
		if n.Impl == nil {
			return nil, fmt.Errorf("%s: %w", n.Name, ErrUnboundFunction)
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := Value(a, r)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		out, err := n.Impl.Call(args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.Name, err)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		panic(fmt.Sprintf("filter: value of unhandled expression %T", e))
	}
}

func values2(a, b Expr, r Record) (any, any, error) {
	va, err := Value(a, r)
	if err != nil {
		return nil, nil, err
	}
	vb, err := Value(b, r)
	if err != nil {
		return nil, nil, err
	}
	return va, vb, nil
}

// AsFloat converts any Go numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// AsInt converts an integral numeric value to int.
func AsInt(v any) (int, bool) {
	f, ok := AsFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case model.Point:
		y, ok := b.(model.Point)
		return ok && x == y
	}
	return false
}

func compareValues(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := AsFloat(a); ok {
		fb, ok := AsFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka && okb {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toGeometry(v any) (geom.Geometry, bool) {
	switch g := v.(type) {
	case geom.Geometry:
		return g, !g.IsEmpty()
	case model.Polygon:
		if g.IsEmpty() {
			return geom.Geometry{}, false
		}
		return geometry.ToGeom(g).AsGeometry(), true
	case model.BBox:
		return geometry.ToGeom(g.Polygon()).AsGeometry(), true
	case model.Point:
		return geom.XY{X: g.Lon, Y: g.Lat}.AsPoint().AsGeometry(), true
	case string:
		parsed, err := geom.UnmarshalWKT(g)
		return parsed, err == nil
	}
	return geom.Geometry{}, false
}

// likeMatch implements SQL LIKE with % and _ wildcards.
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(sr) {
		switch {
		case pi < len(pr) && (pr[pi] == '_' || pr[pi] == sr[si]):
			si++
			pi++
		case pi < len(pr) && pr[pi] == '%':
			star, mark = pi, si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '%' {
		pi++
	}
	return pi == len(pr)
}

// LikePrefix returns the literal prefix of a pattern that ends in a single %
// and has no other wildcards.
func LikePrefix(pattern string) (string, bool) {
	if !strings.HasSuffix(pattern, "%") {
		return "", false
	}
	p := strings.TrimSuffix(pattern, "%")
	if strings.ContainsAny(p, "%_") {
		return "", false
	}
	return p, true
}
