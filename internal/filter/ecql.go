package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

// ECQL renders a predicate as ECQL text.
func ECQL(f Filter) (string, error) {
	var b strings.Builder
	if err := writeFilter(&b, f); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeFilter(b *strings.Builder, f Filter) error {
	switch n := f.(type) {
	case Include:
		b.WriteString("INCLUDE")
	case Exclude:
		b.WriteString("EXCLUDE")
	case And:
		return writeJunction(b, "AND", n.Children)
	case Or:
		return writeJunction(b, "OR", n.Children)
	case Not:
		b.WriteString("NOT (")
		if err := writeFilter(b, n.Child); err != nil {
			return err
		}
		b.WriteString(")")
	case Equal:
		return writeBinary(b, n.Left, "=", n.Right)
	case Compare:
		return writeBinary(b, n.Left, string(n.Op), n.Right)
	case In:
		if err := writeExpr(b, n.Expr); err != nil {
			return err
		}
		b.WriteString(" IN (")
		for i, v := range n.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeExpr(b, v); err != nil {
				return err
			}
		}
		b.WriteString(")")
	case Between:
		if err := writeExpr(b, n.Expr); err != nil {
			return err
		}
		b.WriteString(" BETWEEN ")
		if err := writeExpr(b, n.Lower); err != nil {
			return err
		}
		b.WriteString(" AND ")
		return writeExpr(b, n.Upper)
	case Like:
		if err := writeExpr(b, n.Expr); err != nil {
			return err
		}
		b.WriteString(" LIKE ")
		b.WriteString(quote(n.Pattern))
	case IsNull:
		if err := writeExpr(b, n.Expr); err != nil {
			return err
		}
		b.WriteString(" IS NULL")
	case Intersects:
		b.WriteString("INTERSECTS(")
		if err := writeExpr(b, n.Left); err != nil {
			return err
		}
		b.WriteString(", ")
		if err := writeExpr(b, n.Right); err != nil {
			return err
		}
		b.WriteString(")")
	case BBox:
		b.WriteString("BBOX(")
		if err := writeExpr(b, n.Expr); err != nil {
			return err
		}
		fmt.Fprintf(b, ", %s, %s, %s, %s)", num(n.Box.X1), num(n.Box.Y1), num(n.Box.X2), num(n.Box.Y2))
	case Predicate:
		if err := writeExpr(b, n.Function); err != nil {
			return err
		}
		b.WriteString(" = TRUE")
	default:
		panic(fmt.Sprintf("filter: ecql of unhandled node %T", f))
	}
	return nil
}

func writeJunction(b *strings.Builder, op string, children []Filter) error {
	if len(children) == 0 {
		if op == "AND" {
			b.WriteString("INCLUDE")
		} else {
			b.WriteString("EXCLUDE")
		}
		return nil
	}
	for i, c := range children {
		if i > 0 {
			b.WriteString(" " + op + " ")
		}
		b.WriteString("(")
		if err := writeFilter(b, c); err != nil {
			return err
		}
		b.WriteString(")")
	}
	return nil
}

func writeBinary(b *strings.Builder, l Expr, op string, r Expr) error {
	if err := writeExpr(b, l); err != nil {
		return err
	}
	b.WriteString(" " + op + " ")
	return writeExpr(b, r)
}

func writeExpr(b *strings.Builder, e Expr) error {
	switch n := e.(type) {
	case Property:
		b.WriteString(n.Name)
	case Literal:
		s, err := literal(n.Value)
		if err != nil {
			return err
		}
		b.WriteString(s)
	case Function:
		b.WriteString(n.Name)
		b.WriteString("(")
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := writeExpr(b, a); err != nil {
				return err
			}
		}
		b.WriteString(")")
	default:
		return fmt.Errorf("ecql: unsupported expression %T", e)
	}
	return nil
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case model.Point:
		return fmt.Sprintf("POINT(%s)", x), nil
	case model.Polygon:
		return geometry.WKT(x)
	case model.BBox:
		return geometry.WKT(x.Polygon())
	case geom.Geometry:
		return x.AsText(), nil
	}
	if f, ok := AsFloat(v); ok {
		if i, ok := AsInt(v); ok {
			return strconv.Itoa(i), nil
		}
		return num(f), nil
	}
	return "", fmt.Errorf("ecql: unsupported literal %T", v)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
