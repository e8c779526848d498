// Package filter is the predicate/expression tree shared by the rewriter, the
// set functions, the store and in-memory evaluation.
//
// Filter and Expr are closed sums: every node type lives in this file and
// carries an unexported marker method. Consumers switch over the concrete
// types and treat an unknown node as a programming error.
package filter

import (
	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

// Kind enumerates predicate node kinds.
type Kind int

const (
	KindInclude Kind = iota
	KindExclude
	KindAnd
	KindOr
	KindNot
	KindEqual
	KindCompare
	KindIn
	KindBetween
	KindLike
	KindIsNull
	KindIntersects
	KindBBox
	KindPredicate
)

// Kinds lists every predicate kind, in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindInclude, KindExclude, KindAnd, KindOr, KindNot, KindEqual, KindCompare,
		KindIn, KindBetween, KindLike, KindIsNull, KindIntersects, KindBBox, KindPredicate,
	}
}

func (k Kind) String() string {
	switch k {
	case KindInclude:
		return "include"
	case KindExclude:
		return "exclude"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	case KindNot:
		return "not"
	case KindEqual:
		return "equal"
	case KindCompare:
		return "compare"
	case KindIn:
		return "in"
	case KindBetween:
		return "between"
	case KindLike:
		return "like"
	case KindIsNull:
		return "is_null"
	case KindIntersects:
		return "intersects"
	case KindBBox:
		return "bbox"
	case KindPredicate:
		return "predicate"
	default:
		return "unknown"
	}
}

// Filter is a boolean predicate node.
type Filter interface {
	Kind() Kind
	filterNode()
}

// Expr is a value-producing node.
type Expr interface {
	exprNode()
}

// Include matches everything.
type Include struct{}

// Exclude matches nothing.
type Exclude struct{}

type And struct {
	Children []Filter
}

type Or struct {
	Children []Filter
}

type Not struct {
	Child Filter
}

// Equal is the equality predicate Left = Right.
type Equal struct {
	Left, Right Expr
}

// Op is a non-equality comparison operator.
type Op string

const (
	OpNotEqual     Op = "<>"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

type Compare struct {
	Op          Op
	Left, Right Expr
}

// In matches when Expr equals one of Values.
type In struct {
	Expr   Expr
	Values []Literal
}

// Between is inclusive on both ends.
type Between struct {
	Expr         Expr
	Lower, Upper Expr
}

// Like matches Pattern where % is any run of characters and _ is one character.
type Like struct {
	Expr    Expr
	Pattern string
}

type IsNull struct {
	Expr Expr
}

// Intersects is the spatial intersection test between two geometry operands.
type Intersects struct {
	Left, Right Expr
}

// BBox tests Expr's geometry against an envelope.
type BBox struct {
	Expr Expr
	Box  model.BBox
}

// Predicate is a boolean-valued function used directly as a predicate.
type Predicate struct {
	Function Function
}

func (Include) Kind() Kind    { return KindInclude }
func (Exclude) Kind() Kind    { return KindExclude }
func (And) Kind() Kind        { return KindAnd }
func (Or) Kind() Kind         { return KindOr }
func (Not) Kind() Kind        { return KindNot }
func (Equal) Kind() Kind      { return KindEqual }
func (Compare) Kind() Kind    { return KindCompare }
func (In) Kind() Kind         { return KindIn }
func (Between) Kind() Kind    { return KindBetween }
func (Like) Kind() Kind       { return KindLike }
func (IsNull) Kind() Kind     { return KindIsNull }
func (Intersects) Kind() Kind { return KindIntersects }
func (BBox) Kind() Kind       { return KindBBox }
func (Predicate) Kind() Kind  { return KindPredicate }

func (Include) filterNode()    {}
func (Exclude) filterNode()    {}
func (And) filterNode()        {}
func (Or) filterNode()         {}
func (Not) filterNode()        {}
func (Equal) filterNode()      {}
func (Compare) filterNode()    {}
func (In) filterNode()         {}
func (Between) filterNode()    {}
func (Like) filterNode()       {}
func (IsNull) filterNode()     {}
func (Intersects) filterNode() {}
func (BBox) filterNode()       {}
func (Predicate) filterNode()  {}

// Property references a feature attribute by name.
type Property struct {
	Name string
}

// Literal is a constant. Supported values: nil, string, bool, integer and float
// types, model.Point, model.Polygon, model.BBox and geom.Geometry.
type Literal struct {
	Value any
}

// Callable is a function implementation bound into the tree.
type Callable interface {
	Call(args []any) (any, error)
}

// Function is a named function call. Impl is set once the function has been
// bound; unbound functions cannot be evaluated.
type Function struct {
	Name string
	Args []Expr
	Impl Callable
}

func (Property) exprNode() {}
func (Literal) exprNode()  {}
func (Function) exprNode() {}

// Prop is shorthand for a property reference.
func Prop(name string) Property { return Property{Name: name} }

// Lit is shorthand for a literal.
func Lit(v any) Literal { return Literal{Value: v} }

// AllOf builds a conjunction, flattening trivial cases.
func AllOf(children ...Filter) Filter {
	kept := make([]Filter, 0, len(children))
	for _, c := range children {
		switch c.(type) {
		case Include:
			continue
		case Exclude:
			return Exclude{}
		}
		kept = append(kept, c)
	}
	switch len(kept) {
	case 0:
		return Include{}
	case 1:
		return kept[0]
	}
	return And{Children: kept}
}

// AnyOf builds a disjunction, flattening trivial cases.
func AnyOf(children ...Filter) Filter {
	kept := make([]Filter, 0, len(children))
	for _, c := range children {
		switch c.(type) {
		case Exclude:
			continue
		case Include:
			return Include{}
		}
		kept = append(kept, c)
	}
	switch len(kept) {
	case 0:
		return Exclude{}
	case 1:
		return kept[0]
	}
	return Or{Children: kept}
}

// IsLiteral reports whether e is a constant.
func IsLiteral(e Expr) bool {
	_, ok := e.(Literal)
	return ok
}
