// Package aggregate computes matrices of aggregate values over feature streams
// and merges partial matrices computed in different places.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

var (
	ErrUnsupportedMerge = errors.New("result cannot be merged")
	ErrSizeMismatch     = errors.New("result size does not match variables x functions")
)

type Func int

const (
	Count Func = iota
	Sum
	Min
	Max
	Average
)

var funcNames = [...]string{"count", "sum", "min", "max", "avg"}

func (f Func) String() string {
	if f < 0 || int(f) >= len(funcNames) {
		return fmt.Sprintf("Func(%d)", int(f))
	}
	return funcNames[f]
}

// ParseFunc accepts the lower-case names used by String plus "average".
func ParseFunc(s string) (Func, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "average" {
		return Average, nil
	}
	for i, n := range funcNames {
		if n == s {
			return Func(i), nil
		}
	}
	return 0, fmt.Errorf("unknown aggregate function %q", s)
}

// Partial is the mergeable state of one aggregate over one variable.
// N counts non-null values; Sum, Lo and Hi only track numeric ones.
type Partial struct {
	Func Func
	N    int64
	// Numeric counts the values that contributed to Sum, Lo and Hi.
	Numeric int64
	Sum     float64
	Lo, Hi  float64
}

func NewPartial(f Func) Partial {
	return Partial{Func: f, Lo: math.Inf(1), Hi: math.Inf(-1)}
}

// Add folds one value into the partial. Nulls are ignored.
func (p *Partial) Add(v any) {
	if v == nil {
		return
	}
	p.N++
	x, ok := filter.AsFloat(v)
	if !ok {
		return
	}
	p.Numeric++
	p.Sum += x
	p.Lo = math.Min(p.Lo, x)
	p.Hi = math.Max(p.Hi, x)
}

// Merge combines two partials of the same function. It is commutative.
func (p Partial) Merge(o Partial) (Partial, error) {
	if p.Func != o.Func {
		return Partial{}, fmt.Errorf("%w: merge %s with %s", ErrSizeMismatch, p.Func, o.Func)
	}
	return Partial{
		Func:    p.Func,
		N:       p.N + o.N,
		Numeric: p.Numeric + o.Numeric,
		Sum:     p.Sum + o.Sum,
		Lo:      math.Min(p.Lo, o.Lo),
		Hi:      math.Max(p.Hi, o.Hi),
	}, nil
}

// Value returns the aggregate: int64 for Count, float64 otherwise, or nil when
// no numeric value was seen.
func (p Partial) Value() any {
	if p.Func == Count {
		return p.N
	}
	if p.Numeric == 0 {
		return nil
	}
	switch p.Func {
	case Sum:
		return p.Sum
	case Min:
		return p.Lo
	case Max:
		return p.Hi
	case Average:
		return p.Sum / float64(p.Numeric)
	}
	return nil
}

// FromValue builds the partial a store reports for a single aggregate value.
// Averages need the count as well and cannot be pushed down this way.
func FromValue(f Func, v any) (Partial, error) {
	p := NewPartial(f)
	if v == nil {
		return p, nil
	}
	x, ok := filter.AsFloat(v)
	if !ok {
		return Partial{}, fmt.Errorf("%s value %v is not numeric", f, v)
	}
	switch f {
	case Count:
		p.N = int64(x)
	case Sum:
		p.N, p.Numeric, p.Sum = 1, 1, x
	case Min, Max:
		p.N, p.Numeric, p.Sum, p.Lo, p.Hi = 1, 1, x, x, x
	case Average:
		return Partial{}, fmt.Errorf("%w: average needs a count", ErrUnsupportedMerge)
	}
	return p, nil
}
