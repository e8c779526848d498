package setfunc

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// Registry binds dggs* function calls to one index. It is shared; every Bind
// creates fresh evaluators, so each query owns its caches.
type Registry struct {
	index  dggs.Index
	limits Limits
	logger *slog.Logger
}

func NewRegistry(idx dggs.Index, limits Limits, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{index: idx, limits: limits, logger: logger}
}

func (r *Registry) Index() dggs.Index { return r.index }

// Bind returns a copy of f with every dggs function call bound. Calls to
// other functions are left as they are.
func (r *Registry) Bind(f filter.Filter) (filter.Filter, error) {
	return filter.MapFunctions(f, r.bindCall)
}

func (r *Registry) bindCall(fn filter.Function) (filter.Expr, error) {
	if r.index == nil && strings.HasPrefix(fn.Name, "dggs") {
		return nil, fmt.Errorf("%s: no zone index configured", fn.Name)
	}
	switch fn.Name {
	case PointInZone:
		if len(fn.Args) != 2 {
			return nil, fmt.Errorf("%w: %s takes 2 arguments, got %d", dggs.ErrInvalidArgument, fn.Name, len(fn.Args))
		}
		fn.Impl = pointInZone{index: r.index}
		return fn, nil
	case ResolutionOf:
		if len(fn.Args) != 1 {
			return nil, fmt.Errorf("%w: %s takes 1 argument, got %d", dggs.ErrInvalidArgument, fn.Name, len(fn.Args))
		}
		fn.Impl = resolutionOf{index: r.index}
		return fn, nil
	}
	rel, ok := relations[fn.Name]
	if !ok {
		if strings.HasPrefix(fn.Name, "dggs") {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fn.Name)
		}
		return fn, nil
	}
	if n := len(fn.Args) - 1; n < rel.minArgs || n > rel.maxArgs {
		return nil, fmt.Errorf("%w: %s takes %d to %d arguments, got %d",
			dggs.ErrInvalidArgument, fn.Name, rel.minArgs+1, rel.maxArgs+1, len(fn.Args))
	}
	stable := true
	for _, a := range fn.Args[1:] {
		if !filter.IsLiteral(a) {
			stable = false
			break
		}
	}
	ev, err := NewEvaluator(fn.Name, r.index, r.limits, stable, r.logger)
	if err != nil {
		return nil, err
	}
	fn.Impl = ev
	return fn, nil
}

// LiteralParams returns the constant parameters of a bound stable call.
func LiteralParams(fn filter.Function) ([]any, bool) {
	if len(fn.Args) == 0 {
		return nil, false
	}
	out := make([]any, 0, len(fn.Args)-1)
	for _, a := range fn.Args[1:] {
		lit, ok := a.(filter.Literal)
		if !ok {
			return nil, false
		}
		out = append(out, lit.Value)
	}
	return out, true
}

type pointInZone struct {
	index dggs.Index
}

func (p pointInZone) Call(args []any) (any, error) {
	if args[0] == nil || args[1] == nil {
		return false, nil
	}
	pt, err := asPoint(args[0])
	if err != nil {
		return nil, err
	}
	id, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: zone id must be a string, got %T", dggs.ErrInvalidArgument, args[1])
	}
	z, err := p.index.Zone(id)
	if err != nil {
		return nil, err
	}
	at, err := p.index.Point(pt.Lat, pt.Lon, z.Resolution)
	if err != nil {
		return nil, err
	}
	return at.ID == z.ID, nil
}

func asPoint(v any) (model.Point, error) {
	switch p := v.(type) {
	case model.Point:
		return p, nil
	case geom.Geometry:
		if pt, ok := p.AsPoint(); ok {
			if xy, ok := pt.XY(); ok {
				return model.Point{Lon: xy.X, Lat: xy.Y}, nil
			}
		}
		return model.Point{}, fmt.Errorf("%w: geometry %s is not a point", dggs.ErrInvalidArgument, p.Type())
	}
	return model.Point{}, fmt.Errorf("%w: expected a point, got %T", dggs.ErrInvalidArgument, v)
}

type resolutionOf struct {
	index dggs.Index
}

func (r resolutionOf) Call(args []any) (any, error) {
	if args[0] == nil {
		return nil, nil
	}
	id, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: zone id must be a string, got %T", dggs.ErrInvalidArgument, args[0])
	}
	z, err := r.index.Zone(id)
	if err != nil {
		return nil, err
	}
	return z.Resolution, nil
}
