// Package rewrite turns spatial and zone-set predicates into predicates over
// the zone id and resolution attributes that a backing store can index.
package rewrite

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
	"github.com/mohammed-shakir/dggs-query/internal/setfunc"
)

// ErrForeignIndex reports a set function bound to a different index than the
// one the rewriter targets.
var ErrForeignIndex = errors.New("set function bound to a different zone index")

// Rule names, used as metric labels.
const (
	RuleSetFunction = "set_function"
	RuleIntersects  = "intersects"
	RuleBBox        = "bbox"
	RuleResolution  = "resolution"
	RulePointInZone = "point_in_zone"
)

type Rewriter struct {
	Index        dggs.Index
	Schema       dggs.Schema
	GeometryAttr string
	// Resolution is the resolution the store keys zones at. Spatial predicates
	// are only rewritten when it is set.
	Resolution *int
	// Limits bound the evaluators created for unbound set functions.
	Limits setfunc.Limits
	Logger *slog.Logger
}

// New returns a rewriter with default attribute names and limits.
func New(idx dggs.Index, resolution *int, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rewriter{
		Index:        idx,
		Schema:       dggs.DefaultSchema,
		GeometryAttr: feature.DefaultGeometryName,
		Resolution:   resolution,
		Limits:       setfunc.DefaultLimits(),
		Logger:       logger,
	}
}

func (r *Rewriter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Rewrite returns a rewritten copy of f. The input is never modified.
// Predicates that cannot be rewritten are copied unchanged; the result never
// rejects a feature the input accepts.
func (r *Rewriter) Rewrite(f filter.Filter) (filter.Filter, error) {
	switch n := f.(type) {
	case filter.Include, filter.Exclude:
		return n, nil
	case filter.And:
		cs, err := r.rewriteAll(n.Children)
		return filter.And{Children: cs}, err
	case filter.Or:
		cs, err := r.rewriteAll(n.Children)
		return filter.Or{Children: cs}, err
	case filter.Not:
		// Over-approximated children would under-approximate under negation,
		// so only exact rewrites may pass through a Not.
		c, err := r.exactOnly(n.Child)
		return filter.Not{Child: c}, err
	case filter.Equal:
		return r.rewriteEqual(n)
	case filter.Compare:
		return r.rewriteCompare(n)
	case filter.Predicate:
		return r.rewriteSetFunction(n, n.Function)
	case filter.Intersects:
		return r.rewriteIntersects(n)
	case filter.BBox:
		return r.rewriteBBox(n)
	case filter.In, filter.Between, filter.Like, filter.IsNull:
		return filter.Copy(n), nil
	default:
		panic(fmt.Sprintf("rewrite: unhandled node %T", f))
	}
}

func (r *Rewriter) rewriteAll(in []filter.Filter) ([]filter.Filter, error) {
	out := make([]filter.Filter, len(in))
	for i, c := range in {
		var err error
		if out[i], err = r.Rewrite(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// exactOnly rewrites with the over-approximating spatial rules disabled.
func (r *Rewriter) exactOnly(f filter.Filter) (filter.Filter, error) {
	exact := *r
	exact.Resolution = nil
	return exact.Rewrite(f)
}

func (r *Rewriter) rewriteEqual(n filter.Equal) (filter.Filter, error) {
	fn, lit, ok := functionAndLiteral(n.Left, n.Right)
	if !ok {
		return filter.Copy(n), nil
	}
	switch {
	case fn.Name == setfunc.ResolutionOf:
		return r.rewriteResolution(n, filter.Compare{}, fn, lit, true, false)
	case setfunc.Relation(fn.Name) && lit.Value == true:
		return r.rewriteSetFunction(n, fn)
	case fn.Name == setfunc.PointInZone && lit.Value == true:
		return r.rewritePointInZone(n, fn)
	}
	return filter.Copy(n), nil
}

func (r *Rewriter) rewriteCompare(n filter.Compare) (filter.Filter, error) {
	fn, lit, ok := functionAndLiteral(n.Left, n.Right)
	if !ok || fn.Name != setfunc.ResolutionOf {
		return filter.Copy(n), nil
	}
	_, swapped := n.Right.(filter.Function)
	return r.rewriteResolution(n, n, fn, lit, false, swapped)
}

func functionAndLiteral(a, b filter.Expr) (filter.Function, filter.Literal, bool) {
	if fn, ok := a.(filter.Function); ok {
		lit, ok := b.(filter.Literal)
		return fn, lit, ok
	}
	if fn, ok := b.(filter.Function); ok {
		lit, ok := a.(filter.Literal)
		return fn, lit, ok
	}
	return filter.Function{}, filter.Literal{}, false
}

func (r *Rewriter) isZoneID(e filter.Expr) bool {
	p, ok := e.(filter.Property)
	return ok && p.Name == r.Schema.ZoneIDAttr
}

func (r *Rewriter) isGeometry(e filter.Expr) bool {
	p, ok := e.(filter.Property)
	return ok && p.Name == r.GeometryAttr
}

// rewriteResolution maps dggsResolution(zoneId) <op> literal onto the
// resolution attribute.
func (r *Rewriter) rewriteResolution(orig filter.Filter, cmp filter.Compare, fn filter.Function, lit filter.Literal, equal, swapped bool) (filter.Filter, error) {
	if len(fn.Args) != 1 || !r.isZoneID(fn.Args[0]) {
		return skip(RuleResolution, orig), nil
	}
	res := filter.Prop(r.Schema.ResolutionAttr)
	metrics.ObserveRewrite(RuleResolution, metrics.RewriteApplied)
	if equal {
		return filter.Equal{Left: res, Right: lit}, nil
	}
	op := cmp.Op
	if swapped {
		op = flip(op)
	}
	return filter.Compare{Op: op, Left: res, Right: lit}, nil
}

func flip(op filter.Op) filter.Op {
	switch op {
	case filter.OpLess:
		return filter.OpGreater
	case filter.OpLessEqual:
		return filter.OpGreaterEqual
	case filter.OpGreater:
		return filter.OpLess
	case filter.OpGreaterEqual:
		return filter.OpLessEqual
	}
	return op
}

// rewriteSetFunction replaces a stable set function over the zone id with the
// materialised id list. Sets over the cache limit fall back to the child
// filter for dggsChildren and are left alone otherwise.
func (r *Rewriter) rewriteSetFunction(orig filter.Filter, fn filter.Function) (filter.Filter, error) {
	if !setfunc.Relation(fn.Name) || len(fn.Args) == 0 || !r.isZoneID(fn.Args[0]) {
		return skip(RuleSetFunction, orig), nil
	}
	params, ok := setfunc.LiteralParams(fn)
	if !ok {
		return skip(RuleSetFunction, orig), nil
	}
	ev, err := r.evaluator(fn)
	if err != nil {
		return nil, err
	}
	ids, ok, err := ev.Matched(params)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", fn.Name, err)
	}
	if !ok {
		if fn.Name == setfunc.Children {
			return r.childrenFilter(orig, params)
		}
		return skip(RuleSetFunction, orig), nil
	}
	if len(ids) == 0 {
		metrics.ObserveRewrite(RuleSetFunction, metrics.RewriteExcluded)
		return filter.Exclude{}, nil
	}
	metrics.ObserveRewrite(RuleSetFunction, metrics.RewriteApplied)
	return inList(r.Schema.ZoneIDAttr, ids), nil
}

func (r *Rewriter) evaluator(fn filter.Function) (*setfunc.Evaluator, error) {
	if ev, ok := fn.Impl.(*setfunc.Evaluator); ok {
		if ev.Index() != r.Index {
			return nil, fmt.Errorf("%s: %w (%s, want %s)", fn.Name, ErrForeignIndex, ev.Index().Name(), r.Index.Name())
		}
		return ev, nil
	}
	if fn.Impl != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name, ErrForeignIndex)
	}
	return setfunc.NewEvaluator(fn.Name, r.Index, r.Limits, true, r.logger())
}

func (r *Rewriter) childrenFilter(orig filter.Filter, params []any) (filter.Filter, error) {
	ref, okRef := params[0].(string)
	res, okRes := filter.AsInt(params[1])
	upTo := len(params) > 2 && params[2] == true
	if !okRef || !okRes {
		return skip(RuleSetFunction, orig), nil
	}
	f, err := r.Index.ChildFilter(r.Schema, ref, res, upTo)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", setfunc.Children, err)
	}
	metrics.ObserveRewrite(RuleSetFunction, metrics.RewriteApplied)
	return f, nil
}

// rewritePointInZone maps dggsPointInZone(point, zoneId) onto the zone that
// holds the point at the store resolution.
func (r *Rewriter) rewritePointInZone(orig filter.Filter, fn filter.Function) (filter.Filter, error) {
	if r.Resolution == nil || len(fn.Args) != 2 || !r.isZoneID(fn.Args[1]) {
		return skip(RulePointInZone, orig), nil
	}
	lit, ok := fn.Args[0].(filter.Literal)
	if !ok {
		return skip(RulePointInZone, orig), nil
	}
	pt, ok := lit.Value.(model.Point)
	if !ok {
		return skip(RulePointInZone, orig), nil
	}
	z, err := r.Index.Point(pt.Lat, pt.Lon, *r.Resolution)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", fn.Name, err)
	}
	metrics.ObserveRewrite(RulePointInZone, metrics.RewriteApplied)
	return filter.And{Children: []filter.Filter{
		filter.Equal{Left: filter.Prop(r.Schema.ZoneIDAttr), Right: filter.Lit(z.ID)},
		filter.Equal{Left: filter.Prop(r.Schema.ResolutionAttr), Right: filter.Lit(*r.Resolution)},
	}}, nil
}

func (r *Rewriter) rewriteIntersects(n filter.Intersects) (filter.Filter, error) {
	if r.Resolution == nil {
		return skip(RuleIntersects, n), nil
	}
	var lit filter.Literal
	switch {
	case r.isGeometry(n.Left):
		l, ok := n.Right.(filter.Literal)
		if !ok {
			return skip(RuleIntersects, n), nil
		}
		lit = l
	case r.isGeometry(n.Right):
		l, ok := n.Left.(filter.Literal)
		if !ok {
			return skip(RuleIntersects, n), nil
		}
		lit = l
	default:
		return skip(RuleIntersects, n), nil
	}
	polys, ok := polygons(lit.Value)
	if !ok {
		return skip(RuleIntersects, n), nil
	}
	res := *r.Resolution
	seqs := make([]dggs.Seq, len(polys))
	for i, p := range polys {
		seqs[i] = r.Index.Polygon(p, res, true)
	}
	return r.fromZones(RuleIntersects, concat(seqs), res)
}

func (r *Rewriter) rewriteBBox(n filter.BBox) (filter.Filter, error) {
	if r.Resolution == nil || !r.isGeometry(n.Expr) {
		return skip(RuleBBox, n), nil
	}
	return r.fromZones(RuleBBox, r.Index.ZonesInEnvelope(n.Box, *r.Resolution, true), *r.Resolution)
}

func (r *Rewriter) fromZones(rule string, zones dggs.Seq, res int) (filter.Filter, error) {
	f, err := GetFilterFrom(r.Index, r.Schema, zones, res)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", rule, err)
	}
	if _, ok := f.(filter.Exclude); ok {
		metrics.ObserveRewrite(rule, metrics.RewriteExcluded)
	} else {
		metrics.ObserveRewrite(rule, metrics.RewriteApplied)
	}
	return f, nil
}

func skip(rule string, f filter.Filter) filter.Filter {
	metrics.ObserveRewrite(rule, metrics.RewriteSkipped)
	return filter.Copy(f)
}

func polygons(v any) ([]model.Polygon, bool) {
	switch g := v.(type) {
	case model.Polygon:
		return []model.Polygon{g}, !g.IsEmpty()
	case []model.Polygon:
		return g, len(g) > 0
	case model.BBox:
		return []model.Polygon{g.Polygon()}, true
	case geom.Geometry:
		ps, err := geometry.FromGeom(g)
		return ps, err == nil && len(ps) > 0
	}
	return nil, false
}

func concat(seqs []dggs.Seq) dggs.Seq {
	return func(yield func(model.Zone, error) bool) {
		for _, s := range seqs {
			for z, err := range s {
				if !yield(z, err) || err != nil {
					return
				}
			}
		}
	}
}

func inList(attr string, ids []string) filter.In {
	vals := make([]filter.Literal, len(ids))
	for i, id := range ids {
		vals[i] = filter.Lit(id)
	}
	return filter.In{Expr: filter.Prop(attr), Values: vals}
}

// GetFilterFrom translates a possibly compacted zone stream into a predicate:
// zones at res become an IN list, coarser zones become child filters, and the
// disjunction is conjoined with resolution = res. An empty stream is EXCLUDE.
func GetFilterFrom(idx dggs.Index, s dggs.Schema, zones dggs.Seq, res int) (filter.Filter, error) {
	var exact []string
	var coarse []filter.Filter
	seen := make(map[string]struct{})
	for z, err := range zones {
		if err != nil {
			return nil, err
		}
		if _, dup := seen[z.ID]; dup {
			continue
		}
		seen[z.ID] = struct{}{}
		switch {
		case z.Resolution == res:
			exact = append(exact, z.ID)
		case z.Resolution < res:
			cf, err := idx.ChildFilter(s, z.ID, res, false)
			if err != nil {
				return nil, err
			}
			coarse = append(coarse, cf)
		default:
			id, err := ancestorAt(idx, z.ID, res)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				exact = append(exact, id)
			}
		}
	}
	if len(exact) == 0 && len(coarse) == 0 {
		return filter.Exclude{}, nil
	}
	parts := make([]filter.Filter, 0, len(coarse)+1)
	if len(exact) > 0 {
		slices.Sort(exact)
		parts = append(parts, inList(s.ZoneIDAttr, exact))
	}
	parts = append(parts, coarse...)
	return filter.And{Children: []filter.Filter{
		filter.AnyOf(parts...),
		filter.Equal{Left: filter.Prop(s.ResolutionAttr), Right: filter.Lit(res)},
	}}, nil
}

func ancestorAt(idx dggs.Index, id string, res int) (string, error) {
	for p, err := range idx.Parents(id) {
		if err != nil {
			return "", err
		}
		if p.Resolution == res {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: zone %s has no ancestor at resolution %d", dggs.ErrInvalidArgument, id, res)
}
