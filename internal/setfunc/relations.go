package setfunc

import (
	"errors"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

// Set function names.
const (
	Children     = "dggsChildren"
	Neighbor     = "dggsNeighbor"
	Parent       = "dggsParent"
	Polygon      = "dggsPolygon"
	Envelope     = "dggsEnvelope"
	PointInZone  = "dggsPointInZone"
	ResolutionOf = "dggsResolution"
)

// errNull marks a per-row null parameter: the row does not match.
var errNull = errors.New("null parameter")

// relation builds the defining sequence of a set function from its bound
// parameters (every argument but the tested zone id).
type relation struct {
	name    string
	minArgs int
	maxArgs int
	seq     func(idx dggs.Index, params []any) (dggs.Seq, error)
}

var relations = map[string]relation{
	Children: {name: Children, minArgs: 2, maxArgs: 3, seq: childrenSeq},
	Neighbor: {name: Neighbor, minArgs: 2, maxArgs: 2, seq: func(idx dggs.Index, p []any) (dggs.Seq, error) {
		ref, err := stringParam(p, 0, "reference zone")
		if err != nil {
			return nil, err
		}
		d, err := intParam(p, 1, "distance")
		if err != nil {
			return nil, err
		}
		return idx.Neighbors(ref, d), nil
	}},
	Parent: {name: Parent, minArgs: 1, maxArgs: 1, seq: func(idx dggs.Index, p []any) (dggs.Seq, error) {
		ref, err := stringParam(p, 0, "reference zone")
		if err != nil {
			return nil, err
		}
		return idx.Parents(ref), nil
	}},
	Polygon: {name: Polygon, minArgs: 2, maxArgs: 3, seq: func(idx dggs.Index, p []any) (dggs.Seq, error) {
		polys, err := polygonParam(p, 0)
		if err != nil {
			return nil, err
		}
		res, compact, err := resCompact(p)
		if err != nil {
			return nil, err
		}
		return concat(len(polys), func(i int) dggs.Seq { return idx.Polygon(polys[i], res, compact) }), nil
	}},
	Envelope: {name: Envelope, minArgs: 2, maxArgs: 3, seq: func(idx dggs.Index, p []any) (dggs.Seq, error) {
		if p[0] == nil {
			return nil, errNull
		}
		bb, ok := p[0].(model.BBox)
		if !ok {
			return nil, fmt.Errorf("%w: envelope must be a bbox, got %T", dggs.ErrInvalidArgument, p[0])
		}
		res, compact, err := resCompact(p)
		if err != nil {
			return nil, err
		}
		return idx.ZonesInEnvelope(bb, res, compact), nil
	}},
}

// Relation reports whether name is a cacheable set function.
func Relation(name string) bool {
	_, ok := relations[name]
	return ok
}

func childrenSeq(idx dggs.Index, p []any) (dggs.Seq, error) {
	ref, err := stringParam(p, 0, "reference zone")
	if err != nil {
		return nil, err
	}
	res, err := intParam(p, 1, "resolution")
	if err != nil {
		return nil, err
	}
	upTo, err := boolParam(p, 2)
	if err != nil {
		return nil, err
	}
	if !upTo {
		return idx.Children(ref, res), nil
	}
	parent, err := idx.Zone(ref)
	if err != nil {
		return nil, err
	}
	from := min(parent.Resolution+1, res)
	return concat(res-from+1, func(i int) dggs.Seq { return idx.Children(ref, from+i) }), nil
}

func concat(n int, part func(i int) dggs.Seq) dggs.Seq {
	return func(yield func(model.Zone, error) bool) {
		for i := range n {
			for z, err := range part(i) {
				if !yield(z, err) || err != nil {
					return
				}
			}
		}
	}
}

func resCompact(p []any) (int, bool, error) {
	res, err := intParam(p, 1, "resolution")
	if err != nil {
		return 0, false, err
	}
	compact, err := boolParam(p, 2)
	return res, compact, err
}

func stringParam(p []any, i int, what string) (string, error) {
	switch v := p[i].(type) {
	case nil:
		return "", errNull
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %s must be a zone id, got %T", dggs.ErrInvalidArgument, what, p[i])
	}
}

func intParam(p []any, i int, what string) (int, error) {
	if p[i] == nil {
		return 0, errNull
	}
	n, ok := filter.AsInt(p[i])
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", dggs.ErrInvalidArgument, what, p[i])
	}
	return n, nil
}

// boolParam reads an optional trailing flag.
func boolParam(p []any, i int) (bool, error) {
	if i >= len(p) || p[i] == nil {
		return false, nil
	}
	b, ok := p[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: flag must be boolean, got %T", dggs.ErrInvalidArgument, p[i])
	}
	return b, nil
}

func polygonParam(p []any, i int) ([]model.Polygon, error) {
	switch v := p[i].(type) {
	case nil:
		return nil, errNull
	case model.Polygon:
		return []model.Polygon{v}, nil
	case []model.Polygon:
		return v, nil
	case model.BBox:
		return []model.Polygon{v.Polygon()}, nil
	case geom.Geometry:
		polys, err := geometry.FromGeom(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err)
		}
		return polys, nil
	case string:
		polys, err := geometry.ParseGeoJSON(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err)
		}
		return polys, nil
	default:
		return nil, fmt.Errorf("%w: polygon parameter has type %T", dggs.ErrInvalidArgument, v)
	}
}
