package dggs

import "github.com/mohammed-shakir/dggs-query/internal/core/model"

// Closed-form count overrides. A grid implements only the ones it can compute
// cheaply; each must agree with counting the matching sequence.
type (
	EnvelopeCounter interface {
		CountZonesInEnvelope(bb model.BBox, resolution int, compact bool) (int, error)
	}
	PolygonCounter interface {
		CountPolygon(p model.Polygon, resolution int, compact bool) (int, error)
	}
	NeighborCounter interface {
		CountNeighbors(id string, radius int) (int, error)
	}
	ChildCounter interface {
		CountChildren(id string, resolution int) (int, error)
	}
	ParentCounter interface {
		CountParents(id string) (int, error)
	}
)

func CountZonesInEnvelope(idx Index, bb model.BBox, resolution int, compact bool) (int, error) {
	if c, ok := idx.(EnvelopeCounter); ok {
		return c.CountZonesInEnvelope(bb, resolution, compact)
	}
	return Count(idx.ZonesInEnvelope(bb, resolution, compact))
}

func CountPolygon(idx Index, p model.Polygon, resolution int, compact bool) (int, error) {
	if c, ok := idx.(PolygonCounter); ok {
		return c.CountPolygon(p, resolution, compact)
	}
	return Count(idx.Polygon(p, resolution, compact))
}

func CountNeighbors(idx Index, id string, radius int) (int, error) {
	if c, ok := idx.(NeighborCounter); ok {
		return c.CountNeighbors(id, radius)
	}
	return Count(idx.Neighbors(id, radius))
}

func CountChildren(idx Index, id string, resolution int) (int, error) {
	if c, ok := idx.(ChildCounter); ok {
		return c.CountChildren(id, resolution)
	}
	return Count(idx.Children(id, resolution))
}

func CountParents(idx Index, id string) (int, error) {
	if c, ok := idx.(ParentCounter); ok {
		return c.CountParents(id)
	}
	return Count(idx.Parents(id))
}
