package h3grid

import (
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

func (g *Grid) ZonesInEnvelope(bb model.BBox, res int, compact bool) dggs.Seq {
	if err := bb.Valid(); err != nil {
		return dggs.Fail(fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err))
	}
	return g.Polygon(bb.Polygon(), res, compact)
}

func (g *Grid) Polygon(p model.Polygon, res int, compact bool) dggs.Seq {
	cells, err := g.cover(p, res, compact)
	if err != nil {
		return dggs.Fail(err)
	}
	return g.cells(cells)
}

func (g *Grid) CountPolygon(p model.Polygon, res int, compact bool) (int, error) {
	cells, err := g.cover(p, res, compact)
	return len(cells), err
}

func (g *Grid) CountZonesInEnvelope(bb model.BBox, res int, compact bool) (int, error) {
	if err := bb.Valid(); err != nil {
		return 0, fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err)
	}
	return g.CountPolygon(bb.Polygon(), res, compact)
}

// cover returns every cell at res whose boundary meets p, sorted. p is read
// as a planar lon/lat shape, so it is cut into strips narrow enough that H3
// never takes a long edge the short way round. H3's polyfill only keeps cells
// whose centre is inside, so the fill is seeded with the cells under each
// vertex and grown outwards through neighbours that still intersect.
func (g *Grid) cover(p model.Polygon, res int, compact bool) ([]h3.Cell, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if p.IsEmpty() {
		return nil, fmt.Errorf("%w: empty polygon", dggs.ErrInvalidArgument)
	}
	for i, r := range p.Rings {
		if len(r.Open()) < 3 {
			return nil, fmt.Errorf("%w: ring %d has < 4 vertices", dggs.ErrInvalidArgument, i)
		}
	}
	strips, err := geometry.Strips(p, 90)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err)
	}

	seen := map[h3.Cell]struct{}{}
	var frontier []h3.Cell
	push := func(c h3.Cell) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			frontier = append(frontier, c)
		}
	}
	for _, s := range strips {
		var holes []h3.GeoLoop
		for _, r := range s.Rings[1:] {
			holes = append(holes, toLoop(r))
		}
		filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: toLoop(s.Shell()), Holes: holes}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, c := range filled {
			push(c)
		}
	}
	for _, ll := range toLoop(p.Shell()) {
		c, err := h3.LatLngToCell(ll, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for vertex: %w", err)
		}
		push(c)
	}

	for len(frontier) > 0 {
		c := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		ring, err := c.GridDisk(1)
		if err != nil {
			return nil, fmt.Errorf("h3 grid disk of %s: %w", c, err)
		}
		for _, n := range ring {
			if _, ok := seen[n]; ok || n == 0 {
				continue
			}
			z, err := g.zoneOf(n)
			if err != nil {
				return nil, err
			}
			if !geometry.ZoneIntersects(z.Boundary, p) {
				continue
			}
			seen[n] = struct{}{}
			frontier = append(frontier, n)
		}
	}

	out := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	if compact {
		out, err = h3.CompactCells(out)
		if err != nil {
			return nil, fmt.Errorf("h3 compact: %w", err)
		}
	}
	slices.Sort(out)
	return out, nil
}

// toLoop converts a ring to an h3 loop, dropping the closing vertex.
func toLoop(r model.Ring) h3.GeoLoop {
	r = r.Open()
	loop := make(h3.GeoLoop, 0, len(r))
	for _, pt := range r {
		loop = append(loop, h3.LatLng{Lat: pt.Lat, Lng: pt.Lon})
	}
	return loop
}
