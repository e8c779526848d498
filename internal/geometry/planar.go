package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

// Query polygons are planar lon/lat shapes: an edge from 170 to -170 runs
// 340 degrees west, the way filter evaluation reads it. Zone boundaries are
// normalised and may extend past +-180.

// ZoneIntersects reports whether a normalised zone boundary meets the planar
// query polygon. A boundary wrapped past the antimeridian is also tested
// shifted by 360 degrees so the part on the far side is not missed.
func ZoneIntersects(boundary, query model.Polygon) bool {
	if boundary.IsEmpty() || query.IsEmpty() {
		return false
	}
	q := ToGeom(query).AsGeometry()
	for _, b := range frames(boundary) {
		if geom.Intersects(ToGeom(b).AsGeometry(), q) {
			return true
		}
	}
	return false
}

// ZoneWithin reports whether a normalised zone boundary lies entirely inside
// the planar query polygon. Wrapped boundaries report false.
func ZoneWithin(boundary, query model.Polygon) (bool, error) {
	if boundary.IsEmpty() || query.IsEmpty() || len(frames(boundary)) > 1 {
		return false, nil
	}
	ok, err := geom.Contains(ToGeom(query).AsGeometry(), ToGeom(boundary).AsGeometry())
	if err != nil {
		return false, fmt.Errorf("contains: %w", err)
	}
	return ok, nil
}

func frames(p model.Polygon) []model.Polygon {
	out := []model.Polygon{p}
	env := p.Envelope()
	if env.X2 > 180 {
		out = append(out, shift(p, -360))
	}
	if env.X1 < -180 {
		out = append(out, shift(p, 360))
	}
	return out
}

func shift(p model.Polygon, dx float64) model.Polygon {
	out := model.Polygon{Rings: make([]model.Ring, len(p.Rings))}
	for i, r := range p.Rings {
		nr := make(model.Ring, len(r))
		for j, v := range r {
			nr[j] = model.Point{Lon: v.Lon + dx, Lat: v.Lat}
		}
		out.Rings[i] = nr
	}
	return out
}

// Strips clips a planar polygon into vertical strips at most width degrees
// wide, for libraries that read long edges as crossing the antimeridian.
// Polygons no wider than width come back unchanged.
func Strips(p model.Polygon, width float64) ([]model.Polygon, error) {
	if p.IsEmpty() || width <= 0 {
		return []model.Polygon{p}, nil
	}
	env := p.Envelope()
	if env.X2-env.X1 <= width {
		return []model.Polygon{p}, nil
	}
	g := ToGeom(p).AsGeometry()
	var out []model.Polygon
	for x := env.X1; x < env.X2; x += width {
		strip := model.BBox{X1: x, Y1: env.Y1, X2: min(x+width, env.X2), Y2: env.Y2}
		part, err := geom.Intersection(g, ToGeom(strip.Polygon()).AsGeometry())
		if err != nil {
			return nil, fmt.Errorf("clip strip at %g: %w", x, err)
		}
		for _, d := range part.Dump() {
			if pg, ok := d.AsPolygon(); ok && !pg.IsEmpty() {
				out = append(out, fromPolygon(pg))
			}
		}
	}
	return out, nil
}
