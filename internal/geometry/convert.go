package geometry

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

// ToGeom converts a model polygon to a simplefeatures polygon. Rings are closed
// if needed.
func ToGeom(p model.Polygon) geom.Polygon {
	rings := make([]geom.LineString, 0, len(p.Rings))
	for _, r := range p.Rings {
		cr := r.Close()
		coords := make([]float64, 0, 2*len(cr))
		for _, v := range cr {
			coords = append(coords, v.Lon, v.Lat)
		}
		rings = append(rings, geom.NewLineString(geom.NewSequence(coords, geom.DimXY)))
	}
	return geom.NewPolygon(rings)
}

// FromGeom flattens a Polygon or MultiPolygon geometry into model polygons.
func FromGeom(g geom.Geometry) ([]model.Polygon, error) {
	if pg, ok := g.AsPolygon(); ok {
		return []model.Polygon{fromPolygon(pg)}, nil
	}
	if mp, ok := g.AsMultiPolygon(); ok {
		out := make([]model.Polygon, 0, mp.NumPolygons())
		for i := 0; i < mp.NumPolygons(); i++ {
			out = append(out, fromPolygon(mp.PolygonN(i)))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported geometry type %s", g.Type())
}

func fromPolygon(p geom.Polygon) model.Polygon {
	out := model.Polygon{Rings: make([]model.Ring, 0, 1+p.NumInteriorRings())}
	out.Rings = append(out.Rings, fromLineString(p.ExteriorRing()))
	for i := 0; i < p.NumInteriorRings(); i++ {
		out.Rings = append(out.Rings, fromLineString(p.InteriorRingN(i)))
	}
	return out
}

func fromLineString(ls geom.LineString) model.Ring {
	seq := ls.Coordinates()
	out := make(model.Ring, seq.Length())
	for i := range out {
		xy := seq.GetXY(i)
		out[i] = model.Point{Lon: xy.X, Lat: xy.Y}
	}
	return out
}

// Area returns the planar area in square degrees of the normalised polygon.
func Area(p model.Polygon) float64 {
	return ToGeom(Normalize(p)).AsGeometry().Area()
}

// ContainsPoint reports whether pt lies in the polygon or on its boundary.
func ContainsPoint(p model.Polygon, pt model.Point) bool {
	if p.IsEmpty() {
		return false
	}
	point := geom.XY{X: pt.Lon, Y: pt.Lat}.AsPoint().AsGeometry()
	return geom.Intersects(ToGeom(p).AsGeometry(), point)
}
