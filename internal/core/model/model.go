// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math"
)

// Point is a geographic position in degrees, longitude first.
type Point struct {
	Lon, Lat float64
}

func (p Point) String() string {
	return fmt.Sprintf("%.8f %.8f", p.Lon, p.Lat)
}

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Valid reports whether the box is a non-empty EPSG:4326 rectangle.
func (b BBox) Valid() error {
	if b.SRID != "" && b.SRID != "EPSG:4326" {
		return fmt.Errorf("bbox srid %q must be EPSG:4326", b.SRID)
	}
	if b.X1 < -180 || b.X2 > 180 || b.Y1 < -90 || b.Y2 > 90 {
		return fmt.Errorf("bbox %s out of range", b)
	}
	if !(b.X2 > b.X1 && b.Y2 > b.Y1) {
		return fmt.Errorf("bbox %s must satisfy x2>x1 and y2>y1", b)
	}
	return nil
}

// Contains reports whether p lies inside or on the box.
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.X1 && p.Lon <= b.X2 && p.Lat >= b.Y1 && p.Lat <= b.Y2
}

// Ring returns the closed counter-clockwise ring of the box.
func (b BBox) Ring() Ring {
	return Ring{
		{Lon: b.X1, Lat: b.Y1},
		{Lon: b.X2, Lat: b.Y1},
		{Lon: b.X2, Lat: b.Y2},
		{Lon: b.X1, Lat: b.Y2},
		{Lon: b.X1, Lat: b.Y1},
	}
}

// Polygon returns the box as a single-ring polygon.
func (b BBox) Polygon() Polygon {
	return Polygon{Rings: []Ring{b.Ring()}}
}

// Ring is a sequence of vertices. Closed rings repeat the first vertex at the end.
type Ring []Point

// Closed reports whether the last vertex equals the first.
func (r Ring) Closed() bool {
	return len(r) >= 2 && r[0] == r[len(r)-1]
}

// Open returns the ring without its duplicated closing vertex.
func (r Ring) Open() Ring {
	if r.Closed() {
		return r[:len(r)-1]
	}
	return r
}

// Close returns a copy of the ring with the closing vertex appended if missing.
func (r Ring) Close() Ring {
	out := make(Ring, 0, len(r)+1)
	out = append(out, r...)
	if len(out) > 0 && !out.Closed() {
		out = append(out, out[0])
	}
	return out
}

// Equal compares two rings vertex by vertex within eps degrees.
func (r Ring) Equal(o Ring, eps float64) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if math.Abs(r[i].Lon-o[i].Lon) > eps || math.Abs(r[i].Lat-o[i].Lat) > eps {
			return false
		}
	}
	return true
}

// Polygon holds a shell followed by optional holes.
type Polygon struct {
	Rings []Ring
}

// Shell returns the outer ring or nil.
func (p Polygon) Shell() Ring {
	if len(p.Rings) == 0 {
		return nil
	}
	return p.Rings[0]
}

func (p Polygon) IsEmpty() bool {
	return len(p.Rings) == 0 || len(p.Rings[0]) == 0
}

// Envelope returns the bounding box of the shell.
func (p Polygon) Envelope() BBox {
	sh := p.Shell()
	if len(sh) == 0 {
		return BBox{SRID: "EPSG:4326"}
	}
	bb := BBox{X1: sh[0].Lon, Y1: sh[0].Lat, X2: sh[0].Lon, Y2: sh[0].Lat, SRID: "EPSG:4326"}
	for _, v := range sh[1:] {
		bb.X1 = math.Min(bb.X1, v.Lon)
		bb.X2 = math.Max(bb.X2, v.Lon)
		bb.Y1 = math.Min(bb.Y1, v.Lat)
		bb.Y2 = math.Max(bb.Y2, v.Lat)
	}
	return bb
}

// Zone is one cell of a discrete global grid. Zones are immutable once built.
type Zone struct {
	ID         string
	Resolution int
	Center     Point
	Boundary   Polygon
	Extra      map[string]any
}

// Property returns a named extra property.
func (z Zone) Property(name string) (any, bool) {
	v, ok := z.Extra[name]
	return v, ok
}

// PropertyKind names the declared type of an extra zone property.
type PropertyKind string

const (
	KindString PropertyKind = "string"
	KindInt    PropertyKind = "int"
	KindFloat  PropertyKind = "float"
	KindBool   PropertyKind = "bool"
)
