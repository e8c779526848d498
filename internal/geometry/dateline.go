// Package geometry normalises zone boundaries that cross the antimeridian or
// cover a pole so planar algorithms (union, area, intersects) can use them.
package geometry

import (
	"math"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

// Side names the hemisphere a dateline-crossing ring is expressed in.
type Side int

const (
	NoCrossing Side = iota
	East
	West
)

func (s Side) String() string {
	switch s {
	case East:
		return "east"
	case West:
		return "west"
	default:
		return "none"
	}
}

// ClassifyDatelineCrossing reports whether the ring jumps across the
// antimeridian and, if so, which side holds the majority of its vertices.
func ClassifyDatelineCrossing(ring model.Ring) Side {
	open := ring.Open()
	if len(open) < 2 {
		return NoCrossing
	}
	crosses := false
	east, west := 0, 0
	for i, v := range open {
		if v.Lon < 0 {
			west++
		} else {
			east++
		}
		if jumps(v, open[(i+1)%len(open)]) {
			crosses = true
		}
	}
	if !crosses {
		return NoCrossing
	}
	if east >= west {
		return East
	}
	return West
}

// Wrap shifts minority-side vertices by 360 degrees so a crossing ring becomes
// longitude-continuous, expressed in the range of its majority side. Rings that
// do not cross are returned unchanged. Wrapping a wrapped ring is a no-op: after
// one pass no vertex is left on the minority side.
func Wrap(ring model.Ring) model.Ring {
	side := ClassifyDatelineCrossing(ring)
	if side == NoCrossing {
		return ring
	}
	out := make(model.Ring, len(ring))
	for i, v := range ring {
		switch {
		case side == East && v.Lon < 0:
			v.Lon += 360
		case side == West && v.Lon > 0:
			v.Lon -= 360
		}
		out[i] = v
	}
	return out
}

// EnclosesPole reports whether the ring winds around a pole, which shows up as
// an odd number of antimeridian jumps. north tells which pole.
func EnclosesPole(ring model.Ring) (north bool, ok bool) {
	open := ring.Open()
	if len(open) < 3 {
		return false, false
	}
	crossings := 0
	sumLat := 0.0
	for i, v := range open {
		if jumps(v, open[(i+1)%len(open)]) {
			crossings++
		}
		sumLat += v.Lat
	}
	if crossings%2 == 0 {
		return false, false
	}
	return sumLat > 0, true
}

// IncludePole turns a ring that winds around a pole into a planar ring that
// runs along the antimeridian and through the pole at (+-180, +-90).
func IncludePole(ring model.Ring, north bool) model.Ring {
	open := ring.Open()
	n := len(open)
	if n < 3 {
		return ring
	}
	poleLat := -90.0
	if north {
		poleLat = 90
	}

	// rotate so the jump across the antimeridian is the closing edge
	cut := -1
	for i := range open {
		if jumps(open[i], open[(i+1)%n]) {
			cut = i
			break
		}
	}
	if cut < 0 {
		return ring
	}
	seq := make(model.Ring, 0, n+6)
	for i := 1; i <= n; i++ {
		seq = append(seq, open[(cut+i)%n])
	}

	first, last := seq[0], seq[len(seq)-1]
	// eastward traversal starts in the western hemisphere
	eastward := first.Lon < last.Lon
	startLon, endLon := -180.0, 180.0
	if !eastward {
		startLon, endLon = 180.0, -180.0
	}

	lat := antimeridianLat(last, first)
	out := make(model.Ring, 0, len(seq)+6)
	if first.Lon != startLon {
		out = append(out, model.Point{Lon: startLon, Lat: lat})
	}
	out = append(out, seq...)
	if last.Lon != endLon {
		out = append(out, model.Point{Lon: endLon, Lat: lat})
	}
	out = append(out,
		model.Point{Lon: endLon, Lat: poleLat},
		model.Point{Lon: startLon, Lat: poleLat},
	)
	return out.Close()
}

// jumps reports an edge spanning more than half the globe in longitude. Edges
// running along a pole are degenerate and never count.
func jumps(a, b model.Point) bool {
	if a.Lat == b.Lat && math.Abs(a.Lat) == 90 {
		return false
	}
	return math.Abs(b.Lon-a.Lon) > 180
}

// antimeridianLat intersects the edge a->b, which jumps across +-180, with the
// antimeridian by interpolating in a continuous longitude frame.
func antimeridianLat(a, b model.Point) float64 {
	bl := b.Lon
	if a.Lon > 0 && bl < 0 {
		bl += 360
	} else if a.Lon < 0 && bl > 0 {
		bl -= 360
	}
	target := 180.0
	if a.Lon < 0 {
		target = -180
	}
	if bl == a.Lon {
		return a.Lat
	}
	t := (target - a.Lon) / (bl - a.Lon)
	return a.Lat + t*(b.Lat-a.Lat)
}

// Normalize prepares a zone boundary for planar use: pole-covering rings get
// the pole segment, dateline-crossing rings get wrapped, others pass through.
func Normalize(p model.Polygon) model.Polygon {
	if p.IsEmpty() {
		return p
	}
	out := model.Polygon{Rings: make([]model.Ring, len(p.Rings))}
	for i, r := range p.Rings {
		if north, ok := EnclosesPole(r); ok && i == 0 {
			out.Rings[i] = IncludePole(r, north)
			continue
		}
		out.Rings[i] = Wrap(r)
	}
	return out
}
