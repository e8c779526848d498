package geometry

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

// ErrUnionFailed is returned when every precision level failed to union.
var ErrUnionFailed = errors.New("geometry union failed")

const (
	DefaultStartPrecision = 1e-8
	DefaultUnionAttempts  = 6
)

// Unioner unions zone polygons, retrying at coarser coordinate precision when
// the exact overlay fails.
type Unioner struct {
	StartPrecision float64
	Attempts       int
	Logger         *slog.Logger

	union func(a, b geom.Geometry) (geom.Geometry, error)
}

func NewUnioner(startPrecision float64, attempts int, logger *slog.Logger) *Unioner {
	if startPrecision <= 0 {
		startPrecision = DefaultStartPrecision
	}
	if attempts <= 0 {
		attempts = DefaultUnionAttempts
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unioner{
		StartPrecision: startPrecision,
		Attempts:       attempts,
		Logger:         logger,
		union:          geom.Union,
	}
}

// Union merges a (typically pole-covering) polygon with another polygon.
func (u *Unioner) Union(polar, other model.Polygon) ([]model.Polygon, error) {
	g, err := u.UnionGeometry(ToGeom(polar).AsGeometry(), ToGeom(other).AsGeometry())
	if err != nil {
		return nil, err
	}
	return FromGeom(g)
}

// UnionGeometry is Union on simplefeatures geometries.
func (u *Unioner) UnionGeometry(a, b geom.Geometry) (geom.Geometry, error) {
	out, err := u.safeUnion(a, b)
	if err == nil {
		return out, nil
	}
	firstErr := err

	precision := u.StartPrecision
	for attempt := 1; attempt <= u.Attempts; attempt++ {
		metrics.ObserveUnionRetry()
		u.Logger.Debug("union retry at reduced precision",
			"attempt", attempt,
			"precision", precision,
			"err", err)
		out, err = u.safeUnion(Snap(a, precision), Snap(b, precision))
		if err == nil {
			u.Logger.Warn("union succeeded at reduced precision",
				"attempt", attempt,
				"precision", precision)
			return out, nil
		}
		precision *= 10
	}
	return geom.Geometry{}, fmt.Errorf("%w after %d precision reductions: %w", ErrUnionFailed, u.Attempts, firstErr)
}

// overlay code can panic on degenerate input; treat that as a failed attempt
func (u *Unioner) safeUnion(a, b geom.Geometry) (out geom.Geometry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("union panic: %v", r)
		}
	}()
	return u.union(a, b)
}

// Snap rounds every coordinate of a polygonal geometry to a multiple of precision.
func Snap(g geom.Geometry, precision float64) geom.Geometry {
	polys, err := FromGeom(g)
	if err != nil {
		return g
	}
	snapped := make([]geom.Polygon, 0, len(polys))
	for _, p := range polys {
		rings := make([]model.Ring, 0, len(p.Rings))
		for _, r := range p.Rings {
			rr := make(model.Ring, 0, len(r))
			for _, v := range r {
				pt := model.Point{Lon: roundTo(v.Lon, precision), Lat: roundTo(v.Lat, precision)}
				// drop vertices collapsed onto their predecessor
				if len(rr) > 0 && rr[len(rr)-1] == pt {
					continue
				}
				rr = append(rr, pt)
			}
			rings = append(rings, rr.Close())
		}
		snapped = append(snapped, ToGeom(model.Polygon{Rings: rings}))
	}
	if len(snapped) == 1 {
		return snapped[0].AsGeometry()
	}
	return geom.NewMultiPolygon(snapped).AsGeometry()
}

func roundTo(v, precision float64) float64 {
	if precision <= 0 {
		return v
	}
	return math.Round(v/precision) * precision
}
