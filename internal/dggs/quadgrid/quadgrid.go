// Package quadgrid is a prefix-encoded quad tree over the plate carree plane.
//
// Resolution 0 has two zones, "0" (west hemisphere) and "1" (east). Each zone
// splits into four children numbered 0 (south-west), 1 (south-east),
// 2 (north-west) and 3 (north-east), appended to the parent id. A zone's
// resolution is therefore len(id)-1.
package quadgrid

import (
	"fmt"
	"math"
	"strings"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

const (
	Name = "quad"
	// MaxResolution bounds ids to what a float64 cell edge still resolves.
	MaxResolution = 30
)

// Grid is safe for concurrent use; it holds no mutable state.
type Grid struct {
	maxRes int
	res    []int
}

var _ dggs.Index = (*Grid)(nil)

func New(maxRes int) (*Grid, error) {
	if maxRes < 0 || maxRes > MaxResolution {
		return nil, fmt.Errorf("%w: quad grid max resolution %d not in [0..%d]", dggs.ErrInvalidArgument, maxRes, MaxResolution)
	}
	res := make([]int, maxRes+1)
	for i := range res {
		res[i] = i
	}
	return &Grid{maxRes: maxRes, res: res}, nil
}

func (g *Grid) Name() string { return Name }

func (g *Grid) Resolutions() []int {
	out := make([]int, len(g.res))
	copy(out, g.res)
	return out
}

func (g *Grid) ExtraProperties() map[string]model.PropertyKind {
	return map[string]model.PropertyKind{"quadrant": model.KindInt}
}

// cell is a zone's position: column and row in the 2^(res+1) x 2^res raster.
type cell struct {
	res      int
	col, row int
}

func (c cell) cols() int { return 2 << c.res }
func (c cell) rows() int { return 1 << c.res }

func (c cell) bounds() model.BBox {
	w := 360 / float64(c.cols())
	h := 180 / float64(c.rows())
	return model.BBox{
		X1: -180 + float64(c.col)*w, X2: -180 + float64(c.col+1)*w,
		Y1: -90 + float64(c.row)*h, Y2: -90 + float64(c.row+1)*h,
		SRID: "EPSG:4326",
	}
}

func (c cell) id() string {
	var b strings.Builder
	b.Grow(c.res + 1)
	b.WriteByte(byte('0' + c.col>>c.res))
	for r := c.res - 1; r >= 0; r-- {
		d := (c.col>>r)&1 | ((c.row>>r)&1)<<1
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

func parse(id string) (cell, error) {
	if id == "" || (id[0] != '0' && id[0] != '1') {
		return cell{}, fmt.Errorf("%w: quad zone id %q", dggs.ErrNotFound, id)
	}
	c := cell{res: len(id) - 1, col: int(id[0] - '0')}
	for i := 1; i < len(id); i++ {
		d := id[i]
		if d < '0' || d > '3' {
			return cell{}, fmt.Errorf("%w: quad zone id %q", dggs.ErrNotFound, id)
		}
		c.col = c.col<<1 | int(d-'0')&1
		c.row = c.row<<1 | int(d-'0')>>1
	}
	return c, nil
}

func (g *Grid) zoneOf(c cell) model.Zone {
	bb := c.bounds()
	id := c.id()
	return model.Zone{
		ID:         id,
		Resolution: c.res,
		Center:     model.Point{Lon: (bb.X1 + bb.X2) / 2, Lat: (bb.Y1 + bb.Y2) / 2},
		Boundary:   bb.Polygon(),
		Extra:      map[string]any{"quadrant": int(id[len(id)-1] - '0')},
	}
}

func (g *Grid) lookup(id string) (cell, error) {
	c, err := parse(id)
	if err != nil {
		return cell{}, err
	}
	if c.res > g.maxRes {
		return cell{}, fmt.Errorf("%w: quad zone %q is finer than resolution %d", dggs.ErrNotFound, id, g.maxRes)
	}
	return c, nil
}

func (g *Grid) Zone(id string) (model.Zone, error) {
	c, err := g.lookup(id)
	if err != nil {
		return model.Zone{}, err
	}
	return g.zoneOf(c), nil
}

func (g *Grid) Point(lat, lon float64, res int) (model.Zone, error) {
	if err := dggs.ValidateResolution(g, res); err != nil {
		return model.Zone{}, err
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Zone{}, fmt.Errorf("%w: point (%f,%f) outside the globe", dggs.ErrInvalidArgument, lat, lon)
	}
	c := cell{res: res}
	c.col = min(int((lon+180)/360*float64(c.cols())), c.cols()-1)
	c.row = min(int((lat+90)/180*float64(c.rows())), c.rows()-1)
	return g.zoneOf(c), nil
}

func (g *Grid) ZonesInEnvelope(bb model.BBox, res int, compact bool) dggs.Seq {
	if err := bb.Valid(); err != nil {
		return dggs.Fail(fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err))
	}
	if err := dggs.ValidateResolution(g, res); err != nil {
		return dggs.Fail(err)
	}
	// zones touching the box count: a point on the shared edge is in both
	return g.descend(res, compact, func(c model.BBox) (bool, bool, error) {
		overlap := c.X1 <= bb.X2 && c.X2 >= bb.X1 && c.Y1 <= bb.Y2 && c.Y2 >= bb.Y1
		inside := c.X1 >= bb.X1 && c.X2 <= bb.X2 && c.Y1 >= bb.Y1 && c.Y2 <= bb.Y2
		return overlap, inside, nil
	})
}

func (g *Grid) Polygon(p model.Polygon, res int, compact bool) dggs.Seq {
	if p.IsEmpty() {
		return dggs.Fail(fmt.Errorf("%w: empty polygon", dggs.ErrInvalidArgument))
	}
	if err := dggs.ValidateResolution(g, res); err != nil {
		return dggs.Fail(err)
	}
	env := p.Envelope()
	return g.descend(res, compact, func(c model.BBox) (bool, bool, error) {
		if c.X1 > env.X2 || c.X2 < env.X1 || c.Y1 > env.Y2 || c.Y2 < env.Y1 {
			return false, false, nil
		}
		rect := c.Polygon()
		if !geometry.ZoneIntersects(rect, p) {
			return false, false, nil
		}
		if !compact {
			return true, false, nil
		}
		inside, err := geometry.ZoneWithin(rect, p)
		return true, inside, err
	})
}

// descend walks the tree depth first. test reports whether a cell overlaps the
// query and whether it lies entirely inside it.
func (g *Grid) descend(res int, compact bool, test func(model.BBox) (overlap, inside bool, err error)) dggs.Seq {
	return func(yield func(model.Zone, error) bool) {
		var walk func(c cell) bool
		walk = func(c cell) bool {
			overlap, inside, err := test(c.bounds())
			if err != nil {
				yield(model.Zone{}, err)
				return false
			}
			if !overlap {
				return true
			}
			if c.res == res || (compact && inside) {
				return yield(g.zoneOf(c), nil)
			}
			for d := range 4 {
				child := cell{res: c.res + 1, col: c.col<<1 | d&1, row: c.row<<1 | d>>1}
				if !walk(child) {
					return false
				}
			}
			return true
		}
		for root := range 2 {
			if !walk(cell{col: root}) {
				return
			}
		}
	}
}

// Neighbors yields zones within Chebyshev distance radius on the raster.
// Columns wrap around the antimeridian, rows stop at the poles.
func (g *Grid) Neighbors(id string, radius int) dggs.Seq {
	c, err := g.lookup(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if radius < 0 {
		return dggs.Fail(fmt.Errorf("%w: negative neighbour radius %d", dggs.ErrInvalidArgument, radius))
	}
	return func(yield func(model.Zone, error) bool) {
		cols := c.cols()
		for row := max(c.row-radius, 0); row <= min(c.row+radius, c.rows()-1); row++ {
			if 2*radius+1 >= cols {
				for col := range cols {
					n := cell{res: c.res, row: row, col: col}
					if n != c && !yield(g.zoneOf(n), nil) {
						return
					}
				}
				continue
			}
			for off := -radius; off <= radius; off++ {
				n := cell{res: c.res, row: row, col: ((c.col+off)%cols + cols) % cols}
				if n != c && !yield(g.zoneOf(n), nil) {
					return
				}
			}
		}
	}
}

func (g *Grid) Children(id string, res int) dggs.Seq {
	c, err := g.lookup(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if err := g.checkChildRes(c, id, res); err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		d := res - c.res
		side := 1 << d
		for row := range side {
			for col := range side {
				child := cell{res: res, col: c.col<<d | col, row: c.row<<d | row}
				if !yield(g.zoneOf(child), nil) {
					return
				}
			}
		}
	}
}

func (g *Grid) CountChildren(id string, res int) (int, error) {
	c, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	if err := g.checkChildRes(c, id, res); err != nil {
		return 0, err
	}
	return 1 << (2 * (res - c.res)), nil
}

func (g *Grid) checkChildRes(c cell, id string, res int) error {
	if err := dggs.ValidateResolution(g, res); err != nil {
		return err
	}
	if res < c.res {
		return fmt.Errorf("%w: child resolution %d coarser than zone %s", dggs.ErrInvalidArgument, res, id)
	}
	return nil
}

func (g *Grid) Parents(id string) dggs.Seq {
	if _, err := g.lookup(id); err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		for n := len(id) - 1; n >= 1; n-- {
			c, _ := parse(id[:n])
			if !yield(g.zoneOf(c), nil) {
				return
			}
		}
	}
}

func (g *Grid) CountParents(id string) (int, error) {
	c, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	return c.res, nil
}

// ChildFilter relies on the prefix encoding: a descendant's id starts with its
// ancestor's id.
func (g *Grid) ChildFilter(s dggs.Schema, parentID string, res int, upTo bool) (filter.Filter, error) {
	c, err := g.lookup(parentID)
	if err != nil {
		return nil, err
	}
	if err := g.checkChildRes(c, parentID, res); err != nil {
		return nil, err
	}
	prefix := filter.Like{Expr: filter.Prop(s.ZoneIDAttr), Pattern: parentID + "%"}
	var level filter.Filter = filter.Equal{Left: filter.Prop(s.ResolutionAttr), Right: filter.Lit(res)}
	if upTo && res > c.res {
		level = filter.Between{Expr: filter.Prop(s.ResolutionAttr), Lower: filter.Lit(c.res + 1), Upper: filter.Lit(res)}
	}
	return filter.And{Children: []filter.Filter{prefix, level}}, nil
}

func (g *Grid) CountNeighbors(id string, radius int) (int, error) {
	c, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	if radius < 0 {
		return 0, fmt.Errorf("%w: negative neighbour radius %d", dggs.ErrInvalidArgument, radius)
	}
	rows := min(c.row+radius, c.rows()-1) - max(c.row-radius, 0) + 1
	return rows*min(2*radius+1, c.cols()) - 1, nil
}
