// Package s2grid exposes the S2 cube-face quad tree as a zone index. A zone's
// resolution is its S2 cell level and its id is the cell id as 16 hex digits.
package s2grid

import (
	"fmt"
	"strconv"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

const (
	Name            = "s2"
	MaxResolution   = s2.MaxLevel
	DefaultMemoSize = 4096
	propFace        = "face"
	coverCellBudget = 1 << 20
	stripWidth      = 10.0
)

type Grid struct {
	maxLevel int
	memo     *lru.Cache[s2.CellID, model.Zone]
}

var _ dggs.Index = (*Grid)(nil)

// New builds a grid limited to maxLevel (0..30) with a zone memo of memoSize.
func New(maxLevel, memoSize int) (*Grid, error) {
	if maxLevel < 0 || maxLevel > MaxResolution {
		return nil, fmt.Errorf("%w: s2 max level %d not in [0..%d]", dggs.ErrInvalidArgument, maxLevel, MaxResolution)
	}
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[s2.CellID, model.Zone](memoSize)
	if err != nil {
		return nil, fmt.Errorf("s2 zone memo: %w", err)
	}
	return &Grid{maxLevel: maxLevel, memo: memo}, nil
}

func (g *Grid) Name() string { return Name }

func (g *Grid) Resolutions() []int {
	out := make([]int, g.maxLevel+1)
	for i := range out {
		out[i] = i
	}
	return out
}

func (g *Grid) ExtraProperties() map[string]model.PropertyKind {
	return map[string]model.PropertyKind{propFace: model.KindInt}
}

func (g *Grid) validateRes(res int) error {
	if res < 0 || res > g.maxLevel {
		return fmt.Errorf("%w: s2 level %d not in [0..%d]", dggs.ErrInvalidArgument, res, g.maxLevel)
	}
	return nil
}

// FormatID renders a cell id as fixed-width hex so string order is id order.
func FormatID(c s2.CellID) string {
	return fmt.Sprintf("%016x", uint64(c))
}

func (g *Grid) parse(id string) (s2.CellID, error) {
	if len(id) != 16 {
		return 0, fmt.Errorf("%w: s2 zone id %q must be 16 hex digits", dggs.ErrNotFound, id)
	}
	v, err := strconv.ParseUint(id, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: s2 zone id %q: %w", dggs.ErrNotFound, id, err)
	}
	c := s2.CellID(v)
	if !c.IsValid() || c.Level() > g.maxLevel {
		return 0, fmt.Errorf("%w: s2 zone id %q", dggs.ErrNotFound, id)
	}
	return c, nil
}

func (g *Grid) zoneOf(c s2.CellID) model.Zone {
	if z, ok := g.memo.Get(c); ok {
		return z
	}
	cell := s2.CellFromCellID(c)
	ring := make(model.Ring, 0, 5)
	for k := range 4 {
		ll := s2.LatLngFromPoint(cell.Vertex(k))
		ring = append(ring, model.Point{Lon: ll.Lng.Degrees(), Lat: ll.Lat.Degrees()})
	}
	center := c.LatLng()
	z := model.Zone{
		ID:         FormatID(c),
		Resolution: c.Level(),
		Center:     model.Point{Lon: center.Lng.Degrees(), Lat: center.Lat.Degrees()},
		Boundary:   geometry.Normalize(model.Polygon{Rings: []model.Ring{ring.Close()}}),
		Extra:      map[string]any{propFace: c.Face()},
	}
	g.memo.Add(c, z)
	return z
}

func (g *Grid) ids(cs []s2.CellID) dggs.Seq {
	return func(yield func(model.Zone, error) bool) {
		for _, c := range cs {
			if !yield(g.zoneOf(c), nil) {
				return
			}
		}
	}
}

func (g *Grid) Zone(id string) (model.Zone, error) {
	c, err := g.parse(id)
	if err != nil {
		return model.Zone{}, err
	}
	return g.zoneOf(c), nil
}

func (g *Grid) Point(lat, lon float64, res int) (model.Zone, error) {
	if err := g.validateRes(res); err != nil {
		return model.Zone{}, err
	}
	ll := s2.LatLngFromDegrees(lat, lon)
	if !ll.IsValid() {
		return model.Zone{}, fmt.Errorf("%w: point (%f,%f) outside the globe", dggs.ErrInvalidArgument, lat, lon)
	}
	return g.zoneOf(s2.CellIDFromLatLng(ll).Parent(res)), nil
}

func rectOf(bb model.BBox) s2.Rect {
	lo := s2.LatLngFromDegrees(bb.Y1, bb.X1)
	hi := s2.LatLngFromDegrees(bb.Y2, bb.X2)
	return s2.Rect{
		Lat: r1.Interval{Lo: lo.Lat.Radians(), Hi: hi.Lat.Radians()},
		Lng: s1.Interval{Lo: lo.Lng.Radians(), Hi: hi.Lng.Radians()},
	}
}

// cover returns the cells at res covering region; with compact set, complete
// groups of four siblings are replaced by their parent.
func (g *Grid) cover(region s2.Region, res int, compact bool) (s2.CellUnion, error) {
	if err := g.validateRes(res); err != nil {
		return nil, err
	}
	rc := &s2.RegionCoverer{MinLevel: res, MaxLevel: res, LevelMod: 1, MaxCells: coverCellBudget}
	cu := rc.Covering(region)
	if compact {
		cu.Normalize()
	}
	return cu, nil
}

func (g *Grid) ZonesInEnvelope(bb model.BBox, res int, compact bool) dggs.Seq {
	if err := bb.Valid(); err != nil {
		return dggs.Fail(fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err))
	}
	cu, err := g.cover(rectOf(bb), res, compact)
	if err != nil {
		return dggs.Fail(err)
	}
	return g.ids(cu)
}

// Polygon covers p read as a planar lon/lat shape. S2 edges are geodesics, so
// p is cut into narrow strips and each strip's box is covered instead.
func (g *Grid) Polygon(p model.Polygon, res int, compact bool) dggs.Seq {
	if p.IsEmpty() || len(p.Shell().Open()) < 3 {
		return dggs.Fail(fmt.Errorf("%w: polygon needs at least 3 distinct vertices", dggs.ErrInvalidArgument))
	}
	strips, err := geometry.Strips(p, stripWidth)
	if err != nil {
		return dggs.Fail(fmt.Errorf("%w: %w", dggs.ErrInvalidArgument, err))
	}
	region := make(s2.RegionUnion, 0, len(strips))
	for _, s := range strips {
		region = append(region, rectOf(s.Envelope()))
	}
	cu, err := g.cover(region, res, compact)
	if err != nil {
		return dggs.Fail(err)
	}
	return g.ids(cu)
}

func (g *Grid) Neighbors(id string, radius int) dggs.Seq {
	c, err := g.parse(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if radius < 0 {
		return dggs.Fail(fmt.Errorf("%w: negative neighbour radius %d", dggs.ErrInvalidArgument, radius))
	}
	return func(yield func(model.Zone, error) bool) {
		seen := map[s2.CellID]struct{}{c: {}}
		ring := []s2.CellID{c}
		for range radius {
			var next []s2.CellID
			for _, r := range ring {
				for _, n := range r.AllNeighbors(c.Level()) {
					if _, ok := seen[n]; ok {
						continue
					}
					seen[n] = struct{}{}
					next = append(next, n)
					if !yield(g.zoneOf(n), nil) {
						return
					}
				}
			}
			if len(next) == 0 {
				return
			}
			ring = next
		}
	}
}

func (g *Grid) checkChildRes(c s2.CellID, res int) error {
	if err := g.validateRes(res); err != nil {
		return err
	}
	if res < c.Level() {
		return fmt.Errorf("%w: child level %d coarser than cell level %d", dggs.ErrInvalidArgument, res, c.Level())
	}
	return nil
}

func (g *Grid) Children(id string, res int) dggs.Seq {
	c, err := g.parse(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if err := g.checkChildRes(c, res); err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		end := c.ChildEndAtLevel(res)
		for k := c.ChildBeginAtLevel(res); k != end; k = k.Next() {
			if !yield(g.zoneOf(k), nil) {
				return
			}
		}
	}
}

func (g *Grid) CountChildren(id string, res int) (int, error) {
	c, err := g.parse(id)
	if err != nil {
		return 0, err
	}
	if err := g.checkChildRes(c, res); err != nil {
		return 0, err
	}
	return 1 << (2 * (res - c.Level())), nil
}

func (g *Grid) Parents(id string) dggs.Seq {
	c, err := g.parse(id)
	if err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		for l := c.Level() - 1; l >= 0; l-- {
			if !yield(g.zoneOf(c.Parent(l)), nil) {
				return
			}
		}
	}
}

func (g *Grid) CountParents(id string) (int, error) {
	c, err := g.parse(id)
	if err != nil {
		return 0, err
	}
	return c.Level(), nil
}

// ChildFilter uses S2's id ranges: all descendants of a cell lie in
// [RangeMin, RangeMax], and those at one level in [ChildBegin, ChildEnd).
func (g *Grid) ChildFilter(s dggs.Schema, parentID string, res int, upTo bool) (filter.Filter, error) {
	c, err := g.parse(parentID)
	if err != nil {
		return nil, err
	}
	if err := g.checkChildRes(c, res); err != nil {
		return nil, err
	}
	id := filter.Prop(s.ZoneIDAttr)
	if upTo && res > c.Level() {
		return filter.And{Children: []filter.Filter{
			filter.Between{Expr: id, Lower: filter.Lit(FormatID(c.RangeMin())), Upper: filter.Lit(FormatID(c.RangeMax()))},
			filter.Between{Expr: filter.Prop(s.ResolutionAttr), Lower: filter.Lit(c.Level() + 1), Upper: filter.Lit(res)},
		}}, nil
	}
	return filter.And{Children: []filter.Filter{
		filter.Between{Expr: id, Lower: filter.Lit(FormatID(c.ChildBeginAtLevel(res))), Upper: filter.Lit(FormatID(c.ChildEndAtLevel(res).Prev()))},
		filter.Equal{Left: filter.Prop(s.ResolutionAttr), Right: filter.Lit(res)},
	}}, nil
}
