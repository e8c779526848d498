// Package h3grid exposes Uber's H3 hexagonal grid as a zone index.
package h3grid

import (
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
)

const (
	Name            = "h3"
	MaxResolution   = 15
	DefaultMemoSize = 4096
	shapeHexagon    = "hexagon"
	shapePentagon   = "pentagon"
	propShape       = "shape"
	propBaseCell    = "baseCell"
)

// Grid is safe for concurrent use. Built zones are memoised by cell.
type Grid struct {
	memo   *lru.Cache[h3.Cell, model.Zone]
	logger *slog.Logger
}

var _ dggs.Index = (*Grid)(nil)

type Option func(*Grid)

func WithLogger(l *slog.Logger) Option {
	return func(g *Grid) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds a grid with a zone memo of memoSize entries (DefaultMemoSize if <= 0).
func New(memoSize int, opts ...Option) (*Grid, error) {
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[h3.Cell, model.Zone](memoSize)
	if err != nil {
		return nil, fmt.Errorf("h3 zone memo: %w", err)
	}
	g := &Grid{memo: memo, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Grid) Name() string { return Name }

func (g *Grid) Resolutions() []int {
	out := make([]int, MaxResolution+1)
	for i := range out {
		out[i] = i
	}
	return out
}

func (g *Grid) ExtraProperties() map[string]model.PropertyKind {
	return map[string]model.PropertyKind{
		propShape:    model.KindString,
		propBaseCell: model.KindInt,
	}
}

func validateRes(res int) error {
	if res < 0 || res > MaxResolution {
		return fmt.Errorf("%w: invalid H3 resolution %d (must be 0..%d)", dggs.ErrInvalidArgument, res, MaxResolution)
	}
	return nil
}

func parseCell(id string) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(id)); err != nil {
		return 0, fmt.Errorf("%w: parse cell %q: %w", dggs.ErrNotFound, id, err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("%w: invalid h3 cell %q", dggs.ErrNotFound, id)
	}
	return c, nil
}

func (g *Grid) zoneOf(c h3.Cell) (model.Zone, error) {
	if z, ok := g.memo.Get(c); ok {
		return z, nil
	}
	center, err := c.LatLng()
	if err != nil {
		return model.Zone{}, fmt.Errorf("h3 center of %s: %w", c, err)
	}
	boundary, err := c.Boundary()
	if err != nil {
		return model.Zone{}, fmt.Errorf("h3 boundary of %s: %w", c, err)
	}
	ring := make(model.Ring, 0, len(boundary)+1)
	for _, ll := range boundary {
		ring = append(ring, model.Point{Lon: ll.Lng, Lat: ll.Lat})
	}
	shape := shapeHexagon
	if c.IsPentagon() {
		shape = shapePentagon
	}
	z := model.Zone{
		ID:         c.String(),
		Resolution: c.Resolution(),
		Center:     model.Point{Lon: center.Lng, Lat: center.Lat},
		Boundary:   geometry.Normalize(model.Polygon{Rings: []model.Ring{ring.Close()}}),
		Extra: map[string]any{
			propShape:    shape,
			propBaseCell: c.BaseCellNumber(),
		},
	}
	g.memo.Add(c, z)
	return z, nil
}

func (g *Grid) Zone(id string) (model.Zone, error) {
	c, err := parseCell(id)
	if err != nil {
		return model.Zone{}, err
	}
	return g.zoneOf(c)
}

func (g *Grid) Point(lat, lon float64, res int) (model.Zone, error) {
	if err := validateRes(res); err != nil {
		return model.Zone{}, err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return model.Zone{}, fmt.Errorf("%w: h3 cell for (%f,%f): %w", dggs.ErrInvalidArgument, lat, lon, err)
	}
	return g.zoneOf(c)
}

// cells yields the zones of already-computed cells.
func (g *Grid) cells(cs []h3.Cell) dggs.Seq {
	return func(yield func(model.Zone, error) bool) {
		for _, c := range cs {
			z, err := g.zoneOf(c)
			if !yield(z, err) || err != nil {
				return
			}
		}
	}
}

func (g *Grid) Neighbors(id string, radius int) dggs.Seq {
	c, err := parseCell(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if radius < 0 {
		return dggs.Fail(fmt.Errorf("%w: negative neighbour radius %d", dggs.ErrInvalidArgument, radius))
	}
	disk, err := c.GridDisk(radius)
	if err != nil {
		return dggs.Fail(fmt.Errorf("h3 grid disk of %s: %w", id, err))
	}
	out := disk[:0]
	for _, n := range disk {
		if n != c && n != 0 {
			out = append(out, n)
		}
	}
	return g.cells(out)
}

func (g *Grid) CountNeighbors(id string, radius int) (int, error) {
	return dggs.Count(g.Neighbors(id, radius))
}

// Children walks the hierarchy one level at a time so that deep descents never
// materialise the whole subtree.
func (g *Grid) Children(id string, res int) dggs.Seq {
	c, err := parseCell(id)
	if err != nil {
		return dggs.Fail(err)
	}
	if err := checkChildRes(c, res); err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		var walk func(h3.Cell) bool
		walk = func(p h3.Cell) bool {
			if p.Resolution() == res {
				z, err := g.zoneOf(p)
				return yield(z, err) && err == nil
			}
			kids, err := p.Children(p.Resolution() + 1)
			if err != nil {
				yield(model.Zone{}, fmt.Errorf("h3 children of %s: %w", p, err))
				return false
			}
			for _, k := range kids {
				if !walk(k) {
					return false
				}
			}
			return true
		}
		walk(c)
	}
}

// CountChildren is closed form: a hexagon has 7^d descendants d levels down,
// a pentagon 1 + 5(7^d - 1)/6.
func (g *Grid) CountChildren(id string, res int) (int, error) {
	c, err := parseCell(id)
	if err != nil {
		return 0, err
	}
	if err := checkChildRes(c, res); err != nil {
		return 0, err
	}
	n := 1
	for range res - c.Resolution() {
		n *= 7
	}
	if c.IsPentagon() {
		return 1 + 5*(n-1)/6, nil
	}
	return n, nil
}

func checkChildRes(c h3.Cell, res int) error {
	if err := validateRes(res); err != nil {
		return err
	}
	if res < c.Resolution() {
		return fmt.Errorf("%w: childRes %d must be >= cell resolution %d", dggs.ErrInvalidArgument, res, c.Resolution())
	}
	return nil
}

func (g *Grid) Parents(id string) dggs.Seq {
	c, err := parseCell(id)
	if err != nil {
		return dggs.Fail(err)
	}
	return func(yield func(model.Zone, error) bool) {
		for r := c.Resolution() - 1; r >= 0; r-- {
			p, err := c.Parent(r)
			if err != nil {
				yield(model.Zone{}, fmt.Errorf("h3 parent of %s at %d: %w", id, r, err))
				return
			}
			z, err := g.zoneOf(p)
			if !yield(z, err) || err != nil {
				return
			}
		}
	}
}

func (g *Grid) CountParents(id string) (int, error) {
	c, err := parseCell(id)
	if err != nil {
		return 0, err
	}
	return c.Resolution(), nil
}
