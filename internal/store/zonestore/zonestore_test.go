package zonestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/mohammed-shakir/dggs-query/internal/aggregate"
	"github.com/mohammed-shakir/dggs-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/quadgrid"
	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/rewrite"
	"github.com/mohammed-shakir/dggs-query/internal/setfunc"
)

const layer = "places"

type fixture struct {
	store *Store
	mr    *miniredis.Miniredis
	grid  *quadgrid.Grid
	// zones maps feature id to the zone it was stored under.
	zones map[string]model.Zone
}

// newFixture stores one feature per zone at resolutions 1 and 2 of a quad grid.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	g, err := quadgrid.New(3)
	if err != nil {
		t.Fatalf("quadgrid.New: %v", err)
	}
	fx := &fixture{store: New(cli, dggs.DefaultSchema, cfg, nil), mr: mr, grid: g, zones: map[string]model.Zone{}}
	for _, res := range []int{1, 2} {
		zs, err := dggs.Collect(g.ZonesInEnvelope(model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}, res, false))
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		for _, z := range zs {
			id := "f-" + z.ID
			f := feature.Feature{ID: id, Properties: map[string]any{"name": z.ID}}
			if err := fx.store.Put(ctx, layer, z, f); err != nil {
				t.Fatalf("Put %s: %v", z.ID, err)
			}
			fx.zones[id] = z
		}
	}
	return fx
}

type rec map[string]any

func (r rec) Property(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// expected evaluates f in memory over the stored zones.
func (fx *fixture) expected(t *testing.T, f filter.Filter) []string {
	t.Helper()
	out := []string{}
	for id, z := range fx.zones {
		ok, err := filter.Evaluate(f, rec{"zoneId": z.ID, "resolution": z.Resolution})
		if err != nil {
			t.Fatalf("evaluate %s: %v", id, err)
		}
		if ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func TestSelect_MatchesInMemoryEvaluation(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	children := func(ref string, res int) filter.Filter {
		return filter.Equal{
			Left:  filter.Function{Name: setfunc.Children, Args: []filter.Expr{filter.Prop("zoneId"), filter.Lit(ref), filter.Lit(res)}},
			Right: filter.Lit(true),
		}
	}
	res2 := 2
	cases := map[string]struct {
		in         filter.Filter
		resolution *int
	}{
		"children id list":  {in: children("1", 2)},
		"bbox at res 2":     {in: filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: 10, Y1: 10, X2: 80, Y2: 80}}, resolution: &res2},
		"resolution only":   {in: filter.Equal{Left: filter.Prop("resolution"), Right: filter.Lit(1)}},
		"id between":        {in: filter.Between{Expr: filter.Prop("zoneId"), Lower: filter.Lit("01"), Upper: filter.Lit("03")}},
		"like prefix":       {in: filter.Like{Expr: filter.Prop("zoneId"), Pattern: "12%"}},
		"like with pattern": {in: filter.Like{Expr: filter.Prop("zoneId"), Pattern: "_2_"}},
		"or of ids":         {in: filter.Or{Children: []filter.Filter{filter.Equal{Left: filter.Prop("zoneId"), Right: filter.Lit("00")}, filter.In{Expr: filter.Prop("zoneId"), Values: []filter.Literal{filter.Lit("131"), filter.Lit("99")}}}}},
		"include":           {in: filter.Include{}},
		"exclude":           {in: filter.Exclude{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rw := rewrite.New(fx.grid, tc.resolution, nil)
			f, err := rw.Rewrite(tc.in)
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			got, err := fx.store.Select(ctx, layer, f)
			if err != nil {
				t.Fatalf("Select %v: %v", f, err)
			}
			if diff := cmp.Diff(fx.expected(t, f), got); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelect_ChildFilterFallback(t *testing.T) {
	fx := newFixture(t, Config{})
	f, err := fx.grid.ChildFilter(dggs.DefaultSchema, "1", 2, false)
	if err != nil {
		t.Fatalf("ChildFilter: %v", err)
	}
	got, err := fx.store.Select(context.Background(), layer, f)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("got %d ids, want the 16 grandchildren of 1: %v", len(got), got)
	}
	for _, id := range got {
		if z := fx.zones[id]; z.Resolution != 2 || z.ID[0] != '1' {
			t.Fatalf("unexpected zone %+v", z)
		}
	}
}

func TestSelect_UnsupportedPredicate(t *testing.T) {
	fx := newFixture(t, Config{})
	for name, f := range map[string]filter.Filter{
		"not":           filter.Not{Child: filter.Equal{Left: filter.Prop("zoneId"), Right: filter.Lit("00")}},
		"other prop":    filter.Equal{Left: filter.Prop("name"), Right: filter.Lit("00")},
		"id compare":    filter.Compare{Op: filter.OpLess, Left: filter.Prop("zoneId"), Right: filter.Lit("1")},
		"nested in and": filter.And{Children: []filter.Filter{filter.Include{}, filter.IsNull{Expr: filter.Prop("zoneId")}}},
		"bbox":          filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X2: 1, Y2: 1}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := fx.store.Select(context.Background(), layer, f)
			if !errors.Is(err, ErrUnsupportedPredicate) {
				t.Fatalf("want ErrUnsupportedPredicate, got %v", err)
			}
		})
	}
}

func TestQuery_DecodesStoredFeatures(t *testing.T) {
	fx := newFixture(t, Config{})
	f := filter.In{Expr: filter.Prop("zoneId"), Values: []filter.Literal{filter.Lit("10"), filter.Lit("101")}}

	var got []string
	err := fx.store.Query(layer, f).Accepts(context.Background(), feature.VisitorFunc(func(ft feature.Feature) error {
		z, _ := ft.Property("zoneId")
		r, _ := ft.Property("resolution")
		name, _ := ft.Property("name")
		got = append(got, fmt.Sprintf("%s %v %v %v", ft.ID, z, r, name))
		return nil
	}))
	if err != nil {
		t.Fatalf("Accepts: %v", err)
	}
	want := []string{"f-10 10 1 10", "f-101 101 2 101"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestLink_SelectsFeatureFromEveryCoveredZone(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()
	anchor, _ := fx.grid.Zone("00")
	crossed, _ := fx.grid.Zone("132")
	road := feature.Feature{ID: "road", Properties: map[string]any{"name": "road"}}
	if err := fx.store.Put(ctx, layer, anchor, road); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := fx.store.Link(ctx, layer, "road", crossed); err != nil {
		t.Fatalf("Link: %v", err)
	}

	inCrossed := filter.Equal{Left: filter.Prop("zoneId"), Right: filter.Lit("132")}
	got, err := fx.store.Select(ctx, layer, inCrossed)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if diff := cmp.Diff([]string{"f-132", "road"}, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	var zone any
	err = fx.store.Query(layer, inCrossed).Accepts(ctx, feature.VisitorFunc(func(ft feature.Feature) error {
		if ft.ID == "road" {
			zone, _ = ft.Property("zoneId")
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("Accepts: %v", err)
	}
	if zone != "00" {
		t.Fatalf("linked body zoneId=%v want the anchor 00", zone)
	}

	if err := fx.store.Link(ctx, layer, "", crossed); err == nil {
		t.Fatalf("Link without an id should fail")
	}
}

func TestCountByZone_MergesWithLocalCounts(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()
	z, _ := fx.grid.Zone("00")
	extra := feature.Feature{ID: "extra", Properties: map[string]any{"name": "extra"}}
	if err := fx.store.Put(ctx, layer, z, extra); err != nil {
		t.Fatalf("Put: %v", err)
	}

	f := filter.Like{Expr: filter.Prop("zoneId"), Pattern: "0%"}
	ext, err := fx.store.CountByZone(ctx, layer, f)
	if err != nil {
		t.Fatalf("CountByZone: %v", err)
	}
	counts, err := aggregate.Materialize(ext)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if got, want := counts.Len(), 4+16; got != want {
		t.Fatalf("got %d groups, want %d", got, want)
	}
	if got, _ := counts.Value([]any{"00"}, 0, 0); got != int64(2) {
		t.Fatalf("count(00) = %v, want 2", got)
	}

	local := feature.Slice{{ID: "local", Properties: map[string]any{"zoneId": "00"}}}
	v, err := aggregate.NewMatrixVisitor(
		[]filter.Expr{filter.Prop("zoneId")},
		[]aggregate.Func{aggregate.Count},
		[]filter.Expr{filter.Prop("zoneId")},
	)
	if err != nil {
		t.Fatalf("NewMatrixVisitor: %v", err)
	}
	if err := v.SetExternal(counts); err != nil {
		t.Fatalf("SetExternal: %v", err)
	}
	res, err := aggregate.Aggregate(ctx, local, v)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	merged := res.(*aggregate.MatrixResult)
	if got, _ := merged.Value([]any{"00"}, 0, 0); got != int64(3) {
		t.Fatalf("merged count(00) = %v, want 3", got)
	}
}

func TestSelect_CachedSelectionFollowsGeneration(t *testing.T) {
	fx := newFixture(t, Config{SelectionTTL: time.Minute})
	ctx := context.Background()
	f := filter.Equal{Left: filter.Prop("zoneId"), Right: filter.Lit("11")}

	first, err := fx.store.Select(ctx, layer, f)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if diff := cmp.Diff([]string{"f-11"}, first); diff != "" {
		t.Fatalf("first select (-want +got):\n%s", diff)
	}
	if !slices.ContainsFunc(fx.mr.Keys(), func(k string) bool { return strings.HasPrefix(k, "sel:places:") }) {
		t.Fatalf("no selection cached")
	}

	z, _ := fx.grid.Zone("11")
	if err := fx.store.Put(ctx, layer, z, feature.Feature{ID: "late"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := fx.store.Select(ctx, layer, f)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if diff := cmp.Diff([]string{"f-11", "late"}, second); diff != "" {
		t.Fatalf("select after write (-want +got):\n%s", diff)
	}
}

func TestPut_RequiresIDs(t *testing.T) {
	fx := newFixture(t, Config{})
	z, _ := fx.grid.Zone("0")
	if err := fx.store.Put(context.Background(), layer, z, feature.Feature{}); err == nil {
		t.Fatalf("want error for a feature without id")
	}
}
