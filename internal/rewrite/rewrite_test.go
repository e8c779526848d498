package rewrite

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/quadgrid"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
	"github.com/mohammed-shakir/dggs-query/internal/setfunc"
)

type rec map[string]any

func (r rec) Property(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

func zoneRec(z model.Zone) rec {
	return rec{"zoneId": z.ID, "resolution": z.Resolution, "geom": z.Center}
}

func newQuad(t *testing.T, maxRes int) *quadgrid.Grid {
	t.Helper()
	g, err := quadgrid.New(maxRes)
	if err != nil {
		t.Fatalf("quadgrid.New: %v", err)
	}
	return g
}

func intp(v int) *int { return &v }

func ecql(t *testing.T, f filter.Filter) string {
	t.Helper()
	s, err := filter.ECQL(f)
	if err != nil {
		t.Fatalf("ECQL: %v", err)
	}
	return s
}

func mustEval(t *testing.T, f filter.Filter, r filter.Record) bool {
	t.Helper()
	ok, err := filter.Evaluate(f, r)
	if err != nil {
		t.Fatalf("evaluate %s on %v: %v", ecql(t, f), r, err)
	}
	return ok
}

func allZones(t *testing.T, idx dggs.Index, res int) []model.Zone {
	t.Helper()
	zs, err := dggs.Collect(idx.ZonesInEnvelope(model.BBox{X1: -180, Y1: -90, X2: 180, Y2: 90}, res, false))
	if err != nil {
		t.Fatalf("collect zones: %v", err)
	}
	return zs
}

func childrenCall(ref string, res int) filter.Function {
	return filter.Function{Name: setfunc.Children, Args: []filter.Expr{filter.Prop("zoneId"), filter.Lit(ref), filter.Lit(res)}}
}

func isTrue(fn filter.Function) filter.Filter {
	return filter.Equal{Left: fn, Right: filter.Lit(true)}
}

func TestGetFilterFrom_ChildrenOfRoot(t *testing.T) {
	g := newQuad(t, 1)
	f, err := GetFilterFrom(g, dggs.DefaultSchema, g.Children("0", 1), 1)
	if err != nil {
		t.Fatalf("GetFilterFrom: %v", err)
	}
	want := "(zoneId IN ('00', '01', '02', '03')) AND (resolution = 1)"
	if got := ecql(t, f); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetFilterFrom_EmptyStreamIsExclude(t *testing.T) {
	g := newQuad(t, 2)
	f, err := GetFilterFrom(g, dggs.DefaultSchema, dggs.FromSlice(nil), 2)
	if err != nil {
		t.Fatalf("GetFilterFrom: %v", err)
	}
	if _, ok := f.(filter.Exclude); !ok {
		t.Fatalf("got %s, want EXCLUDE", ecql(t, f))
	}
}

func TestGetFilterFrom_CompactedZones(t *testing.T) {
	g := newQuad(t, 2)
	root, _ := g.Zone("0")
	east, _ := g.Zone("10")
	f, err := GetFilterFrom(g, dggs.DefaultSchema, dggs.FromSlice([]model.Zone{root, east, east}), 1)
	if err != nil {
		t.Fatalf("GetFilterFrom: %v", err)
	}
	want := "((zoneId IN ('10')) OR ((zoneId LIKE '0%') AND (resolution = 1))) AND (resolution = 1)"
	if got := ecql(t, f); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	for _, tc := range []struct {
		id   string
		res  int
		want bool
	}{
		{"00", 1, true},
		{"03", 1, true},
		{"10", 1, true},
		{"11", 1, false},
		{"0", 0, false},
		{"012", 2, false},
	} {
		if got := mustEval(t, f, rec{"zoneId": tc.id, "resolution": tc.res}); got != tc.want {
			t.Errorf("%s@%d: got %v, want %v", tc.id, tc.res, got, tc.want)
		}
	}
}

func TestGetFilterFrom_FinerZonesMapToAncestor(t *testing.T) {
	g := newQuad(t, 3)
	z, _ := g.Zone("0123")
	f, err := GetFilterFrom(g, dggs.DefaultSchema, dggs.FromSlice([]model.Zone{z}), 1)
	if err != nil {
		t.Fatalf("GetFilterFrom: %v", err)
	}
	if got, want := ecql(t, f), "(zoneId IN ('01')) AND (resolution = 1)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGetFilterFrom_StreamErrorIsReturned(t *testing.T) {
	g := newQuad(t, 2)
	_, err := GetFilterFrom(g, dggs.DefaultSchema, g.Children("9", 1), 1)
	if !errors.Is(err, dggs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRewrite_SetFunctionBecomesIDList(t *testing.T) {
	g := newQuad(t, 2)
	rw := New(g, nil, slog.New(slog.DiscardHandler))
	want := "zoneId IN ('00', '01', '02', '03')"

	for name, f := range map[string]filter.Filter{
		"equal true":     isTrue(childrenCall("0", 1)),
		"true on left":   filter.Equal{Left: filter.Lit(true), Right: childrenCall("0", 1)},
		"predicate form": filter.Predicate{Function: childrenCall("0", 1)},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := rw.Rewrite(f)
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if got := ecql(t, out); got != want {
				t.Fatalf("got %q, want %q", got, want)
			}
		})
	}
}

func TestRewrite_BoundEvaluatorIsReused(t *testing.T) {
	g := newQuad(t, 2)
	bound, err := setfunc.NewRegistry(g, setfunc.DefaultLimits(), nil).Bind(isTrue(childrenCall("1", 1)))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	out, err := New(g, nil, nil).Rewrite(bound)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), "zoneId IN ('10', '11', '12', '13')"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	ev := bound.(filter.Equal).Left.(filter.Function).Impl.(*setfunc.Evaluator)
	if !ev.Cached() {
		t.Fatalf("bound evaluator should hold the materialised set")
	}
}

func TestRewrite_EmptySetIsExclude(t *testing.T) {
	g := newQuad(t, 2)
	f := isTrue(filter.Function{Name: setfunc.Parent, Args: []filter.Expr{filter.Prop("zoneId"), filter.Lit("1")}})
	out, err := New(g, nil, nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if _, ok := out.(filter.Exclude); !ok {
		t.Fatalf("got %s, want EXCLUDE", ecql(t, out))
	}
}

func TestRewrite_LargeChildSetFallsBackToChildFilter(t *testing.T) {
	g := newQuad(t, 4)
	rw := New(g, nil, nil)
	rw.Limits = setfunc.Limits{CacheLimit: 8, IterationLimit: 100}

	out, err := rw.Rewrite(isTrue(childrenCall("01", 4)))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), "(zoneId LIKE '01%') AND (resolution = 4)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewrite_LargeNeighbourSetIsLeftAlone(t *testing.T) {
	g := newQuad(t, 4)
	rw := New(g, nil, nil)
	rw.Limits = setfunc.Limits{CacheLimit: 8, IterationLimit: 100}

	f := isTrue(filter.Function{Name: setfunc.Neighbor, Args: []filter.Expr{filter.Prop("zoneId"), filter.Lit("0000"), filter.Lit(3)}})
	out, err := rw.Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), ecql(t, f); got != want {
		t.Fatalf("got %q, want unchanged %q", got, want)
	}
}

func TestRewrite_PerRowReferenceIsLeftAlone(t *testing.T) {
	g := newQuad(t, 2)
	f := isTrue(filter.Function{Name: setfunc.Parent, Args: []filter.Expr{filter.Prop("zoneId"), filter.Prop("ref")}})
	out, err := New(g, nil, nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), ecql(t, f); got != want {
		t.Fatalf("got %q, want unchanged %q", got, want)
	}
}

func TestRewrite_ForeignIndexIsRejected(t *testing.T) {
	a, b := newQuad(t, 2), newQuad(t, 2)
	bound, err := setfunc.NewRegistry(a, setfunc.DefaultLimits(), nil).Bind(isTrue(childrenCall("0", 1)))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := New(b, nil, nil).Rewrite(bound); !errors.Is(err, ErrForeignIndex) {
		t.Fatalf("want ErrForeignIndex, got %v", err)
	}
}

func TestRewrite_UnknownReferenceIsSurfaced(t *testing.T) {
	g := newQuad(t, 2)
	if _, err := New(g, nil, nil).Rewrite(isTrue(childrenCall("7", 1))); !errors.Is(err, dggs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRewrite_ResolutionComparisons(t *testing.T) {
	g := newQuad(t, 2)
	res := filter.Function{Name: setfunc.ResolutionOf, Args: []filter.Expr{filter.Prop("zoneId")}}
	tests := []struct {
		in   filter.Filter
		want string
	}{
		{filter.Equal{Left: res, Right: filter.Lit(2)}, "resolution = 2"},
		{filter.Compare{Op: filter.OpLess, Left: res, Right: filter.Lit(2)}, "resolution < 2"},
		{filter.Compare{Op: filter.OpLess, Left: filter.Lit(2), Right: res}, "resolution > 2"},
		{filter.Compare{Op: filter.OpNotEqual, Left: filter.Lit(0), Right: res}, "resolution <> 0"},
	}
	for _, tc := range tests {
		out, err := New(g, nil, nil).Rewrite(tc.in)
		if err != nil {
			t.Fatalf("Rewrite: %v", err)
		}
		if got := ecql(t, out); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
		for _, z := range allZones(t, g, 1) {
			r := zoneRec(z)
			bound, err := setfunc.NewRegistry(g, setfunc.DefaultLimits(), nil).Bind(tc.in)
			if err != nil {
				t.Fatalf("Bind: %v", err)
			}
			if a, b := mustEval(t, bound, r), mustEval(t, out, r); a != b {
				t.Errorf("%s on %s: original %v, rewritten %v", tc.want, z.ID, a, b)
			}
		}
	}
}

func TestRewrite_PointInZone(t *testing.T) {
	g := newQuad(t, 2)
	f := isTrue(filter.Function{Name: setfunc.PointInZone, Args: []filter.Expr{filter.Lit(model.Point{Lat: -80, Lon: -170}), filter.Prop("zoneId")}})

	out, err := New(g, nil, nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), ecql(t, f); got != want {
		t.Fatalf("without a resolution: got %q, want unchanged", got)
	}

	out, err = New(g, intp(2), nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), "(zoneId = '000') AND (resolution = 2)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// placedRecords stores features the way the zone store holds them: a zone's
// centre and boundary sit in that zone, and every corner or edge midpoint
// sits in the zone Point assigns it.
func placedRecords(t *testing.T, idx dggs.Index, zones []model.Zone, res int) []rec {
	t.Helper()
	var out []rec
	for _, z := range zones {
		out = append(out, zoneRec(z), rec{"zoneId": z.ID, "resolution": z.Resolution, "geom": z.Boundary})
		ring := z.Boundary.Shell().Open()
		for i, v := range ring {
			next := ring[(i+1)%len(ring)]
			for _, pt := range []model.Point{v, {Lon: (v.Lon + next.Lon) / 2, Lat: (v.Lat + next.Lat) / 2}} {
				at, err := idx.Point(pt.Lat, pt.Lon, res)
				if err != nil {
					t.Fatalf("Point(%v): %v", pt, err)
				}
				out = append(out, rec{"zoneId": at.ID, "resolution": at.Resolution, "geom": pt})
			}
		}
	}
	return out
}

func TestRewrite_SpatialPredicatesOverApproximate(t *testing.T) {
	g := newQuad(t, 3)
	zones := allZones(t, g, 3)
	records := placedRecords(t, g, zones, 3)
	onEdge, err := g.Point(1, 0, 3)
	if err != nil {
		t.Fatalf("Point: %v", err)
	}
	records = append(records, rec{"zoneId": onEdge.ID, "resolution": 3, "geom": model.Point{Lon: 0, Lat: 1}})

	triangle := model.Polygon{Rings: []model.Ring{{{Lon: 10, Lat: 10}, {Lon: 30, Lat: 50}, {Lon: 80, Lat: 10}, {Lon: 10, Lat: 10}}}}
	box := model.BBox{X1: -100, Y1: -40, X2: -20, Y2: 5}
	band := model.Polygon{Rings: []model.Ring{{{Lon: 170, Lat: 0}, {Lon: -170, Lat: 0}, {Lon: -170, Lat: 20}, {Lon: 170, Lat: 20}, {Lon: 170, Lat: 0}}}}
	strait := model.Polygon{Rings: []model.Ring{{{Lon: 175, Lat: -10}, {Lon: -175, Lat: -10}, {Lon: -175, Lat: 10}, {Lon: 175, Lat: 10}, {Lon: 175, Lat: -10}}}}

	for name, f := range map[string]filter.Filter{
		"intersects polygon":          filter.Intersects{Left: filter.Prop("geom"), Right: filter.Lit(triangle)},
		"intersects swapped":          filter.Intersects{Left: filter.Lit(box.Polygon()), Right: filter.Prop("geom")},
		"bbox":                        filter.BBox{Expr: filter.Prop("geom"), Box: box},
		"bbox ending on zone edges":   filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: -45, Y1: -10, X2: 0, Y2: 10}},
		"bbox on the grid lines":      filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: -45, Y1: 0, X2: 45, Y2: 22.5}},
		"polygon with long edges":     filter.Intersects{Left: filter.Prop("geom"), Right: filter.Lit(band)},
		"polygon spanning the strait": filter.Intersects{Left: filter.Prop("geom"), Right: filter.Lit(strait)},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := New(g, intp(3), nil).Rewrite(f)
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			if _, ok := out.(filter.And); !ok {
				t.Fatalf("expected a zone filter, got %s", ecql(t, out))
			}
			for _, r := range records {
				if mustEval(t, f, r) && !mustEval(t, out, r) {
					t.Fatalf("%v in zone %s matches the original but not %s", r["geom"], r["zoneId"], ecql(t, out))
				}
			}
			var kept, matched int
			for _, r := range records {
				if mustEval(t, f, r) {
					matched++
				}
			}
			for _, z := range zones {
				if mustEval(t, out, zoneRec(z)) {
					kept++
				}
			}
			if matched == 0 || kept >= len(zones) {
				t.Fatalf("rewrite not selective: matched=%d kept=%d of %d", matched, kept, len(zones))
			}
		})
	}
}

func TestRewrite_SpatialNeedsResolution(t *testing.T) {
	g := newQuad(t, 3)
	f := filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	out, err := New(g, nil, nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got, want := ecql(t, out), ecql(t, f); got != want {
		t.Fatalf("got %q, want unchanged %q", got, want)
	}
}

func TestRewrite_NotKeepsSpatialPredicate(t *testing.T) {
	g := newQuad(t, 3)
	spatial := filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	f := filter.Not{Child: filter.And{Children: []filter.Filter{spatial, isTrue(childrenCall("0", 1))}}}

	out, err := New(g, intp(3), nil).Rewrite(f)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	want := "NOT ((BBOX(geom, 0, 0, 10, 10)) AND (zoneId IN ('00', '01', '02', '03')))"
	if got := ecql(t, out); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRewrite_HandlesEveryKindWithoutMutating(t *testing.T) {
	g := newQuad(t, 2)
	samples := map[filter.Kind]filter.Filter{
		filter.KindInclude:    filter.Include{},
		filter.KindExclude:    filter.Exclude{},
		filter.KindAnd:        filter.And{Children: []filter.Filter{filter.Include{}, isTrue(childrenCall("0", 1))}},
		filter.KindOr:         filter.Or{Children: []filter.Filter{filter.Exclude{}, filter.Equal{Left: filter.Prop("zoneId"), Right: filter.Lit("00")}}},
		filter.KindNot:        filter.Not{Child: filter.Exclude{}},
		filter.KindEqual:      filter.Equal{Left: filter.Prop("resolution"), Right: filter.Lit(1)},
		filter.KindCompare:    filter.Compare{Op: filter.OpLessEqual, Left: filter.Prop("resolution"), Right: filter.Lit(3)},
		filter.KindIn:         filter.In{Expr: filter.Prop("zoneId"), Values: []filter.Literal{filter.Lit("00")}},
		filter.KindBetween:    filter.Between{Expr: filter.Prop("resolution"), Lower: filter.Lit(0), Upper: filter.Lit(2)},
		filter.KindLike:       filter.Like{Expr: filter.Prop("zoneId"), Pattern: "0%"},
		filter.KindIsNull:     filter.IsNull{Expr: filter.Prop("zoneId")},
		filter.KindIntersects: filter.Intersects{Left: filter.Prop("geom"), Right: filter.Lit(model.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}.Polygon())},
		filter.KindBBox:       filter.BBox{Expr: filter.Prop("geom"), Box: model.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}},
		filter.KindPredicate:  filter.Predicate{Function: childrenCall("1", 2)},
	}
	if len(samples) != len(filter.Kinds()) {
		t.Fatalf("samples cover %d of %d kinds", len(samples), len(filter.Kinds()))
	}
	for kind, f := range samples {
		before := ecql(t, f)
		if _, err := New(g, intp(2), nil).Rewrite(f); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if after := ecql(t, f); after != before {
			t.Fatalf("%s: input changed from %q to %q", kind, before, after)
		}
	}
}
