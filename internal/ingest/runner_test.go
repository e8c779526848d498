package ingest

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/quadgrid"
	"github.com/mohammed-shakir/dggs-query/internal/feature"
)

type put struct {
	zone string
	ids  []string
}

type fakeStore struct {
	mu    sync.Mutex
	puts  []put
	links map[string][]string
	err   error
}

func (s *fakeStore) Put(_ context.Context, _ string, z model.Zone, fs ...feature.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	p := put{zone: z.ID}
	for _, f := range fs {
		p.ids = append(p.ids, f.ID)
	}
	s.puts = append(s.puts, p)
	return nil
}

func (s *fakeStore) Link(_ context.Context, _ string, id string, zs ...model.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.links == nil {
		s.links = map[string][]string{}
	}
	for _, z := range zs {
		s.links[id] = append(s.links[id], z.ID)
	}
	slices.Sort(s.links[id])
	return nil
}

func (s *fakeStore) sorted() []put {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.puts)
	slices.SortFunc(out, func(a, b put) int {
		if a.zone < b.zone {
			return -1
		}
		if a.zone > b.zone {
			return 1
		}
		return 0
	})
	return out
}

func wkt(t *testing.T, s string) geom.Geometry {
	t.Helper()
	g, err := geom.UnmarshalWKT(s)
	if err != nil {
		t.Fatalf("wkt %q: %v", s, err)
	}
	return g
}

func newGrid(t *testing.T) *quadgrid.Grid {
	t.Helper()
	g, err := quadgrid.New(4)
	if err != nil {
		t.Fatalf("quadgrid.New: %v", err)
	}
	return g
}

func TestRunOnce_GroupsByCentroidZone(t *testing.T) {
	g := newGrid(t)
	st := &fakeStore{}
	src := feature.Slice{
		{ID: "a", Geometry: wkt(t, "POINT(10 20)")},
		{ID: "b", Geometry: wkt(t, "POLYGON((5 15,15 15,15 25,5 25,5 15))")},
		{ID: "c", Geometry: wkt(t, "POINT(-100 -40)")},
		{ID: "no-geom"},
	}
	reg := prometheus.NewRegistry()
	r, err := New(Config{Layer: "places", Resolution: 2}, g, st, src, Options{Logger: slog.New(slog.DiscardHandler), Register: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Fatalf("written=%d want 3", n)
	}
	east, _ := g.Point(20, 10, 2)
	west, _ := g.Point(-40, -100, 2)
	want := []put{{zone: east.ID, ids: []string{"a", "b"}}, {zone: west.ID, ids: []string{"c"}}}
	if west.ID < east.ID {
		want[0], want[1] = want[1], want[0]
	}
	got := st.sorted()
	if len(got) != 2 || got[0].zone != want[0].zone || got[1].zone != want[1].zone ||
		!slices.Equal(got[0].ids, want[0].ids) || !slices.Equal(got[1].ids, want[1].ids) {
		t.Fatalf("puts=%v want %v", got, want)
	}
	if !r.Readiness() {
		t.Fatalf("runner should be ready after a pass")
	}
	if v := testutil.ToFloat64(r.ms.features.WithLabelValues("skip_no_geometry")); v != 1 {
		t.Fatalf("skip_no_geometry=%v want 1", v)
	}
	if len(st.links) != 0 {
		t.Fatalf("links=%v want none for shapes inside one zone", st.links)
	}
}

func TestRunOnce_LinksExtendedGeometriesToCoveredZones(t *testing.T) {
	g := newGrid(t)
	st := &fakeStore{}
	src := feature.Slice{
		{ID: "pt", Geometry: wkt(t, "POINT(-10 20)")},
		{ID: "line", Geometry: wkt(t, "LINESTRING(-10 20,10 20)")},
		{ID: "poly", Geometry: wkt(t, "POLYGON((40 10,50 10,50 20,40 20,40 10))")},
	}
	r, err := New(Config{Layer: "roads", Resolution: 2}, g, st, src, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	zoneAt := func(lon, lat float64) string {
		z, err := g.Point(lat, lon, 2)
		if err != nil {
			t.Fatalf("Point(%v,%v): %v", lon, lat, err)
		}
		return z.ID
	}
	tests := []struct {
		id     string
		anchor string
		linked []string
	}{
		{"line", zoneAt(0, 20), []string{zoneAt(-10, 20)}},
		{"poly", zoneAt(45, 15), []string{zoneAt(40, 15)}},
	}
	puts := map[string][]string{}
	for _, p := range st.sorted() {
		puts[p.zone] = p.ids
	}
	for _, tt := range tests {
		if !slices.Contains(puts[tt.anchor], tt.id) {
			t.Fatalf("%s not stored under its centroid zone %s: %v", tt.id, tt.anchor, puts)
		}
		if got := st.links[tt.id]; !slices.Equal(got, tt.linked) {
			t.Fatalf("%s linked=%v want %v", tt.id, got, tt.linked)
		}
	}
	if _, ok := st.links["pt"]; ok {
		t.Fatalf("points are never linked: %v", st.links)
	}
	if v := testutil.ToFloat64(r.ms.features.WithLabelValues("linked")); v != 2 {
		t.Fatalf("linked=%v want 2", v)
	}
}

func TestRunOnce_ReplayedFeaturesAreSkipped(t *testing.T) {
	g := newGrid(t)
	st := &fakeStore{}
	src := feature.Slice{{ID: "a", Geometry: wkt(t, "POINT(10 20)")}}
	r, err := New(Config{Layer: "places", Resolution: 3}, g, st, src, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		if _, err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if got := st.sorted(); len(got) != 1 {
		t.Fatalf("puts=%v want exactly one", got)
	}
	if v := testutil.ToFloat64(r.ms.features.WithLabelValues("skip_seen")); v != 2 {
		t.Fatalf("skip_seen=%v want 2", v)
	}
}

func TestRunOnce_StoreFailureIsRetried(t *testing.T) {
	g := newGrid(t)
	st := &fakeStore{err: errors.New("redis down")}
	src := feature.Slice{{ID: "a", Geometry: wkt(t, "POINT(10 20)")}}
	r, err := New(Config{Layer: "places", Resolution: 1}, g, st, src, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatalf("want store error")
	}
	if r.Readiness() {
		t.Fatalf("failed pass must not mark the runner ready")
	}

	st.mu.Lock()
	st.err = nil
	st.mu.Unlock()
	if n, err := r.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry n=%d err=%v", n, err)
	}
}

func TestNew_ValidatesResolution(t *testing.T) {
	g := newGrid(t)
	if _, err := New(Config{Resolution: 9}, g, &fakeStore{}, feature.Slice{}, Options{}); err == nil {
		t.Fatalf("want error for resolution beyond the grid")
	}
	if _, err := New(Config{}, g, nil, feature.Slice{}, Options{}); err == nil {
		t.Fatalf("want error without a store")
	}
}

func TestStartStop(t *testing.T) {
	g := newGrid(t)
	st := &fakeStore{}
	src := feature.Slice{{ID: "a", Geometry: wkt(t, "POINT(10 20)")}}
	r, err := New(Config{Layer: "places", Resolution: 1}, g, st, src, Options{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for !r.Readiness() {
		if time.Now().After(deadline) {
			t.Fatalf("runner never completed a pass")
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	if got := st.sorted(); len(got) != 1 {
		t.Fatalf("puts=%v want one", got)
	}
}
