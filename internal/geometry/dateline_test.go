package geometry

import (
	"math"
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

func ring(pts ...float64) model.Ring {
	out := make(model.Ring, 0, len(pts)/2)
	for i := 0; i+1 < len(pts); i += 2 {
		out = append(out, model.Point{Lon: pts[i], Lat: pts[i+1]})
	}
	return out.Close()
}

func TestClassifyDatelineCrossing(t *testing.T) {
	tests := []struct {
		name string
		in   model.Ring
		want Side
	}{
		{"plain", ring(10, 10, 20, 10, 20, 20, 10, 20), NoCrossing},
		{"majority-east", ring(170, 0, 179, 0, -179, 5, 175, 10), East},
		{"majority-west", ring(-170, 0, -179, 0, 179, 5, -175, 10), West},
		{"degenerate", model.Ring{{Lon: 1, Lat: 1}}, NoCrossing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDatelineCrossing(tc.in); got != tc.want {
				t.Fatalf("side=%s want %s", got, tc.want)
			}
		})
	}
}

func TestWrap_MakesRingContinuousOnMajoritySide(t *testing.T) {
	in := ring(170, 0, 179, 0, -179, 5, 175, 10)
	got := Wrap(in)
	if len(got) != len(in) {
		t.Fatalf("len=%d want %d", len(got), len(in))
	}
	if got[2].Lon != 181 {
		t.Fatalf("minority vertex lon=%v want 181", got[2].Lon)
	}
	for i := 1; i < len(got); i++ {
		if d := got[i].Lon - got[i-1].Lon; d > 180 || d < -180 {
			t.Fatalf("jump of %v between %v and %v", d, got[i-1], got[i])
		}
	}

	west := Wrap(ring(-170, 0, -179, 0, 179, 5, -175, 10))
	if west[2].Lon != -181 {
		t.Fatalf("west minority vertex lon=%v want -181", west[2].Lon)
	}
}

func TestWrap_Idempotent(t *testing.T) {
	rings := []model.Ring{
		ring(10, 10, 20, 10, 20, 20, 10, 20),
		ring(170, 0, 179, 0, -179, 5, 175, 10),
		ring(-170, 0, -179, 0, 179, 5, -175, 10),
		ring(179, -10, -179, -10, -179, 10, 179, 10),
		ring(-170, 80, -90, 80, 0, 80, 90, 80, 170, 80),
		ring(170, -80, 90, -80, 0, -80, -90, -80, -170, -80, -179, -85),
	}
	for i, r := range rings {
		once := Wrap(r)
		twice := Wrap(once)
		if !once.Equal(twice, 0) {
			t.Fatalf("ring %d: wrap not idempotent:\n once=%v\n twice=%v", i, once, twice)
		}
	}
}

func TestWrap_PoleRingShiftsOnlyMinorityVertices(t *testing.T) {
	got := Wrap(ring(-170, 80, -90, 80, 0, 80, 90, 80, 170, 80))
	want := []float64{190, 270, 0, 90, 170, 190}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i, v := range got {
		if v.Lon != want[i] || v.Lat != 80 {
			t.Fatalf("vertex %d = %v want lon %v", i, v, want[i])
		}
	}
}

func TestIncludePole_NorthCap(t *testing.T) {
	cap := ring(170, 85, -170, 85, -90, 85, 0, 85, 90, 85)
	north, ok := EnclosesPole(cap)
	if !ok || !north {
		t.Fatalf("expected north pole enclosure, got north=%v ok=%v", north, ok)
	}

	got := IncludePole(cap, true)
	if !got.Closed() {
		t.Fatalf("ring must be closed: %v", got)
	}
	if got[0] != (model.Point{Lon: -180, Lat: 85}) {
		t.Fatalf("first vertex=%v want (-180 85)", got[0])
	}
	n := len(got)
	tail := got[n-4 : n-1]
	want := []model.Point{{Lon: 180, Lat: 85}, {Lon: 180, Lat: 90}, {Lon: -180, Lat: 90}}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("tail[%d]=%v want %v (ring=%v)", i, tail[i], want[i], got)
		}
	}
	if ClassifyDatelineCrossing(got) != NoCrossing {
		t.Fatalf("pole ring must not jump across the antimeridian: %v", got)
	}
	if a := Area(model.Polygon{Rings: []model.Ring{got}}); math.Abs(a-1800) > 1e-9 {
		t.Fatalf("area=%v want 1800", a)
	}
	again := Normalize(model.Polygon{Rings: []model.Ring{got}})
	if !again.Rings[0].Equal(got, 0) {
		t.Fatalf("normalize must leave a pole ring alone: %v", again.Rings[0])
	}
}

func TestIncludePole_SouthCapInterpolatesAntimeridian(t *testing.T) {
	cap := ring(170, -80, 90, -84, 0, -84, -90, -84, -170, -82)
	north, ok := EnclosesPole(cap)
	if !ok || north {
		t.Fatalf("expected south pole enclosure, got north=%v ok=%v", north, ok)
	}
	got := IncludePole(cap, false)
	// edge (-170,-82) -> (170,-80) crosses at the midpoint latitude
	if got[0].Lon != 180 || got[0].Lat != -81 {
		t.Fatalf("first vertex=%v want (180 -81)", got[0])
	}
	for _, v := range got {
		if v.Lat == -90 && v.Lon != 180 && v.Lon != -180 {
			t.Fatalf("pole vertex off the antimeridian: %v", v)
		}
	}
}

func TestNormalize_PassesPlainPolygonsThrough(t *testing.T) {
	p := model.Polygon{Rings: []model.Ring{ring(10, 10, 20, 10, 20, 20, 10, 20)}}
	got := Normalize(p)
	if !got.Rings[0].Equal(p.Rings[0], 0) {
		t.Fatalf("plain polygon changed: %v", got)
	}
}
