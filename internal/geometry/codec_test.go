package geometry

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

func TestParseGeoJSON_PolygonAndMultiPolygon(t *testing.T) {
	polys, err := ParseGeoJSON(`{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`)
	if err != nil {
		t.Fatalf("polygon: %v", err)
	}
	if len(polys) != 1 || len(polys[0].Rings[0]) != 5 {
		t.Fatalf("unexpected polygon: %+v", polys)
	}

	multi, err := ParseGeoJSON(`{"type":"MultiPolygon","coordinates":[
		[[[0,0],[1,0],[1,1],[0,1]]],
		[[[5,5],[6,5],[6,6],[5,6],[5,5]]]
	]}`)
	if err != nil {
		t.Fatalf("multipolygon: %v", err)
	}
	if len(multi) != 2 {
		t.Fatalf("polygons=%d want 2", len(multi))
	}
	if !multi[0].Rings[0].Closed() {
		t.Fatalf("open input ring must be closed on parse")
	}
}

func TestParseGeoJSON_Rejects(t *testing.T) {
	for _, in := range []string{
		`{oops`,
		`{"type":"Point","coordinates":[1,2]}`,
		`{"type":"Polygon","coordinates":[]}`,
		`{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`,
		`{"type":"Polygon","coordinates":[[[0,0,0],[1,0,0],[1,1,0],[0,0,0]]]}`,
	} {
		if _, err := ParseGeoJSON(in); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestWKT_RoundTripsThroughGeoJSON(t *testing.T) {
	p := square(11, 55, 12, 56)
	wkt, err := WKT(p)
	if err != nil {
		t.Fatalf("WKT: %v", err)
	}
	if !strings.HasPrefix(wkt, "POLYGON((11.00000000 55.00000000, ") {
		t.Fatalf("unexpected wkt %s", wkt)
	}
	back, err := ParseGeoJSON(GeoJSON(p))
	if err != nil {
		t.Fatalf("ParseGeoJSON: %v", err)
	}
	if !back[0].Rings[0].Equal(p.Rings[0], 0) {
		t.Fatalf("round trip changed ring: %v", back[0])
	}

	multi, err := MultiWKT([]model.Polygon{square(0, 0, 1, 1), square(2, 2, 3, 3)})
	if err != nil {
		t.Fatalf("MultiWKT: %v", err)
	}
	if !strings.HasPrefix(multi, "MULTIPOLYGON(((") || strings.Count(multi, "((") != 2 {
		t.Fatalf("unexpected multi wkt %s", multi)
	}
}
