package geojsonsrc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// GeometryHash fingerprints a GeoJSON geometry after rounding coordinates to
// precision decimals and orienting polygon shells counter-clockwise.
func GeometryHash(raw json.RawMessage, precision int) (string, error) {
	if isNull(raw) {
		return "gh:null", nil
	}
	var g map[string]any
	if err := json.Unmarshal(raw, &g); err != nil {
		return "", fmt.Errorf("parse geometry: %w", err)
	}
	c, err := canonicalGeometry(g, precision)
	if err != nil {
		return "", fmt.Errorf("normalize geometry: %w", err)
	}
	buf, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal normalized geometry: %w", err)
	}
	return fmt.Sprintf("gh:%016x", xxhash.Sum64(buf)), nil
}

func canonicalGeometry(g map[string]any, p int) (map[string]any, error) {
	typ, _ := g["type"].(string)
	switch typ {
	case "Point", "MultiPoint", "LineString", "MultiLineString":
		return map[string]any{"type": typ, "coordinates": round(g["coordinates"], p)}, nil
	case "Polygon":
		return map[string]any{"type": typ, "coordinates": orient(round(g["coordinates"], p))}, nil
	case "MultiPolygon":
		polys, _ := round(g["coordinates"], p).([]any)
		for i := range polys {
			polys[i] = orient(polys[i])
		}
		sortByJSON(polys)
		return map[string]any{"type": typ, "coordinates": polys}, nil
	case "GeometryCollection":
		members, _ := g["geometries"].([]any)
		out := make([]any, 0, len(members))
		for _, m := range members {
			mg, ok := m.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("collection member must be an object")
			}
			c, err := canonicalGeometry(mg, p)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		sortByJSON(out)
		return map[string]any{"type": typ, "geometries": out}, nil
	case "":
		return nil, fmt.Errorf("geometry has no type")
	}
	return g, nil
}

func round(v any, p int) any {
	switch t := v.(type) {
	case float64:
		f := math.Pow(10, float64(p))
		return math.Round(t*f) / f
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = round(t[i], p)
		}
		return out
	}
	return v
}

// orient makes the shell counter-clockwise and holes clockwise.
func orient(poly any) any {
	rings, _ := poly.([]any)
	for i, r := range rings {
		ring, _ := r.([]any)
		if ccw := signedArea(ring) > 0; (i == 0) != ccw {
			rings[i] = reversed(ring)
		}
	}
	return rings
}

func signedArea(ring []any) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		x1, y1 := xy(ring[i])
		x2, y2 := xy(ring[i+1])
		a += x1*y2 - x2*y1
	}
	return a / 2
}

func xy(pos any) (float64, float64) {
	c, _ := pos.([]any)
	if len(c) < 2 {
		return 0, 0
	}
	x, _ := c[0].(float64)
	y, _ := c[1].(float64)
	return x, y
}

func reversed(ring []any) []any {
	out := slices.Clone(ring)
	slices.Reverse(out)
	return out
}

func sortByJSON(xs []any) {
	keys := make(map[int][]byte, len(xs))
	idx := make([]int, len(xs))
	for i, x := range xs {
		idx[i] = i
		keys[i], _ = json.Marshal(x)
	}
	slices.SortStableFunc(idx, func(a, b int) int { return bytes.Compare(keys[a], keys[b]) })
	sorted := make([]any, len(xs))
	for i, j := range idx {
		sorted[i] = xs[j]
	}
	copy(xs, sorted)
}
