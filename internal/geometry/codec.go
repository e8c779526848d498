package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
)

// ParseGeoJSON reads a GeoJSON Polygon or MultiPolygon into model polygons.
func ParseGeoJSON(s string) ([]model.Polygon, error) {
	var v struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	switch strings.TrimSpace(v.Type) {
	case "Polygon":
		var rings [][][]float64 // [ring][i][lon,lat]
		if err := json.Unmarshal(v.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		p, err := polygonFromCoords(rings)
		if err != nil {
			return nil, err
		}
		return []model.Polygon{p}, nil
	case "MultiPolygon":
		var polys [][][][]float64 // [poly][ring][i][lon,lat]
		if err := json.Unmarshal(v.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(polys) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		out := make([]model.Polygon, 0, len(polys))
		for pi, rings := range polys {
			p, err := polygonFromCoords(rings)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", v.Type)
	}
}

func polygonFromCoords(rings [][][]float64) (model.Polygon, error) {
	if len(rings) == 0 {
		return model.Polygon{}, errors.New("empty polygon")
	}
	out := model.Polygon{Rings: make([]model.Ring, 0, len(rings))}
	for i, coords := range rings {
		r := make(model.Ring, 0, len(coords))
		for _, xy := range coords {
			if len(xy) != 2 {
				return model.Polygon{}, errors.New("coordinate must be [x,y]")
			}
			r = append(r, model.Point{Lon: xy[0], Lat: xy[1]})
		}
		r = r.Close()
		if len(r) < 4 {
			if i == 0 {
				return model.Polygon{}, errors.New("outer ring has < 4 vertices")
			}
			return model.Polygon{}, fmt.Errorf("hole %d has < 4 vertices", i-1)
		}
		out.Rings = append(out.Rings, r)
	}
	return out, nil
}

// GeoJSON renders a polygon as a GeoJSON Polygon geometry.
func GeoJSON(p model.Polygon) string {
	rings := make([][][2]float64, 0, len(p.Rings))
	for _, r := range p.Rings {
		cr := r.Close()
		coords := make([][2]float64, len(cr))
		for i, v := range cr {
			coords[i] = [2]float64{v.Lon, v.Lat}
		}
		rings = append(rings, coords)
	}
	b, _ := json.Marshal(struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}{Type: "Polygon", Coordinates: rings})
	return string(b)
}

// WKT renders a polygon as WKT with fixed eight-decimal coordinates.
func WKT(p model.Polygon) (string, error) {
	if len(p.Rings) == 0 {
		return "", errors.New("empty polygon")
	}
	outRings := make([]string, 0, len(p.Rings))
	for _, ring := range p.Rings {
		cr := ring.Close()
		if len(cr) < 4 {
			return "", errors.New("polygon ring has <4 points")
		}
		pts := make([]string, 0, len(cr))
		for _, v := range cr {
			pts = append(pts, v.String())
		}
		outRings = append(outRings, fmt.Sprintf("(%s)", strings.Join(pts, ", ")))
	}
	return fmt.Sprintf("POLYGON(%s)", strings.Join(outRings, ", ")), nil
}

// MultiWKT renders several polygons as one MULTIPOLYGON.
func MultiWKT(polys []model.Polygon) (string, error) {
	if len(polys) == 0 {
		return "", errors.New("empty multipolygon")
	}
	if len(polys) == 1 {
		return WKT(polys[0])
	}
	parts := make([]string, 0, len(polys))
	for _, p := range polys {
		wkt, err := WKT(p)
		if err != nil {
			return "", err
		}
		// strip "POLYGON" wrapper to embed into MULTIPOLYGON
		parts = append(parts, strings.TrimPrefix(wkt, "POLYGON"))
	}
	return fmt.Sprintf("MULTIPOLYGON(%s)", strings.Join(parts, ", ")), nil
}
