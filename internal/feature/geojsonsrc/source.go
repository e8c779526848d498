// Package geojsonsrc streams features out of GeoJSON FeatureCollection parts.
package geojsonsrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/mohammed-shakir/dggs-query/internal/feature"
)

// DefaultPrecision is the number of decimals geometry hashes round to.
const DefaultPrecision = 7

type Source struct {
	Parts           [][]byte
	DeduplicateByID bool
	// DeduplicateByGeometry drops features without an id whose geometry hash
	// was already seen.
	DeduplicateByGeometry bool
	Precision             int

	stats Diagnostics
}

type Diagnostics struct {
	TotalIn   int `json:"total_in"`
	TotalOut  int `json:"total_out"`
	DedupByID int `json:"dedup_by_id"`
	DedupByGH int `json:"dedup_by_geom"`
}

var _ feature.Collection = (*Source)(nil)

func New(dedup bool, parts ...[]byte) *Source {
	return &Source{Parts: parts, DeduplicateByID: dedup, Precision: DefaultPrecision}
}

// Stats reports the counters of the last Accepts call.
func (s *Source) Stats() Diagnostics { return s.stats }

// Accepts validates every part and feeds its features to v in order.
func (s *Source) Accepts(ctx context.Context, v feature.Visitor) error {
	s.stats = Diagnostics{}
	seenID := map[string]struct{}{}
	seenGH := map[string]struct{}{}

	for i, p := range s.Parts {
		feats, err := featuresOf(p)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		for j, fr := range feats {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("part %d feature %d: %w", i, j, err)
			}
			s.stats.TotalIn++

			f, idKey, geomRaw, err := decodeFeature(fr)
			if err != nil {
				return fmt.Errorf("part %d feature %d: %w", i, j, err)
			}
			if s.DeduplicateByID && idKey != "" {
				if _, dup := seenID[idKey]; dup {
					s.stats.DedupByID++
					continue
				}
				seenID[idKey] = struct{}{}
			}
			if s.DeduplicateByGeometry && idKey == "" {
				gh, err := GeometryHash(geomRaw, s.precision())
				if err != nil {
					return fmt.Errorf("part %d feature %d: %w", i, j, err)
				}
				if _, dup := seenGH[gh]; dup {
					s.stats.DedupByGH++
					continue
				}
				seenGH[gh] = struct{}{}
			}

			if err := v.Visit(f); err != nil {
				return fmt.Errorf("part %d feature %d: %w", i, j, err)
			}
			s.stats.TotalOut++
		}
	}
	return nil
}

func (s *Source) precision() int {
	if s.Precision <= 0 {
		return DefaultPrecision
	}
	return s.Precision
}

func featuresOf(p []byte) ([]json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(p, &root); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	var typ string
	if tRaw, ok := root["type"]; !ok {
		return nil, fmt.Errorf(`missing required member "type"`)
	} else if err := json.Unmarshal(tRaw, &typ); err != nil {
		return nil, fmt.Errorf(`parse "type": %w`, err)
	} else if typ != "FeatureCollection" {
		return nil, fmt.Errorf(`type is %q (want "FeatureCollection")`, typ)
	}

	featuresRaw, ok := root["features"]
	if !ok {
		return nil, fmt.Errorf(`missing required member "features"`)
	}
	var feats []json.RawMessage
	if err := json.Unmarshal(featuresRaw, &feats); err != nil {
		return nil, fmt.Errorf(`"features" must be an array: %w`, err)
	}
	return feats, nil
}

// DecodeFeature parses one GeoJSON Feature object.
func DecodeFeature(raw []byte) (feature.Feature, error) {
	f, _, _, err := decodeFeature(raw)
	return f, err
}

func decodeFeature(raw json.RawMessage) (feature.Feature, string, json.RawMessage, error) {
	var fobj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fobj); err != nil {
		return feature.Feature{}, "", nil, fmt.Errorf("not a JSON object: %w", err)
	}

	var ftype string
	if tr, ok := fobj["type"]; !ok {
		return feature.Feature{}, "", nil, fmt.Errorf(`missing "type"`)
	} else if err := json.Unmarshal(tr, &ftype); err != nil {
		return feature.Feature{}, "", nil, fmt.Errorf(`parse "type": %w`, err)
	} else if ftype != "Feature" {
		return feature.Feature{}, "", nil, fmt.Errorf(`type is %q (want "Feature")`, ftype)
	}

	f := feature.Feature{GeometryName: feature.DefaultGeometryName}
	var idKey string
	if idRaw, ok := fobj["id"]; ok && len(idRaw) > 0 {
		key, id, err := canonicalID(idRaw)
		if err != nil {
			return feature.Feature{}, "", nil, fmt.Errorf("invalid id: %w", err)
		}
		idKey, f.ID = key, id
	}

	geomRaw := fobj["geometry"]
	if !isNull(geomRaw) {
		g, err := geom.UnmarshalGeoJSON(geomRaw)
		if err != nil {
			return feature.Feature{}, "", nil, fmt.Errorf("parse geometry: %w", err)
		}
		f.Geometry = g
	}

	if pr, ok := fobj["properties"]; ok && !isNull(pr) {
		if err := json.Unmarshal(pr, &f.Properties); err != nil {
			return feature.Feature{}, "", nil, fmt.Errorf(`"properties" must be an object: %w`, err)
		}
	}
	return f, idKey, geomRaw, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// canonicalID accepts string and number ids. The key keeps "1" and 1 apart.
func canonicalID(idRaw json.RawMessage) (key, id string, err error) {
	trim := strings.TrimSpace(string(idRaw))
	if trim == "" || trim == "null" {
		return "", "", nil
	}

	dec := json.NewDecoder(bytes.NewReader(idRaw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", "", fmt.Errorf("parse id: %w", err)
	}
	switch t := v.(type) {
	case string:
		return "s:" + t, t, nil
	case json.Number:
		return "n:" + t.String(), t.String(), nil
	default:
		return "", "", fmt.Errorf("id must be string or number (got %T)", v)
	}
}
