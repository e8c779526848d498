// Package zonestore keeps features in Redis keyed by the zone that holds
// them, and evaluates zone id / resolution filters with lexicographic range
// scans instead of geometry tests.
package zonestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/mohammed-shakir/dggs-query/internal/cache/keys"
	"github.com/mohammed-shakir/dggs-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/feature/geojsonsrc"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// ErrUnsupportedPredicate reports a filter node the store cannot evaluate;
// callers fall back to in-memory evaluation.
var ErrUnsupportedPredicate = errors.New("predicate not supported by the zone store")

const chunkSize = 512

type Config struct {
	// OpTimeout bounds one Select, CountByZone or Put; 0 means no bound.
	OpTimeout time.Duration
	// MaxFanout bounds the resolutions scanned in parallel.
	MaxFanout int
	// SelectionTTL caches selected ids per layer generation; 0 disables it.
	SelectionTTL time.Duration
}

type Store struct {
	cli    *redisstore.Client
	schema dggs.Schema
	cfg    Config
	logger *slog.Logger
}

func New(cli *redisstore.Client, schema dggs.Schema, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxFanout <= 0 {
		cfg.MaxFanout = 4
	}
	return &Store{cli: cli, schema: schema, cfg: cfg, logger: logger}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

type record struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// Put stores features under zone. The zone id and resolution are written
// into each feature's properties under the schema attribute names.
func (s *Store) Put(ctx context.Context, layer string, zone model.Zone, fs ...feature.Feature) error {
	if len(fs) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	bodies := make(map[string][]byte, len(fs))
	ids := make([]string, 0, len(fs))
	for _, f := range fs {
		if f.ID == "" {
			return fmt.Errorf("put into %s: feature without id", zone.ID)
		}
		b, err := s.encode(f, zone)
		if err != nil {
			return fmt.Errorf("encode feature %s: %w", f.ID, err)
		}
		bodies[keys.Feature(layer, f.ID)] = b
		ids = append(ids, f.ID)
	}

	if err := s.cli.MSetWithTTL(ctx, bodies, 0); err != nil {
		return err
	}
	zf := func(z string) string { return keys.ZoneFeatures(layer, z) }
	if err := s.cli.Index(ctx, keys.Zones(layer, zone.Resolution), map[string][]string{zone.ID: ids}, zf); err != nil {
		return err
	}
	if err := s.cli.AddMembers(ctx, keys.Resolutions(layer), strconv.Itoa(zone.Resolution)); err != nil {
		return err
	}
	if _, err := s.cli.Incr(ctx, keys.Generation(layer)); err != nil {
		return err
	}
	return nil
}

// Link indexes an already stored feature under further zones, so a line or
// polygon is selected from every zone it covers. The stored body keeps the
// zone it was put under.
func (s *Store) Link(ctx context.Context, layer, id string, zones ...model.Zone) error {
	if len(zones) == 0 {
		return nil
	}
	if id == "" {
		return errors.New("link: feature without id")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	byRes := map[int]map[string][]string{}
	for _, z := range zones {
		members := byRes[z.Resolution]
		if members == nil {
			members = map[string][]string{}
			byRes[z.Resolution] = members
		}
		members[z.ID] = []string{id}
	}
	zf := func(z string) string { return keys.ZoneFeatures(layer, z) }
	res := make([]string, 0, len(byRes))
	for r, members := range byRes {
		if err := s.cli.Index(ctx, keys.Zones(layer, r), members, zf); err != nil {
			return err
		}
		res = append(res, strconv.Itoa(r))
	}
	if err := s.cli.AddMembers(ctx, keys.Resolutions(layer), res...); err != nil {
		return err
	}
	if _, err := s.cli.Incr(ctx, keys.Generation(layer)); err != nil {
		return err
	}
	return nil
}

func (s *Store) encode(f feature.Feature, zone model.Zone) ([]byte, error) {
	props := make(map[string]any, len(f.Properties)+2)
	for k, v := range f.Properties {
		props[k] = v
	}
	props[s.schema.ZoneIDAttr] = zone.ID
	props[s.schema.ResolutionAttr] = zone.Resolution

	g := json.RawMessage("null")
	if !f.Geometry.IsEmpty() {
		b, err := json.Marshal(f.Geometry)
		if err != nil {
			return nil, err
		}
		g = b
	}
	return json.Marshal(record{Type: "Feature", ID: f.ID, Geometry: g, Properties: props})
}

// Select returns the sorted ids of the features whose zone satisfies f.
func (s *Store) Select(ctx context.Context, layer string, f filter.Filter) ([]string, error) {
	if err := s.check(f); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := time.Now()

	cacheKey, err := s.selectionKey(ctx, layer, f)
	if err != nil {
		return nil, err
	}
	if cacheKey != "" {
		if b, ok, err := s.cli.Get(ctx, cacheKey); err != nil {
			return nil, err
		} else if ok {
			var ids []string
			if err := json.Unmarshal(b, &ids); err == nil {
				s.logger.Debug("zone store selection cached", "layer", layer, "features", len(ids))
				return ids, nil
			}
		}
	}

	zones, err := s.zones(ctx, layer, f)
	if err != nil {
		return nil, err
	}
	ids, err := s.featureIDs(ctx, layer, zones)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		payload, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("encode selection: %w", err)
		}
		if err := s.cli.Set(ctx, cacheKey, payload, s.cfg.SelectionTTL); err != nil {
			s.logger.Warn("zone store selection not cached", "layer", layer, "err", err)
		}
	}
	s.logger.Debug("zone store select",
		"layer", layer, "zones", len(zones), "features", len(ids), "took", time.Since(start))
	return ids, nil
}

func (s *Store) selectionKey(ctx context.Context, layer string, f filter.Filter) (string, error) {
	if s.cfg.SelectionTTL <= 0 {
		return "", nil
	}
	text, err := filter.ECQL(f)
	if err != nil {
		return "", nil
	}
	var gen int64
	b, ok, err := s.cli.Get(ctx, keys.Generation(layer))
	if err != nil {
		return "", err
	}
	if ok {
		if gen, err = strconv.ParseInt(string(b), 10, 64); err != nil {
			return "", fmt.Errorf("layer generation %q: %w", b, err)
		}
	}
	return keys.Selection(layer, gen, text), nil
}

func (s *Store) featureIDs(ctx context.Context, layer string, zones []string) ([]string, error) {
	seen := make(map[string]struct{})
	for c := range slices.Chunk(zones, chunkSize) {
		ks := make([]string, len(c))
		for i, z := range c {
			ks[i] = keys.ZoneFeatures(layer, z)
		}
		ids, err := s.cli.Union(ctx, ks...)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// Query is the collection of features selected by f, decoded in id order.
func (s *Store) Query(layer string, f filter.Filter) feature.Collection {
	return query{s: s, layer: layer, f: f}
}

type query struct {
	s     *Store
	layer string
	f     filter.Filter
}

func (q query) Accepts(ctx context.Context, v feature.Visitor) error {
	ids, err := q.s.Select(ctx, q.layer, q.f)
	if err != nil {
		return err
	}
	for c := range slices.Chunk(ids, chunkSize) {
		ks := make([]string, len(c))
		for i, id := range c {
			ks[i] = keys.Feature(q.layer, id)
		}
		raw, err := q.s.cli.MGet(ctx, ks)
		if err != nil {
			return err
		}
		for i, k := range ks {
			b, ok := raw[k]
			if !ok {
				continue
			}
			f, err := geojsonsrc.DecodeFeature(b)
			if err != nil {
				return fmt.Errorf("decode feature %s: %w", c[i], err)
			}
			if err := v.Visit(f); err != nil {
				return err
			}
		}
	}
	return nil
}
