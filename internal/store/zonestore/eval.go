package zonestore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/dggs-query/internal/aggregate"
	"github.com/mohammed-shakir/dggs-query/internal/cache/keys"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// zoneSet is a set of zone ids at one resolution; all stands for every zone
// of the resolution without listing them.
type zoneSet struct {
	all bool
	ids map[string]struct{}
}

var (
	everyZone = zoneSet{all: true}
	noZone    = zoneSet{ids: map[string]struct{}{}}
)

func setOf(ids []string) zoneSet {
	s := zoneSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (a zoneSet) intersect(b zoneSet) zoneSet {
	switch {
	case a.all:
		return b
	case b.all:
		return a
	}
	out := zoneSet{ids: make(map[string]struct{})}
	for id := range a.ids {
		if _, ok := b.ids[id]; ok {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

func (a zoneSet) union(b zoneSet) zoneSet {
	if a.all || b.all {
		return everyZone
	}
	out := zoneSet{ids: maps.Clone(a.ids)}
	maps.Copy(out.ids, b.ids)
	return out
}

// check walks f once before any I/O so an unsupported filter fails fast.
func (s *Store) check(f filter.Filter) error {
	switch n := f.(type) {
	case filter.Include, filter.Exclude:
		return nil
	case filter.And:
		return s.checkAll(n.Children)
	case filter.Or:
		return s.checkAll(n.Children)
	case filter.Equal, filter.Compare, filter.In, filter.Between, filter.Like:
		if _, ok := s.attribute(f); ok {
			return nil
		}
	}
	ecql, _ := filter.ECQL(f)
	return fmt.Errorf("%w: %s %s", ErrUnsupportedPredicate, f.Kind(), ecql)
}

func (s *Store) checkAll(children []filter.Filter) error {
	for _, c := range children {
		if err := s.check(c); err != nil {
			return err
		}
	}
	return nil
}

// attribute reports which schema attribute a leaf constrains. Only leaves
// comparing the attribute with literals qualify; zone ids take no ordering
// comparison other than Between.
func (s *Store) attribute(f filter.Filter) (string, bool) {
	var prop filter.Expr
	var lits []filter.Expr
	switch n := f.(type) {
	case filter.Equal:
		prop, lits = n.Left, []filter.Expr{n.Right}
		if filter.IsLiteral(n.Left) {
			prop, lits = n.Right, []filter.Expr{n.Left}
		}
	case filter.Compare:
		prop, lits = n.Left, []filter.Expr{n.Right}
		if filter.IsLiteral(n.Left) {
			prop, lits = n.Right, []filter.Expr{n.Left}
		}
	case filter.In:
		prop = n.Expr
		for _, v := range n.Values {
			lits = append(lits, v)
		}
	case filter.Between:
		prop, lits = n.Expr, []filter.Expr{n.Lower, n.Upper}
	case filter.Like:
		prop = n.Expr
	default:
		return "", false
	}
	p, ok := prop.(filter.Property)
	if !ok {
		return "", false
	}
	for _, l := range lits {
		if !filter.IsLiteral(l) {
			return "", false
		}
	}
	switch p.Name {
	case s.schema.ResolutionAttr:
		if _, like := f.(filter.Like); like {
			return "", false
		}
		return p.Name, true
	case s.schema.ZoneIDAttr:
		if _, cmp := f.(filter.Compare); cmp {
			return "", false
		}
		for _, l := range lits {
			if _, ok := l.(filter.Literal).Value.(string); !ok {
				return "", false
			}
		}
		return p.Name, true
	}
	return "", false
}

// resolutions lists the resolutions a layer holds zones at, ascending.
func (s *Store) resolutions(ctx context.Context, layer string) ([]int, error) {
	members, err := s.cli.Members(ctx, keys.Resolutions(layer))
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		r, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("layer %s resolution %q: %w", layer, m, err)
		}
		out = append(out, r)
	}
	slices.Sort(out)
	return out, nil
}

// zones evaluates f per resolution, at most MaxFanout resolutions at a time,
// and returns the matching zone ids sorted.
func (s *Store) zones(ctx context.Context, layer string, f filter.Filter) ([]string, error) {
	rs, err := s.resolutions(ctx, layer)
	if err != nil {
		return nil, err
	}
	found := make([][]string, len(rs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxFanout)
	for i, res := range rs {
		g.Go(func() error {
			set, err := s.zonesAt(gctx, layer, res, f)
			if err != nil {
				return fmt.Errorf("resolution %d: %w", res, err)
			}
			if set.all {
				found[i], err = s.cli.RangeByLex(gctx, keys.Zones(layer, res), "-", "+")
				return err
			}
			found[i] = slices.Collect(maps.Keys(set.ids))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := slices.Concat(found...)
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (s *Store) zonesAt(ctx context.Context, layer string, res int, f filter.Filter) (zoneSet, error) {
	switch n := f.(type) {
	case filter.Include:
		return everyZone, nil
	case filter.Exclude:
		return noZone, nil
	case filter.And:
		// Resolution leaves need no I/O and usually rule a resolution out.
		rest := make([]filter.Filter, 0, len(n.Children))
		for _, c := range n.Children {
			if attr, ok := s.attribute(c); ok && attr == s.schema.ResolutionAttr {
				if ok, err := s.resolutionMatches(c, res); err != nil || !ok {
					return noZone, err
				}
				continue
			}
			rest = append(rest, c)
		}
		out := everyZone
		for _, c := range rest {
			set, err := s.zonesAt(ctx, layer, res, c)
			if err != nil {
				return noZone, err
			}
			out = out.intersect(set)
			if !out.all && len(out.ids) == 0 {
				break
			}
		}
		return out, nil
	case filter.Or:
		out := noZone
		for _, c := range n.Children {
			set, err := s.zonesAt(ctx, layer, res, c)
			if err != nil {
				return noZone, err
			}
			out = out.union(set)
			if out.all {
				break
			}
		}
		return out, nil
	}

	attr, ok := s.attribute(f)
	if !ok {
		return noZone, fmt.Errorf("%w: %s", ErrUnsupportedPredicate, f.Kind())
	}
	if attr == s.schema.ResolutionAttr {
		ok, err := s.resolutionMatches(f, res)
		if err != nil || !ok {
			return noZone, err
		}
		return everyZone, nil
	}
	return s.zoneIDs(ctx, layer, res, f)
}

func (s *Store) resolutionMatches(f filter.Filter, res int) (bool, error) {
	return filter.Evaluate(f, attrRecord{name: s.schema.ResolutionAttr, value: res})
}

// zoneIDs answers a zone id leaf with ZRANGEBYLEX scans over the layer's
// zones at res.
func (s *Store) zoneIDs(ctx context.Context, layer string, res int, f filter.Filter) (zoneSet, error) {
	zset := keys.Zones(layer, res)
	scan := func(lo, hi string) ([]string, error) { return s.cli.RangeByLex(ctx, zset, lo, hi) }

	switch n := f.(type) {
	case filter.Equal:
		lit := n.Right
		if filter.IsLiteral(n.Left) {
			lit = n.Left
		}
		id := literalString(lit)
		ids, err := scan("["+id, "["+id)
		return setOf(ids), err
	case filter.In:
		var ids []string
		for _, v := range n.Values {
			id := v.Value.(string)
			got, err := scan("["+id, "["+id)
			if err != nil {
				return noZone, err
			}
			ids = append(ids, got...)
		}
		return setOf(ids), nil
	case filter.Between:
		lo, hi := literalString(n.Lower), literalString(n.Upper)
		if lo > hi {
			return noZone, nil
		}
		ids, err := scan("["+lo, "["+hi)
		return setOf(ids), err
	case filter.Like:
		if p, ok := filter.LikePrefix(n.Pattern); ok {
			if p == "" {
				return everyZone, nil
			}
			ids, err := scan("["+p, "("+p+"\xff")
			return setOf(ids), err
		}
		all, err := scan("-", "+")
		if err != nil {
			return noZone, err
		}
		out := zoneSet{ids: make(map[string]struct{})}
		for _, id := range all {
			ok, err := filter.Evaluate(n, attrRecord{name: s.schema.ZoneIDAttr, value: id})
			if err != nil {
				return noZone, err
			}
			if ok {
				out.ids[id] = struct{}{}
			}
		}
		return out, nil
	}
	return noZone, fmt.Errorf("%w: zone id %s", ErrUnsupportedPredicate, f.Kind())
}

func literalString(e filter.Expr) string {
	return e.(filter.Literal).Value.(string)
}

// attrRecord is a record with a single property.
type attrRecord struct {
	name  string
	value any
}

func (r attrRecord) Property(name string) (any, bool) {
	if name != r.name {
		return nil, false
	}
	return r.value, true
}

// CountByZone counts the stored features per zone selected by f. Counts are
// read lazily in chunks as the result is iterated; zones without features
// are skipped.
func (s *Store) CountByZone(ctx context.Context, layer string, f filter.Filter) (*aggregate.IterableResult, error) {
	if err := s.check(f); err != nil {
		return nil, err
	}
	zctx, cancel := s.withTimeout(ctx)
	zones, err := s.zones(zctx, layer, f)
	cancel()
	if err != nil {
		return nil, err
	}

	rows := func(yield func(aggregate.Group, error) bool) {
		for c := range slices.Chunk(zones, chunkSize) {
			ks := make([]string, len(c))
			for i, z := range c {
				ks[i] = keys.ZoneFeatures(layer, z)
			}
			cards, err := s.cli.Cards(ctx, ks)
			if err != nil {
				yield(aggregate.Group{}, err)
				return
			}
			for i, n := range cards {
				if n == 0 {
					continue
				}
				p := aggregate.NewPartial(aggregate.Count)
				p.N = n
				if !yield(aggregate.Group{Key: []any{c[i]}, Values: []aggregate.Partial{p}}, nil) {
					return
				}
			}
		}
	}
	return aggregate.NewIterableResult(1, []aggregate.Func{aggregate.Count}, rows), nil
}
