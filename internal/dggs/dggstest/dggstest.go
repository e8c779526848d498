// Package dggstest holds contract checks every grid's tests run.
package dggstest

import (
	"testing"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// CountsAgree checks every count helper against the length of the sequence it
// summarises, for one zone and one envelope.
func CountsAgree(t *testing.T, idx dggs.Index, zoneID string, childRes int, bb model.BBox, res int) {
	t.Helper()

	check := func(name string, n int, err error, seq dggs.Seq) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s count: %v", name, err)
		}
		zs, err := dggs.Collect(seq)
		if err != nil {
			t.Fatalf("%s collect: %v", name, err)
		}
		if n != len(zs) {
			t.Fatalf("%s: count=%d but sequence yielded %d", name, n, len(zs))
		}
	}

	n, err := dggs.CountChildren(idx, zoneID, childRes)
	check("children", n, err, idx.Children(zoneID, childRes))
	n, err = dggs.CountNeighbors(idx, zoneID, 1)
	check("neighbors", n, err, idx.Neighbors(zoneID, 1))
	n, err = dggs.CountParents(idx, zoneID)
	check("parents", n, err, idx.Parents(zoneID))
	for _, compact := range []bool{false, true} {
		n, err = dggs.CountZonesInEnvelope(idx, bb, res, compact)
		check("envelope", n, err, idx.ZonesInEnvelope(bb, res, compact))
		n, err = dggs.CountPolygon(idx, bb.Polygon(), res, compact)
		check("polygon", n, err, idx.Polygon(bb.Polygon(), res, compact))
	}
}

// Covers checks that zones covers every sample point of bb at resolution res
// and that no zone is finer than res. A point counts as covered when its zone
// at res, or one of that zone's ancestors, is in zones.
func Covers(t *testing.T, idx dggs.Index, bb model.BBox, res int, zones []model.Zone) {
	t.Helper()
	set := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		if z.Resolution > res {
			t.Fatalf("zone %s has resolution %d finer than %d", z.ID, z.Resolution, res)
		}
		set[z.ID] = struct{}{}
	}
	const steps = 8
	for i := 0; i <= steps; i++ {
		for j := 0; j <= steps; j++ {
			lon := bb.X1 + (bb.X2-bb.X1)*(float64(i)+0.5)/float64(steps+1)
			lat := bb.Y1 + (bb.Y2-bb.Y1)*(float64(j)+0.5)/float64(steps+1)
			z, err := idx.Point(lat, lon, res)
			if err != nil {
				t.Fatalf("Point(%f,%f,%d): %v", lat, lon, res, err)
			}
			if _, ok := set[z.ID]; ok {
				continue
			}
			parents, err := dggs.IDs(idx.Parents(z.ID))
			if err != nil {
				t.Fatalf("Parents(%s): %v", z.ID, err)
			}
			covered := false
			for _, p := range parents {
				if _, ok := set[p]; ok {
					covered = true
					break
				}
			}
			if !covered {
				t.Fatalf("point (%f,%f) in zone %s is not covered", lat, lon, z.ID)
			}
		}
	}
}

// ParentsNearestFirst checks that Parents yields strictly coarser zones in
// descending resolution order.
func ParentsNearestFirst(t *testing.T, idx dggs.Index, zoneID string) {
	t.Helper()
	z, err := idx.Zone(zoneID)
	if err != nil {
		t.Fatalf("Zone(%s): %v", zoneID, err)
	}
	prev := z.Resolution
	ps, err := dggs.Collect(idx.Parents(zoneID))
	if err != nil {
		t.Fatalf("Parents(%s): %v", zoneID, err)
	}
	if len(ps) != z.Resolution-idx.Resolutions()[0] {
		t.Fatalf("Parents(%s) yielded %d zones, want %d", zoneID, len(ps), z.Resolution-idx.Resolutions()[0])
	}
	for _, p := range ps {
		if p.Resolution != prev-1 {
			t.Fatalf("parent %s resolution %d after %d", p.ID, p.Resolution, prev)
		}
		prev = p.Resolution
	}
}

type zoneRecord struct {
	schema dggs.Schema
	zone   model.Zone
}

func (r zoneRecord) Property(name string) (any, bool) {
	switch name {
	case r.schema.ZoneIDAttr:
		return r.zone.ID, true
	case r.schema.ResolutionAttr:
		return r.zone.Resolution, true
	}
	return nil, false
}

// ChildFilterMatches checks that the child filter of parentID at res accepts
// exactly the parent's children among the children and the outsiders given.
func ChildFilterMatches(t *testing.T, idx dggs.Index, parentID string, res int, outsiders ...string) {
	t.Helper()
	s := dggs.DefaultSchema
	f, err := idx.ChildFilter(s, parentID, res, false)
	if err != nil {
		t.Fatalf("ChildFilter(%s,%d): %v", parentID, res, err)
	}
	children, err := dggs.Collect(idx.Children(parentID, res))
	if err != nil {
		t.Fatalf("Children(%s,%d): %v", parentID, res, err)
	}
	for _, c := range children {
		ok, err := filter.Evaluate(f, zoneRecord{schema: s, zone: c})
		if err != nil || !ok {
			t.Fatalf("child filter of %s rejects child %s (err=%v)", parentID, c.ID, err)
		}
	}
	for _, id := range outsiders {
		z, err := idx.Zone(id)
		if err != nil {
			t.Fatalf("Zone(%s): %v", id, err)
		}
		ok, err := filter.Evaluate(f, zoneRecord{schema: s, zone: z})
		if err != nil {
			t.Fatalf("evaluate %s: %v", id, err)
		}
		if ok {
			t.Fatalf("child filter of %s accepts outsider %s", parentID, id)
		}
	}
	if _, err := idx.ChildFilter(s, parentID, idx.Resolutions()[len(idx.Resolutions())-1]+1, false); err == nil {
		t.Fatalf("ChildFilter accepted a resolution outside the grid")
	}
}
