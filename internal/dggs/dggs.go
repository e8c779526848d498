// Package dggs defines the hierarchical zone index contract shared by the
// concrete grids and the query layer.
package dggs

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("zone not found")
)

// Seq is a lazy, single-pass zone sequence. A non-nil error ends the sequence.
type Seq = iter.Seq2[model.Zone, error]

// Schema names the store attributes a child filter is expressed over.
type Schema struct {
	ZoneIDAttr     string
	ResolutionAttr string
}

// DefaultSchema is the attribute naming used when none is configured.
var DefaultSchema = Schema{ZoneIDAttr: "zoneId", ResolutionAttr: "resolution"}

// Index is a configured discrete global grid. Implementations are read-only
// and safe for concurrent use.
type Index interface {
	// Name identifies the grid system, e.g. "h3".
	Name() string
	// Resolutions returns the valid resolutions in ascending order.
	Resolutions() []int
	// ExtraProperties declares the extra properties every zone carries.
	ExtraProperties() map[string]model.PropertyKind

	Zone(id string) (model.Zone, error)
	Point(lat, lon float64, resolution int) (model.Zone, error)

	// ZonesInEnvelope yields the zones covering bb. With compact set, groups of
	// complete siblings may be replaced by their coarser ancestor.
	ZonesInEnvelope(bb model.BBox, resolution int, compact bool) Seq
	// Polygon is ZonesInEnvelope for an arbitrary polygon.
	Polygon(p model.Polygon, resolution int, compact bool) Seq
	// Neighbors yields zones within radius steps of id, excluding id itself.
	Neighbors(id string, radius int) Seq
	// Children yields descendants of id at exactly resolution.
	Children(id string, resolution int) Seq
	// Parents yields every ancestor of id, nearest first.
	Parents(id string) Seq

	// ChildFilter returns a predicate over s that holds for descendants of
	// parentID at resolution, or at any resolution between the parent's and
	// resolution when upTo is set.
	ChildFilter(s Schema, parentID string, resolution int, upTo bool) (filter.Filter, error)
}

// ValidateResolution checks res against the index's declared resolutions.
func ValidateResolution(idx Index, res int) error {
	if !slices.Contains(idx.Resolutions(), res) {
		rs := idx.Resolutions()
		return fmt.Errorf("%w: resolution %d not in [%d..%d] for %s grid",
			ErrInvalidArgument, res, rs[0], rs[len(rs)-1], idx.Name())
	}
	return nil
}

// Fail returns a sequence yielding only err.
func Fail(err error) Seq {
	return func(yield func(model.Zone, error) bool) {
		yield(model.Zone{}, err)
	}
}

// FromSlice yields zones in order.
func FromSlice(zones []model.Zone) Seq {
	return func(yield func(model.Zone, error) bool) {
		for _, z := range zones {
			if !yield(z, nil) {
				return
			}
		}
	}
}

// FromIDs resolves ids lazily, one per pull.
func FromIDs(ids []string, resolve func(id string) (model.Zone, error)) Seq {
	return func(yield func(model.Zone, error) bool) {
		for _, id := range ids {
			z, err := resolve(id)
			if !yield(z, err) || err != nil {
				return
			}
		}
	}
}

// Collect materialises a sequence, stopping at the first error.
func Collect(seq Seq) ([]model.Zone, error) {
	var out []model.Zone
	for z, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, nil
}

// IDs materialises the ids of a sequence.
func IDs(seq Seq) ([]string, error) {
	var out []string
	for z, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, z.ID)
	}
	return out, nil
}

// Count drains a sequence and returns its length.
func Count(seq Seq) (int, error) {
	n := 0
	for _, err := range seq {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
