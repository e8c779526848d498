// Package feature defines the record stream consumed by filters and aggregations.
package feature

import (
	"context"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
)

// DefaultGeometryName is the property name a feature's geometry answers to.
const DefaultGeometryName = "geom"

type Feature struct {
	ID           string
	GeometryName string
	Geometry     geom.Geometry
	Properties   map[string]any
}

// Property resolves a property by name; the geometry is reachable through its
// geometry name.
func (f Feature) Property(name string) (any, bool) {
	gn := f.GeometryName
	if gn == "" {
		gn = DefaultGeometryName
	}
	if name == gn {
		if f.Geometry.IsEmpty() {
			return nil, false
		}
		return f.Geometry, true
	}
	v, ok := f.Properties[name]
	return v, ok
}

// Visitor receives features one at a time.
type Visitor interface {
	Visit(f Feature) error
}

type VisitorFunc func(f Feature) error

func (fn VisitorFunc) Visit(f Feature) error { return fn(f) }

// Collection feeds its features to a visitor. Implementations may block while
// pulling records from a remote source.
type Collection interface {
	Accepts(ctx context.Context, v Visitor) error
}

// Slice is an in-memory collection.
type Slice []Feature

func (s Slice) Accepts(ctx context.Context, v Visitor) error {
	for i, f := range s {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("visit canceled at feature %d: %w", i, err)
		}
		if err := v.Visit(f); err != nil {
			return fmt.Errorf("visit feature %d (%s): %w", i, f.ID, err)
		}
	}
	return nil
}

// Filtered wraps a collection so only features accepted by keep reach the visitor.
func Filtered(c Collection, keep func(Feature) (bool, error)) Collection {
	return filtered{inner: c, keep: keep}
}

type filtered struct {
	inner Collection
	keep  func(Feature) (bool, error)
}

func (f filtered) Accepts(ctx context.Context, v Visitor) error {
	return f.inner.Accepts(ctx, VisitorFunc(func(ft Feature) error {
		ok, err := f.keep(ft)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return v.Visit(ft)
	}))
}
