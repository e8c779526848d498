// Package grids builds a configured zone index by grid name.
package grids

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/h3grid"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/quadgrid"
	"github.com/mohammed-shakir/dggs-query/internal/dggs/s2grid"
)

// New returns the grid called name. maxRes bounds the s2 and quad grids; H3
// always exposes its sixteen resolutions. memoSize sizes the zone memo of
// grids that keep one.
func New(name string, maxRes, memoSize int, logger *slog.Logger) (dggs.Index, error) {
	var (
		idx dggs.Index
		err error
	)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case h3grid.Name:
		var g *h3grid.Grid
		g, err = h3grid.New(memoSize, h3grid.WithLogger(logger))
		idx = g
	case s2grid.Name:
		var g *s2grid.Grid
		g, err = s2grid.New(maxRes, memoSize)
		idx = g
	case quadgrid.Name:
		var g *quadgrid.Grid
		g, err = quadgrid.New(maxRes)
		idx = g
	default:
		return nil, fmt.Errorf("%w: unknown grid %q (want %s, %s or %s)",
			dggs.ErrInvalidArgument, name, h3grid.Name, s2grid.Name, quadgrid.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s grid: %w", name, err)
	}
	return idx, nil
}
