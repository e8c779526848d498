package h3grid

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/filter"
)

// H3 index layout: resolution in bits 52-55, then one 3-bit digit per
// resolution starting at bit 42 for resolution 1. Digits below the cell's
// resolution are 7.
const (
	resOffset   = 52
	resMask     = uint64(0xf) << resOffset
	digitBits   = 3
	digitMask   = uint64(0x7)
	unusedDigit = uint64(0x7)
	maxDigit    = uint64(0x6)
)

func digitOffset(r int) uint {
	return uint((MaxResolution - r) * digitBits)
}

// childRange returns the smallest and largest possible descendants of c at res.
// Every valid cell in between is a descendant.
func childRange(c h3.Cell, res int) (lo, hi uint64) {
	v := uint64(c)&^resMask | uint64(res)<<resOffset
	lo, hi = v, v
	for r := c.Resolution() + 1; r <= res; r++ {
		off := digitOffset(r)
		lo &^= digitMask << off
		hi = hi&^(digitMask<<off) | maxDigit<<off
	}
	for r := res + 1; r <= MaxResolution; r++ {
		off := digitOffset(r)
		lo |= unusedDigit << off
		hi |= unusedDigit << off
	}
	return lo, hi
}

// formatID renders an index the way h3.Cell.String does. H3 ids are always 15
// hex digits, so string order matches numeric order.
func formatID(v uint64) string {
	return fmt.Sprintf("%x", v)
}

// ChildFilter expresses descendants as id ranges: one BETWEEN per resolution.
func (g *Grid) ChildFilter(s dggs.Schema, parentID string, res int, upTo bool) (filter.Filter, error) {
	c, err := parseCell(parentID)
	if err != nil {
		return nil, err
	}
	if err := checkChildRes(c, res); err != nil {
		return nil, err
	}
	from := res
	if upTo && res > c.Resolution() {
		from = c.Resolution() + 1
	}
	var branches []filter.Filter
	for r := from; r <= res; r++ {
		lo, hi := childRange(c, r)
		branches = append(branches, filter.And{Children: []filter.Filter{
			filter.Between{Expr: filter.Prop(s.ZoneIDAttr), Lower: filter.Lit(formatID(lo)), Upper: filter.Lit(formatID(hi))},
			filter.Equal{Left: filter.Prop(s.ResolutionAttr), Right: filter.Lit(r)},
		}})
	}
	return filter.AnyOf(branches...), nil
}
