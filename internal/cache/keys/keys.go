// Package keys names the Redis keys of the zone store.
package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxFilterTextLen = 160

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// Zones is the lexicographic sorted set of zone ids of a layer at one resolution.
func Zones(layer string, res int) string {
	return fmt.Sprintf("zones:%s:%d", sanitizeLayer(strings.TrimSpace(layer)), res)
}

// Resolutions is the set of resolutions a layer has zones at.
func Resolutions(layer string) string {
	return "res:" + sanitizeLayer(strings.TrimSpace(layer))
}

// ZoneFeatures is the set of feature ids stored under one zone.
func ZoneFeatures(layer, zoneID string) string {
	return "zf:" + sanitizeLayer(strings.TrimSpace(layer)) + ":" + strings.TrimSpace(zoneID)
}

// Feature holds the encoded body of one feature.
func Feature(layer, id string) string {
	return "feat:" + sanitizeLayer(strings.TrimSpace(layer)) + ":" + strings.TrimSpace(id)
}

// Generation is bumped on every write to a layer so cached selections of an
// older generation are never read.
func Generation(layer string) string {
	return "gen:" + sanitizeLayer(strings.TrimSpace(layer))
}

// Selection caches the feature ids a filter selected in one layer generation.
// The readable filter prefix is truncated; the hash covers the full text.
func Selection(layer string, gen int64, filter string) string {
	text := normalizeFilters(filter)
	safe := sanitizeForKey(text)
	if len(safe) > maxFilterTextLen {
		safe = safe[:maxFilterTextLen]
	}
	return fmt.Sprintf("sel:%s:%d:filters=%s:f=%s", sanitizeLayer(strings.TrimSpace(layer)), gen, safe, Fingerprint(text))
}

// Fingerprint is the 64-bit hash of normalized filter text.
func Fingerprint(filter string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalizeFilters(filter)))
}

func normalizeFilters(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctSpace.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	return sanitize(s, func(r rune) bool { return r == '=' })
}

func sanitizeLayer(s string) string {
	return sanitize(s, func(rune) bool { return false })
}

// sanitize keeps alphanumerics, ':', '_' and '-' plus whatever extra allows,
// maps whitespace to '_' and everything else to '-', collapsing repeats.
func sanitize(s string, extra func(rune) bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || extra(r):
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
