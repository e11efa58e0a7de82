// Package keys builds the cache keys of derived layer views.
//
// A view key (e.g. "simplified_0.001") names one derivation of a layer;
// Entry turns it into the Redis key that stores it.
package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix        = "geolayer"
	maxKeyTextLen = 160
)

const Statistics = "statistics"

func Simplified(tolerance float64) string {
	return "simplified_" + formatFloat(tolerance)
}

func Optimized(tolerance float64, decimals int) string {
	return fmt.Sprintf("optimized_%s_%d", formatFloat(tolerance), decimals)
}

func Zoom(z int) string {
	return "zoom_" + strconv.Itoa(z)
}

func Tile(z, x, y int) string {
	return fmt.Sprintf("tile_%d_%d_%d", z, x, y)
}

func Bounds(minLat, minLng, maxLat, maxLng float64) string {
	return fmt.Sprintf("bounds_%s_%s_%s_%s",
		formatFloat(minLat), formatFloat(minLng), formatFloat(maxLat), formatFloat(maxLng))
}

func H3Cover(res int) string {
	return "h3_" + strconv.Itoa(res)
}

func H3BBoxCover(res int) string {
	return "h3_bbox_" + strconv.Itoa(res)
}

// Entry returns the Redis key holding cacheKey for a layer. The readable
// part is sanitized and capped; the hash suffix keeps distinct inputs apart.
func Entry(layerID uint64, cacheKey string) string {
	text := normalize(cacheKey)
	safe := sanitize(text)
	if len(safe) > maxKeyTextLen {
		safe = safe[:maxKeyTextLen]
	}
	return fmt.Sprintf("%s:%s:h=%016x", LayerPrefix(layerID), safe, xxhash.Sum64String(text))
}

// LayerPrefix is shared by every entry of a layer.
func LayerPrefix(layerID uint64) string {
	return fmt.Sprintf("%s:%d", prefix, layerID)
}

// LayerIndex is the set listing every entry key written for a layer.
func LayerIndex(layerID uint64) string {
	return fmt.Sprintf("%s:%d:index", prefix, layerID)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var punct = regexp.MustCompile(`\s*([=<>!\.,\(\)_])\s*`)

func normalize(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punct.ReplaceAllString(s, "$1")
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case isASCIISpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=' || r == '.':
			out = r
		default:
			// anything else, non-ASCII included, becomes '-'
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

func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIISpace(r) {
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

func isASCIISpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
