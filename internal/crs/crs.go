// Package crs detects and normalizes coordinate reference system identifiers.
package crs

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// ID is a CRS identifier, canonically "EPSG:<code>".
type ID string

const (
	WGS84       ID = "EPSG:4326"
	WebMercator ID = "EPSG:3857"
)

func (id ID) String() string { return string(id) }

var (
	urnPattern     = regexp.MustCompile(`(?i)urn:ogc:def:crs:EPSG:[\d.]*:(\d+)`)
	epsgPattern    = regexp.MustCompile(`(?i)EPSG[:\s]*(\d+)`)
	crs84Pattern   = regexp.MustCompile(`(?i)CRS:?84`)
	digitsPattern  = regexp.MustCompile(`^\d+$`)
	wgs84Spellings = map[string]struct{}{"WGS84": {}, "WGS 84": {}, "WGS-84": {}}
)

// Parse normalizes a declared CRS name. OGC URNs, EPSG short forms, bare
// codes and the CRS84/WGS84 tokens are recognized; anything else is
// returned trimmed but otherwise unchanged so callers can report it.
func Parse(name string) ID {
	s := strings.TrimSpace(name)
	if m := urnPattern.FindStringSubmatch(s); m != nil {
		return fromCode(m[1])
	}
	if m := epsgPattern.FindStringSubmatch(s); m != nil {
		return fromCode(m[1])
	}
	if crs84Pattern.MatchString(s) {
		return WGS84
	}
	if _, ok := wgs84Spellings[strings.ToUpper(s)]; ok {
		return WGS84
	}
	if digitsPattern.MatchString(s) {
		return fromCode(s)
	}
	return ID(s)
}

func fromCode(digits string) ID {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return ID("EPSG:" + digits)
	}
	return ID(fmt.Sprintf("EPSG:%d", n))
}

// Normalize maps equivalent spellings of id onto the canonical form.
func Normalize(id ID) ID { return Parse(string(id)) }

// NeedsTransform reports whether coordinates in id must be reprojected to WGS84.
func NeedsTransform(id ID) bool { return Normalize(id) != WGS84 }

// Detect reads crs.properties.name from the root object of doc.
// Absent or non-string names mean WGS84.
func Detect(doc geojson.Object) ID {
	if doc == nil {
		return WGS84
	}
	raw, ok := geojson.MembersOf(doc)["crs"].(map[string]any)
	if !ok {
		return WGS84
	}
	props, ok := raw["properties"].(map[string]any)
	if !ok {
		return WGS84
	}
	name, ok := props["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return WGS84
	}
	return Parse(name)
}

// DetectBytes applies the Detect rules to an undecoded document.
func DetectBytes(raw []byte) ID {
	name := gjson.GetBytes(raw, "crs.properties.name")
	if name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return WGS84
	}
	return Parse(name.Str)
}

// Code returns the numeric EPSG code of id.
func Code(id ID) (int, bool) {
	s, ok := strings.CutPrefix(string(Normalize(id)), "EPSG:")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SuggestUTMZone returns the WGS84 UTM zone CRS that contains lng/lat.
func SuggestUTMZone(lng, lat float64) ID {
	zone := int(math.Floor((lng+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	if lat >= 0 {
		return ID(fmt.Sprintf("EPSG:%d", 32600+zone))
	}
	return ID(fmt.Sprintf("EPSG:%d", 32700+zone))
}

// UTMZone decodes the WGS84 UTM zone and hemisphere of id.
func UTMZone(id ID) (zone int, south bool, ok bool) {
	code, ok := Code(id)
	if !ok {
		return 0, false, false
	}
	switch {
	case code > 32600 && code <= 32660:
		return code - 32600, false, true
	case code > 32700 && code <= 32760:
		return code - 32700, true, true
	}
	return 0, false, false
}
