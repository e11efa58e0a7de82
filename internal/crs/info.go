package crs

import (
	"fmt"
	"math"
)

type Kind string

const (
	Geographic Kind = "geographic"
	Projected  Kind = "projected"
)

// Info describes a well-known CRS for display.
type Info struct {
	ID         ID     `json:"code"`
	Name       string `json:"name"`
	Kind       Kind   `json:"type"`
	Units      string `json:"units"`
	Zone       int    `json:"zone,omitempty"`
	Hemisphere string `json:"hemisphere,omitempty"`
}

// Describe returns display information for WGS84, Web Mercator and the
// WGS84 UTM zones.
func Describe(id ID) (Info, bool) {
	id = Normalize(id)
	switch id {
	case WGS84:
		return Info{ID: id, Name: "WGS 84", Kind: Geographic, Units: "degrees"}, true
	case WebMercator:
		return Info{ID: id, Name: "WGS 84 / Pseudo-Mercator", Kind: Projected, Units: "metres"}, true
	}
	if zone, south, ok := UTMZone(id); ok {
		hemi, letter := "north", "N"
		if south {
			hemi, letter = "south", "S"
		}
		return Info{
			ID:         id,
			Name:       fmt.Sprintf("WGS 84 / UTM zone %d%s", zone, letter),
			Kind:       Projected,
			Units:      "metres",
			Zone:       zone,
			Hemisphere: hemi,
		}, true
	}
	return Info{}, false
}

const webMercatorMax = 20037508.342789244

// ValidCoordinate reports whether x/y lies inside the usable domain of id.
// Identifiers without a known domain accept any finite value.
func ValidCoordinate(x, y float64, id ID) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	id = Normalize(id)
	switch id {
	case WGS84:
		return x >= -180 && x <= 180 && y >= -90 && y <= 90
	case WebMercator:
		return math.Abs(x) <= webMercatorMax && math.Abs(y) <= webMercatorMax
	}
	if _, _, ok := UTMZone(id); ok {
		return math.Abs(x) < 1e7 && math.Abs(y) < 1e7
	}
	return true
}
