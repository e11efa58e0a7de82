package metadata

import (
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/geowalk"
)

// Stats is the read-side summary of a layer document.
type Stats struct {
	Type               string  `json:"type"`
	FeaturesCount      int     `json:"features_count"`
	GeometryType       string  `json:"geometry_type"`
	Bounds             *Bounds `json:"bounds"`
	PropertiesSchema   Schema  `json:"properties_schema"`
	TotalCoordinates   int     `json:"total_coordinates"`
	EstimatedSize      int64   `json:"estimated_size"`
	EstimatedSizeHuman string  `json:"estimated_size_human"`
}

// Statistics summarizes obj. raw is the stored encoding and sizes the
// document; when nil the document is re-encoded to measure it.
func Statistics(obj geojson.Object, raw []byte) (Stats, error) {
	size := int64(len(raw))
	if raw == nil {
		b, err := geojson.Marshal(obj)
		if err != nil {
			return Stats{}, fmt.Errorf("encode for size: %w", err)
		}
		size = int64(len(b))
	}
	res := Extract(obj)
	typ := ""
	if obj != nil {
		typ = obj.Type()
	}
	return Stats{
		Type:               typ,
		FeaturesCount:      res.FeatureCount,
		GeometryType:       res.GeometryType,
		Bounds:             res.Bounds,
		PropertiesSchema:   res.Schema,
		TotalCoordinates:   res.Coordinates,
		EstimatedSize:      size,
		EstimatedSizeHuman: HumanBytes(size),
	}, nil
}

// HumanBytes formats n with binary units and two decimals, e.g. "1.5 KB".
func HumanBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	if v < 0 {
		v = 0
	}
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	s := strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	return s + " " + units[i]
}

// FilterByBounds keeps the features with at least one coordinate inside
// the box, edges included. Anything that is not a collection is returned
// as-is.
func FilterByBounds(obj geojson.Object, minLng, minLat, maxLng, maxLat float64) geojson.Object {
	fc, ok := obj.(*geojson.FeatureCollection)
	if !ok {
		return obj
	}
	box := orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
	out := &geojson.FeatureCollection{Members: fc.Members.Clone(), Features: []*geojson.Feature{}}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		for p := range geowalk.Coordinates(f) {
			if box.Contains(orb.Point{p[0], p[1]}) {
				out.Features = append(out.Features, f)
				break
			}
		}
	}
	return out
}

// SplitIntoTiles buckets the features of a collection by the slippy-map
// tile containing the centre of each feature's bounds. Keys are "z/x/y".
// Features without valid coordinates are left out.
func SplitIntoTiles(obj geojson.Object, zoom int) map[string]*geojson.FeatureCollection {
	out := map[string]*geojson.FeatureCollection{}
	var features []*geojson.Feature
	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		features = o.Features
	case *geojson.Feature:
		features = []*geojson.Feature{o}
	default:
		return out
	}
	for _, f := range features {
		b := BoundsOf(f).Bounds
		if b == nil {
			continue
		}
		x, y := tileAt(orb.Point{b.CenterLng, b.CenterLat}, zoom)
		key := fmt.Sprintf("%d/%d/%d", zoom, x, y)
		bucket, ok := out[key]
		if !ok {
			bucket = &geojson.FeatureCollection{Features: []*geojson.Feature{}}
			out[key] = bucket
		}
		bucket.Features = append(bucket.Features, f)
	}
	return out
}

// tileAt returns the tile column and row of p at zoom z, clamped to
// 0..2^z-1 on both axes. Longitude 180 falls in the last column.
func tileAt(p orb.Point, z int) (x, y int) {
	f := maptile.Fraction(p, maptile.Zoom(z))
	last := 1<<z - 1
	return clampTile(f[0], last), clampTile(f[1], last)
}

func clampTile(v float64, last int) int {
	return min(max(int(math.Floor(v)), 0), last)
}
