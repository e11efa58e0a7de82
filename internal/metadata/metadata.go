// Package metadata derives layer metadata from a WGS84 GeoJSON document:
// geometry type, feature count, bounding box and a sampled property schema.
package metadata

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/estate-geolayers/internal/crs"
	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/geowalk"
)

const (
	TypeUnknown = "Unknown"
	TypeMixed   = "Mixed"
)

// Result bundles everything extracted from one document.
type Result struct {
	GeometryType string
	FeatureCount int
	Bounds       *Bounds // nil when no valid coordinate exists
	Coordinates  int
	Dropped      int
	Schema       Schema
}

// Extract computes every derived field of obj in one pass per concern.
func Extract(obj geojson.Object) Result {
	rep := BoundsOf(obj)
	return Result{
		GeometryType: GeometryType(obj),
		FeatureCount: FeatureCount(obj),
		Bounds:       rep.Bounds,
		Coordinates:  rep.Valid + rep.Dropped,
		Dropped:      rep.Dropped,
		Schema:       SchemaOf(obj),
	}
}

// GeometryType names the geometry of obj. Collections whose typed features
// disagree are "Mixed"; features without a recognized geometry are not
// compared.
func GeometryType(obj geojson.Object) string {
	switch o := obj.(type) {
	case nil:
		return TypeUnknown
	case *geojson.FeatureCollection:
		if len(o.Features) == 0 || typeOf(o.Features[0].Geometry) == "" {
			return TypeUnknown
		}
		first := o.Features[0].Geometry.Type()
		for _, f := range o.Features[1:] {
			if t := typeOf(f.Geometry); t != "" && t != first {
				return TypeMixed
			}
		}
		return first
	case *geojson.Feature:
		if t := typeOf(o.Geometry); t != "" {
			return t
		}
		return TypeUnknown
	case geojson.Geometry:
		return o.Type()
	}
	return TypeUnknown
}

func typeOf(g geojson.Geometry) string {
	switch g.(type) {
	case nil, *geojson.Unrecognized:
		return ""
	}
	return g.Type()
}

// FeatureCount is len(features) for a collection and 1 for a bare feature
// or geometry.
func FeatureCount(obj geojson.Object) int {
	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		return len(o.Features)
	case *geojson.Feature, geojson.Geometry:
		return 1
	}
	return 0
}

// Bounds is an axis-aligned WGS84 box and its midpoint.
type Bounds struct {
	MinLng    float64 `json:"min_lng"`
	MinLat    float64 `json:"min_lat"`
	MaxLng    float64 `json:"max_lng"`
	MaxLat    float64 `json:"max_lat"`
	CenterLng float64 `json:"center_lng"`
	CenterLat float64 `json:"center_lat"`
}

// Bound converts b to an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinLng, b.MinLat}, Max: orb.Point{b.MaxLng, b.MaxLat}}
}

// BoundsReport carries the bounds and how many coordinates fed them.
type BoundsReport struct {
	Bounds  *Bounds
	Valid   int
	Dropped int
}

// BoundsOf walks every coordinate of obj and boxes those inside the WGS84
// domain. Coordinates outside it are counted in Dropped.
func BoundsOf(obj geojson.Object) BoundsReport {
	var (
		rep BoundsReport
		box orb.Bound
	)
	for p := range geowalk.Coordinates(obj) {
		if !crs.ValidCoordinate(p[0], p[1], crs.WGS84) {
			rep.Dropped++
			continue
		}
		pt := orb.Point{p[0], p[1]}
		if rep.Valid == 0 {
			box = pt.Bound()
		} else {
			box = box.Extend(pt)
		}
		rep.Valid++
	}
	if rep.Valid > 0 {
		rep.Bounds = fromBound(box)
	}
	return rep
}

func fromBound(b orb.Bound) *Bounds {
	return &Bounds{
		MinLng:    b.Min[0],
		MinLat:    b.Min[1],
		MaxLng:    b.Max[0],
		MaxLat:    b.Max[1],
		CenterLng: (b.Min[0] + b.Max[0]) / 2,
		CenterLat: (b.Min[1] + b.Max[1]) / 2,
	}
}
