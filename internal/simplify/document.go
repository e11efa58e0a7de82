package simplify

import (
	"maps"
	"math"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/geowalk"
)

// minRing is the smallest closed ring RFC 7946 allows.
const minRing = 4

// Document returns a copy of obj with every line and ring simplified.
// Points are untouched. A ring that would collapse below four positions
// keeps its original vertices.
func Document(obj geojson.Object, tolerance float64) geojson.Object {
	return geowalk.MapGeometries(obj, func(g geojson.Geometry) geojson.Geometry {
		return geometry(g, tolerance)
	})
}

func geometry(g geojson.Geometry, tol float64) geojson.Geometry {
	switch o := g.(type) {
	case *geojson.LineString:
		return &geojson.LineString{Coordinates: DouglasPeucker(o.Coordinates, tol), Members: o.Members.Clone(), Raw: o.Raw}
	case *geojson.MultiLineString:
		lines := make([][]geojson.Position, len(o.Coordinates))
		for i, l := range o.Coordinates {
			lines[i] = DouglasPeucker(l, tol)
		}
		return &geojson.MultiLineString{Coordinates: lines, Members: o.Members.Clone(), Raw: o.Raw}
	case *geojson.Polygon:
		return &geojson.Polygon{Coordinates: rings(o.Coordinates, tol), Members: o.Members.Clone(), Raw: o.Raw}
	case *geojson.MultiPolygon:
		polys := make([][][]geojson.Position, len(o.Coordinates))
		for i, p := range o.Coordinates {
			polys[i] = rings(p, tol)
		}
		return &geojson.MultiPolygon{Coordinates: polys, Members: o.Members.Clone(), Raw: o.Raw}
	}
	return g
}

func rings(rs [][]geojson.Position, tol float64) [][]geojson.Position {
	out := make([][]geojson.Position, len(rs))
	for i, r := range rs {
		s := DouglasPeucker(r, tol)
		if len(s) < minRing && len(r) >= minRing {
			s = r
		}
		out[i] = s
	}
	return out
}

// Options controls Optimize.
type Options struct {
	Simplify            bool
	Tolerance           float64
	Decimals            int // negative disables rounding
	DropEmptyProperties bool
}

func DefaultOptions() Options {
	return Options{
		Simplify:            true,
		Tolerance:           DefaultTolerance,
		Decimals:            6,
		DropEmptyProperties: true,
	}
}

// Optimize prepares obj for map display: optional simplification,
// coordinate rounding and removal of null or empty-string properties.
func Optimize(obj geojson.Object, opts Options) (geojson.Object, error) {
	out := obj
	if opts.Simplify {
		out = Document(out, opts.Tolerance)
	}
	if opts.Decimals >= 0 {
		scale := math.Pow(10, float64(opts.Decimals))
		rounded, err := geowalk.Map(out, func(x, y float64) (float64, float64, error) {
			return math.Round(x*scale) / scale, math.Round(y*scale) / scale, nil
		})
		if err != nil {
			return nil, err
		}
		out = rounded
	}
	if opts.DropEmptyProperties {
		out = dropEmpty(out)
	}
	return out, nil
}

func dropEmpty(obj geojson.Object) geojson.Object {
	clean := func(f *geojson.Feature) *geojson.Feature {
		if f.Properties == nil {
			return f
		}
		nf := *f
		nf.Properties = maps.Clone(f.Properties)
		maps.DeleteFunc(nf.Properties, func(_ string, v any) bool {
			s, isStr := v.(string)
			return v == nil || (isStr && s == "")
		})
		return &nf
	}
	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		out := &geojson.FeatureCollection{Members: o.Members, Features: make([]*geojson.Feature, len(o.Features))}
		for i, f := range o.Features {
			out.Features[i] = clean(f)
		}
		return out
	case *geojson.Feature:
		return clean(o)
	}
	return obj
}
