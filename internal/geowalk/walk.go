// Package geowalk traverses GeoJSON documents coordinate by coordinate.
//
// Coordinates yields every valid position in document order; Map rebuilds
// the document with a function applied to each position. Neither knows
// anything about coordinate reference systems.
package geowalk

import (
	"fmt"
	"iter"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// Func rewrites one coordinate pair.
type Func func(x, y float64) (float64, float64, error)

// Coordinates returns a lazy sequence over every valid position of obj.
// Ragged positions are skipped. Ranging over it again restarts the walk.
func Coordinates(obj geojson.Object) iter.Seq[geojson.Position] {
	return func(yield func(geojson.Position) bool) {
		walkObject(obj, yield)
	}
}

// Count returns the number of valid positions in obj.
func Count(obj geojson.Object) int {
	n := 0
	for range Coordinates(obj) {
		n++
	}
	return n
}

func walkObject(obj geojson.Object, yield func(geojson.Position) bool) bool {
	switch o := obj.(type) {
	case nil, *geojson.Unrecognized:
		return true
	case *geojson.FeatureCollection:
		for _, f := range o.Features {
			if !walkObject(f, yield) {
				return false
			}
		}
		return true
	case *geojson.Feature:
		if o == nil || o.Geometry == nil {
			return true
		}
		return walkObject(o.Geometry, yield)
	case *geojson.GeometryCollection:
		for _, g := range o.Geometries {
			if !walkObject(g, yield) {
				return false
			}
		}
		return true
	case *geojson.Point:
		return emit(o.Coordinates, yield)
	case *geojson.MultiPoint:
		return emitAll(o.Coordinates, yield)
	case *geojson.LineString:
		return emitAll(o.Coordinates, yield)
	case *geojson.MultiLineString:
		return emitLines(o.Coordinates, yield)
	case *geojson.Polygon:
		return emitLines(o.Coordinates, yield)
	case *geojson.MultiPolygon:
		for _, poly := range o.Coordinates {
			if !emitLines(poly, yield) {
				return false
			}
		}
		return true
	default:
		panic(fmt.Sprintf("geowalk: unhandled geojson type %T", obj))
	}
}

func emit(p geojson.Position, yield func(geojson.Position) bool) bool {
	if !p.Valid() {
		return true
	}
	return yield(p)
}

func emitAll(ps []geojson.Position, yield func(geojson.Position) bool) bool {
	for _, p := range ps {
		if !emit(p, yield) {
			return false
		}
	}
	return true
}

func emitLines(lines [][]geojson.Position, yield func(geojson.Position) bool) bool {
	for _, l := range lines {
		if !emitAll(l, yield) {
			return false
		}
	}
	return true
}
