// Package geojson models GeoJSON documents as a closed set of concrete types.
package geojson

import "errors"

// ErrMalformed is returned by Parse for documents without a usable "type".
var ErrMalformed = errors.New("malformed geojson")

const (
	TypePoint              = "Point"
	TypeMultiPoint         = "MultiPoint"
	TypeLineString         = "LineString"
	TypeMultiLineString    = "MultiLineString"
	TypePolygon            = "Polygon"
	TypeMultiPolygon       = "MultiPolygon"
	TypeGeometryCollection = "GeometryCollection"
	TypeFeature            = "Feature"
	TypeFeatureCollection  = "FeatureCollection"
)

// Object is implemented by FeatureCollection, Feature and every Geometry.
// The unexported method keeps the set closed so walkers can switch exhaustively.
type Object interface {
	Type() string
	sealed()
}

// Geometry is one of the seven RFC 7946 geometry variants.
type Geometry interface {
	Object
	geometry()
}

// Members holds foreign members ("crs", "bbox", "id", ...) so they survive a rewrite.
type Members map[string]any

// Position is a coordinate tuple. Positions with fewer than two entries
// are ragged and are carried through untouched. A source position holding
// anything but numbers decodes as nil; Marshal writes the original back.
type Position []float64

func (p Position) Valid() bool { return len(p) >= 2 }

func (p Position) X() float64 { return p[0] }
func (p Position) Y() float64 { return p[1] }

// Clone returns a copy that shares no backing array with p.
func (p Position) Clone() Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	copy(out, p)
	return out
}

type Point struct {
	Coordinates Position
	Members     Members
	Raw         *Raw
}

type MultiPoint struct {
	Coordinates []Position
	Members     Members
	Raw         *Raw
}

type LineString struct {
	Coordinates []Position
	Members     Members
	Raw         *Raw
}

type MultiLineString struct {
	Coordinates [][]Position
	Members     Members
	Raw         *Raw
}

type Polygon struct {
	Coordinates [][]Position
	Members     Members
	Raw         *Raw
}

type MultiPolygon struct {
	Coordinates [][][]Position
	Members     Members
	Raw         *Raw
}

// Raw is a geometry's "coordinates" member as decoded, numbers kept as
// json.Number. Marshal writes back from it every entry the typed
// coordinates cannot hold. Geometries built in code leave it nil.
type Raw struct {
	value   any
	missing bool
}

// Unrecognized is a nested geometry whose "type" is missing or unknown, or
// a "geometry" member that is not an object. It has no coordinates and is
// written back exactly as decoded.
type Unrecognized struct {
	Value any
}

type GeometryCollection struct {
	Geometries []Geometry
	Members    Members
}

// Feature pairs an optional geometry with a property bag. Property values
// keep json.Number so integers and floats stay distinguishable.
type Feature struct {
	Geometry   Geometry
	Properties map[string]any
	Members    Members
}

type FeatureCollection struct {
	Features []*Feature
	Members  Members
	// Skipped counts "features" entries that were not objects.
	Skipped int
}

func (*Point) Type() string              { return TypePoint }
func (*MultiPoint) Type() string         { return TypeMultiPoint }
func (*LineString) Type() string         { return TypeLineString }
func (*MultiLineString) Type() string    { return TypeMultiLineString }
func (*Polygon) Type() string            { return TypePolygon }
func (*MultiPolygon) Type() string       { return TypeMultiPolygon }
func (*GeometryCollection) Type() string { return TypeGeometryCollection }
func (*Feature) Type() string            { return TypeFeature }
func (*FeatureCollection) Type() string  { return TypeFeatureCollection }

// Type is the source "type" string, or empty when there was none.
func (u *Unrecognized) Type() string {
	if m, ok := u.Value.(map[string]any); ok {
		t, _ := m["type"].(string)
		return t
	}
	return ""
}

func (*Point) sealed()              {}
func (*MultiPoint) sealed()         {}
func (*LineString) sealed()         {}
func (*MultiLineString) sealed()    {}
func (*Polygon) sealed()            {}
func (*MultiPolygon) sealed()       {}
func (*GeometryCollection) sealed() {}
func (*Unrecognized) sealed()       {}
func (*Feature) sealed()            {}
func (*FeatureCollection) sealed()  {}

func (*Point) geometry()              {}
func (*MultiPoint) geometry()         {}
func (*LineString) geometry()         {}
func (*MultiLineString) geometry()    {}
func (*Polygon) geometry()            {}
func (*MultiPolygon) geometry()       {}
func (*GeometryCollection) geometry() {}
func (*Unrecognized) geometry()       {}

// MembersOf returns the foreign members of any object.
func MembersOf(obj Object) Members {
	switch o := obj.(type) {
	case *Point:
		return o.Members
	case *MultiPoint:
		return o.Members
	case *LineString:
		return o.Members
	case *MultiLineString:
		return o.Members
	case *Polygon:
		return o.Members
	case *MultiPolygon:
		return o.Members
	case *GeometryCollection:
		return o.Members
	case *Feature:
		return o.Members
	case *FeatureCollection:
		return o.Members
	}
	return nil
}

// CountUnrecognized returns how many entries of obj were not understood:
// skipped features plus Unrecognized geometries.
func CountUnrecognized(obj Object) int {
	switch o := obj.(type) {
	case *FeatureCollection:
		n := o.Skipped
		for _, f := range o.Features {
			n += CountUnrecognized(f)
		}
		return n
	case *Feature:
		if o == nil || o.Geometry == nil {
			return 0
		}
		return CountUnrecognized(o.Geometry)
	case *GeometryCollection:
		n := 0
		for _, g := range o.Geometries {
			n += CountUnrecognized(g)
		}
		return n
	case *Unrecognized:
		return 1
	}
	return 0
}

// Clone returns a shallow copy of m, or nil.
func (m Members) Clone() Members {
	if m == nil {
		return nil
	}
	out := make(Members, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
