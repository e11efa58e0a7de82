package geowalk

import (
	"fmt"
	"maps"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// Map returns a deep copy of obj with fn applied to every valid position.
// Ragged positions are copied unchanged and ordinates past y are kept.
// The first error from fn aborts the walk.
func Map(obj geojson.Object, fn Func) (geojson.Object, error) {
	m := mapper{fn: fn}
	return m.object(obj)
}

// MapGeometries returns a copy of obj where every leaf geometry has been
// replaced by fn's result. Collections are rebuilt around the results.
func MapGeometries(obj geojson.Object, fn func(geojson.Geometry) geojson.Geometry) geojson.Object {
	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		out := &geojson.FeatureCollection{Members: o.Members.Clone(), Features: make([]*geojson.Feature, len(o.Features))}
		for i, f := range o.Features {
			out.Features[i] = MapGeometries(f, fn).(*geojson.Feature)
		}
		return out
	case *geojson.Feature:
		out := &geojson.Feature{Members: o.Members.Clone(), Properties: maps.Clone(o.Properties)}
		if o.Geometry != nil {
			out.Geometry = MapGeometries(o.Geometry, fn).(geojson.Geometry)
		}
		return out
	case *geojson.GeometryCollection:
		out := &geojson.GeometryCollection{Members: o.Members.Clone(), Geometries: make([]geojson.Geometry, len(o.Geometries))}
		for i, g := range o.Geometries {
			out.Geometries[i] = MapGeometries(g, fn).(geojson.Geometry)
		}
		return out
	case geojson.Geometry:
		return fn(o)
	}
	return obj
}

type mapper struct {
	fn Func
}

func (m mapper) object(obj geojson.Object) (geojson.Object, error) {
	switch o := obj.(type) {
	case nil:
		return nil, nil
	case *geojson.FeatureCollection:
		out := &geojson.FeatureCollection{Members: o.Members.Clone(), Features: make([]*geojson.Feature, len(o.Features))}
		for i, f := range o.Features {
			nf, err := m.feature(f)
			if err != nil {
				return nil, fmt.Errorf("features[%d]: %w", i, err)
			}
			out.Features[i] = nf
		}
		return out, nil
	case *geojson.Feature:
		return m.feature(o)
	case geojson.Geometry:
		return m.geometry(o)
	}
	return nil, fmt.Errorf("geowalk: unhandled geojson type %T", obj)
}

func (m mapper) feature(f *geojson.Feature) (*geojson.Feature, error) {
	out := &geojson.Feature{Members: f.Members.Clone(), Properties: maps.Clone(f.Properties)}
	if f.Geometry == nil {
		return out, nil
	}
	g, err := m.geometry(f.Geometry)
	if err != nil {
		return nil, err
	}
	out.Geometry = g
	return out, nil
}

func (m mapper) geometry(g geojson.Geometry) (geojson.Geometry, error) {
	switch o := g.(type) {
	case *geojson.Point:
		p, err := m.position(o.Coordinates)
		if err != nil {
			return nil, err
		}
		return &geojson.Point{Coordinates: p, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.MultiPoint:
		ps, err := m.positions(o.Coordinates)
		if err != nil {
			return nil, err
		}
		return &geojson.MultiPoint{Coordinates: ps, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.LineString:
		ps, err := m.positions(o.Coordinates)
		if err != nil {
			return nil, err
		}
		return &geojson.LineString{Coordinates: ps, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.MultiLineString:
		ls, err := m.lines(o.Coordinates)
		if err != nil {
			return nil, err
		}
		return &geojson.MultiLineString{Coordinates: ls, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.Polygon:
		ls, err := m.lines(o.Coordinates)
		if err != nil {
			return nil, err
		}
		return &geojson.Polygon{Coordinates: ls, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.MultiPolygon:
		polys := make([][][]geojson.Position, len(o.Coordinates))
		for i, poly := range o.Coordinates {
			ls, err := m.lines(poly)
			if err != nil {
				return nil, err
			}
			polys[i] = ls
		}
		return &geojson.MultiPolygon{Coordinates: polys, Members: o.Members.Clone(), Raw: o.Raw}, nil
	case *geojson.GeometryCollection:
		out := &geojson.GeometryCollection{Members: o.Members.Clone(), Geometries: make([]geojson.Geometry, len(o.Geometries))}
		for i, child := range o.Geometries {
			ng, err := m.geometry(child)
			if err != nil {
				return nil, fmt.Errorf("geometries[%d]: %w", i, err)
			}
			out.Geometries[i] = ng
		}
		return out, nil
	case *geojson.Unrecognized:
		return o, nil
	}
	return nil, fmt.Errorf("geowalk: unhandled geometry type %T", g)
}

func (m mapper) position(p geojson.Position) (geojson.Position, error) {
	out := p.Clone()
	if !p.Valid() {
		return out, nil
	}
	x, y, err := m.fn(p[0], p[1])
	if err != nil {
		return nil, err
	}
	out[0], out[1] = x, y
	return out, nil
}

func (m mapper) positions(ps []geojson.Position) ([]geojson.Position, error) {
	if ps == nil {
		return nil, nil
	}
	out := make([]geojson.Position, len(ps))
	for i, p := range ps {
		np, err := m.position(p)
		if err != nil {
			return nil, err
		}
		out[i] = np
	}
	return out, nil
}

func (m mapper) lines(ls [][]geojson.Position) ([][]geojson.Position, error) {
	if ls == nil {
		return nil, nil
	}
	out := make([][]geojson.Position, len(ls))
	for i, l := range ls {
		nl, err := m.positions(l)
		if err != nil {
			return nil, err
		}
		out[i] = nl
	}
	return out, nil
}
