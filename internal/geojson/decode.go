package geojson

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parse decodes a GeoJSON document. Only a missing or unknown top-level
// "type" is an error. Below the top level nothing fails: missing members
// decode as empty, "features" entries that are not objects are skipped and
// counted, and geometries without a known type become Unrecognized.
// Positions that are not all numbers keep their source form in Raw.
func Parse(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformed)
	}
	return decodeObject(m)
}

func decodeObject(m map[string]any) (Object, error) {
	t, _ := m["type"].(string)
	switch t {
	case TypeFeatureCollection:
		return decodeFeatureCollection(m), nil
	case TypeFeature:
		return decodeFeature(m), nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	g := decodeGeometry(m)
	if _, ok := g.(*Unrecognized); ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, t)
	}
	return g, nil
}

func decodeFeatureCollection(m map[string]any) *FeatureCollection {
	fc := &FeatureCollection{Members: membersOf(m, "features")}
	items, _ := m["features"].([]any)
	fc.Features = make([]*Feature, 0, len(items))
	for _, it := range items {
		fm, ok := it.(map[string]any)
		if !ok {
			fc.Skipped++
			continue
		}
		fc.Features = append(fc.Features, decodeFeature(fm))
	}
	return fc
}

func decodeFeature(m map[string]any) *Feature {
	f := &Feature{Members: membersOf(m, "geometry", "properties")}
	if props, ok := m["properties"].(map[string]any); ok {
		f.Properties = props
	}
	switch g := m["geometry"].(type) {
	case nil:
	case map[string]any:
		f.Geometry = decodeGeometry(g)
	default:
		f.Geometry = &Unrecognized{Value: g}
	}
	return f
}

func decodeGeometry(m map[string]any) Geometry {
	t, _ := m["type"].(string)
	c, present := m["coordinates"]
	members := membersOf(m, "coordinates")
	switch t {
	case TypePoint:
		p, ok := decodePosition(c)
		return &Point{Coordinates: p, Members: members, Raw: rawFor(c, present, ok)}
	case TypeMultiPoint:
		ps, ok := decodePositions(c)
		return &MultiPoint{Coordinates: ps, Members: members, Raw: rawFor(c, present, ok)}
	case TypeLineString:
		ps, ok := decodePositions(c)
		return &LineString{Coordinates: ps, Members: members, Raw: rawFor(c, present, ok)}
	case TypeMultiLineString:
		ls, ok := decodeLines(c)
		return &MultiLineString{Coordinates: ls, Members: members, Raw: rawFor(c, present, ok)}
	case TypePolygon:
		ls, ok := decodeLines(c)
		return &Polygon{Coordinates: ls, Members: members, Raw: rawFor(c, present, ok)}
	case TypeMultiPolygon:
		polys, ok := decodePolygons(c)
		return &MultiPolygon{Coordinates: polys, Members: members, Raw: rawFor(c, present, ok)}
	case TypeGeometryCollection:
		gc := &GeometryCollection{Members: membersOf(m, "geometries")}
		items, _ := m["geometries"].([]any)
		for _, it := range items {
			gm, ok := it.(map[string]any)
			if !ok {
				gc.Geometries = append(gc.Geometries, &Unrecognized{Value: it})
				continue
			}
			gc.Geometries = append(gc.Geometries, decodeGeometry(gm))
		}
		return gc
	default:
		return &Unrecognized{Value: m}
	}
}

// rawFor keeps the source coordinates only when the typed form lost
// something or the member was absent.
func rawFor(v any, present, exact bool) *Raw {
	switch {
	case !present:
		return &Raw{missing: true}
	case !exact:
		return &Raw{value: v}
	}
	return nil
}

// numeric reports whether v is an array made only of finite-range numbers.
func numeric(v any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, e := range arr {
		n, ok := e.(json.Number)
		if !ok {
			return false
		}
		if _, err := n.Float64(); err != nil {
			return false
		}
	}
	return true
}

// decodePosition returns nil, false for anything but an array of numbers.
func decodePosition(v any) (Position, bool) {
	if !numeric(v) {
		return nil, false
	}
	arr := v.([]any)
	p := make(Position, len(arr))
	for i, e := range arr {
		p[i], _ = e.(json.Number).Float64()
	}
	return p, true
}

func decodePositions(v any) ([]Position, bool) {
	arr, ok := v.([]any)
	out := make([]Position, 0, len(arr))
	for _, e := range arr {
		p, exact := decodePosition(e)
		ok = ok && exact
		out = append(out, p)
	}
	return out, ok
}

func decodeLines(v any) ([][]Position, bool) {
	arr, ok := v.([]any)
	out := make([][]Position, 0, len(arr))
	for _, e := range arr {
		l, exact := decodePositions(e)
		ok = ok && exact
		out = append(out, l)
	}
	return out, ok
}

func decodePolygons(v any) ([][][]Position, bool) {
	arr, ok := v.([]any)
	out := make([][][]Position, 0, len(arr))
	for _, e := range arr {
		ls, exact := decodeLines(e)
		ok = ok && exact
		out = append(out, ls)
	}
	return out, ok
}

func membersOf(m map[string]any, skip ...string) Members {
	var out Members
outer:
	for k, v := range m {
		if k == "type" {
			continue
		}
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		if out == nil {
			out = Members{}
		}
		out[k] = v
	}
	return out
}
