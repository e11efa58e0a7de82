package geojson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Marshal serializes obj as RFC 7946 JSON. "type" is written first,
// then foreign members in key order, then the payload member.
func Marshal(obj Object) ([]byte, error) {
	var b bytes.Buffer
	if err := encodeObject(&b, obj); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (o *FeatureCollection) MarshalJSON() ([]byte, error) { return Marshal(o) }
func (o *Feature) MarshalJSON() ([]byte, error)           { return Marshal(o) }

func encodeObject(b *bytes.Buffer, obj Object) error {
	if obj == nil {
		b.WriteString("null")
		return nil
	}
	if u, ok := obj.(*Unrecognized); ok {
		return writeRaw(b, u.Value)
	}
	b.WriteString(`{"type":`)
	b.WriteString(strconv.Quote(obj.Type()))
	if err := encodeMembers(b, MembersOf(obj)); err != nil {
		return err
	}

	var err error
	switch o := obj.(type) {
	case *FeatureCollection:
		b.WriteString(`,"features":[`)
		for i, f := range o.Features {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeObject(b, f); err != nil {
				return fmt.Errorf("features[%d]: %w", i, err)
			}
		}
		b.WriteByte(']')
	case *Feature:
		b.WriteString(`,"geometry":`)
		if o.Geometry == nil {
			b.WriteString("null")
		} else if err := encodeObject(b, o.Geometry); err != nil {
			return fmt.Errorf("geometry: %w", err)
		}
		b.WriteString(`,"properties":`)
		if o.Properties == nil {
			b.WriteString("null")
		} else {
			raw, err := json.Marshal(o.Properties)
			if err != nil {
				return fmt.Errorf("properties: %w", err)
			}
			b.Write(raw)
		}
	case *GeometryCollection:
		b.WriteString(`,"geometries":[`)
		for i, g := range o.Geometries {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeObject(b, g); err != nil {
				return fmt.Errorf("geometries[%d]: %w", i, err)
			}
		}
		b.WriteByte(']')
	case *Point:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writePosition(b, o.Coordinates, r)
		}
	case *MultiPoint:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writePositions(b, o.Coordinates, r)
		}
	case *LineString:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writePositions(b, o.Coordinates, r)
		}
	case *MultiLineString:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writeLines(b, o.Coordinates, r)
		}
	case *Polygon:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writeLines(b, o.Coordinates, r)
		}
	case *MultiPolygon:
		if r, ok := coordinatesKey(b, o.Raw, len(o.Coordinates)); ok {
			err = writePolygons(b, o.Coordinates, r)
		}
	}
	if err != nil {
		return err
	}
	b.WriteByte('}')
	return nil
}

func encodeMembers(b *bytes.Buffer, m Members) error {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, err := json.Marshal(m[k])
		if err != nil {
			return fmt.Errorf("member %q: %w", k, err)
		}
		b.WriteByte(',')
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(raw)
	}
	return nil
}

// rawNode is the source value aligned with the typed coordinates being
// written. The zero value means there is nothing to fall back on.
type rawNode struct {
	v  any
	ok bool
}

// child returns the source entry for index i of a typed array of length n.
// Lengths that no longer match (after simplification) yield the zero node.
func (r rawNode) child(i, n int) rawNode {
	arr, isArr := r.v.([]any)
	if !r.ok || !isArr || len(arr) != n {
		return rawNode{}
	}
	return rawNode{v: arr[i], ok: true}
}

// opaque reports whether the source value was not an array at all.
func (r rawNode) opaque() bool {
	_, isArr := r.v.([]any)
	return r.ok && !isArr
}

// coordinatesKey writes the "coordinates" key unless the member was absent
// in the source and nothing has been put there since.
func coordinatesKey(b *bytes.Buffer, raw *Raw, n int) (rawNode, bool) {
	if raw != nil && raw.missing && n == 0 {
		return rawNode{}, false
	}
	b.WriteString(`,"coordinates":`)
	if raw == nil || raw.missing {
		return rawNode{}, true
	}
	return rawNode{v: raw.value, ok: true}, true
}

func writeRaw(b *bytes.Buffer, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("source value: %w", err)
	}
	b.Write(out)
	return nil
}

func writePolygons(b *bytes.Buffer, polys [][][]Position, r rawNode) error {
	if r.opaque() {
		return writeRaw(b, r.v)
	}
	b.WriteByte('[')
	for i, poly := range polys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeLines(b, poly, r.child(i, len(polys))); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writeLines(b *bytes.Buffer, lines [][]Position, r rawNode) error {
	if r.opaque() {
		return writeRaw(b, r.v)
	}
	b.WriteByte('[')
	for i, l := range lines {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writePositions(b, l, r.child(i, len(lines))); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func writePositions(b *bytes.Buffer, ps []Position, r rawNode) error {
	if r.opaque() {
		return writeRaw(b, r.v)
	}
	b.WriteByte('[')
	for i, p := range ps {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writePosition(b, p, r.child(i, len(ps))); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

// writePosition writes the source form of a position that was not all
// numbers, and the typed one otherwise.
func writePosition(b *bytes.Buffer, p Position, r rawNode) error {
	if r.ok && !numeric(r.v) {
		return writeRaw(b, r.v)
	}
	b.WriteByte('[')
	for i, f := range p {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("unsupported coordinate value %v", f)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(strconv.AppendFloat(nil, f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return nil
}
