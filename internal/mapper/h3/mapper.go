package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

func (m *Mapper) CellsForBBox(b metadata.Bounds, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	// rectangular loop in degrees
	outer := h3.GeoLoop{
		{Lat: b.MinLat, Lng: b.MinLng},
		{Lat: b.MinLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MaxLng},
		{Lat: b.MaxLat, Lng: b.MinLng},
	}
	return polyfillOne(outer, nil, res)
}

// CenterCell returns the cell containing (lat, lng) at res.
func (m *Mapper) CenterCell(lat, lng float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellsForDocument covers every geometry of a WGS84 document. Polygons are
// polyfilled; points and line vertices map to the cell containing them. A
// polygon too small to contain any cell center contributes the cell of its
// first vertex so it never vanishes from the cover.
func (m *Mapper) CellsForDocument(obj geojson.Object, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	add := func(cells ...string) {
		for _, c := range cells {
			seen[c] = struct{}{}
		}
	}
	var visit func(g geojson.Geometry) error
	visit = func(g geojson.Geometry) error {
		switch t := g.(type) {
		case nil:
			return nil
		case *geojson.Point:
			return m.addPositions(add, res, t.Coordinates)
		case *geojson.MultiPoint:
			return m.addPositions(add, res, t.Coordinates...)
		case *geojson.LineString:
			return m.addPositions(add, res, t.Coordinates...)
		case *geojson.MultiLineString:
			for _, l := range t.Coordinates {
				if err := m.addPositions(add, res, l...); err != nil {
					return err
				}
			}
		case *geojson.Polygon:
			return m.addPolygon(add, res, t.Coordinates)
		case *geojson.MultiPolygon:
			for i, p := range t.Coordinates {
				if err := m.addPolygon(add, res, p); err != nil {
					return fmt.Errorf("polygon %d: %w", i, err)
				}
			}
		case *geojson.GeometryCollection:
			for _, sub := range t.Geometries {
				if err := visit(sub); err != nil {
					return err
				}
			}
		}
		return nil
	}

	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		for i, f := range o.Features {
			if err := visit(f.Geometry); err != nil {
				return nil, fmt.Errorf("features[%d]: %w", i, err)
			}
		}
	case *geojson.Feature:
		if err := visit(o.Geometry); err != nil {
			return nil, err
		}
	case geojson.Geometry:
		if err := visit(o); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mapper) addPositions(add func(...string), res int, ps ...geojson.Position) error {
	for _, p := range ps {
		if !p.Valid() {
			continue
		}
		c, err := m.CenterCell(p.Y(), p.X(), res)
		if err != nil {
			return err
		}
		add(c)
	}
	return nil
}

func (m *Mapper) addPolygon(add func(...string), res int, rings [][]geojson.Position) error {
	if len(rings) == 0 {
		return errors.New("empty polygon")
	}
	outer := toLoop(rings[0])
	if len(outer) < 3 {
		return errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(rings); i++ {
		if h := toLoop(rings[i]); len(h) >= 3 {
			holes = append(holes, h)
		}
	}
	poly := h3.GeoPolygon{GeoLoop: outer, Holes: holes}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return fmt.Errorf("h3 polyfill: %w", err)
	}
	if len(cells) == 0 {
		return m.addPositions(add, res, rings[0][0])
	}
	for _, c := range cells {
		add(c.String())
	}
	return nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Convert a GeoJSON ring to an h3.GeoLoop (in degrees).
// If the ring is explicitly closed (last == first), drop the trailing duplicate.
func toLoop(ring []geojson.Position) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, p := range ring {
		if !p.Valid() {
			continue
		}
		loop = append(loop, h3.LatLng{Lat: p.Y(), Lng: p.X()})
	}
	if len(loop) >= 2 {
		last := loop[len(loop)-1]
		first := loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
