package simplify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

type pts = []geojson.Position

func TestDouglasPeucker_ReferenceCases(t *testing.T) {
	in := pts{{0, 0}, {1, 0.0001}, {2, 0}}
	assert.Equal(t, pts{{0, 0}, {2, 0}}, DouglasPeucker(in, 0.01))
	assert.Equal(t, in, DouglasPeucker(in, 0.00001))
}

func TestDouglasPeucker_ZigZagCollapses(t *testing.T) {
	var in pts
	for i := range 50 {
		y := 0.001
		if i%2 == 1 {
			y = -0.001
		}
		in = append(in, geojson.Position{float64(i), y})
	}
	out := DouglasPeucker(in, 0.1)
	assert.Equal(t, pts{in[0], in[len(in)-1]}, out)
}

func TestDouglasPeucker_SquareWavePreserved(t *testing.T) {
	in := pts{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {2, 0}, {2, 1}, {3, 1}, {3, 0}}
	assert.Equal(t, in, DouglasPeucker(in, 0.01))
}

func TestDouglasPeucker_ClampsToSegment(t *testing.T) {
	// (3,0) lies on the chord's line but two units past its end.
	in := pts{{0, 0}, {3, 0}, {1, 0}}
	assert.Equal(t, in, DouglasPeucker(in, 1))
	assert.Equal(t, pts{{0, 0}, {1, 0}}, DouglasPeucker(in, 2.5))
}

func TestDouglasPeucker_ShortAndRaggedUnchanged(t *testing.T) {
	assert.Equal(t, pts{{0, 0}, {1, 1}}, DouglasPeucker(pts{{0, 0}, {1, 1}}, 10))
	assert.Empty(t, DouglasPeucker(nil, 1))

	ragged := pts{{0, 0}, {1}, {2, 0}, {3, 0}}
	assert.Equal(t, ragged, DouglasPeucker(ragged, 10))
}

func TestDouglasPeucker_KeepsExtraOrdinates(t *testing.T) {
	in := pts{{0, 0, 5}, {1, 1, 6}, {2, 0, 7}}
	assert.Equal(t, in, DouglasPeucker(in, 0.1))
}

func TestDouglasPeucker_ZeroToleranceDropsOnlyCollinear(t *testing.T) {
	in := pts{{0, 0}, {1, 0}, {2, 0}, {2, 1}}
	assert.Equal(t, pts{{0, 0}, {2, 0}, {2, 1}}, DouglasPeucker(in, 0))
}

func TestDocument_PerRingAndPointsUntouched(t *testing.T) {
	ring := pts{{0, 0}, {1, 0.00001}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	doc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: &geojson.Polygon{Coordinates: [][]geojson.Position{ring}}},
		{Geometry: &geojson.MultiPoint{Coordinates: pts{{0, 0}, {0, 0.00001}, {0, 0.00002}}}},
		{Geometry: &geojson.GeometryCollection{Geometries: []geojson.Geometry{
			&geojson.LineString{Coordinates: pts{{0, 0}, {1, 0.00001}, {2, 0}}},
		}}},
	}}

	out := Document(doc, 0.001).(*geojson.FeatureCollection)

	poly := out.Features[0].Geometry.(*geojson.Polygon)
	assert.Equal(t, pts{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}, poly.Coordinates[0])

	mp := out.Features[1].Geometry.(*geojson.MultiPoint)
	assert.Len(t, mp.Coordinates, 3)

	ls := out.Features[2].Geometry.(*geojson.GeometryCollection).Geometries[0].(*geojson.LineString)
	assert.Equal(t, pts{{0, 0}, {2, 0}}, ls.Coordinates)

	assert.Len(t, doc.Features[0].Geometry.(*geojson.Polygon).Coordinates[0], 6, "input must not change")
}

func TestDocument_RingNeverCollapsesBelowFour(t *testing.T) {
	ring := pts{{0, 0}, {1, 0.00001}, {2, 0}, {1, -0.00001}, {0, 0}}
	out := Document(&geojson.Polygon{Coordinates: [][]geojson.Position{ring}}, 1).(*geojson.Polygon)
	assert.Equal(t, ring, out.Coordinates[0])
}

func TestOptimize_RoundsAndDropsEmptyProperties(t *testing.T) {
	doc, err := geojson.Parse([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"A","note":"","owner":null,"rows":3},
		 "geometry":{"type":"Point","coordinates":[106.123456789,-6.987654321]}}
	]}`))
	require.NoError(t, err)

	out, err := Optimize(doc, DefaultOptions())
	require.NoError(t, err)

	f := out.(*geojson.FeatureCollection).Features[0]
	assert.Equal(t, geojson.Position{106.123457, -6.987654}, f.Geometry.(*geojson.Point).Coordinates)
	assert.Equal(t, map[string]any{"name": "A", "rows": json.Number("3")}, f.Properties)

	orig := doc.(*geojson.FeatureCollection).Features[0]
	assert.Len(t, orig.Properties, 4, "input properties must not change")
}

func TestOptimize_NegativeDecimalsSkipsRounding(t *testing.T) {
	doc := &geojson.Point{Coordinates: geojson.Position{1.123456789, 2}}
	out, err := Optimize(doc, Options{Decimals: -1})
	require.NoError(t, err)
	assert.Equal(t, geojson.Position{1.123456789, 2}, out.(*geojson.Point).Coordinates)
}
