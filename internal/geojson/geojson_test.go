package geojson

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	orbgeo "github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFC = `{
  "type": "FeatureCollection",
  "name": "blocks",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32748"}},
  "features": [
    {"type": "Feature", "id": 7, "properties": {"block": "A1", "area": 12, "ratio": 0.5},
     "geometry": {"type": "Polygon", "coordinates": [[[700000, 9300000], [700100, 9300000], [700100, 9300100], [700000, 9300000]]]}},
    {"type": "Feature", "properties": null, "geometry": null}
  ]
}`

func TestParse_FeatureCollection_KeepsMembersAndNumbers(t *testing.T) {
	obj, err := Parse([]byte(sampleFC))
	require.NoError(t, err)

	fc, ok := obj.(*FeatureCollection)
	require.True(t, ok, "want *FeatureCollection, got %T", obj)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "blocks", fc.Members["name"])
	assert.Contains(t, fc.Members, "crs")

	f0 := fc.Features[0]
	poly, ok := f0.Geometry.(*Polygon)
	require.True(t, ok)
	require.Len(t, poly.Coordinates, 1)
	assert.Equal(t, Position{700000, 9300000}, poly.Coordinates[0][0])

	assert.Equal(t, json.Number("12"), f0.Properties["area"])
	assert.Equal(t, json.Number("0.5"), f0.Properties["ratio"])
	assert.Equal(t, json.Number("7"), f0.Members["id"])

	assert.Nil(t, fc.Features[1].Geometry)
	assert.Nil(t, fc.Features[1].Properties)
}

func TestParse_MissingOrUnknownType(t *testing.T) {
	cases := map[string]string{
		"no type":       `{"features": []}`,
		"unknown type":  `{"type": "Circle", "coordinates": [1, 2]}`,
		"not an object": `[1, 2, 3]`,
		"invalid json":  `{"type": "Feature"`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "err=%v", err)
		})
	}
}

func TestParse_MissingKeysAreEmpty(t *testing.T) {
	for _, in := range []string{
		`{"type": "FeatureCollection"}`,
		`{"type": "Feature"}`,
		`{"type": "LineString"}`,
		`{"type": "GeometryCollection"}`,
	} {
		_, err := Parse([]byte(in))
		assert.NoError(t, err, in)
	}
}

func TestParse_RaggedPositionsSurvive(t *testing.T) {
	in := `{"type": "LineString", "coordinates": [[1, 2], [3], [], [4, "x"], [5, 6, 7], ["a", 5]]}`
	obj, err := Parse([]byte(in))
	require.NoError(t, err)

	ls := obj.(*LineString)
	require.Len(t, ls.Coordinates, 6)
	assert.True(t, ls.Coordinates[0].Valid())
	assert.False(t, ls.Coordinates[1].Valid())
	assert.False(t, ls.Coordinates[2].Valid())
	assert.Nil(t, ls.Coordinates[3])
	assert.Equal(t, Position{5, 6, 7}, ls.Coordinates[4])
	assert.False(t, ls.Coordinates[5].Valid())

	ls.Coordinates[0] = Position{10, 20}
	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LineString","coordinates":[[10,20],[3],[],[4,"x"],[5,6,7],["a",5]]}`, string(out))
}

func TestMarshal_NonNumericCoordinatesVerbatim(t *testing.T) {
	cases := map[string]string{
		"null point":       `{"type":"Point","coordinates":null}`,
		"string point":     `{"type":"Point","coordinates":"1,2"}`,
		"mixed point":      `{"type":"Point","coordinates":[1,"2"]}`,
		"null line":        `{"type":"LineString","coordinates":null}`,
		"object ring":      `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]],{"hole":true}]}`,
		"bad multipolygon": `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[true,1],[0,0]]],7]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			obj, err := Parse([]byte(in))
			require.NoError(t, err)
			out, err := Marshal(obj)
			require.NoError(t, err)
			assert.JSONEq(t, in, string(out))
		})
	}
}

func TestMarshal_AbsentCoordinatesStayAbsent(t *testing.T) {
	obj, err := Parse([]byte(`{"type":"LineString","name":"x"}`))
	require.NoError(t, err)
	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LineString","name":"x"}`, string(out))

	// coordinates set after parsing are written
	obj.(*LineString).Coordinates = []Position{{1, 2}, {3, 4}}
	out, err = Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LineString","name":"x","coordinates":[[1,2],[3,4]]}`, string(out))
}

func TestParse_NestedUnrecognizedEntries(t *testing.T) {
	in := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"n":1},"geometry":{"type":"Blob","r":2}},
		{"type":"Feature","properties":{"n":2},"geometry":"nowhere"},
		{"type":"Feature","properties":{"n":3},"geometry":{"type":"GeometryCollection","geometries":[
			{"coordinates":[1,2]},
			{"type":"Point","coordinates":[3,4]},
			5
		]}},
		"stray",
		null
	]}`
	obj, err := Parse([]byte(in))
	require.NoError(t, err)

	fc := obj.(*FeatureCollection)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, 2, fc.Skipped)

	blob, ok := fc.Features[0].Geometry.(*Unrecognized)
	require.True(t, ok, "got %T", fc.Features[0].Geometry)
	assert.Equal(t, "Blob", blob.Type())
	assert.IsType(t, &Unrecognized{}, fc.Features[1].Geometry)

	gc := fc.Features[2].Geometry.(*GeometryCollection)
	require.Len(t, gc.Geometries, 3)
	assert.IsType(t, &Unrecognized{}, gc.Geometries[0])
	assert.IsType(t, &Point{}, gc.Geometries[1])
	assert.IsType(t, &Unrecognized{}, gc.Geometries[2])

	assert.Equal(t, 6, CountUnrecognized(obj))

	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"n":1},"geometry":{"type":"Blob","r":2}},
		{"type":"Feature","properties":{"n":2},"geometry":"nowhere"},
		{"type":"Feature","properties":{"n":3},"geometry":{"type":"GeometryCollection","geometries":[
			{"coordinates":[1,2]},
			{"type":"Point","coordinates":[3,4]},
			5
		]}}
	]}`, string(out))
}

func TestMarshal_ReparsesWithStandardReader(t *testing.T) {
	obj, err := Parse([]byte(sampleFC))
	require.NoError(t, err)

	out, err := Marshal(obj)
	require.NoError(t, err)

	fc, err := orbgeo.UnmarshalFeatureCollection(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
	assert.Equal(t, "A1", fc.Features[0].Properties["block"])
}

func TestMarshal_AllGeometryVariants(t *testing.T) {
	in := `{"type":"GeometryCollection","geometries":[
		{"type":"Point","coordinates":[1.5,2.25]},
		{"type":"MultiPoint","coordinates":[[1,2],[3,4]]},
		{"type":"LineString","coordinates":[[1,2],[3,4]]},
		{"type":"MultiLineString","coordinates":[[[1,2],[3,4]],[[5,6],[7,8]]]},
		{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},
		{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]],[[[2,2],[3,2],[3,3],[2,2]]]]}
	]}`
	obj, err := Parse([]byte(in))
	require.NoError(t, err)

	out, err := Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestMarshal_RejectsNaN(t *testing.T) {
	_, err := Marshal(&Point{Coordinates: Position{1, math.NaN()}})
	require.Error(t, err)
}
