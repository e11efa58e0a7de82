package geowalk

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

func identity(x, y float64) (float64, float64, error) { return x, y, nil }

func collect(obj geojson.Object) []geojson.Position {
	return slices.Collect(Coordinates(obj))
}

// randomDoc builds a FeatureCollection that exercises every geometry
// variant, nested collections, nil geometries and ragged positions.
func randomDoc(r *rand.Rand) geojson.Object {
	pos := func() geojson.Position {
		switch r.IntN(10) {
		case 0:
			return geojson.Position{r.Float64()}
		case 1:
			return geojson.Position{r.Float64(), r.Float64(), r.Float64()}
		default:
			return geojson.Position{r.Float64()*360 - 180, r.Float64()*180 - 90}
		}
	}
	line := func() []geojson.Position {
		n := r.IntN(6)
		out := make([]geojson.Position, n)
		for i := range out {
			out[i] = pos()
		}
		return out
	}
	lines := func() [][]geojson.Position {
		n := r.IntN(4)
		out := make([][]geojson.Position, n)
		for i := range out {
			out[i] = line()
		}
		return out
	}
	var geom func(depth int) geojson.Geometry
	geom = func(depth int) geojson.Geometry {
		k := r.IntN(7)
		if depth > 2 && k == 6 {
			k = 0
		}
		switch k {
		case 0:
			return &geojson.Point{Coordinates: pos()}
		case 1:
			return &geojson.MultiPoint{Coordinates: line()}
		case 2:
			return &geojson.LineString{Coordinates: line()}
		case 3:
			return &geojson.MultiLineString{Coordinates: lines()}
		case 4:
			return &geojson.Polygon{Coordinates: lines()}
		case 5:
			return &geojson.MultiPolygon{Coordinates: [][][]geojson.Position{lines(), lines()}}
		default:
			gc := &geojson.GeometryCollection{}
			for range r.IntN(4) {
				gc.Geometries = append(gc.Geometries, geom(depth+1))
			}
			return gc
		}
	}

	fc := &geojson.FeatureCollection{}
	for range r.IntN(8) {
		f := &geojson.Feature{Properties: map[string]any{"k": "v"}}
		if r.IntN(5) > 0 {
			f.Geometry = geom(0)
		}
		fc.Features = append(fc.Features, f)
	}
	return fc
}

func TestMapIdentity_PreservesCountAndOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 500 {
		doc := randomDoc(r)

		mapped, err := Map(doc, identity)
		require.NoError(t, err)

		before := collect(doc)
		after := collect(mapped)
		require.Equal(t, len(before), len(after), "iteration %d", i)
		require.Equal(t, before, after, "iteration %d", i)
	}
}

func TestMap_TransformsEveryValidPositionOnce(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		doc := randomDoc(r)
		calls := 0
		mapped, err := Map(doc, func(x, y float64) (float64, float64, error) {
			calls++
			return x + 1, y - 1, nil
		})
		require.NoError(t, err)

		before := collect(doc)
		after := collect(mapped)
		require.Equal(t, len(before), calls)
		for i := range before {
			assert.Equal(t, before[i][0]+1, after[i][0])
			assert.Equal(t, before[i][1]-1, after[i][1])
			assert.Equal(t, len(before[i]), len(after[i]))
		}
	}
}

func TestMap_DoesNotMutateInput(t *testing.T) {
	doc := &geojson.Feature{Geometry: &geojson.LineString{Coordinates: []geojson.Position{{1, 2}, {3, 4}}}}
	_, err := Map(doc, func(x, y float64) (float64, float64, error) { return 0, 0, nil })
	require.NoError(t, err)
	assert.Equal(t, []geojson.Position{{1, 2}, {3, 4}}, doc.Geometry.(*geojson.LineString).Coordinates)
}

func TestMap_RaggedUnchangedAndShapeKept(t *testing.T) {
	doc := &geojson.Polygon{Coordinates: [][]geojson.Position{{{1, 2}, {7}, {}, {3, 4, 99}}}}
	mapped, err := Map(doc, func(x, y float64) (float64, float64, error) { return x * 10, y * 10, nil })
	require.NoError(t, err)

	got := mapped.(*geojson.Polygon).Coordinates
	assert.Equal(t, [][]geojson.Position{{{10, 20}, {7}, {}, {30, 40, 99}}}, got)
}

func TestMap_NonNumericPositionsWrittenBack(t *testing.T) {
	doc, err := geojson.Parse([]byte(`{"type":"LineString","coordinates":[[1,2],["a",5],[3,"x",9],[7]]}`))
	require.NoError(t, err)
	shift := func(x, y float64) (float64, float64, error) { return x + 1, y + 1, nil }

	mapped, err := Map(doc, shift)
	require.NoError(t, err)
	out, err := geojson.Marshal(mapped)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LineString","coordinates":[[2,3],["a",5],[3,"x",9],[7]]}`, string(out))

	nullPoint, err := geojson.Parse([]byte(`{"type":"Point","coordinates":null}`))
	require.NoError(t, err)
	mapped, err = Map(nullPoint, shift)
	require.NoError(t, err)
	out, err = geojson.Marshal(mapped)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":null}`, string(out))
}

func TestMap_UnrecognizedPassThrough(t *testing.T) {
	odd := &geojson.Unrecognized{Value: map[string]any{"type": "Circle"}}
	doc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: odd},
		{Geometry: &geojson.Point{Coordinates: geojson.Position{1, 1}}},
	}}
	mapped, err := Map(doc, func(x, y float64) (float64, float64, error) { return x * 2, y * 2, nil })
	require.NoError(t, err)

	fc := mapped.(*geojson.FeatureCollection)
	assert.Same(t, odd, fc.Features[0].Geometry)
	assert.Equal(t, []geojson.Position{{2, 2}}, collect(mapped))
}

func TestMap_StopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	doc := &geojson.MultiPoint{Coordinates: []geojson.Position{{1, 1}, {2, 2}, {3, 3}}}
	calls := 0
	_, err := Map(doc, func(x, y float64) (float64, float64, error) {
		calls++
		if x == 2 {
			return 0, 0, boom
		}
		return x, y, nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestCoordinates_DocumentOrderAndRestartable(t *testing.T) {
	doc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: &geojson.Point{Coordinates: geojson.Position{1, 1}}},
		{},
		{Geometry: &geojson.GeometryCollection{Geometries: []geojson.Geometry{
			&geojson.LineString{Coordinates: []geojson.Position{{2, 2}, {3}, {4, 4}}},
			&geojson.MultiPolygon{Coordinates: [][][]geojson.Position{{{{5, 5}}}, {{{6, 6}}}}},
		}}},
	}}

	want := []geojson.Position{{1, 1}, {2, 2}, {4, 4}, {5, 5}, {6, 6}}
	assert.Equal(t, want, collect(doc))
	assert.Equal(t, want, collect(doc), "second walk must restart from the beginning")
	assert.Equal(t, 5, Count(doc))
}

func TestCoordinates_EarlyBreak(t *testing.T) {
	doc := &geojson.MultiPoint{Coordinates: []geojson.Position{{1, 1}, {2, 2}, {3, 3}}}
	n := 0
	for range Coordinates(doc) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestCoordinates_EmptyInputs(t *testing.T) {
	assert.Equal(t, 0, Count(&geojson.FeatureCollection{}))
	assert.Equal(t, 0, Count(&geojson.Feature{}))
	assert.Equal(t, 0, Count(&geojson.Point{}))
	assert.Equal(t, 0, Count(nil))
}

func TestMapGeometries_ReplacesLeaves(t *testing.T) {
	doc := &geojson.FeatureCollection{Features: []*geojson.Feature{
		{Geometry: &geojson.GeometryCollection{Geometries: []geojson.Geometry{
			&geojson.Point{Coordinates: geojson.Position{1, 1}},
			&geojson.LineString{},
		}}},
	}}
	out := MapGeometries(doc, func(g geojson.Geometry) geojson.Geometry {
		return &geojson.Point{Coordinates: geojson.Position{9, 9}}
	})
	assert.Equal(t, []geojson.Position{{9, 9}, {9, 9}}, collect(out))
	assert.Equal(t, []geojson.Position{{1, 1}}, collect(doc))
}
