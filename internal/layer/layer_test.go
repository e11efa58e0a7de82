package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
)

func TestNew_Defaults(t *testing.T) {
	l := New(7, "Blok A", "geojson/original/a.geojson")
	assert.Equal(t, StatusProcessing, l.Status)
	assert.Equal(t, "#3388ff", l.Color)
	assert.Equal(t, 70, l.Opacity)
	assert.Equal(t, 2, l.StrokeWidth)
	assert.True(t, l.IsVisible)
	assert.Equal(t, "EPSG:4326", l.CRS)
	assert.Nil(t, l.Bounds())
}

func TestOriginalPath_PrefersMetadata(t *testing.T) {
	l := New(1, "x", "geojson/transformed/a.geojson")
	assert.Equal(t, "geojson/transformed/a.geojson", l.OriginalPath())

	l.Metadata[MetaOriginalFilePath] = "geojson/original/a.geojson"
	assert.Equal(t, "geojson/original/a.geojson", l.OriginalPath())

	l.Metadata[MetaOriginalFilePath] = ""
	assert.Equal(t, "geojson/transformed/a.geojson", l.OriginalPath())
}

func TestUpdate_ApplyPartial(t *testing.T) {
	l := New(1, "x", "a.geojson")
	l.Metadata["keep"] = "me"

	ready := StatusReady
	path := "b.geojson"
	n := 12
	b := &metadata.Bounds{MinLng: 1, MinLat: 2, MaxLng: 3, MaxLat: 4, CenterLng: 2, CenterLat: 3}
	Update{
		Status:        &ready,
		FilePath:      &path,
		FeaturesCount: &n,
		Bounds:        b,
		Schema:        metadata.Schema{"name": {Type: "string"}},
		Metadata:      map[string]any{MetaTransformed: true},
	}.Apply(l)

	assert.Equal(t, StatusReady, l.Status)
	assert.Equal(t, "b.geojson", l.FilePath)
	assert.Equal(t, 12, l.FeaturesCount)
	assert.Equal(t, "EPSG:4326", l.CRS, "untouched field")
	require.NotNil(t, l.Bounds())
	assert.Equal(t, *b, *l.Bounds())
	assert.Equal(t, "string", l.PropertiesSchema.Data()["name"].Type)
	assert.Equal(t, "me", l.Metadata["keep"])
	assert.Equal(t, true, l.Metadata[MetaTransformed])

	b.MinLng = 99
	assert.Equal(t, 1.0, *l.BBoxMinLng, "bounds must not alias the update")
}

func TestMarkErrorAndProcessing(t *testing.T) {
	l := New(1, "x", "a.geojson")
	MarkError("parse: unexpected EOF").Apply(l)
	assert.Equal(t, StatusError, l.Status)
	require.NotNil(t, l.ErrorMessage)
	assert.Equal(t, "parse: unexpected EOF", *l.ErrorMessage)

	MarkProcessing().Apply(l)
	assert.Equal(t, StatusProcessing, l.Status)
	assert.Nil(t, l.ErrorMessage)
}

func TestClone_Independent(t *testing.T) {
	l := New(1, "x", "a.geojson")
	v := 5.0
	l.CenterLat = &v
	cp := l.Clone()
	cp.Metadata["k"] = 1
	*cp.CenterLat = 6
	assert.NotContains(t, l.Metadata, "k")
	assert.Equal(t, 5.0, *l.CenterLat)
}
