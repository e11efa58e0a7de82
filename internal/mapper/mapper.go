// Package mapper converts between layer geometry and H3 cells.
package mapper

import (
	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
)

type Interface interface {
	CellsForBBox(b metadata.Bounds, res int) ([]string, error)
	CellsForDocument(obj geojson.Object, res int) ([]string, error)
	CenterCell(lat, lng float64, res int) (string, error)
}
