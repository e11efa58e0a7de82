// Package simplify reduces line and ring vertex counts with Douglas-Peucker
// and prepares documents for web display.
package simplify

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// DefaultTolerance is in coordinate units (degrees for WGS84 layers).
const DefaultTolerance = 0.0001

// DouglasPeucker simplifies pts, keeping the first and last position.
// Distance is measured to the chord segment, so points projecting past an
// endpoint are measured to that endpoint. Fewer than three points, or any
// ragged point, returns pts unchanged.
func DouglasPeucker(pts []geojson.Position, tolerance float64) []geojson.Position {
	if len(pts) < 3 {
		return pts
	}
	for _, p := range pts {
		if !p.Valid() {
			return pts
		}
	}
	if tolerance < 0 {
		tolerance = 0
	}

	keep := make([]bool, len(pts))
	keep[0], keep[len(pts)-1] = true, true

	type span struct{ first, last int }
	stack := []span{{0, len(pts) - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s.last-s.first < 2 {
			continue
		}

		a, b := point(pts[s.first]), point(pts[s.last])
		idx, dmax := -1, 0.0
		for i := s.first + 1; i < s.last; i++ {
			if d := planar.DistanceFromSegment(a, b, point(pts[i])); d > dmax {
				idx, dmax = i, d
			}
		}
		if idx < 0 || dmax <= tolerance {
			continue
		}
		keep[idx] = true
		stack = append(stack, span{idx, s.last}, span{s.first, idx})
	}

	out := make([]geojson.Position, 0, len(pts))
	for i, k := range keep {
		if k {
			out = append(out, pts[i])
		}
	}
	return out
}

func point(p geojson.Position) orb.Point { return orb.Point{p[0], p[1]} }
