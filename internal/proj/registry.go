// Package proj converts coordinates between registered coordinate
// reference systems. Definitions use PROJ.4 parameter strings, so new
// zones are configuration rather than code.
package proj

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/mohammed-shakir/estate-geolayers/internal/crs"
	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// UnsupportedCRSError reports a CRS with no registered definition.
type UnsupportedCRSError struct {
	CRS crs.ID
}

func (e *UnsupportedCRSError) Error() string {
	return fmt.Sprintf("unsupported CRS %q", string(e.CRS))
}

// TransformError reports a coordinate the projection math could not convert.
type TransformError struct {
	X, Y     float64
	Src, Dst crs.ID
	Err      error
}

func (e *TransformError) Error() string {
	msg := fmt.Sprintf("transform (%v, %v) from %s to %s failed", e.X, e.Y, e.Src, e.Dst)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformError) Unwrap() error { return e.Err }

// Definition is a parsed, registered CRS.
type Definition struct {
	ID     crs.ID
	Params string
	proj   Projection
}

// Registry maps CRS identifiers to definitions. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[crs.ID]*Definition
}

// Builtin holds the definitions every new registry starts with: WGS84,
// Web Mercator and the WGS84 UTM zones 46 to 54 in both hemispheres.
func Builtin() map[crs.ID]string {
	out := map[crs.ID]string{
		crs.WGS84:       "+proj=longlat +datum=WGS84 +no_defs",
		crs.WebMercator: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs",
	}
	for zone := 46; zone <= 54; zone++ {
		out[crs.ID(fmt.Sprintf("EPSG:%d", 32600+zone))] = fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", zone)
		out[crs.ID(fmt.Sprintf("EPSG:%d", 32700+zone))] = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", zone)
	}
	return out
}

func NewRegistry() *Registry {
	r := &Registry{defs: map[crs.ID]*Definition{}}
	for id, def := range Builtin() {
		if err := r.Define(id, def); err != nil {
			panic(fmt.Sprintf("proj: builtin %s: %v", id, err))
		}
	}
	return r
}

// Define registers or replaces the definition for code.
func (r *Registry) Define(code crs.ID, def string) error {
	id := crs.Normalize(code)
	if id == "" {
		return fmt.Errorf("define: empty CRS code")
	}
	p, err := parseParams(def)
	if err != nil {
		return fmt.Errorf("define %s: %w", id, err)
	}
	pr, err := newProjection(p)
	if err != nil {
		return fmt.Errorf("define %s: %w", id, err)
	}
	r.mu.Lock()
	r.defs[id] = &Definition{ID: id, Params: def, proj: pr}
	r.mu.Unlock()
	return nil
}

// Lookup returns the definition registered for id.
func (r *Registry) Lookup(id crs.ID) (*Definition, error) {
	id = crs.Normalize(id)
	r.mu.RLock()
	d, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedCRSError{CRS: id}
	}
	return d, nil
}

func (r *Registry) IsSupported(id crs.ID) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// Supported lists registered identifiers in sorted order.
func (r *Registry) Supported() []crs.ID {
	r.mu.RLock()
	out := make([]crs.ID, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transformer resolves src and dst once and returns a function converting
// single coordinate pairs. Identical normalized identifiers give an exact
// identity function.
func (r *Registry) Transformer(src, dst crs.ID) (func(x, y float64) (float64, float64, error), error) {
	src, dst = crs.Normalize(src), crs.Normalize(dst)
	if src == dst {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}
	from, err := r.Lookup(src)
	if err != nil {
		return nil, err
	}
	to, err := r.Lookup(dst)
	if err != nil {
		return nil, err
	}
	return func(x, y float64) (float64, float64, error) {
		lon, lat, err := from.proj.Inverse(x, y)
		if err != nil {
			return 0, 0, &TransformError{X: x, Y: y, Src: src, Dst: dst, Err: err}
		}
		if !finite(lon, lat) {
			return 0, 0, &TransformError{X: x, Y: y, Src: src, Dst: dst, Err: errOutOfDomain}
		}
		ox, oy, err := to.proj.Forward(lon, lat)
		if err != nil {
			return 0, 0, &TransformError{X: x, Y: y, Src: src, Dst: dst, Err: err}
		}
		if !finite(ox, oy) {
			return 0, 0, &TransformError{X: x, Y: y, Src: src, Dst: dst, Err: errOutOfDomain}
		}
		return ox, oy, nil
	}, nil
}

// Transform converts one coordinate pair from src to dst.
func (r *Registry) Transform(x, y float64, src, dst crs.ID) (float64, float64, error) {
	fn, err := r.Transformer(src, dst)
	if err != nil {
		return 0, 0, err
	}
	return fn(x, y)
}

// TransformBatch converts positions 1:1 and in order. Ragged positions and
// ordinates past y are copied through.
func (r *Registry) TransformBatch(ps []geojson.Position, src, dst crs.ID) ([]geojson.Position, error) {
	fn, err := r.Transformer(src, dst)
	if err != nil {
		return nil, err
	}
	out := make([]geojson.Position, len(ps))
	for i, p := range ps {
		np := p.Clone()
		if p.Valid() {
			x, y, err := fn(p[0], p[1])
			if err != nil {
				return nil, fmt.Errorf("position %d: %w", i, err)
			}
			np[0], np[1] = x, y
		}
		out[i] = np
	}
	return out, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
