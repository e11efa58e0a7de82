// Package views serves derived read-side views of ready layers and the
// layer lifecycle operations that invalidate them.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
	"github.com/mohammed-shakir/estate-geolayers/internal/cache/keys"
	"github.com/mohammed-shakir/estate-geolayers/internal/crs"
	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/jobs"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	"github.com/mohammed-shakir/estate-geolayers/internal/mapper"
	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
	"github.com/mohammed-shakir/estate-geolayers/internal/simplify"
)

var (
	ErrNotReady = errors.New("layer is not ready")
	ErrInvalid  = errors.New("invalid view parameter")
)

// TTL kinds, as accepted by config.TTLFor.
const (
	KindStatistics = "statistics"
	KindSimplified = "simplified"
	KindOptimized  = "optimized"
	KindBounds     = "bounds"
	KindTiles      = "tiles"
	KindTile       = "tile"
	KindH3         = "h3"
)

const maxZoom = 22

// Cache is the read-through store views are kept in; *cache.Views
// implements it.
type Cache interface {
	Remember(ctx context.Context, layerID uint64, key string, ttl time.Duration, fn func(context.Context) ([]byte, error)) ([]byte, error)
	Forget(ctx context.Context, layerID uint64, keys ...string) error
}

type Options struct {
	Logger *slog.Logger
	// TTL maps a view kind to its cache lifetime. Nil caches without expiry.
	TTL        func(kind string) time.Duration
	Dispatcher jobs.Dispatcher
	Cells      mapper.Interface
	// Tolerance is used when a caller passes none.
	Tolerance float64
}

type Service struct {
	layers   layer.Repository
	store    blob.Store
	cache    Cache
	dispatch jobs.Dispatcher
	cells    mapper.Interface
	ttl      func(string) time.Duration
	tol      float64
	log      *slog.Logger
}

func New(layers layer.Repository, store blob.Store, c Cache, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TTL == nil {
		opts.TTL = func(string) time.Duration { return 0 }
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = simplify.DefaultTolerance
	}
	return &Service{
		layers:   layers,
		store:    store,
		cache:    c,
		dispatch: opts.Dispatcher,
		cells:    opts.Cells,
		ttl:      opts.TTL,
		tol:      opts.Tolerance,
		log:      opts.Logger,
	}
}

// Statistics returns the JSON-encoded metadata.Stats of the current document.
func (s *Service) Statistics(ctx context.Context, layerID uint64) ([]byte, error) {
	return s.view(ctx, layerID, keys.Statistics, KindStatistics, func(_ *layer.Layer, doc geojson.Object, raw []byte) ([]byte, error) {
		st, err := metadata.Statistics(doc, raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(st)
	})
}

// Simplified returns the document with every line and ring run through
// Douglas-Peucker. A nil tolerance selects the default; zero drops only
// collinear vertices.
func (s *Service) Simplified(ctx context.Context, layerID uint64, tolerance *float64) ([]byte, error) {
	tol, err := s.tolerance(tolerance)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, layerID, keys.Simplified(tol), KindSimplified, func(_ *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		return geojson.Marshal(simplify.Document(doc, tol))
	})
}

// Optimized returns the web-display version of the document: simplified,
// rounded to decimals and without empty properties.
func (s *Service) Optimized(ctx context.Context, layerID uint64, tolerance *float64, decimals int) ([]byte, error) {
	tol, err := s.tolerance(tolerance)
	if err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > 15 {
		return nil, fmt.Errorf("%w: decimals %d outside 0..15", ErrInvalid, decimals)
	}
	opts := simplify.DefaultOptions()
	opts.Tolerance, opts.Decimals = tol, decimals
	return s.view(ctx, layerID, keys.Optimized(tol, decimals), KindOptimized, func(_ *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		out, err := simplify.Optimize(doc, opts)
		if err != nil {
			return nil, err
		}
		return geojson.Marshal(out)
	})
}

// Filtered returns the features with at least one coordinate inside the box.
func (s *Service) Filtered(ctx context.Context, layerID uint64, b metadata.Bounds) ([]byte, error) {
	if !finite(b.MinLng, b.MinLat, b.MaxLng, b.MaxLat) || b.MinLng > b.MaxLng || b.MinLat > b.MaxLat {
		return nil, fmt.Errorf("%w: bbox %v,%v,%v,%v", ErrInvalid, b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
	}
	key := keys.Bounds(b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
	return s.view(ctx, layerID, key, KindBounds, func(_ *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		return geojson.Marshal(metadata.FilterByBounds(doc, b.MinLng, b.MinLat, b.MaxLng, b.MaxLat))
	})
}

// Tiles returns the features bucketed by "z/x/y" tile at zoom.
func (s *Service) Tiles(ctx context.Context, layerID uint64, zoom int) ([]byte, error) {
	if zoom < 0 || zoom > maxZoom {
		return nil, fmt.Errorf("%w: zoom %d outside 0..%d", ErrInvalid, zoom, maxZoom)
	}
	return s.view(ctx, layerID, keys.Zoom(zoom), KindTiles, func(_ *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		return json.Marshal(metadata.SplitIntoTiles(doc, zoom))
	})
}

// Tile returns a single tile bucket; tiles without features are empty
// collections.
func (s *Service) Tile(ctx context.Context, layerID uint64, z, x, y int) ([]byte, error) {
	if z < 0 || z > maxZoom {
		return nil, fmt.Errorf("%w: zoom %d outside 0..%d", ErrInvalid, z, maxZoom)
	}
	if n := 1 << z; x < 0 || y < 0 || x >= n || y >= n {
		return nil, fmt.Errorf("%w: tile %d/%d/%d", ErrInvalid, z, x, y)
	}
	return s.view(ctx, layerID, keys.Tile(z, x, y), KindTile, func(_ *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		fc, ok := metadata.SplitIntoTiles(doc, z)[fmt.Sprintf("%d/%d/%d", z, x, y)]
		if !ok {
			fc = &geojson.FeatureCollection{Features: []*geojson.Feature{}}
		}
		return geojson.Marshal(fc)
	})
}

// H3 cover modes.
const (
	CoverGeometry = "geometry"
	CoverBBox     = "bbox"
)

type h3Cover struct {
	LayerID uint64   `json:"layer_id"`
	Res     int      `json:"res"`
	Mode    string   `json:"mode"`
	Center  string   `json:"center,omitempty"`
	Count   int      `json:"count"`
	Cells   []string `json:"cells"`
}

// H3Cover returns the H3 cells covering the layer at res. CoverGeometry
// follows the features; CoverBBox fills the layer's bounding box. An empty
// mode is CoverGeometry.
func (s *Service) H3Cover(ctx context.Context, layerID uint64, res int, mode string) ([]byte, error) {
	if s.cells == nil {
		return nil, errors.New("h3 cover is not configured")
	}
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("%w: h3 resolution %d outside 0..15", ErrInvalid, res)
	}
	key := keys.H3Cover(res)
	switch mode {
	case "", CoverGeometry:
		mode = CoverGeometry
	case CoverBBox:
		key = keys.H3BBoxCover(res)
	default:
		return nil, fmt.Errorf("%w: h3 mode %q", ErrInvalid, mode)
	}
	return s.view(ctx, layerID, key, KindH3, func(l *layer.Layer, doc geojson.Object, _ []byte) ([]byte, error) {
		cells := []string{}
		var err error
		switch b := l.Bounds(); {
		case mode == CoverGeometry:
			cells, err = s.cells.CellsForDocument(doc, res)
		case b != nil:
			cells, err = s.cells.CellsForBBox(*b, res)
		}
		if err != nil {
			return nil, err
		}
		out := h3Cover{LayerID: layerID, Res: res, Mode: mode, Count: len(cells), Cells: cells}
		if b := l.Bounds(); b != nil {
			if c, err := s.cells.CenterCell(b.CenterLat, b.CenterLng, res); err == nil {
				out.Center = c
			}
		}
		return json.Marshal(out)
	})
}

type CRSReport struct {
	Original    crs.ID    `json:"original"`
	Current     crs.ID    `json:"current"`
	Transformed bool      `json:"transformed"`
	Info        *crs.Info `json:"info,omitempty"`
}

// CRS reports the reference system the upload declares next to the one
// the layer is served in. It reads the upload, so it works in any status.
func (s *Service) CRS(ctx context.Context, layerID uint64) (CRSReport, error) {
	l, err := s.layers.Load(ctx, layerID)
	if err != nil {
		return CRSReport{}, err
	}
	raw, err := s.store.Get(ctx, l.OriginalPath())
	if err != nil {
		return CRSReport{}, fmt.Errorf("read %s: %w", l.OriginalPath(), err)
	}
	rep := CRSReport{Original: crs.DetectBytes(raw), Current: crs.Parse(l.CRS)}
	rep.Transformed = l.OriginalPath() != l.FilePath
	if info, ok := crs.Describe(rep.Original); ok {
		rep.Info = &info
	}
	return rep, nil
}

// Reprocess puts the layer back into processing, drops its cached views
// and queues a new ingestion job.
func (s *Service) Reprocess(ctx context.Context, layerID uint64) error {
	if s.dispatch == nil {
		return errors.New("no job dispatcher configured")
	}
	if _, err := s.layers.Load(ctx, layerID); err != nil {
		return err
	}
	if err := s.layers.Update(ctx, layerID, layer.MarkProcessing()); err != nil {
		return fmt.Errorf("reset layer %d: %w", layerID, err)
	}
	if err := s.cache.Forget(ctx, layerID); err != nil {
		s.log.Warn("forget layer views failed", "layer_id", layerID, "err", err)
	}
	if err := s.dispatch.Dispatch(ctx, layerID); err != nil {
		msg := "dispatch failed: " + err.Error()
		if uerr := s.layers.Update(context.WithoutCancel(ctx), layerID, layer.MarkError(msg)); uerr != nil {
			s.log.Error("record dispatch failure", "layer_id", layerID, "err", uerr)
		}
		return fmt.Errorf("dispatch layer %d: %w", layerID, err)
	}
	s.log.Info("layer queued for processing", "layer_id", layerID)
	return nil
}

// Delete removes the layer's files, cached views and record. Files and
// views are best effort; the record is removed last.
func (s *Service) Delete(ctx context.Context, layerID uint64) error {
	l, err := s.layers.Load(ctx, layerID)
	if err != nil {
		return err
	}
	paths := []string{l.FilePath}
	if orig := l.OriginalPath(); orig != l.FilePath {
		paths = append(paths, orig)
	}
	if err := s.store.Delete(ctx, paths...); err != nil {
		s.log.Warn("delete layer files failed", "layer_id", layerID, "paths", paths, "err", err)
	}
	if err := s.cache.Forget(ctx, layerID); err != nil {
		s.log.Warn("forget layer views failed", "layer_id", layerID, "err", err)
	}
	if err := s.layers.Delete(ctx, layerID); err != nil {
		return fmt.Errorf("delete layer %d: %w", layerID, err)
	}
	s.log.Info("layer deleted", "layer_id", layerID)
	return nil
}

type computeFunc func(l *layer.Layer, doc geojson.Object, raw []byte) ([]byte, error)

func (s *Service) view(ctx context.Context, layerID uint64, key, kind string, fn computeFunc) ([]byte, error) {
	l, err := s.layers.Load(ctx, layerID)
	if err != nil {
		return nil, err
	}
	if !l.Ready() {
		return nil, fmt.Errorf("layer %d is %s: %w", layerID, l.Status, ErrNotReady)
	}
	return s.cache.Remember(ctx, layerID, key, s.ttl(kind), func(ctx context.Context) ([]byte, error) {
		raw, err := s.store.Get(ctx, l.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", l.FilePath, err)
		}
		doc, err := geojson.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", l.FilePath, err)
		}
		return fn(l, doc, raw)
	})
}

func (s *Service) tolerance(t *float64) (float64, error) {
	switch {
	case t == nil:
		return s.tol, nil
	case *t < 0 || !finite(*t):
		return 0, fmt.Errorf("%w: tolerance %v", ErrInvalid, *t)
	}
	return *t, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
