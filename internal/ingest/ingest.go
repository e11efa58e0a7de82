// Package ingest normalizes one uploaded layer: it reads the upload,
// reprojects it to WGS84 when needed, extracts metadata and records the
// outcome on the layer record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mohammed-shakir/estate-geolayers/internal/blob"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/observability"
	"github.com/mohammed-shakir/estate-geolayers/internal/crs"
	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
	"github.com/mohammed-shakir/estate-geolayers/internal/geowalk"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	"github.com/mohammed-shakir/estate-geolayers/internal/metadata"
	"github.com/mohammed-shakir/estate-geolayers/internal/proj"
)

var errOutsideWGS84 = errors.New("result outside the WGS84 domain")

// Attempt is the retry bookkeeping the dispatcher passes into a run.
type Attempt struct {
	Number   int
	Max      int
	Deadline time.Time
}

// Final reports whether no retry follows this attempt.
func (a Attempt) Final() bool { return a.Max > 0 && a.Number >= a.Max }

// CellLocator resolves the H3 cell containing a point.
type CellLocator interface {
	CenterCell(lat, lng float64, res int) (string, error)
}

type Options struct {
	Logger *slog.Logger
	Cells  CellLocator
	H3Res  int
	Now    func() time.Time
}

type Orchestrator struct {
	layers layer.Repository
	store  blob.Store
	proj   *proj.Registry
	cells  CellLocator
	res    int
	log    *slog.Logger
	now    func() time.Time
}

func New(layers layer.Repository, store blob.Store, reg *proj.Registry, opts Options) *Orchestrator {
	if reg == nil {
		reg = proj.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		layers: layers,
		store:  store,
		proj:   reg,
		cells:  opts.Cells,
		res:    opts.H3Res,
		log:    opts.Logger,
		now:    opts.Now,
	}
}

// outcome accumulates every derived field of a successful run so the
// layer is written once.
type outcome struct {
	sourceCRS   crs.ID
	sourcePath  string
	transformed bool
	targetPath  string
	meta        metadata.Result
	centerCell  string
	unknown     int
}

// Process runs the pipeline for one layer. The layer ends in ready, or in
// error with "<step>: <message>" stored and a *StepError returned so the
// caller can retry. Each call starts again from the original upload.
func (o *Orchestrator) Process(ctx context.Context, layerID uint64, at Attempt) error {
	if !at.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, at.Deadline)
		defer cancel()
	}
	log := o.log.With("layer_id", layerID, "attempt", at.Number)
	log.Info("processing layer", "max_attempts", at.Max)
	started := time.Now()

	out, err := o.run(ctx, log, layerID)
	if err == nil {
		err = o.persist(ctx, layerID, at, out)
	}
	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			se = fail(PersistFailure, StepPersist, err)
		}
		observability.IncIngestRun(string(se.Kind))
		log.Error("layer processing failed", "kind", string(se.Kind), "step", se.Step, "err", se.Err, "final", at.Final())

		// recorded even when the attempt deadline already passed
		rctx := context.WithoutCancel(ctx)
		if uerr := o.layers.Update(rctx, layerID, layer.MarkError(se.Error())); uerr != nil {
			log.Error("record layer error failed", "err", uerr)
		}
		return se
	}

	observability.IncIngestRun(string(layer.StatusReady))
	observability.AddIngestCoordinates(out.meta.Coordinates, out.meta.Dropped)
	log.Info("layer ready",
		"geometry_type", out.meta.GeometryType,
		"features", out.meta.FeatureCount,
		"transformed", out.transformed,
		"duration", time.Since(started))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, layerID uint64) (*outcome, error) {
	var l *layer.Layer
	if err := o.step(ctx, StepLoadLayer, func() error {
		var err error
		l, err = o.layers.Load(ctx, layerID)
		if err != nil {
			return fail(PersistFailure, StepLoadLayer, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	out := &outcome{sourcePath: l.OriginalPath()}

	var raw []byte
	if err := o.step(ctx, StepRead, func() error {
		var err error
		raw, err = o.store.Get(ctx, out.sourcePath)
		if errors.Is(err, blob.ErrNotFound) {
			return fail(StorageNotFound, StepRead, fmt.Errorf("file not found: %s", out.sourcePath))
		}
		if err != nil {
			return fail(PersistFailure, StepRead, fmt.Errorf("read %s: %w", out.sourcePath, err))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var doc geojson.Object
	if err := o.step(ctx, StepParse, func() error {
		if !gjson.ValidBytes(raw) {
			return fail(MalformedDocument, StepParse, errors.New("invalid JSON in GeoJSON file"))
		}
		var err error
		doc, err = geojson.Parse(raw)
		if err != nil {
			return fail(MalformedDocument, StepParse, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if out.unknown = geojson.CountUnrecognized(doc); out.unknown > 0 {
		log.Warn("unrecognized entries kept verbatim", "count", out.unknown)
	}

	out.sourceCRS = crs.Detect(doc)
	log.Info("detected crs", "crs", string(out.sourceCRS))

	if crs.NeedsTransform(out.sourceCRS) {
		log.Info("transforming layer", "from", string(out.sourceCRS), "to", string(crs.WGS84))
		var err error
		if doc, err = o.transform(ctx, doc, out.sourceCRS); err != nil {
			return nil, err
		}
		out.transformed = true
		out.targetPath = TransformedPath(out.sourcePath)
		if err := o.step(ctx, StepSave, func() error { return o.save(ctx, doc, out.targetPath) }); err != nil {
			return nil, err
		}
		log.Info("transformed file saved", "path", out.targetPath)
	}

	if err := o.step(ctx, StepMetadata, func() error {
		out.meta = metadata.Extract(doc)
		return nil
	}); err != nil {
		return nil, err
	}
	// only documents declared in WGS84 can get here with stray coordinates
	if out.meta.Dropped > 0 {
		log.Warn("coordinates outside WGS84 left out of bounds", "dropped", out.meta.Dropped)
	}
	if b := out.meta.Bounds; b != nil && o.cells != nil {
		cell, err := o.cells.CenterCell(b.CenterLat, b.CenterLng, o.res)
		if err != nil {
			log.Warn("center cell lookup failed", "err", err)
		} else {
			out.centerCell = cell
		}
	}
	log.Info("metadata extracted",
		"geometry_type", out.meta.GeometryType,
		"features", out.meta.FeatureCount,
		"coordinates", out.meta.Coordinates)
	return out, nil
}

func (o *Orchestrator) transform(ctx context.Context, doc geojson.Object, src crs.ID) (geojson.Object, error) {
	var result geojson.Object
	err := o.step(ctx, StepTransform, func() error {
		fn, err := o.proj.Transformer(src, crs.WGS84)
		if err != nil {
			var unsupported *proj.UnsupportedCRSError
			if errors.As(err, &unsupported) {
				return fail(UnsupportedCRS, StepTransform, err)
			}
			return fail(TransformFailure, StepTransform, err)
		}
		n := 0
		mapped, err := geowalk.Map(doc, func(x, y float64) (float64, float64, error) {
			if n++; n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return 0, 0, err
				}
			}
			ox, oy, err := fn(x, y)
			if err == nil && !crs.ValidCoordinate(ox, oy, crs.WGS84) {
				err = &proj.TransformError{X: x, Y: y, Src: src, Dst: crs.WGS84, Err: errOutsideWGS84}
			}
			return ox, oy, err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return fail(Timeout, StepTransform, err)
			}
			return fail(TransformFailure, StepTransform, err)
		}
		// the output is WGS84, which RFC 7946 expresses without a crs member
		delete(geojson.MembersOf(mapped), "crs")
		result = mapped
		return nil
	})
	return result, err
}

func (o *Orchestrator) save(ctx context.Context, doc geojson.Object, target string) error {
	data, err := geojson.Marshal(doc)
	if err != nil {
		return fail(TransformFailure, StepSave, fmt.Errorf("encode transformed document: %w", err))
	}
	if err := o.store.MakeDirectory(ctx, path.Dir(target)); err != nil {
		return fail(PersistFailure, StepSave, err)
	}
	if err := o.store.Put(ctx, target, data); err != nil {
		return fail(PersistFailure, StepSave, fmt.Errorf("failed to save transformed GeoJSON: %w", err))
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, layerID uint64, at Attempt, out *outcome) error {
	return o.step(ctx, StepPersist, func() error {
		now := o.now().UTC()
		status, clear := layer.StatusReady, ""
		geomType, count := out.meta.GeometryType, out.meta.FeatureCount
		u := layer.Update{
			Status:        &status,
			ErrorMessage:  &clear,
			GeometryType:  &geomType,
			FeaturesCount: &count,
			Bounds:        out.meta.Bounds,
			Schema:        out.meta.Schema,
			Metadata: map[string]any{
				layer.MetaOriginalCRS: string(out.sourceCRS),
				layer.MetaTransformed: out.transformed,
				layer.MetaDropped:     out.meta.Dropped,
				layer.MetaUnknown:     out.unknown,
				layer.MetaAttempt:     at.Number,
				layer.MetaProcessedAt: now.Format(time.RFC3339),
			},
		}
		target := string(crs.WGS84)
		u.CRS = &target
		if out.transformed {
			u.FilePath = &out.targetPath
			u.Metadata[layer.MetaOriginalFilePath] = out.sourcePath
			u.Metadata[layer.MetaTransformedAt] = now.Format(time.RFC3339)
		}
		if out.centerCell != "" {
			u.Metadata[layer.MetaCenterH3] = out.centerCell
		}
		if err := o.layers.Update(ctx, layerID, u); err != nil {
			return fail(PersistFailure, StepPersist, err)
		}
		return nil
	})
}

// step times fn and turns an expired attempt into a Timeout error.
func (o *Orchestrator) step(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fail(Timeout, name, fmt.Errorf("attempt aborted: %w", err))
	}
	t0 := time.Now()
	err := fn()
	observability.ObserveIngestStep(name, time.Since(t0).Seconds())
	return err
}
