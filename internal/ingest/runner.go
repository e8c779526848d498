// Package ingest assigns streamed features to the zone holding their
// centroid and writes them to the zone store. Lines and polygons are also
// linked to every other zone they cover, so zone selections never miss them.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/peterstace/simplefeatures/geom"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/dggs-query/internal/core/model"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/feature"
	"github.com/mohammed-shakir/dggs-query/internal/geometry"
	mylog "github.com/mohammed-shakir/dggs-query/internal/logger"
)

type Store interface {
	Put(ctx context.Context, layer string, zone model.Zone, fs ...feature.Feature) error
	Link(ctx context.Context, layer, id string, zones ...model.Zone) error
}

type Config struct {
	Layer      string
	Resolution int
	// Interval separates passes over the source in Start.
	Interval time.Duration
}

type Runner struct {
	log    *slog.Logger
	cfg    Config
	index  dggs.Index
	store  Store
	source feature.Collection
	ms     *metricSet
	seen   *idDedupe
	ready  atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type Options struct {
	Logger     *slog.Logger
	Register   prometheus.Registerer
	DedupeSize int
}

func New(cfg Config, idx dggs.Index, st Store, src feature.Collection, opts Options) (*Runner, error) {
	if idx == nil || st == nil || src == nil {
		return nil, errors.New("ingest runner: index, store and source are required")
	}
	if err := dggs.ValidateResolution(idx, cfg.Resolution); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		index:  idx,
		store:  st,
		source: src,
		ms:     newMetricSet(opts.Register),
		seen:   newIDDedupe(opts.DedupeSize),
	}, nil
}

// Start runs passes every Interval until ctx ends or Stop is called. A failed
// pass is logged and retried on the next tick.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(r.cfg.Interval)
		defer t.Stop()
		for {
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("ingest pass failed", "layer", r.cfg.Layer, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	r.log.Info("ingest runner started",
		"layer", r.cfg.Layer, "resolution", r.cfg.Resolution, "grid", r.index.Name())
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("ingest runner stopped")
}

// Readiness reports whether a pass has completed.
func (r *Runner) Readiness() bool { return r.ready.Load() }

func (r *Runner) Ping(context.Context) error {
	if !r.Readiness() {
		return errors.New("no ingest pass completed yet")
	}
	return nil
}

// RunOnce drains the source once, grouping new features by zone, and writes
// one batch per zone, then links extended geometries to the rest of their
// cover. It returns the number of features written.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	ctx = mylog.WithLayer(mylog.WithComponent(ctx, "ingest"), r.cfg.Layer)

	batches := map[string][]feature.Feature{}
	zones := map[string]model.Zone{}
	links := map[string][]model.Zone{}
	err := r.source.Accepts(ctx, feature.VisitorFunc(func(f feature.Feature) error {
		z, ok, err := r.zoneOf(f)
		if err != nil {
			return err
		}
		if !ok {
			r.ms.features.WithLabelValues("skip_no_geometry").Inc()
			return nil
		}
		if !r.seen.shouldApply(f.ID, z.ID) {
			r.ms.features.WithLabelValues("skip_seen").Inc()
			return nil
		}
		extra, err := r.coverOf(f, z)
		if err != nil {
			return err
		}
		if len(extra) > 0 {
			links[f.ID] = extra
		}
		zones[z.ID] = z
		batches[z.ID] = append(batches[z.ID], f)
		return nil
	}))
	if err != nil {
		r.ms.pass.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return 0, fmt.Errorf("read source: %w", err)
	}

	written := 0
	for id, fs := range batches {
		if err := r.store.Put(ctx, r.cfg.Layer, zones[id], fs...); err != nil {
			r.ms.features.WithLabelValues("error").Add(float64(len(fs)))
			r.ms.pass.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return written, fmt.Errorf("store zone %s: %w", id, err)
		}
		written += len(fs)
		r.ms.features.WithLabelValues("stored").Add(float64(len(fs)))
	}
	for id, zs := range links {
		if err := r.store.Link(ctx, r.cfg.Layer, id, zs...); err != nil {
			r.ms.features.WithLabelValues("error").Inc()
			r.ms.pass.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return written, fmt.Errorf("link feature %s: %w", id, err)
		}
		r.ms.features.WithLabelValues("linked").Inc()
	}
	// marked only once every write of the pass landed, so a failed pass is
	// replayed in full
	for id, fs := range batches {
		for _, f := range fs {
			r.seen.applied(f.ID, id)
		}
	}

	r.ms.zones.Set(float64(len(batches)))
	r.ms.pass.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	r.ready.Store(true)
	r.log.DebugContext(ctx, "ingest pass",
		"features", written, "zones", len(batches), "took", time.Since(start))
	return written, nil
}

// zoneOf locates the zone holding the feature's centroid at the configured
// resolution. Features without a usable geometry report ok=false.
func (r *Runner) zoneOf(f feature.Feature) (model.Zone, bool, error) {
	if f.ID == "" || f.Geometry.IsEmpty() {
		return model.Zone{}, false, nil
	}
	xy, ok := f.Geometry.Centroid().XY()
	if !ok {
		return model.Zone{}, false, nil
	}
	z, err := r.index.Point(xy.Y, xy.X, r.cfg.Resolution)
	if err != nil {
		return model.Zone{}, false, fmt.Errorf("zone of feature %s: %w", f.ID, err)
	}
	return z, true, nil
}

// coverOf returns the zones other than anchor that a line or polygon touches
// at the ingest resolution. Polygons use the grid's polygon cover; other
// shapes use their envelope.
func (r *Runner) coverOf(f feature.Feature, anchor model.Zone) ([]model.Zone, error) {
	if f.Geometry.Type() == geom.TypePoint {
		return nil, nil
	}
	var seqs []dggs.Seq
	if polys, err := geometry.FromGeom(f.Geometry); err == nil {
		for _, p := range polys {
			seqs = append(seqs, r.index.Polygon(p, r.cfg.Resolution, false))
		}
	} else if bb, ok := envelopeOf(f.Geometry); ok {
		seqs = append(seqs, r.index.ZonesInEnvelope(bb, r.cfg.Resolution, false))
	}

	var out []model.Zone
	seen := map[string]struct{}{anchor.ID: {}}
	for _, seq := range seqs {
		for z, err := range seq {
			if err != nil {
				return nil, fmt.Errorf("cover of feature %s: %w", f.ID, err)
			}
			if _, ok := seen[z.ID]; ok {
				continue
			}
			seen[z.ID] = struct{}{}
			out = append(out, z)
		}
	}
	return out, nil
}

// envelopeOf pads the envelope so a horizontal or vertical line still gives a
// valid box.
func envelopeOf(g geom.Geometry) (model.BBox, bool) {
	lo, hi, ok := g.Envelope().MinMaxXYs()
	if !ok {
		return model.BBox{}, false
	}
	const pad = 1e-9
	return model.BBox{
		X1: max(lo.X-pad, -180), Y1: max(lo.Y-pad, -90),
		X2: min(hi.X+pad, 180), Y2: min(hi.Y+pad, 90),
	}, true
}
