package main

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/dggs-query/internal/core/config"
	"github.com/mohammed-shakir/dggs-query/internal/dggs"
	"github.com/mohammed-shakir/dggs-query/internal/feature/kafkasrc"
	"github.com/mohammed-shakir/dggs-query/internal/ingest"
	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

// startIngest feeds features from the configured Kafka partition into the
// zone store until ctx ends. shutdown stops the runner, then closes the
// consumer.
func startIngest(ctx context.Context, cfg config.Config, idx dggs.Index, st ingest.Store,
	p *metrics.Provider, log *slog.Logger, zl *zerolog.Logger,
) (r *ingest.Runner, shutdown func(), err error) {
	kcfg := kafkasrc.FromEnv()
	src, err := kafkasrc.Dial(kcfg, log, zl)
	if err != nil {
		return nil, nil, err
	}
	r, err = ingest.New(ingest.Config{
		Layer:      cfg.Ingest.Layer,
		Resolution: cfg.Ingest.Resolution,
		Interval:   cfg.Ingest.Interval,
	}, idx, st, src, ingest.Options{Logger: log, Register: p.Registerer()})
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	r.Start(ctx)
	log.Info("ingesting features", "topic", kcfg.Topic, "partition", kcfg.Partition,
		"layer", cfg.Ingest.Layer, "resolution", cfg.Ingest.Resolution)
	return r, func() {
		r.Stop()
		if err := src.Close(); err != nil {
			log.Warn("kafka consumer close", "err", err)
		}
	}, nil
}
