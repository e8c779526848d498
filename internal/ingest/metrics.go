package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	features *prometheus.CounterVec
	pass     *prometheus.HistogramVec
	zones    prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		features: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_features_total",
				Help: "Features seen by the zone ingest runner, by result.",
			},
			[]string{"result"},
		),
		pass: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_pass_seconds",
				Help:    "Duration of one pass over the feature source.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"result"},
		),
		zones: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_last_pass_zones",
				Help: "Zones written by the last successful pass.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.features, m.pass, m.zones)
	}
	return m
}
