package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixlabel_export_runs_total",
			Help: "Dataset export runs by result",
		},
		[]string{"result"}, // success, failed, rejected
	)

	exportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixlabel_export_items_total",
			Help: "Images processed by dataset exports",
		},
		[]string{"outcome"}, // packaged, failed
	)

	exportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixlabel_export_duration_seconds",
			Help:    "Wall time of dataset exports that reached the packaging stage",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		},
	)

	imageIngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixlabel_image_ingest_total",
			Help: "Image uploads by result",
		},
		[]string{"result"}, // stored, duplicate, rejected, failed
	)
)
