package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agripredict_cycles_total",
			Help: "Retraining cycles by outcome",
		},
		[]string{"outcome"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agripredict_cycle_duration_seconds",
			Help:    "Wall time of one retraining cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	AcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agripredict_acquisitions_total",
			Help: "Series acquisitions by source (remote, backup) and result",
		},
		[]string{"source", "result"},
	)

	FeatureRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agripredict_feature_rows",
			Help: "Rows in the last built feature table",
		},
	)

	TrainingRMSE = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agripredict_training_rmse",
			Help: "In-sample RMSE of the last trained model",
		},
	)

	LastPublished = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agripredict_last_publish_timestamp_seconds",
			Help: "Unix time of the last successful publication",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agripredict_notifications_total",
			Help: "Publish notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)
