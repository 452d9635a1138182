package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricekeeper_ticks_total",
			Help: "Total number of updater ticks",
		},
		[]string{"result"},
	)
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricekeeper_tick_duration_seconds",
			Help:    "Updater tick duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	PriceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricekeeper_price_updates_total",
			Help: "Listing price updates by direction, price source and outcome",
		},
		[]string{"direction", "source", "result"},
	)
	ListingsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricekeeper_listings_skipped_total",
			Help: "Listings skipped during a tick by reason",
		},
		[]string{"reason"},
	)
	QuotesFilteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricekeeper_quotes_filtered_total",
			Help: "Quotes removed by the quality filter by stage",
		},
		[]string{"stage"},
	)
	ModelTrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricekeeper_model_trainings_total",
			Help: "Anomaly model training attempts by outcome",
		},
		[]string{"result"},
	)
	SuspectedBots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricekeeper_suspected_bots",
			Help: "Advertisers currently flagged as suspected bots",
		},
	)
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricekeeper_gateway_request_duration_seconds",
			Help:    "Marketplace API request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "result"},
	)
)
