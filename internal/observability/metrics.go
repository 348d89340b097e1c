package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersEmitted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_emitted_total", Help: "Trip offers pushed to a driver connection"})
	OffersAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_accepted_total", Help: "Offers accepted within the response window"})
	OffersRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_rejected_total", Help: "Offers explicitly rejected by the driver"})
	OffersTimedOut = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "offers_timed_out_total", Help: "Offers expired without a driver response"})

	DriversUnreachable = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "drivers_unreachable_total", Help: "Dispatch requests for drivers with no live connection"})
	SendsDropped       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "sends_dropped_total", Help: "Best-effort notifications dropped because the target was offline"})

	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "trip_dispatch", Name: "sessions_connected", Help: "Currently registered websocket sessions"})

	LocationsRelayed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "locations_relayed_total", Help: "Location updates forwarded to riders"})
	TripsFinalized   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "trips_finalized_total", Help: "Active trips finalized"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "trip_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trip_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
