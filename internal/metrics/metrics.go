package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TrackingActive prometheus.Gauge

	TripsStarted   prometheus.Counter
	TripsFinalized prometheus.Counter

	Ticks          prometheus.Counter
	TicksSkipped   prometheus.Counter
	DispatchErrs   *prometheus.CounterVec // event label: locationUpdate|heartbeat|getStatus
	Unexpected     prometheus.Counter
	PositionErrs   prometheus.Counter
	PointsAppended prometheus.Counter
	PointsDropped  *prometheus.CounterVec // reason label: no_active_trip|store_error
	HeartbeatErrs  prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration     prometheus.Histogram
	DispatchDuration prometheus.Histogram
	PublishDuration  prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TrackingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tracking_active",
			Help: "1 while the polling loop is running, 0 otherwise.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips created.",
		}),
		TripsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_finalized_total",
			Help: "Total trips finalized.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ticks_total",
			Help: "Total location update ticks run.",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ticks_skipped_total",
			Help: "Ticks skipped because another tick was in flight.",
		}),
		DispatchErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_dispatch_errors_total",
			Help: "Failed dispatches to the runner.",
		}, []string{"event"}),
		Unexpected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_unexpected_responses_total",
			Help: "Runner responses without a recognised directive.",
		}),
		PositionErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_position_errors_total",
			Help: "Failed position reads.",
		}),
		PointsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_points_appended_total",
			Help: "Location points appended to the active trip.",
		}),
		PointsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_points_dropped_total",
			Help: "Location fixes that were not stored.",
		}, []string{"reason"}),
		HeartbeatErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_heartbeat_errors_total",
			Help: "Failed heartbeats sent at stop.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS trip events published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of a full location update tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_dispatch_duration_seconds",
			Help:    "Round trip of a dispatch to the runner.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Polling interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.TrackingActive,
		c.TripsStarted, c.TripsFinalized,
		c.Ticks, c.TicksSkipped, c.DispatchErrs, c.Unexpected, c.PositionErrs,
		c.PointsAppended, c.PointsDropped, c.HeartbeatErrs,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.DispatchDuration, c.PublishDuration,
		c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
