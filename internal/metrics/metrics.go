package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"horarios/internal/schedule"
)

var provenances = []schedule.Provenance{
	schedule.ProvenanceRemote,
	schedule.ProvenanceBundled,
	schedule.ProvenanceCache,
	schedule.ProvenanceUnavailable,
}

type Collector struct {
	reg *prometheus.Registry

	TierAttempts     *prometheus.CounterVec // tier, outcome (ok|timeout|error|empty|disabled)
	TierDuration     *prometheus.HistogramVec
	InvalidDocuments prometheus.Counter
	CacheWriteErrs   prometheus.Counter

	Provenance   *prometheus.GaugeVec // 1 for the provenance of the current dataset
	DatasetLines prometheus.Gauge
	LastRefresh  prometheus.Gauge // unix seconds

	Refreshes        prometheus.Counter
	RefreshSkipped   prometheus.Counter
	RefreshDiscarded prometheus.Counter
	RefreshDuration  prometheus.Histogram

	RenderDuration      prometheus.Histogram
	UnresolvedStops     prometheus.Gauge
	MalformedDepartures prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	RefreshInterval prometheus.Gauge // seconds
	RenderInterval  prometheus.Gauge // seconds
	RemoteTimeout   prometheus.Gauge // seconds
}

func NewCollector(refreshInterval, renderInterval, remoteTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TierAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "horarios_source_tier_attempts_total",
			Help: "Data source tier attempts by outcome.",
		}, []string{"tier", "outcome"}),
		TierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "horarios_source_tier_duration_seconds",
			Help:    "Time spent in each data source tier.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"tier"}),
		InvalidDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_invalid_documents_total",
			Help: "Remote line documents dropped by validation.",
		}),
		CacheWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_cache_write_errors_total",
			Help: "Failed snapshot writes to the local cache.",
		}),
		Provenance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "horarios_dataset_provenance",
			Help: "1 for the tier that produced the current dataset.",
		}, []string{"provenance"}),
		DatasetLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_dataset_lines",
			Help: "Number of lines in the current dataset.",
		}),
		LastRefresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_last_refresh_timestamp_seconds",
			Help: "Unix time of the last committed refresh.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_refreshes_total",
			Help: "Refresh runs started.",
		}),
		RefreshSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_refresh_skipped_total",
			Help: "Refresh ticks skipped because a refresh was still running.",
		}),
		RefreshDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_refresh_discarded_total",
			Help: "Refresh results discarded because a newer one had been committed.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "horarios_refresh_duration_seconds",
			Help:    "Duration of a full data source chain run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "horarios_render_duration_seconds",
			Help:    "Duration to resolve and publish the board.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		UnresolvedStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_unresolved_stops",
			Help: "Stops with no schedule entry for today in the last render.",
		}),
		MalformedDepartures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_malformed_departures",
			Help: "Departure strings skipped in the last render.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horarios_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "horarios_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_refresh_interval_seconds",
			Help: "Data refresh interval in seconds.",
		}),
		RenderInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_render_interval_seconds",
			Help: "Board render interval in seconds.",
		}),
		RemoteTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horarios_remote_timeout_seconds",
			Help: "Time budget for the remote store read.",
		}),
	}

	reg.MustRegister(
		c.TierAttempts, c.TierDuration, c.InvalidDocuments, c.CacheWriteErrs,
		c.Provenance, c.DatasetLines, c.LastRefresh,
		c.Refreshes, c.RefreshSkipped, c.RefreshDiscarded, c.RefreshDuration,
		c.RenderDuration, c.UnresolvedStops, c.MalformedDepartures,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.RefreshInterval, c.RenderInterval, c.RemoteTimeout,
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.RenderInterval.Set(renderInterval.Seconds())
	c.RemoteTimeout.Set(remoteTimeout.Seconds())
	for _, p := range provenances {
		c.Provenance.WithLabelValues(string(p)).Set(0)
	}

	return c
}

// ObserveTier records one tier attempt; an empty reason means the tier served data.
func (c *Collector) ObserveTier(tier schedule.Provenance, reason string, d time.Duration) {
	outcome := reason
	if outcome == "" {
		outcome = "ok"
	}
	c.TierAttempts.WithLabelValues(string(tier), outcome).Inc()
	c.TierDuration.WithLabelValues(string(tier)).Observe(d.Seconds())
}

func (c *Collector) AddInvalidDocuments(n int) { c.InvalidDocuments.Add(float64(n)) }
func (c *Collector) IncCacheWriteErrors()      { c.CacheWriteErrs.Inc() }

func (c *Collector) RefreshStarted() { c.Refreshes.Inc() }
func (c *Collector) RefreshSkip()    { c.RefreshSkipped.Inc() }
func (c *Collector) RefreshDiscard() { c.RefreshDiscarded.Inc() }

// RefreshCommitted publishes the state of a newly committed dataset.
func (c *Collector) RefreshCommitted(p schedule.Provenance, lines int, at time.Time, d time.Duration) {
	for _, other := range provenances {
		v := 0.0
		if other == p {
			v = 1
		}
		c.Provenance.WithLabelValues(string(other)).Set(v)
	}
	c.DatasetLines.Set(float64(lines))
	c.LastRefresh.Set(float64(at.Unix()))
	c.RefreshDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveRender(d time.Duration, unresolved, malformed int) {
	c.RenderDuration.Observe(d.Seconds())
	c.UnresolvedStops.Set(float64(unresolved))
	c.MalformedDepartures.Set(float64(malformed))
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
