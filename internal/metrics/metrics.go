package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace for all carbyr metrics
const namespace = "carbyr"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// Ingest metrics

// PollCallsTotal counts poll calls by source and outcome
var PollCallsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_calls_total",
		Help:      "Total number of change-feed poll calls",
	},
	[]string{"source", "outcome"}, // outcome: more|done|error
)

// PollDuration tracks the wall time of one poll call, fetch included
var PollDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_duration_seconds",
		Help:      "Poll call duration in seconds",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 180, 300},
	},
	[]string{"source"},
)

// PostingsTotal counts processed postings by source and result
var PostingsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "postings_total",
		Help:      "Total number of raw postings processed",
	},
	[]string{"source", "result"}, // result: accepted|rejected
)

// ListingsUpsertedTotal counts store writes by action
var ListingsUpsertedTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_upserted_total",
		Help:      "Total number of listings written to the store",
	},
	[]string{"source", "action"}, // action: inserted|updated|unchanged|conflict
)

// ListingsRemovedTotal counts listings swept after a full-inventory import
var ListingsRemovedTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_removed_total",
		Help:      "Total number of listings marked removed by inventory sweeps",
	},
	[]string{"source"},
)

// IngestAnomaliesTotal mirrors the per-run import counters
var IngestAnomaliesTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_anomalies_total",
		Help:      "Total count of named ingest anomalies and tags",
	},
	[]string{"source", "counter"},
)

// Geocoding metrics

// ZipcodeLookupsTotal tracks zipcode resolutions by where the answer came from
var ZipcodeLookupsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "zipcode_lookups_total",
		Help:      "Total number of zipcode lookups",
	},
	[]string{"source"}, // source: table|nominatim|miss|failure_cache|invalid
)

// GeocodingNominatimRequestsTotal tracks Nominatim API requests by endpoint and status
var GeocodingNominatimRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocoding_nominatim_requests_total",
		Help:      "Total number of Nominatim API requests",
	},
	[]string{"endpoint", "status"}, // status: success|error
)

// GeocodingNominatimLatency tracks Nominatim API request latency
var GeocodingNominatimLatency = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "geocoding_nominatim_latency_seconds",
		Help:      "Nominatim API request latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"endpoint"},
)

// Init registers the runtime collectors and sets version information
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// RecordCounters adds a run's named counters to IngestAnomaliesTotal.
func RecordCounters(source string, counters map[string]int) {
	for name, n := range counters {
		IngestAnomaliesTotal.WithLabelValues(source, name).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
