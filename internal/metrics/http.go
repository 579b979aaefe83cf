package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound HTTP metrics, labeled by the client making the call.
var (
	// UpstreamRequestsTotal counts outbound requests by client and status code
	UpstreamRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"client", "status"},
	)

	// UpstreamRequestDuration records outbound request latency in seconds
	UpstreamRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Outbound HTTP request latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"client"},
	)

	// UpstreamRequestsInFlight tracks outbound requests awaiting a response
	UpstreamRequestsInFlight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_requests_in_flight",
			Help:      "Current number of outbound HTTP requests",
		},
		[]string{"client"},
	)
)

type instrumentedTransport struct {
	client string
	next   http.RoundTripper
}

// InstrumentTransport wraps next so every request is counted and timed
// under the client label. A nil next uses http.DefaultTransport.
func InstrumentTransport(client string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &instrumentedTransport{client: client, next: next}
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	inFlight := UpstreamRequestsInFlight.WithLabelValues(t.client)
	inFlight.Inc()
	defer inFlight.Dec()

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	UpstreamRequestDuration.WithLabelValues(t.client).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	UpstreamRequestsTotal.WithLabelValues(t.client, status).Inc()
	return resp, err
}
