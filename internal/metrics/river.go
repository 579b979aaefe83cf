package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var (
	RiverJobsQueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_jobs_queued_total",
			Help:      "Import jobs inserted into the queue",
		},
		[]string{"kind"},
	)

	RiverJobsInFlight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_jobs_in_flight",
			Help:      "Import jobs currently running",
		},
		[]string{"kind"},
	)

	// Polls finish in seconds; a dealer scrape can take most of an hour.
	RiverJobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_job_duration_seconds",
			Help:      "Import job duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 180, 300, 900, 1800, 3600},
		},
		[]string{"kind", "source"},
	)

	RiverJobsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_jobs_completed_total",
			Help:      "Import jobs finished, by source and result (success or error)",
		},
		[]string{"kind", "source", "result"},
	)
)

// RiverMetricsHook records queue depth, duration and outcome of import
// jobs, labelled by the source named in the job args.
type RiverMetricsHook struct {
	river.HookDefaults
	started sync.Map // job ID -> time.Time
}

func NewRiverMetricsHook() *RiverMetricsHook {
	return &RiverMetricsHook{}
}

func (h *RiverMetricsHook) InsertBegin(ctx context.Context, params *rivertype.JobInsertParams) error {
	RiverJobsQueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *RiverMetricsHook) WorkBegin(ctx context.Context, job *rivertype.JobRow) error {
	RiverJobsInFlight.WithLabelValues(job.Kind).Inc()
	h.started.Store(job.ID, time.Now())
	return nil
}

func (h *RiverMetricsHook) WorkEnd(ctx context.Context, job *rivertype.JobRow, err error) error {
	RiverJobsInFlight.WithLabelValues(job.Kind).Dec()

	source := jobSource(job)
	if v, ok := h.started.LoadAndDelete(job.ID); ok {
		RiverJobDuration.WithLabelValues(job.Kind, source).Observe(time.Since(v.(time.Time)).Seconds())
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	RiverJobsCompleted.WithLabelValues(job.Kind, source, result).Inc()
	return nil
}

// jobSource reads the "source" arg every import job carries; "unknown" when
// the args do not decode.
func jobSource(job *rivertype.JobRow) string {
	var args struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil || args.Source == "" {
		return "unknown"
	}
	return args.Source
}
