package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/sources"
)

const (
	JobKindPollSource   = "poll_source"
	JobKindScrapeSource = "scrape_source"
)

const (
	QueuePoll   = "poll"
	QueueScrape = "scrape"
)

const (
	PollMaxAttempts   = 3
	ScrapeMaxAttempts = 2
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the default retry policy configuration.
//
// A failed poll leaves the stored anchor untouched, so a retry resumes from
// the last good page. Scrapes are whole-inventory and retried sparingly.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: PollMaxAttempts,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindPollSource: {
				MaxAttempts: PollMaxAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    15 * time.Minute,
			},
			JobKindScrapeSource: {
				MaxAttempts: ScrapeMaxAttempts,
				BaseDelay:   10 * time.Minute,
				MaxDelay:    1 * time.Hour,
			},
		},
	}
}

// NewRetryPolicyFromConfig applies the attempt counts from cfg on top of the
// default policy.
func NewRetryPolicyFromConfig(cfg config.JobsConfig) *RetryPolicy {
	policy := NewRetryPolicy()
	if cfg.RetryPoll > 0 {
		rc := policy.ByKind[JobKindPollSource]
		rc.MaxAttempts = cfg.RetryPoll
		policy.ByKind[JobKindPollSource] = rc
	}
	if cfg.RetryScrape > 0 {
		rc := policy.ByKind[JobKindScrapeSource]
		rc.MaxAttempts = cfg.RetryScrape
		policy.ByKind[JobKindScrapeSource] = rc
	}
	return policy
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}

	return time.Now().Add(delay)
}

// InsertOpts returns the insert options for a job kind.
func (p *RetryPolicy) InsertOpts(kind string) river.InsertOpts {
	opts := river.InsertOpts{MaxAttempts: p.configFor(kind).MaxAttempts}
	switch kind {
	case JobKindPollSource:
		opts.Queue = QueuePoll
	case JobKindScrapeSource:
		opts.Queue = QueueScrape
	}
	return opts
}

// InsertOptsForKind returns default insert options for a job kind.
func InsertOptsForKind(kind string) river.InsertOpts {
	return NewRetryPolicy().InsertOpts(kind)
}

// NewClientConfig builds a River client configuration with retry policy.
func NewClientConfig(workers *river.Workers, policy *RetryPolicy, cfg config.JobsConfig, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) *river.Config {
	if policy == nil {
		policy = NewRetryPolicy()
	}
	pollWorkers := cfg.PollWorkers
	if pollWorkers < 1 {
		pollWorkers = 1
	}
	scrapeWorkers := cfg.ScrapeWorkers
	if scrapeWorkers < 1 {
		scrapeWorkers = 1
	}
	rc := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: periodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
			QueuePoll:          {MaxWorkers: pollWorkers},
			QueueScrape:        {MaxWorkers: scrapeWorkers},
		},
		Hooks: hooks,
	}
	if logger != nil {
		rc.Logger = logger
		rc.ErrorHandler = NewAlertingErrorHandler(logger, nil)
	}
	return rc
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, policy *RetryPolicy, cfg config.JobsConfig, logger *slog.Logger, hooks []rivertype.Hook, periodicJobs []*river.PeriodicJob) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(workers, policy, cfg, logger, hooks, periodicJobs))
}

// ScheduleInterval returns how often src is imported, or zero for sources
// that only run on demand. Sources without a schedule use the interval for
// their kind from cfg.
func ScheduleInterval(src sources.Config, cfg config.JobsConfig) time.Duration {
	switch src.Schedule {
	case "manual":
		return 0
	case "hourly":
		return time.Hour
	case "daily":
		return 24 * time.Hour
	}
	if src.IsDealer() {
		return cfg.ScrapeInterval
	}
	return cfg.PollInterval
}

// NewPeriodicJobs schedules one import job per enabled source: a poll for
// change-feed sources and a scrape for dealer sources.
func NewPeriodicJobs(srcs []sources.Config, policy *RetryPolicy, cfg config.JobsConfig) []*river.PeriodicJob {
	if policy == nil {
		policy = NewRetryPolicy()
	}
	var jobs []*river.PeriodicJob
	for _, src := range srcs {
		if !src.Enabled {
			continue
		}
		interval := ScheduleInterval(src, cfg)
		if interval <= 0 {
			continue
		}

		var args river.JobArgs = PollSourceArgs{Source: src.TextID}
		if src.IsDealer() {
			args = ScrapeSourceArgs{Source: src.TextID}
		}
		opts := policy.InsertOpts(args.Kind())
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return args, &opts
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))
	}
	return jobs
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: PollMaxAttempts, BaseDelay: 1 * time.Minute, MaxDelay: 15 * time.Minute}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}
