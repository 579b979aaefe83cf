package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gellingson/carbyr/internal/config"
	"github.com/gellingson/carbyr/internal/domain/listings"
	"github.com/gellingson/carbyr/internal/email"
	"github.com/gellingson/carbyr/internal/geocoding"
	"github.com/gellingson/carbyr/internal/geocoding/nominatim"
	"github.com/gellingson/carbyr/internal/ingest"
	"github.com/gellingson/carbyr/internal/scraper"
	"github.com/gellingson/carbyr/internal/sources"
	"github.com/gellingson/carbyr/internal/storage/postgres"
	"github.com/gellingson/carbyr/internal/telemetry"
	"github.com/gellingson/carbyr/internal/threetaps"
)

// loadConfig reads the env file and environment, then applies the logging
// flags.
func loadConfig() (config.Config, zerolog.Logger, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, config.NewLogger(cfg.Logging), nil
}

// app holds the wired import pipeline shared by poll, scrape and worker.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	repo    *postgres.Repository
	sources *sources.Set
	refdata *listings.RefDataCache
	runner  *ingest.Runner
	adapter *scraper.Adapter
	close   func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	configs, err := sources.LoadConfigs(cfg.Sources.Dir)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("load sources: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.Database.URL, int32(cfg.Database.MaxConnections))
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}
	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	refdata := listings.NewRefDataCache(repo.RefData())
	if err := refdata.Reload(ctx); err != nil {
		pool.Close()
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("load reference data: %w", err)
	}

	policy, err := listings.ParseTagMergePolicy(cfg.Ingest.TagMergePolicy)
	if err != nil {
		pool.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	notifier, err := email.NewService(cfg.Email, logger)
	if err != nil {
		pool.Close()
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("email: %w", err)
	}

	var searcher geocoding.PostalCodeSearcher
	if cfg.Geocoding.Enabled {
		searcher = nominatim.NewClient(cfg.Geocoding.BaseURL, cfg.Geocoding.Email,
			nominatim.WithRateLimit(cfg.Geocoding.RateLimit),
			nominatim.WithRetryDelay(cfg.Geocoding.RetryDelay),
		)
	}
	zips := geocoding.NewZipcodeResolver(repo.Zipcodes(), searcher, logger)
	zips.SetFailureTTL(cfg.Geocoding.FailureTTL)

	processor := ingest.NewProcessor(zips, logger)
	feed := threetaps.NewClient(cfg.Poll.BaseURL, cfg.Poll.AuthToken)
	poller := ingest.NewPoller(feed, processor, logger,
		ingest.WithTimeout(cfg.Poll.Timeout),
		ingest.WithLocalOnly(cfg.Poll.Local),
	)

	runner := ingest.NewRunner(ingest.RunnerDeps{
		Poller:    poller,
		Processor: processor,
		Upserter:  listings.NewUpserter(repo.Listings(), policy),
		Anchors:   repo.Anchors(),
		Marker:    repo.Listings(),
		ImportLog: repo.ImportLog(),
		Notifier:  notifier,
		RefData:   refdata,
	}, logger,
		ingest.WithLimitedInventory(cfg.Poll.Limited),
		ingest.WithMaxCalls(cfg.Poll.MaxCalls),
	)

	adapter := scraper.NewAdapter(scraper.NewCollyExtractor(logger), scraper.NewDetailFetcher(logger), logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		repo:    repo,
		sources: sources.NewSet(configs),
		refdata: refdata,
		runner:  runner,
		adapter: adapter,
		close: func() {
			pool.Close()
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("tracing shutdown failed")
			}
		},
	}, nil
}

// selectSources resolves the named sources, or every enabled source of kind
// when all is set.
func selectSources(set *sources.Set, kind string, names []string, all bool) ([]sources.Config, error) {
	if all {
		if len(names) > 0 {
			return nil, fmt.Errorf("--all cannot be combined with source names")
		}
		enabled := set.Enabled(kind)
		if len(enabled) == 0 {
			return nil, fmt.Errorf("no enabled %s sources", kind)
		}
		return enabled, nil
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("name at least one source or pass --all")
	}
	out := make([]sources.Config, 0, len(names))
	for _, name := range names {
		cfg, err := set.Get(name)
		if err != nil {
			return nil, err
		}
		if cfg.Kind != kind {
			return nil, fmt.Errorf("source %s is a %s source", cfg.TextID, cfg.Kind)
		}
		out = append(out, cfg)
	}
	return out, nil
}
