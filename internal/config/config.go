package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gellingson/carbyr/internal/validation"
)

type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Poll      PollConfig
	Sources   SourcesConfig
	Geocoding GeocodingConfig
	Ingest    IngestConfig
	Jobs      JobsConfig
	Tracing   TracingConfig
	Email     EmailConfig
	Metrics   MetricsConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// PollConfig configures the classified change-feed client.
type PollConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	// Local restricts polls to the configured home state.
	Local bool
	// Limited keeps only listings the classifier finds interesting.
	Limited bool
	// MaxCalls caps poll calls per run; zero polls until the feed is done.
	MaxCalls int
}

type SourcesConfig struct {
	Dir string
}

type GeocodingConfig struct {
	Enabled    bool
	BaseURL    string
	Email      string
	RateLimit  float64
	RetryDelay time.Duration
	FailureTTL time.Duration
}

type IngestConfig struct {
	TagMergePolicy string
}

type JobsConfig struct {
	PollInterval   time.Duration
	ScrapeInterval time.Duration
	PollWorkers    int
	ScrapeWorkers  int
	RetryPoll      int
	RetryScrape    int
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

type EmailConfig struct {
	Enabled      bool
	From         string
	To           []string
	ResendAPIKey string
}

type MetricsConfig struct {
	Addr string
}

// LoadEnvFile loads variables from path (".env" when empty) into the process
// environment. Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func Load() (Config, error) {
	inventory := parseList(strings.ToLower(getEnv("INVENTORY_SETTINGS", "")))

	cfg := Config{
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Poll: PollConfig{
			BaseURL:   getEnv("THREETAPS_BASE_URL", "http://polling.3taps.com"),
			AuthToken: getEnv("THREETAPS_AUTH_TOKEN", ""),
			Timeout:   time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 180)) * time.Second,
			Local:     contains(inventory, "local"),
			Limited:   contains(inventory, "limited"),
			MaxCalls:  getEnvInt("POLL_MAX_CALLS", 0),
		},
		Sources: SourcesConfig{
			Dir: getEnv("SOURCES_DIR", "configs/sources"),
		},
		Geocoding: GeocodingConfig{
			Enabled:    getEnvBool("GEOCODING_ENABLED", true),
			BaseURL:    getEnv("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),
			Email:      getEnv("NOMINATIM_EMAIL", ""),
			RateLimit:  getEnvFloat("NOMINATIM_RATE_LIMIT", 1.0),
			RetryDelay: getEnvDuration("NOMINATIM_RETRY_DELAY", time.Second),
			FailureTTL: getEnvDuration("GEOCODING_FAILURE_TTL", time.Hour),
		},
		Ingest: IngestConfig{
			TagMergePolicy: getEnv("TAG_MERGE_POLICY", "union"),
		},
		Jobs: JobsConfig{
			PollInterval:   getEnvDuration("POLL_INTERVAL", 15*time.Minute),
			ScrapeInterval: getEnvDuration("SCRAPE_INTERVAL", 24*time.Hour),
			PollWorkers:    getEnvInt("POLL_WORKERS", 2),
			ScrapeWorkers:  getEnvInt("SCRAPE_WORKERS", 1),
			RetryPoll:      getEnvInt("JOB_RETRY_POLL", 3),
			RetryScrape:    getEnvInt("JOB_RETRY_SCRAPE", 2),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "carbyr"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Email: EmailConfig{
			From:         getEnv("REPORT_EMAIL_FROM", "imports@carbyr.com"),
			To:           parseList(getEnv("REPORT_EMAIL_TO", "")),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
	cfg.Email.Enabled = cfg.Email.ResendAPIKey != "" && len(cfg.Email.To) > 0

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	for _, s := range inventory {
		if s != "local" && s != "limited" {
			return Config{}, fmt.Errorf("INVENTORY_SETTINGS: unknown setting %q (want local or limited)", s)
		}
	}
	switch strings.ToLower(cfg.Ingest.TagMergePolicy) {
	case "union", "retract":
	default:
		return Config{}, fmt.Errorf("TAG_MERGE_POLICY must be union or retract, got %q", cfg.Ingest.TagMergePolicy)
	}
	if err := validation.ValidateBaseURL(cfg.Poll.BaseURL, "THREETAPS_BASE_URL", false); err != nil {
		return Config{}, err
	}
	if err := validation.ValidateBaseURL(cfg.Geocoding.BaseURL, "NOMINATIM_BASE_URL", false); err != nil {
		return Config{}, err
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return Config{}, fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1, got %v", cfg.Tracing.SampleRate)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration syntax ("90s", "15m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
