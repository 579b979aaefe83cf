package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gellingson/carbyr/internal/health"
)

func newHealthcheckCommand() *cobra.Command {
	var (
		timeout time.Duration
		url     string
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that a running worker is healthy",
		Long: `Call the worker's /health endpoint and exit non-zero unless it reports
healthy or degraded. Used as the container HEALTHCHECK.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = defaultHealthURL(os.Getenv("METRICS_ADDR"))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := fetchHealth(ctx, http.DefaultClient, url)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (version %s)\n", report.Status, report.Version)
			for name, check := range report.Checks {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s %s\n", name, check.Status, check.Message)
			}
			if report.Status == "unhealthy" {
				return fmt.Errorf("worker is unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().StringVar(&url, "url", "", "health URL (default: http://localhost{METRICS_ADDR}/health)")
	return cmd
}

func defaultHealthURL(addr string) string {
	if addr == "" {
		addr = ":9090"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

// fetchHealth decodes the report for both 200 and 503 answers.
func fetchHealth(ctx context.Context, client *http.Client, url string) (health.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return health.Report{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return health.Report{}, fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return health.Report{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return health.Report{}, fmt.Errorf("invalid health response: %w", err)
	}
	return report, nil
}
