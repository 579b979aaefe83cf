package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var (
	envFile   string
	logLevel  string
	logFormat string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "carbyr",
		Short: "carbyr - classic and interesting car listings importer",
		Long: `carbyr imports used-car listings into one canonical inventory.

Classified listings arrive through an incremental change feed; dealer
inventories are scraped in full and swept for removed cars. Every listing is
regularized, scored and tagged before it is written.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file loaded before reading the environment")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: LOG_FORMAT or json)")

	root.AddCommand(
		newPollCommand(),
		newScrapeCommand(),
		newSourcesCommand(),
		newMigrateCommand(),
		newRefDataCommand(),
		newWorkerCommand(),
		newHealthcheckCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
