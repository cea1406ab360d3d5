package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maltedev/company-scraper/internal/config"
	"github.com/maltedev/company-scraper/pkg/logger"
)

var (
	cfg *config.Config
	log *slog.Logger

	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:           "scraper",
	Short:         "scraper collects company details and job postings into a CSV file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing env file is fine; the process environment still applies.
		_ = godotenv.Load(envFile)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		log = logger.New(level, cfg.Logging.Format)
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File with environment overrides.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Overrides LOG_LEVEL (debug, info, warn, error).")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
