package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/company-scraper/internal/app"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/maltedev/company-scraper/internal/targets"
	"github.com/maltedev/company-scraper/internal/task"
)

var scrapeFlags struct {
	kind        string
	urls        []string
	file        string
	delay       time.Duration
	token       string
	output      string
	locations   bool
	jobLocation string
	headless    bool
}

func init() {
	f := scrapeCmd.Flags()
	f.StringVarP(&scrapeFlags.kind, "type", "t", "", "What to collect: info or jobs.")
	f.StringSliceVarP(&scrapeFlags.urls, "urls", "u", nil, "Comma-separated company page URLs.")
	f.StringVarP(&scrapeFlags.file, "file", "f", "", "CSV or plain file listing company page URLs.")
	f.DurationVar(&scrapeFlags.delay, "delay", 0, "Pause after every successful company (default SCRAPER_PAGE_DELAY).")
	f.StringVar(&scrapeFlags.token, "token", "", "Session token (default: the selected account's).")
	f.StringVarP(&scrapeFlags.output, "output", "o", "", "Output CSV path (default OUTPUT_DIR/OUTPUT_FILENAME).")
	f.BoolVar(&scrapeFlags.locations, "locations", false, "Also collect employees per country (info only).")
	f.StringVar(&scrapeFlags.jobLocation, "job-location", "", "Location filter for job searches (jobs only).")
	f.BoolVar(&scrapeFlags.headless, "headless", true, "Run the browser without a window.")
	_ = scrapeCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --type <info|jobs> [--urls <url,...>] [--file <path>] [url...]",
	Short: "Runs one batch over the given company pages and writes the results to CSV.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseTaskKind(scrapeFlags.kind)
		if err != nil {
			return err
		}

		list := targets.Merge(nil, scrapeFlags.urls...)
		list = targets.Merge(list, args...)
		if scrapeFlags.file != "" {
			fromFile, err := targets.Load(scrapeFlags.file)
			if err != nil {
				return err
			}
			list = targets.Merge(list, fromFile...)
		}
		if len(list) == 0 {
			return errors.New("no company pages given, use --urls, --file or positional arguments")
		}

		var opts app.Options
		if cmd.Flags().Changed("headless") {
			opts.Headless = &scrapeFlags.headless
		}

		a, err := app.New(cmd.Context(), cfg, log, opts)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Close(ctx); err != nil {
				log.Warn("shutdown incomplete", "error", err)
			}
		}()

		req, err := a.Request(kind, list, scrapeFlags.token)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("delay") {
			req.Delay = scrapeFlags.delay
		}
		if flags.Changed("output") {
			req.OutputPath = scrapeFlags.output
		}
		if flags.Changed("locations") {
			req.IncludeLocations = scrapeFlags.locations
		}
		if flags.Changed("job-location") {
			req.JobLocation = scrapeFlags.jobLocation
		}

		state, runErr := a.Orchestrator.Run(cmd.Context(), req)
		if state.ID != "" {
			printSummary(state, req.OutputPath)
		}
		if runErr != nil && !errors.Is(runErr, task.ErrCancelled) {
			return fmt.Errorf("batch %s: %w", state.Status, runErr)
		}
		return nil
	},
}

func printSummary(state models.TaskState, output string) {
	t := newTable()
	t.SetTitle("Batch %s", state.ID)
	t.AppendRows([]table.Row{
		{"Type", state.Kind},
		{"Status", state.Status},
		{"Processed", fmt.Sprintf("%d / %d", state.Current, state.Total)},
		{"Succeeded", state.SuccessCount},
		{"Failed", state.FailCount},
	})
	if state.Jobs != nil {
		t.AppendRow(table.Row{"Jobs", *state.Jobs})
	}
	if state.FailReason != "" {
		t.AppendRow(table.Row{"Reason", state.FailReason})
	}
	if state.EndTime != nil {
		t.AppendRow(table.Row{"Duration", state.EndTime.Sub(state.StartTime).Round(time.Second)})
	}
	t.AppendRow(table.Row{"Output", output})
	t.Render()
}
