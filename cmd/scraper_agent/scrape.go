package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/places-scraper/internal/observability"
	"github.com/jonathan/places-scraper/internal/types"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run a single scraping job from the command line",
	Long: `Run one scraping job to completion without starting the server.

The search term and areas are combined into per-area queries, results are
deduplicated across areas, and accepted listings are written to a CSV file.`,
	RunE: runScrape,
}

var (
	scrapeConfigPath  string
	scrapeSearch      string
	scrapeAreas       []string
	scrapeTotal       int
	scrapeOutput      string
	scrapeAppend      bool
	scrapeConcurrency int
	scrapeRegion      string
	scrapeHeadless    bool
	scrapeVerbose     bool
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	scrapeCmd.Flags().StringVarP(&scrapeSearch, "search", "s", "", "Business type to search for (required)")
	scrapeCmd.Flags().StringSliceVarP(&scrapeAreas, "areas", "a", nil, "Comma-separated list of areas to search (required)")
	scrapeCmd.Flags().IntVarP(&scrapeTotal, "total", "t", 0, "Maximum results to accept per area (required)")
	scrapeCmd.Flags().StringVarP(&scrapeOutput, "output", "o", "", "Output CSV file name (required)")
	scrapeCmd.Flags().BoolVar(&scrapeAppend, "append", false, "Append to an existing CSV instead of overwriting")
	scrapeCmd.Flags().IntVar(&scrapeConcurrency, "concurrency", 0, "Simultaneous area scrapers")
	scrapeCmd.Flags().StringVar(&scrapeRegion, "region", "", "Region suffix appended to every search query")
	scrapeCmd.Flags().BoolVar(&scrapeHeadless, "headless", true, "Run the browser headless")
	scrapeCmd.Flags().BoolVarP(&scrapeVerbose, "verbose", "v", false, "Print per-listing progress")

	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd, scrapeConfigPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("region") {
		cfg.Region = scrapeRegion
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = scrapeHeadless
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = scrapeVerbose
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = scrapeConcurrency
	}

	if scrapeSearch == "" {
		return fmt.Errorf("--search is required")
	}
	if len(scrapeAreas) == 0 {
		return fmt.Errorf("--areas is required")
	}
	if scrapeTotal <= 0 {
		return fmt.Errorf("--total must be a positive number")
	}
	if scrapeOutput == "" {
		return fmt.Errorf("--output is required")
	}

	spec := types.JobSpec{
		BusinessType:   strings.TrimSpace(scrapeSearch),
		Areas:          scrapeAreas,
		ResultsPerArea: scrapeTotal,
		OutputFile:     scrapeOutput,
		Append:         scrapeAppend,
		Concurrency:    cfg.Concurrency,
	}

	orch := buildOrchestrator(cfg, nil)

	id, err := orch.Submit(spec)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintJobSpec(id, spec)

	// Stream progress while the job runs. Events are best-effort; the final
	// aggregate below is authoritative.
	events, err := orch.Subscribe(id)
	if err == nil {
		for ev := range events {
			switch {
			case cfg.Verbose && ev.Record != nil:
				printer.PrintRecord(ev.Area, ev.Record)
			case cfg.Verbose, ev.AreaStatus == types.AreaCompleted, ev.AreaStatus == types.AreaFailed:
				printer.PrintProgress(ev)
			}
		}
	}

	agg, err := orch.Wait(id, 0)
	if err != nil {
		return err
	}
	printer.PrintAggregate(agg)

	if agg.Status == types.JobFailed {
		return fmt.Errorf("scraping job failed: %s", agg.Error)
	}
	fmt.Printf("Results saved to %s\n", agg.OutputFile)
	return nil
}
