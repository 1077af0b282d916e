package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/places-scraper/internal/config"
	"github.com/jonathan/places-scraper/internal/db"
	"github.com/jonathan/places-scraper/internal/jobs"
	"github.com/jonathan/places-scraper/internal/scrape"
	"github.com/jonathan/places-scraper/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes REST endpoints for submitting scraping jobs,
streaming their progress, and downloading CSV artifacts.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runServe,
}

var (
	serveConfigPath string
	servePort       int
	serveOutputDir  string
	serveRegion     string
	serveHeadless   bool
	serveDBURL      string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")
	serveCmd.Flags().StringVarP(&serveOutputDir, "output-dir", "o", "", "Directory for CSV artifacts")
	serveCmd.Flags().StringVar(&serveRegion, "region", "", "Region suffix appended to every search query")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", true, "Run the browser headless")
	serveCmd.Flags().StringVar(&serveDBURL, "db-url", "", "PostgreSQL connection URL for job history (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := resolveConfig(cmd, serveConfigPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.OutputDir = serveOutputDir
	}
	if cmd.Flags().Changed("region") {
		cfg.Region = serveRegion
	}
	if cmd.Flags().Changed("headless") {
		cfg.Headless = serveHeadless
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = serveDBURL
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	// Job history persistence is optional; without a database the registry is
	// memory-only and history is lost on restart.
	var history *db.DB
	if cfg.DatabaseURL != "" {
		history, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := history.EnsureSchema(ctx); err != nil {
			history.Close()
			return fmt.Errorf("failed to prepare database: %w", err)
		}
		log.Println("[serve] job history persistence enabled")
	} else {
		log.Println("[serve] no DATABASE_URL; job history is memory-only")
	}

	orch := buildOrchestrator(cfg, history)

	srvCfg := server.Config{
		Port:         cfg.Port,
		Orchestrator: orch,
		SubmitLimit:  cfg.SubmitLimit,
		SubmitWindow: time.Duration(cfg.SubmitWindowSeconds) * time.Second,
	}
	// A nil *db.DB must stay a nil interface.
	if history != nil {
		srvCfg.History = history
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

// resolveConfig loads the optional config file, validates it, and fills the
// remaining fields from built-in defaults.
func resolveConfig(_ *cobra.Command, path string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}
	return cfg.MergeWithDefaults(config.DefaultConfig()), nil
}

// buildOrchestrator wires the browser-backed producer factory into a fresh
// orchestrator using the resolved service configuration.
func buildOrchestrator(cfg config.Config, history *db.DB) *jobs.Orchestrator {
	mapsCfg := scrape.DefaultMapsConfig()
	mapsCfg.Region = cfg.Region
	mapsCfg.Headless = cfg.Headless
	mapsCfg.Verbose = cfg.Verbose

	orchCfg := jobs.Config{
		OutputDir:          cfg.OutputDir,
		CacheCapacity:      cfg.CacheCapacity,
		BatchSize:          cfg.BatchSize,
		DefaultConcurrency: cfg.Concurrency,
		MaxConcurrentJobs:  cfg.MaxConcurrentJobs,
		Retention:          time.Duration(cfg.RetentionSeconds) * time.Second,
	}

	// A nil *db.DB must become a nil interface, not a typed nil.
	var store jobs.HistoryStore
	if history != nil {
		store = history
	}
	return jobs.New(orchCfg, scrape.NewMapsFactory(mapsCfg), jobs.NewBus(), store)
}
