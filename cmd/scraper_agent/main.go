// Package main provides the entry point for the places scraper service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scraper_agent",
	Short: "Google Maps business listings scraper",
	Long:  "Scrapes business listings from Google Maps across multiple areas, deduplicates them, and writes CSV artifacts. Runs as a REST API server or as a one-shot CLI job.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
