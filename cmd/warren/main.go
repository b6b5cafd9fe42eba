package main

import (
	"fmt"
	"os"

	"github.com/cuemby/modelsteward/pkg/log"
	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren Model Steward - content-addressed model download and cache manager",
	Long: `Warren's Model Steward fetches, verifies, and caches binary model
artifacts with bounded concurrency, resumable transfers, request
coalescing, and a content-addressed store, exposed here as a
single-binary CLI.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warren version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("state-dir", "/var/lib/warren", "State directory for the model cache and catalog")
	rootCmd.PersistentFlags().String("config", "", "Path to a models.yaml config file (overrides --state-dir and other flags)")

	cobra.OnInitialize(initLogging)

	metrics.SetVersion(Version)

	rootCmd.AddCommand(modelsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
