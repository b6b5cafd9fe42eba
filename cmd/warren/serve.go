package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/modelsteward/pkg/metrics"
	"github.com/spf13/cobra"
)

var modelsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Model Steward with a background metrics/health HTTP endpoint",
	Long: `Run the Model Steward as a long-lived process, exposing Prometheus
metrics and health/readiness/liveness endpoints for an external
supervisor. Download requests still arrive through the embedding
surface (pkg/models.New) or a future admin layer; this command exists
to keep the steward's state warm and its metrics scrapeable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- err
			}
		}()

		fmt.Printf("Model Steward running. State dir watched, catalog has %d entries.\n", len(s.List()))
		fmt.Printf("Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			return fmt.Errorf("metrics server error: %w", err)
		}

		return nil
	},
}

func init() {
	modelsServeCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics and health endpoints on")
	modelsCmd.AddCommand(modelsServeCmd)
}
