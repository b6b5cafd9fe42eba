package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/modelsteward/pkg/events"
	"github.com/cuemby/modelsteward/pkg/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:     "models",
	Aliases: []string{"model"},
	Short:   "Manage cached model artifacts",
}

// stewardFromFlags builds a Config from --config (if given) or --state-dir
// and constructs a Steward. Callers are responsible for closing it.
func stewardFromFlags(cmd *cobra.Command) (*models.Steward, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err := models.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return models.New(cfg)
	}

	stateDir, _ := cmd.Flags().GetString("state-dir")
	return models.New(models.Config{StateDir: stateDir})
}

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached and in-progress model artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		entries := s.List()
		if len(entries) == 0 {
			fmt.Println("No models found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"ID", "PROVIDER", "STATUS", "BYTES", "SHA256"})
		for _, e := range entries {
			digest := e.SHA256
			if len(digest) > 12 {
				digest = digest[:12] + "..."
			}
			t.AppendRow(table.Row{e.ID, e.Provider, e.Status, e.Bytes, digest})
		}
		t.Render()
		return nil
	},
}

var modelsPullCmd = &cobra.Command{
	Use:   "pull ID",
	Short: "Fetch a model artifact into the content-addressed store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		url, _ := cmd.Flags().GetString("url")
		sha256, _ := cmd.Flags().GetString("sha256")
		provider, _ := cmd.Flags().GetString("provider")

		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		broker := s.Broker()
		sub := broker.Subscribe()
		defer broker.Unsubscribe(sub)

		if err := s.StartDownload(models.StartDownloadRequest{
			ID: id, URL: url, Provider: provider, SHA256: sha256,
		}); err != nil {
			return err
		}

		for ev := range sub {
			if ev.Topic != events.TopicDownloadProgress {
				continue
			}
			pe, ok := ev.Payload.(models.ProgressEvent)
			if !ok || pe.ID != id {
				continue
			}
			switch pe.Status {
			case "downloading":
				fmt.Printf("\r%s: %.1f%% (%d/%d bytes)", id, pe.Percent, pe.Downloaded, pe.Total)
			case "complete":
				fmt.Printf("\n%s: complete (%d bytes)\n", id, pe.Bytes)
				return nil
			case "canceled":
				fmt.Printf("\n%s: canceled\n", id)
				return nil
			case "error":
				fmt.Printf("\n%s: error (%s)\n", id, pe.ErrorCode)
				return fmt.Errorf("download failed: %s", pe.ErrorCode)
			case "coalesced":
				fmt.Printf("%s: coalesced onto %v\n", id, pe.Extra["primary"])
			}
		}
		return nil
	},
}

var modelsCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel an in-flight download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		s.CancelDownload(args[0])
		fmt.Printf("cancel requested for %s\n", args[0])
		return nil
	},
}

var modelsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep the content-addressed store for artifacts no longer referenced by the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttlHours, _ := cmd.Flags().GetInt("ttl-hours")
		verbose, _ := cmd.Flags().GetBool("verbose")

		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.CASGC(ttlHours, verbose)
		if err != nil {
			return err
		}

		fmt.Printf("kept: %d, deleted: %d, reclaimed: %d bytes\n", result.Kept, result.Deleted, result.DeletedBytes)
		if verbose {
			for _, r := range result.Records {
				fmt.Printf("  removed %s (%d bytes, last modified %s)\n", r.SHA256, r.Bytes, r.LastModified.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var modelsHashesCmd = &cobra.Command{
	Use:   "hashes",
	Short: "Page through the digest-to-provenance index",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")
		sortBy, _ := cmd.Flags().GetString("sort")
		order, _ := cmd.Flags().GetString("order")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := stewardFromFlags(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		page := s.HashesPage(limit, offset, provider, model, sortBy, order)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"SHA256", "BYTES", "PROVIDERS", "MODELS"})
		for _, it := range page.Items {
			digest := it.SHA256
			if len(digest) > 16 {
				digest = digest[:16] + "..."
			}
			t.AppendRow(table.Row{digest, it.Bytes, it.ProvidersCount, len(it.Models)})
		}
		t.Render()
		fmt.Printf("showing %d of %d (offset %d)\n", page.Count, page.Total, page.Offset)
		return nil
	},
}

func init() {
	modelsPullCmd.Flags().String("url", "", "Source URL (omit to reuse the catalog's recorded URL)")
	modelsPullCmd.Flags().String("sha256", "", "Expected SHA-256 digest, 64 lowercase hex characters (required)")
	modelsPullCmd.Flags().String("provider", "", "Provider label recorded alongside the catalog entry")
	modelsPullCmd.MarkFlagRequired("sha256")

	modelsGCCmd.Flags().Int("ttl-hours", 0, "Only remove artifacts whose last modification is older than this many hours")
	modelsGCCmd.Flags().Bool("verbose", false, "List every artifact removed")

	modelsHashesCmd.Flags().Int("limit", 50, "Page size")
	modelsHashesCmd.Flags().Int("offset", 0, "Page offset")
	modelsHashesCmd.Flags().String("provider", "", "Filter by provider")
	modelsHashesCmd.Flags().String("model", "", "Filter by model id")
	modelsHashesCmd.Flags().String("sort", "bytes", "Sort field: bytes, sha256, path, or providers_count")
	modelsHashesCmd.Flags().String("order", "desc", "Sort order: asc or desc")
	modelsHashesCmd.Flags().Bool("json", false, "Emit the raw page as JSON")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsPullCmd)
	modelsCmd.AddCommand(modelsCancelCmd)
	modelsCmd.AddCommand(modelsGCCmd)
	modelsCmd.AddCommand(modelsHashesCmd)
}
