package admin

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

// ProcessCmd runs one ingestion synchronously, outside the HTTP server.
func ProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a knowledge source",
		Long:  "Extract, summarize and chunk one source item, then print the resulting brain stats",
		RunE:  runProcess,
	}

	cmd.Flags().String("owner", "", "Owner ID")
	cmd.Flags().String("source", "", "Source item ID")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
	sourceID, _ := cmd.Flags().GetString("source")
	output, _ := cmd.Flags().GetString("output")

	debug, _ := cmd.Flags().GetBool("debug")
	cfg, log, err := loadConfig(debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	pool, err := getDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, log, pool)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.ingestion.Process(ctx, ownerID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to process source: %w", err)
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), processOutput(result))
	}
	printProcessResult(cmd.OutOrStdout(), result)
	return nil
}

type processJSON struct {
	SourceID        string     `json:"source_id"`
	Status          string     `json:"status"`
	ChunksExtracted int        `json:"chunks_extracted"`
	Summary         string     `json:"summary"`
	BrainStats      *statsJSON `json:"brain_stats"`
}

func processOutput(r *service.ProcessResult) processJSON {
	out := processJSON{
		ChunksExtracted: r.ChunksExtracted,
		Summary:         r.Summary.Summary,
		BrainStats:      statsOutput(r.BrainStats),
	}
	if r.Source != nil {
		out.SourceID = r.Source.ID
		out.Status = string(r.Source.Status)
	}
	return out
}

func printProcessResult(w io.Writer, r *service.ProcessResult) {
	if r.Source != nil {
		fmt.Fprintf(w, "Source %s: %s\n", r.Source.ID, r.Source.Status)
	}
	fmt.Fprintf(w, "Chunks extracted: %d\n", r.ChunksExtracted)
	if r.Summary.Summary != "" {
		fmt.Fprintf(w, "Summary: %s\n", r.Summary.Summary)
	}
	if r.BrainStats != nil {
		printStats(w, r.BrainStats)
	}
}

func printStats(w io.Writer, s *domain.BrainStats) {
	fmt.Fprintf(w, "Brain: level %d (%s), %d sources, %d chunks\n", s.Level, s.Title, s.TotalSources, s.TotalChunks)
	for _, c := range domain.AllCategories {
		if n := s.CategoryBreakdown[c]; n > 0 {
			fmt.Fprintf(w, "  %-20s %d\n", c, n)
		}
	}
}
