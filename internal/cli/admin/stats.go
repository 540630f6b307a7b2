package admin

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/closerbrain/internal/domain"
	"github.com/cloo-solutions/closerbrain/internal/repository"
	"github.com/cloo-solutions/closerbrain/internal/service"
)

// StatsCmd recomputes and prints an owner's brain stats.
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Recompute brain stats",
		Long:  "Recompute the brain stats of an owner from their ready sources and print them",
		RunE:  runStats,
	}

	cmd.Flags().String("owner", "", "Owner ID")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ownerID, _ := cmd.Flags().GetString("owner")
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

	brain := service.NewBrainService(
		repository.NewSourceRepository(pool),
		repository.NewChunkRepository(pool),
		repository.NewBrainStatsRepository(pool),
	)
	stats, err := brain.Recompute(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to recompute brain stats: %w", err)
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), statsOutput(stats))
	}
	printStats(cmd.OutOrStdout(), stats)
	return nil
}

type statsJSON struct {
	OwnerID           string         `json:"owner_id"`
	TotalSources      int            `json:"total_sources"`
	TotalChunks       int            `json:"total_chunks"`
	CategoryBreakdown map[string]int `json:"category_breakdown"`
	Level             int            `json:"level"`
	Title             string         `json:"title"`
}

func statsOutput(s *domain.BrainStats) *statsJSON {
	if s == nil {
		return nil
	}
	breakdown := make(map[string]int, len(s.CategoryBreakdown))
	for c, n := range s.CategoryBreakdown {
		breakdown[string(c)] = n
	}
	return &statsJSON{
		OwnerID:           s.OwnerID,
		TotalSources:      s.TotalSources,
		TotalChunks:       s.TotalChunks,
		CategoryBreakdown: breakdown,
		Level:             s.Level,
		Title:             s.Title,
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
