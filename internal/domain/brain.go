package domain

import "time"

// BrainLevel is one rung of the knowledge-volume ladder.
type BrainLevel struct {
	Level     int
	Title     string
	MinChunks int
}

// BrainLevels is ordered from lowest to highest threshold.
var BrainLevels = []BrainLevel{
	{Level: 0, Title: "Untrained", MinChunks: 0},
	{Level: 1, Title: "Rookie", MinChunks: 1},
	{Level: 2, Title: "Apprentice", MinChunks: 25},
	{Level: 3, Title: "Closer", MinChunks: 100},
	{Level: 4, Title: "Master Closer", MinChunks: 250},
	{Level: 5, Title: "Sales Sage", MinChunks: 500},
}

// BrainStats is the per-owner rollup of the knowledge store.
type BrainStats struct {
	OwnerID           string
	TotalSources      int
	TotalChunks       int
	CategoryBreakdown map[Category]int
	Level             int
	Title             string
	UpdatedAt         time.Time
}

// IsEmpty reports whether the owner has no knowledge to draw on.
func (b *BrainStats) IsEmpty() bool {
	return b == nil || b.TotalChunks < 1
}

// LevelFor returns the highest level whose threshold the chunk count meets.
func LevelFor(totalChunks int) BrainLevel {
	current := BrainLevels[0]
	for _, l := range BrainLevels {
		if totalChunks >= l.MinChunks {
			current = l
		}
	}
	return current
}

// ComputeBrainStats rebuilds the whole aggregate from current counts. Zero-count
// categories are omitted so an owner with no chunks has an empty breakdown.
func ComputeBrainStats(ownerID string, readySources int, breakdown map[Category]int, now time.Time) *BrainStats {
	stats := &BrainStats{
		OwnerID:           ownerID,
		TotalSources:      readySources,
		CategoryBreakdown: make(map[Category]int, len(breakdown)),
		UpdatedAt:         now,
	}
	for category, count := range breakdown {
		if count <= 0 {
			continue
		}
		stats.CategoryBreakdown[category] = count
		stats.TotalChunks += count
	}
	level := LevelFor(stats.TotalChunks)
	stats.Level = level.Level
	stats.Title = level.Title
	return stats
}

// EmptyBrainStats is returned for owners that have never been recomputed.
func EmptyBrainStats(ownerID string) *BrainStats {
	return ComputeBrainStats(ownerID, 0, nil, time.Time{})
}
