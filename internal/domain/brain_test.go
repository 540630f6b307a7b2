package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		chunks int
		title  string
	}{
		{0, "Untrained"},
		{1, "Rookie"},
		{24, "Rookie"},
		{25, "Apprentice"},
		{100, "Closer"},
		{249, "Closer"},
		{250, "Master Closer"},
		{500, "Sales Sage"},
		{10000, "Sales Sage"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.title, LevelFor(tt.chunks).Title)
		})
	}
}

func TestComputeBrainStats(t *testing.T) {
	now := time.Now()
	stats := ComputeBrainStats("owner1", 2, map[Category]int{
		CategoryObjectionHandling: 12,
		CategoryGeneralWisdom:     15,
		CategoryOpeningLines:      0,
	}, now)

	assert.Equal(t, "owner1", stats.OwnerID)
	assert.Equal(t, 2, stats.TotalSources)
	assert.Equal(t, 27, stats.TotalChunks)
	assert.Len(t, stats.CategoryBreakdown, 2)
	assert.Equal(t, "Apprentice", stats.Title)
	assert.Equal(t, now, stats.UpdatedAt)
	assert.False(t, stats.IsEmpty())
}

func TestEmptyBrainStats(t *testing.T) {
	stats := EmptyBrainStats("owner1")
	assert.Equal(t, 0, stats.TotalChunks)
	assert.Empty(t, stats.CategoryBreakdown)
	assert.Equal(t, "Untrained", stats.Title)
	assert.True(t, stats.IsEmpty())

	var missing *BrainStats
	assert.True(t, missing.IsEmpty())
}

func TestComputeBrainStats_PropertyTotalsMatchBreakdown(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		breakdown := make(map[Category]int)
		want := 0
		for _, c := range AllCategories {
			n := rapid.IntRange(0, 200).Draw(rt, string(c))
			breakdown[c] = n
			want += n
		}

		stats := ComputeBrainStats("owner", rapid.IntRange(0, 50).Draw(rt, "sources"), breakdown, time.Time{})

		if stats.TotalChunks != want {
			rt.Fatalf("TotalChunks = %d, want %d", stats.TotalChunks, want)
		}
		for c, n := range stats.CategoryBreakdown {
			if n <= 0 {
				rt.Fatalf("category %s kept with count %d", c, n)
			}
		}
		if want == 0 && len(stats.CategoryBreakdown) != 0 {
			rt.Fatalf("empty owner has breakdown %v", stats.CategoryBreakdown)
		}
		if LevelFor(want).Title != stats.Title {
			rt.Fatalf("title %q does not match level for %d chunks", stats.Title, want)
		}
	})
}
