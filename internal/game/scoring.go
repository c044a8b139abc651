package game

import (
	"math"
	"sort"
	"time"

	"github.com/MosChaimong123/gameedu-sub001/internal/domain"
)

// scorePoints computes the points for one answer. Correctness gates any
// award; the remainder decays linearly with response latency over the
// answer window and is rounded down. The same formula applies to every
// player, so ties are possible.
func scorePoints(base int, latency, limit time.Duration, correct bool) int {
	if !correct || base <= 0 || limit <= 0 {
		return 0
	}
	if latency < 0 {
		latency = 0
	}
	if latency > limit {
		latency = limit
	}
	remaining := 1 - float64(latency)/float64(limit)
	points := int(math.Floor(float64(base) * remaining))
	if points < 0 {
		points = 0
	}
	return points
}

// leaderboard builds the host-visible ordering: score descending, ties
// broken by lower cumulative latency, then by name for stability.
func leaderboard(players map[string]*domain.PlayerState) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Score:    p.Score,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		li := players[entries[i].PlayerID].TotalLatency()
		lj := players[entries[j].PlayerID].TotalLatency()
		if li != lj {
			return li < lj
		}
		return entries[i].Name < entries[j].Name
	})

	return entries
}
