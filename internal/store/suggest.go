package store

import (
	"context"
	"sort"
	"strings"
)

// suggestLibraries returns up to 3 known library names whose normalized
// similarity to the input clears the threshold. Similarity is
// 1 - dist/maxLen over Levenshtein distance.
const (
	maxSuggestions      = 3
	suggestionThreshold = 0.7
)

func (s *Store) suggestLibraries(ctx context.Context, input string) []string {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM libraries ORDER BY name`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil
		}
		if sim := similarity(input, name); sim >= suggestionThreshold {
			candidates = append(candidates, scored{name: name, score: sim})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
