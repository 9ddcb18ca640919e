package store

import (
	"math"
	"sort"

	"coursekb/internal/domain"
)

// CosineScore converts cosine distance to a similarity: 1 - (1 - cos),
// floored at 0.
func CosineScore(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	distance := 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
	score := 1 - distance
	if score < 0 {
		return 0
	}
	return score
}

// SortScored orders by score descending, then chunk ID ascending, and keeps
// at most topK results. A negative topK keeps all of them.
func SortScored(results []domain.ScoredChunk, topK int) []domain.ScoredChunk {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
