package retriever

import (
	"math"
	"sort"

	"coursekb/internal/domain"
)

const (
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// Fuse merges the vector and keyword branches by weighted score fusion.
// Each branch is min-max normalized into [0,1] within its own results, a
// chunk missing from a branch contributes 0 for it. Ties keep the vector
// branch order, chunks found only by keyword follow by ID.
func Fuse(vector, keyword []domain.ScoredChunk, vectorWeight, keywordWeight float64) []domain.ScoredChunk {
	type entry struct {
		chunk      domain.Chunk
		score      float64
		vectorRank int
	}

	entries := make(map[string]*entry, len(vector)+len(keyword))
	order := make([]string, 0, len(vector)+len(keyword))

	vnorm := normalize(vector)
	for i, sc := range vector {
		if _, dup := entries[sc.Chunk.ID]; dup {
			continue
		}
		entries[sc.Chunk.ID] = &entry{chunk: sc.Chunk, score: vectorWeight * vnorm[i], vectorRank: i}
		order = append(order, sc.Chunk.ID)
	}

	knorm := normalize(keyword)
	for i, sc := range keyword {
		e, ok := entries[sc.Chunk.ID]
		if !ok {
			e = &entry{chunk: sc.Chunk, vectorRank: math.MaxInt}
			entries[sc.Chunk.ID] = e
			order = append(order, sc.Chunk.ID)
		}
		e.score += keywordWeight * knorm[i]
	}

	fused := make([]*entry, 0, len(order))
	for _, id := range order {
		fused = append(fused, entries[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].vectorRank != fused[j].vectorRank {
			return fused[i].vectorRank < fused[j].vectorRank
		}
		return fused[i].chunk.ID < fused[j].chunk.ID
	})

	out := make([]domain.ScoredChunk, len(fused))
	for i, e := range fused {
		out[i] = domain.ScoredChunk{Chunk: e.chunk, Score: e.score}
	}
	return out
}

// normalize maps scores into [0,1]. A branch whose scores are all equal
// normalizes to 1.
func normalize(results []domain.ScoredChunk) []float64 {
	out := make([]float64, len(results))
	if len(results) == 0 {
		return out
	}

	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		lo = math.Min(lo, r.Score)
		hi = math.Max(hi, r.Score)
	}
	for i, r := range results {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (r.Score - lo) / (hi - lo)
	}
	return out
}
