package analyzer

import "math"

// BM25 holds the Okapi BM25 parameters used to score keyword matches.
type BM25 struct {
	K1 float64
	B  float64
}

func DefaultBM25() BM25 {
	return BM25{K1: 1.2, B: 0.75}
}

// IDF is the smoothed inverse document frequency of a term that occurs in
// df of totalDocs documents.
func (p BM25) IDF(df, totalDocs int) float64 {
	n := float64(df)
	N := float64(totalDocs)
	return math.Log((N-n+0.5)/(n+0.5) + 1)
}

// TermScore is the contribution of one query term to one document.
func (p BM25) TermScore(tf int, idf float64, docLen int, avgDocLen float64) float64 {
	if tf == 0 {
		return 0
	}
	if avgDocLen <= 0 {
		avgDocLen = 1
	}
	t := float64(tf)
	return idf * (t * (p.K1 + 1)) / (t + p.K1*(1-p.B+p.B*float64(docLen)/avgDocLen))
}

// TermFrequencies counts tokens.
func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
