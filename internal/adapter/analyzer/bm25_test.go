package analyzer

import "testing"

func TestBM25_RareTermsWeighMore(t *testing.T) {
	p := DefaultBM25()

	rare := p.IDF(1, 100)
	common := p.IDF(90, 100)
	if rare <= common {
		t.Errorf("expected rare term idf %f > common term idf %f", rare, common)
	}
	if common <= 0 {
		t.Errorf("smoothed idf should stay positive, got %f", common)
	}
}

func TestBM25_TermScore(t *testing.T) {
	p := DefaultBM25()
	idf := p.IDF(2, 10)

	if got := p.TermScore(0, idf, 10, 10); got != 0 {
		t.Errorf("expected 0 for absent term, got %f", got)
	}

	one := p.TermScore(1, idf, 10, 10)
	three := p.TermScore(3, idf, 10, 10)
	if three <= one {
		t.Errorf("higher tf should score higher: tf=1 %f, tf=3 %f", one, three)
	}

	short := p.TermScore(1, idf, 5, 10)
	long := p.TermScore(1, idf, 40, 10)
	if short <= long {
		t.Errorf("shorter documents should score higher: short %f, long %f", short, long)
	}
}

func TestTermFrequencies(t *testing.T) {
	tf := TermFrequencies([]string{"loop", "range", "loop"})
	if tf["loop"] != 2 || tf["range"] != 1 || len(tf) != 2 {
		t.Errorf("unexpected frequencies: %v", tf)
	}
}
