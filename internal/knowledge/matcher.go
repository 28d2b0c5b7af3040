package knowledge

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/truthd/internal/store"
)

// MatchThreshold is the minimum similarity, inclusive, for a candidate to
// count as an update to an existing item.
const MatchThreshold = 0.78

// Match is the best stored item for a candidate embedding.
type Match struct {
	TruthItemID      int64
	CurrentVersionID *int64
	Similarity       float64
}

// Matcher finds the nearest stored item to a candidate vector. ok is false
// when nothing reaches the threshold.
type Matcher interface {
	FindBestMatch(ctx context.Context, tx store.KnowledgeTx, vec []float32) (m Match, ok bool, err error)
}

// LinearMatcher scans every stored embedding.
type LinearMatcher struct {
	Threshold float64
	// Similarity defaults to Cosine.
	Similarity func(a, b []float32) float64
}

// NewLinearMatcher returns a LinearMatcher at MatchThreshold.
func NewLinearMatcher() *LinearMatcher {
	return &LinearMatcher{Threshold: MatchThreshold, Similarity: Cosine}
}

// FindBestMatch keeps the first item with the strictly highest similarity,
// so exact ties resolve to the lowest item id.
func (m *LinearMatcher) FindBestMatch(ctx context.Context, tx store.KnowledgeTx, vec []float32) (Match, bool, error) {
	rows, err := tx.ListEmbeddings(ctx)
	if err != nil {
		return Match{}, false, fmt.Errorf("list embeddings: %w", err)
	}
	sim := m.Similarity
	if sim == nil {
		sim = Cosine
	}

	var (
		best  Match
		found bool
	)
	for _, row := range rows {
		s := sim(vec, row.Vector)
		if !found || s > best.Similarity {
			best = Match{TruthItemID: row.TruthItemID, CurrentVersionID: row.CurrentVersionID, Similarity: s}
			found = true
		}
	}
	if !found || best.Similarity < m.Threshold {
		return Match{}, false, nil
	}
	return best, true, nil
}
