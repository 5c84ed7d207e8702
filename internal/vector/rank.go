package vector

import "sort"

// Candidate is a stored vector identified by Key.
type Candidate struct {
	Key    string
	Vector []float32
}

// Scored is a candidate key with its similarity to a query.
type Scored struct {
	Key   string
	Score float64
}

// TopK scores every candidate against query by exact cosine similarity
// and returns at most k results in descending order. Equal scores keep
// the order of candidates. Candidates whose dimension differs from the
// query are skipped and counted in skipped.
func TopK(query []float32, candidates []Candidate, k int) (out []Scored, skipped int) {
	if k <= 0 || len(query) == 0 {
		return nil, 0
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			skipped++
			continue
		}
		scored = append(scored, Scored{Key: c.Key, Score: CosineSimilarity(query, c.Vector)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, skipped
}
