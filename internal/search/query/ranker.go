package query

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Hit is a scored document.
type Hit struct {
	index.Document
	Score float64 `json:"score"`
}

// Execute matches plan against x and returns the top limit hits plus the
// total number of matching documents.
func Execute(x *index.Index, plan *Plan, limit int) ([]Hit, int) {
	if plan.Empty() {
		return []Hit{}, 0
	}
	stats := x.Stats()

	scores := make(map[string]float64)
	matched := make(map[string]int)
	for _, term := range plan.Terms {
		postings := x.Postings(term)
		if len(postings) == 0 && plan.Mode == ModeAll {
			return []Hit{}, 0
		}
		idf := computeIDF(stats.TotalDocs, len(postings))
		for _, p := range postings {
			_, length, ok := x.Doc(p.DocID)
			if !ok {
				continue
			}
			scores[p.DocID] += idf * computeTFNorm(float64(p.Frequency), float64(length), stats.AvgDocLength)
			matched[p.DocID]++
		}
	}
	for _, term := range plan.ExcludeTerms {
		for _, p := range x.Postings(term) {
			delete(scores, p.DocID)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		if plan.Mode == ModeAll && matched[id] != len(plan.Terms) {
			continue
		}
		doc, _, ok := x.Doc(id)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Document: doc, Score: math.Round(score*10000) / 10000})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].PostID < hits[j].PostID
	})
	total := len(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, total
}

func computeIDF(totalDocs, docFreq int) float64 {
	return math.Log((float64(totalDocs)-float64(docFreq))/(float64(docFreq)+0.5) + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	return termFreq * (k1 + 1) / (termFreq + k1*(1-b+b*docLength/avgDocLength))
}
