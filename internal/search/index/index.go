// Package index is the in-memory inverted index over post documents.
package index

import (
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/tokenizer"
)

// Document is a searchable post.
type Document struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Posting records how often a term occurs in one document.
type Posting struct {
	DocID     string
	Frequency int
}

// PostingList is ordered by DocID.
type PostingList []Posting

// Stats summarises the corpus for ranking.
type Stats struct {
	TotalDocs    int
	AvgDocLength float64
}

type docEntry struct {
	doc    Document
	length int
	terms  []string
}

// Index maps terms to postings. Upsert and Delete are idempotent.
type Index struct {
	mu       sync.RWMutex
	postings map[string]map[string]int
	docs     map[string]*docEntry
	totalLen int
}

func New() *Index {
	return &Index{
		postings: make(map[string]map[string]int),
		docs:     make(map[string]*docEntry),
	}
}

// Upsert indexes doc, replacing any earlier version with the same id.
func (x *Index) Upsert(doc Document) {
	tokens := tokenizer.Tokenize(doc.Content)
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t.Term]++
	}
	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(doc.PostID)
	for term, n := range freq {
		docs, ok := x.postings[term]
		if !ok {
			docs = make(map[string]int)
			x.postings[term] = docs
		}
		docs[doc.PostID] = n
	}
	x.docs[doc.PostID] = &docEntry{doc: doc, length: len(tokens), terms: terms}
	x.totalLen += len(tokens)
}

// Delete removes id and reports whether it was present.
func (x *Index) Delete(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(id)
}

func (x *Index) removeLocked(id string) bool {
	e, ok := x.docs[id]
	if !ok {
		return false
	}
	for _, term := range e.terms {
		docs := x.postings[term]
		delete(docs, id)
		if len(docs) == 0 {
			delete(x.postings, term)
		}
	}
	x.totalLen -= e.length
	delete(x.docs, id)
	return true
}

// Postings returns the documents containing term.
func (x *Index) Postings(term string) PostingList {
	x.mu.RLock()
	defer x.mu.RUnlock()
	docs := x.postings[term]
	out := make(PostingList, 0, len(docs))
	for id, n := range docs {
		out = append(out, Posting{DocID: id, Frequency: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// Doc returns the stored document and its length in terms.
func (x *Index) Doc(id string) (Document, int, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.docs[id]
	if !ok {
		return Document{}, 0, false
	}
	return e.doc, e.length, true
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{TotalDocs: len(x.docs)}
	if s.TotalDocs > 0 {
		s.AvgDocLength = float64(x.totalLen) / float64(s.TotalDocs)
	}
	return s
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Reset drops every document.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.postings = make(map[string]map[string]int)
	x.docs = make(map[string]*docEntry)
	x.totalLen = 0
}
