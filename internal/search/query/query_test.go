package query

import (
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/search/index"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		terms   []string
		exclude []string
		mode    Mode
	}{
		{"golang gophers", []string{"golang", "gopher"}, nil, ModeAny},
		{"golang AND gophers", []string{"golang", "gopher"}, nil, ModeAll},
		{"golang NOT rust", []string{"golang"}, []string{"rust"}, ModeAny},
		{"the of golang golang", []string{"golang"}, nil, ModeAny},
		{"   ", nil, nil, ModeAny},
	}
	for _, tt := range tests {
		p := Parse(tt.in)
		if !reflect.DeepEqual(p.Terms, tt.terms) || !reflect.DeepEqual(p.ExcludeTerms, tt.exclude) || p.Mode != tt.mode {
			t.Errorf("Parse(%q) = %+v", tt.in, p)
		}
	}
}

func corpus() *index.Index {
	x := index.New()
	x.Upsert(index.Document{PostID: "p1", Content: "golang golang golang concurrency"})
	x.Upsert(index.Document{PostID: "p2", Content: "golang generics and interfaces in practice today"})
	x.Upsert(index.Document{PostID: "p3", Content: "rust ownership"})
	x.Upsert(index.Document{PostID: "p4", Content: "gardening tips"})
	return x
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.PostID
	}
	return out
}

func TestExecuteRanksByBM25(t *testing.T) {
	hits, total := Execute(corpus(), Parse("golang"), 10)
	if total != 2 || !reflect.DeepEqual(ids(hits), []string{"p1", "p2"}) {
		t.Errorf("got %v (%d)", ids(hits), total)
	}
	if hits[0].Score <= hits[1].Score {
		t.Error("higher term frequency should score higher")
	}
}

func TestExecuteModes(t *testing.T) {
	x := corpus()
	if hits, _ := Execute(x, Parse("golang rust"), 10); len(hits) != 3 {
		t.Errorf("OR query: got %v", ids(hits))
	}
	if hits, _ := Execute(x, Parse("golang AND concurrency"), 10); !reflect.DeepEqual(ids(hits), []string{"p1"}) {
		t.Errorf("AND query: got %v", ids(hits))
	}
	if hits, _ := Execute(x, Parse("golang AND missing"), 10); len(hits) != 0 {
		t.Errorf("AND with unknown term must be empty, got %v", ids(hits))
	}
	if hits, _ := Execute(x, Parse("golang NOT concurrency"), 10); !reflect.DeepEqual(ids(hits), []string{"p2"}) {
		t.Errorf("NOT query: got %v", ids(hits))
	}
}

func TestExecuteLimit(t *testing.T) {
	hits, total := Execute(corpus(), Parse("golang rust gardening"), 2)
	if len(hits) != 2 || total != 4 {
		t.Errorf("got %d hits of %d", len(hits), total)
	}
}
