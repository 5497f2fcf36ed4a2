package tokenizer

import (
	"reflect"
	"testing"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenize(t *testing.T) {
	got := terms(Tokenize("The Cats were RUNNING, on the roof-tops!"))
	want := []string{"cat", "runn", "roof", "top"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTokenizePositionsAreDense(t *testing.T) {
	tokens := Tokenize("a golang b gopher")
	if len(tokens) != 2 || tokens[0].Position != 0 || tokens[1].Position != 1 {
		t.Errorf("unexpected tokens %+v", tokens)
	}
}

func TestNormalizeMatchesTokenize(t *testing.T) {
	for _, w := range []string{"relational", "happiness", "posts", "go"} {
		tokens := Tokenize(w)
		if len(tokens) != 1 || tokens[0].Term != Normalize(w) {
			t.Errorf("%s: tokenize %v, normalize %q", w, tokens, Normalize(w))
		}
	}
	if Normalize("the") != "" || Normalize("x") != "" {
		t.Error("stop-words and single letters must not be indexed")
	}
}
