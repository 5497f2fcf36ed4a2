package eventbus

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"post.created", "post.created", true},
		{"post.created", "post.deleted", false},
		{"post.*", "post.created", true},
		{"post.*", "post", false},
		{"post.*", "post.created.v2", false},
		{"post.#", "post", true},
		{"post.#", "post.created.v2", true},
		{"#", "anything.at.all", true},
		{"#.deleted", "post.deleted", true},
		{"#.deleted", "deleted", true},
		{"*.deleted", "media.post.deleted", false},
		{"post.#.v2", "post.created.v2", true},
		{"post.#.v2", "post.v2", true},
		{"post.#.v2", "post.created.v3", false},
	}
	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.key); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestMatchTopicProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	words := gen.SliceOfN(4, gen.Identifier())

	properties.Property("a key always matches itself and #", prop.ForAll(
		func(ws []string) bool {
			if len(ws) == 0 {
				return true
			}
			key := strings.Join(ws, ".")
			return MatchTopic(key, key) && MatchTopic("#", key)
		},
		words,
	))

	properties.Property("replacing one word with * still matches", prop.ForAll(
		func(ws []string, idx int) bool {
			if len(ws) == 0 {
				return true
			}
			i := idx % len(ws)
			p := append([]string(nil), ws...)
			p[i] = "*"
			return MatchTopic(strings.Join(p, "."), strings.Join(ws, "."))
		},
		words,
		gen.IntRange(0, 100),
	))

	properties.Property("a longer key never matches a literal pattern", prop.ForAll(
		func(ws []string, extra string) bool {
			if len(ws) == 0 {
				return true
			}
			key := strings.Join(ws, ".")
			return !MatchTopic(key, key+"."+extra)
		},
		words,
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestValidatePattern(t *testing.T) {
	for _, p := range []string{"", "post..created", "post.cre*"} {
		if err := validatePattern(p); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
	if err := validateRoutingKey("post.*"); err == nil {
		t.Error("routing keys must not contain wildcards")
	}
}
