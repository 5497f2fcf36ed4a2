package eventbus

import (
	"fmt"
	"strings"
)

// MatchTopic reports whether routingKey matches pattern under topic
// exchange rules.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

// IsLiteral reports whether pattern contains no wildcards.
func IsLiteral(pattern string) bool {
	for _, w := range strings.Split(pattern, ".") {
		if w == "*" || w == "#" {
			return false
		}
	}
	return true
}

func validateRoutingKey(key string) error {
	if key == "" {
		return fmt.Errorf("routing key is empty")
	}
	for _, w := range strings.Split(key, ".") {
		if w == "" {
			return fmt.Errorf("routing key %q has an empty word", key)
		}
		if w == "*" || w == "#" {
			return fmt.Errorf("routing key %q must not contain wildcards", key)
		}
	}
	return nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("pattern is empty")
	}
	for _, w := range strings.Split(pattern, ".") {
		if w == "" {
			return fmt.Errorf("pattern %q has an empty word", pattern)
		}
		if len(w) > 1 && strings.ContainsAny(w, "*#") {
			return fmt.Errorf("pattern %q: wildcards must be whole words", pattern)
		}
	}
	return nil
}
