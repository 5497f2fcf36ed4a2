// Package validate collects per-field input errors for request bodies.
package validate

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets callers classify validation failures as ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return apperrors.ErrInvalidInput }

// Collector accumulates field errors. The first error per field wins.
type Collector struct {
	fields map[string]string
}

// Fail records msg for field.
func (c *Collector) Fail(field, msg string) {
	if c.fields == nil {
		c.fields = make(map[string]string)
	}
	if _, ok := c.fields[field]; !ok {
		c.fields[field] = msg
	}
}

// Length checks that the trimmed value has between min and max runes. A
// max of zero means unbounded.
func (c *Collector) Length(field, value string, min, max int) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n == 0 && min > 0:
		c.Fail(field, field+" is required")
	case n < min:
		c.Fail(field, fmt.Sprintf("%s must be at least %d characters", field, min))
	case max > 0 && n > max:
		c.Fail(field, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
}

// Email checks that value is a bare address.
func (c *Collector) Email(field, value string) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != strings.TrimSpace(value) {
		c.Fail(field, field+" must be a valid email address")
	}
}

// Err returns a *ValidationError when any field failed, else nil.
func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}
