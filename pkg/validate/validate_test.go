package validate

import (
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
)

func TestCollector(t *testing.T) {
	var c Collector
	c.Length("username", "  ", 3, 50)
	c.Length("password", "abc", 6, 0)
	c.Email("email", "not-an-email")
	c.Email("email", "also bad")

	err := c.Err()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Fields) != 3 {
		t.Errorf("expected 3 fields, got %v", ve.Fields)
	}
	if ve.Fields["username"] != "username is required" {
		t.Errorf("unexpected message %q", ve.Fields["username"])
	}
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Error("validation errors must classify as invalid input")
	}
	if apperrors.HTTPStatusCode(err) != 400 {
		t.Errorf("expected 400, got %d", apperrors.HTTPStatusCode(err))
	}
}

func TestCollectorValid(t *testing.T) {
	var c Collector
	c.Length("username", "alice", 3, 50)
	c.Email("email", "alice@example.com")
	if err := c.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
