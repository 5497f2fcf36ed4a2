package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Adithya-Monish-Kumar-K/social-media-backend/internal/auth/token"
	apperrors "github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/social-media-backend/pkg/validate"
)

var errBadCredentials = apperrors.New(apperrors.ErrInvalidCredentials, http.StatusBadRequest, "Invalid credentials")

// RegisterInput is the register request body.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginInput is the login request body.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is returned after a successful register or login.
type Session struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Service implements registration and login.
type Service struct {
	store      Store
	issuer     *token.Issuer
	bcryptCost int
	logger     *slog.Logger
}

// NewService wires the service. A zero cost uses bcrypt.DefaultCost.
func NewService(store Store, issuer *token.Issuer, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      store,
		issuer:     issuer,
		bcryptCost: bcryptCost,
		logger:     slog.Default().With("component", "identity-service"),
	}
}

func validateRegister(in *RegisterInput) error {
	var c validate.Collector
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	c.Length("username", in.Username, 3, 50)
	c.Email("email", in.Email)
	c.Length("password", in.Password, 6, 72)
	return c.Err()
}

// Register creates a user and signs them in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := validateRegister(&in); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	u := &User{Username: in.Username, Email: in.Email, PasswordHash: string(hash)}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID)
	return s.session(u)
}

// Login verifies credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	var c validate.Collector
	c.Email("email", strings.TrimSpace(in.Email))
	c.Length("password", in.Password, 1, 0)
	if err := c.Err(); err != nil {
		return nil, err
	}

	u, err := s.store.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("login for unknown email")
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		s.logger.Warn("login with wrong password", "user_id", u.ID)
		return nil, errBadCredentials
	}
	return s.session(u)
}

func (s *Service) session(u *User) (*Session, error) {
	tok, exp, err := s.issuer.Issue(u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	return &Session{UserID: u.ID, Username: u.Username, AccessToken: tok, ExpiresAt: exp}, nil
}
