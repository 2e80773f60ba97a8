package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// User is a registered account. Games reference users by ID.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users. Lookups of a missing user return an error.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByID(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func validateSignup(req SignupRequest) error {
	u := req.Username
	if len(u) < 3 || len(u) > 24 {
		return errors.New("username must be 3 to 24 characters")
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("username: letters, numbers, underscore only")
		}
	}
	if n := len(strings.TrimSpace(req.DisplayName)); n == 0 || n > 40 {
		return errors.New("display name must be 1 to 40 characters")
	}
	if len(req.Password) < 8 || len(req.Password) > 100 {
		return errors.New("password must be 8 to 100 characters")
	}
	return nil
}

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Service registers and authenticates users.
type Service struct {
	store  Store
	tokens *Tokens
}

// NewService creates an auth service.
func NewService(store Store, tokens *Tokens) *Service {
	return &Service{store: store, tokens: tokens}
}

// Tokens returns the token issuer used by the service.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Middleware is RequireAuth bound to the service's tokens and store.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return RequireAuth(s.tokens, s.store)
}

// Signup creates a user. Validation failures are returned as *InputError.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := validateSignup(req); err != nil {
		return nil, &InputError{Err: err}
	}
	if _, err := s.store.UserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	}
	h, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: h,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks credentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*User, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil || !checkPassword(u.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// User returns a user by ID.
func (s *Service) User(ctx context.Context, id string) (*User, error) {
	return s.store.UserByID(ctx, id)
}

// Users lists all users.
func (s *Service) Users(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// InputError wraps a signup validation failure.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }
