package auth

// Package auth registers users, issues bearer tokens and resolves them
// back to user ids.

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 80
	minPasswordLen = 6

	// TokenType is returned next to every access token
	TokenType = "bearer"
)

// UserStore is the subset of storage the gate needs
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUserByID(ctx context.Context, id int64) (*types.User, error)
}

// Config configures the Service
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// Service is the access gate in front of every protected route
type Service struct {
	users  UserStore
	tokens *TokenIssuer
	cost   int
}

// NewService creates a new access gate
func NewService(users UserStore, cfg Config) *Service {
	return &Service{
		users:  users,
		tokens: NewTokenIssuer(cfg.Secret, cfg.TokenTTL),
		cost:   cfg.BcryptCost,
	}
}

// Register validates and stores a new user, returning its id
func (s *Service) Register(ctx context.Context, username, email, password string) (int64, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return 0, types.InvalidArgument("Username must be between 3 and 80 characters")
	}
	if !validEmail(email) {
		return 0, types.InvalidArgument("Invalid email address")
	}
	if len(password) < minPasswordLen {
		return 0, types.InvalidArgument("Password must be at least 6 characters")
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return 0, types.Internal("Registration failed", err)
	}

	id, err := s.users.CreateUser(ctx, &types.User{
		Username:       username,
		Email:          email,
		HashedPassword: hash,
		Role:           types.DefaultRole,
		CreatedAt:      time.Now().UTC(),
	})
	switch {
	case errors.Is(err, types.ErrEmailTaken):
		return 0, types.Conflict("Email already registered", err)
	case errors.Is(err, types.ErrUsernameTaken):
		return 0, types.Conflict("Username already taken", err)
	case err != nil:
		log.Error().Err(err).Str("username", username).Msg("Failed to create user")
		return 0, types.Internal("Registration failed", err)
	}

	log.Info().Int64("user_id", id).Str("username", username).Msg("User registered")
	return id, nil
}

// Login checks credentials and issues an access token
func (s *Service) Login(ctx context.Context, email, password string) (*types.LoginResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, types.Unauthorized("Invalid credentials", nil)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.Unauthorized("Invalid credentials", err)
		}
		return nil, types.Internal("Login failed", err)
	}
	if !CheckPassword(password, user.HashedPassword) {
		return nil, types.Unauthorized("Invalid credentials", nil)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, types.Internal("Login failed", err)
	}

	return &types.LoginResponse{
		AccessToken: token,
		TokenType:   TokenType,
		User: types.UserInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
		},
	}, nil
}

// Authenticate resolves a bearer token to a user id. Tokens of deleted users
// are rejected; a store outage does not reject an otherwise valid token.
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, types.Unauthorized("Invalid or expired token", nil)
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return 0, types.Unauthorized("Invalid or expired token", err)
	}

	// The signed subject stands on its own when the store cannot answer
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return 0, types.Unauthorized("Invalid or expired token", err)
		}
		log.Warn().
			Err(err).
			Int64("user_id", userID).
			Msg("User lookup failed, accepting verified token")
	}
	return userID, nil
}

// validEmail accepts a bare address such as "a@b.co" but not "Name <a@b.co>"
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}
