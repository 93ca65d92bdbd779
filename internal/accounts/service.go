// Package accounts provides user account and credential management.
package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/memohai/chathub/internal/db"
	"github.com/memohai/chathub/internal/db/sqlc"
)

const usernameIndex = "users_username_unique"

// Errors returned by account operations.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("username must be 3-64 letters, digits or underscores")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// Human usernames never contain ':' so they cannot collide with the
// "<channel>:<id>" placeholders given to auto-registered accounts.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,64}$`)

// Service provides account (credential) management for users.
type Service struct {
	queries *sqlc.Queries
	logger  *slog.Logger
}

// NewService creates a new accounts service.
func NewService(log *slog.Logger, queries *sqlc.Queries) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		queries: queries,
		logger:  log.With(slog.String("service", "accounts")),
	}
}

// Get returns an account by user id.
func (s *Service) Get(ctx context.Context, userID string) (Account, error) {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row, err := s.queries.GetUserByID(ctx, pgID)
	if err != nil {
		return Account{}, notFound(err)
	}
	return toAccount(row), nil
}

// GetByUsername returns an account by its exact username.
func (s *Service) GetByUsername(ctx context.Context, username string) (Account, error) {
	row, err := s.queries.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return Account{}, notFound(err)
	}
	return toAccount(row), nil
}

// Login authenticates by username and password.
func (s *Service) Login(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return Account{}, ErrInvalidCredentials
	}
	row, err := s.queries.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if !row.IsActive {
		return Account{}, ErrInactiveAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return toAccount(row), nil
}

// Create creates a human account.
func (s *Service) Create(ctx context.Context, req CreateAccountRequest) (Account, error) {
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		return Account{}, ErrInvalidUsername
	}
	password := strings.TrimSpace(req.Password)
	if password == "" {
		return Account{}, ErrInvalidPassword
	}
	role, err := normalizeRole(req.Role)
	if err != nil {
		return Account{}, err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}
	return s.insert(ctx, username, password, displayName, role, false)
}

// CreatePlaceholder creates the account of an auto-registered sender. Its
// credential is random and never disclosed; the user logs in through a
// linked human account instead.
func (s *Service) CreatePlaceholder(ctx context.Context, username, displayName string) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, ErrInvalidUsername
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return Account{}, fmt.Errorf("generate credential: %w", err)
	}
	return s.insert(ctx, username, hex.EncodeToString(secret), displayName, RoleMember, true)
}

func (s *Service) insert(ctx context.Context, username, password, displayName, role string, auto bool) (Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, err
	}
	row, err := s.queries.CreateUser(ctx, sqlc.CreateUserParams{
		Username:       username,
		PasswordHash:   string(hashed),
		DisplayName:    db.Text(displayName),
		Role:           role,
		AutoRegistered: auto,
	})
	if err != nil {
		if db.IsUniqueViolation(err, usernameIndex) {
			return Account{}, ErrUsernameTaken
		}
		return Account{}, fmt.Errorf("create user: %w", err)
	}
	return toAccount(row), nil
}

// UpdatePassword changes the password after checking the current one.
func (s *Service) UpdatePassword(ctx context.Context, userID string, req UpdatePasswordRequest) error {
	pgID, err := db.ParseUUID(userID)
	if err != nil {
		return ErrAccountNotFound
	}
	row, err := s.queries.GetUserByID(ctx, pgID)
	if err != nil {
		return notFound(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrInvalidCredentials
	}
	if strings.TrimSpace(req.NewPassword) == "" {
		return ErrInvalidPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.queries.UpdateUserPassword(ctx, sqlc.UpdateUserPasswordParams{ID: pgID, PasswordHash: string(hashed)})
}

// EnsureAdmin creates the bootstrap admin when no account has that username.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (Account, bool, error) {
	existing, err := s.GetByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}
	created, err := s.Create(ctx, CreateAccountRequest{Username: username, Password: password, Role: RoleAdmin})
	if errors.Is(err, ErrUsernameTaken) {
		existing, err := s.GetByUsername(ctx, username)
		return existing, false, err
	}
	if err != nil {
		return Account{}, false, err
	}
	s.logger.Info("admin account created", slog.String("username", username))
	return created, true, nil
}

func normalizeRole(role string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "", RoleMember:
		return RoleMember, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("invalid role: %s", role)
	}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}
	return err
}

func toAccount(row sqlc.User) Account {
	return Account{
		ID:             db.UUIDString(row.ID),
		Username:       row.Username,
		DisplayName:    db.TextToString(row.DisplayName),
		Role:           row.Role,
		AutoRegistered: row.AutoRegistered,
		IsActive:       row.IsActive,
		CreatedAt:      db.TimeFromPg(row.CreatedAt),
		UpdatedAt:      db.TimeFromPg(row.UpdatedAt),
	}
}
