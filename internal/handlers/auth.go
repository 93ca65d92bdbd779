// Package handlers provides the HTTP API handlers of the chathub server.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/auth"
)

// AccountService is the account surface the auth endpoints need.
type AccountService interface {
	Login(ctx context.Context, username, password string) (accounts.Account, error)
	UpdatePassword(ctx context.Context, userID string, req accounts.UpdatePasswordRequest) error
}

// AuthHandler serves /auth/login and issues JWTs.
type AuthHandler struct {
	accountService AccountService
	jwtSecret      string
	expiresIn      time.Duration
	logger         *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the success body (access_token, user info, expires_at).
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

// NewAuthHandler creates an auth handler with account service and JWT config.
func NewAuthHandler(log *slog.Logger, accountService AccountService, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{
		accountService: accountService,
		jwtSecret:      jwtSecret,
		expiresIn:      expiresIn,
		logger:         log.With(slog.String("handler", "auth")),
	}
}

// Register mounts the login and password routes on the Echo instance.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.PUT("/users/me/password", h.UpdatePassword)
}

// Login validates user credentials and issues a JWT.
func (h *AuthHandler) Login(c echo.Context) error {
	if h.accountService == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "account service not configured")
	}
	if strings.TrimSpace(h.jwtSecret) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}
	if h.expiresIn <= 0 {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt expiry not configured")
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	account, err := h.accountService.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, accounts.ErrInvalidCredentials):
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, accounts.ErrInactiveAccount):
			return echo.NewHTTPError(http.StatusUnauthorized, "user is inactive")
		}
		h.logger.Error("login failed", slog.String("username", req.Username), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token, expiresAt, err := auth.GenerateToken(account.ID, account.Role, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      account.ID,
		Username:    account.Username,
		Role:        account.Role,
		DisplayName: account.DisplayName,
	})
}

// UpdatePassword changes the caller's password.
func (h *AuthHandler) UpdatePassword(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	var req accounts.UpdatePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	err = h.accountService.UpdatePassword(c.Request().Context(), userID, req)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, "current password is incorrect")
	case errors.Is(err, accounts.ErrInvalidPassword):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, accounts.ErrAccountNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
