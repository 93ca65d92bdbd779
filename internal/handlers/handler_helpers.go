package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/auth"
)

// RequireUserID extracts the authenticated user id from the JWT claims.
func RequireUserID(c echo.Context) (string, error) {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return "", err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "user id missing")
	}
	return userID, nil
}

// bindAndValidate decodes the request body and runs the echo validator when one is installed.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if c.Echo().Validator == nil {
		return nil
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
