package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/channel/identities"
)

// IdentityService lists and unlinks the caller's channel identities.
type IdentityService interface {
	ListByOwner(ctx context.Context, ownerUserID string) ([]identities.ChannelIdentity, error)
	SoftDelete(ctx context.Context, ownerUserID, id string) error
}

// ChannelIdentityHandler exposes the caller's linked channel identities.
type ChannelIdentityHandler struct {
	service IdentityService
	logger  *slog.Logger
}

func NewChannelIdentityHandler(log *slog.Logger, service IdentityService) *ChannelIdentityHandler {
	return &ChannelIdentityHandler{
		service: service,
		logger:  log.With(slog.String("handler", "channel_identities")),
	}
}

func (h *ChannelIdentityHandler) Register(e *echo.Echo) {
	e.GET("/users/me/channel_identities", h.List)
	e.DELETE("/users/me/channel_identities/:id", h.Unlink)
}

type listIdentitiesResponse struct {
	Items []identities.ChannelIdentity `json:"items"`
}

// List returns the live identities owned by the caller.
func (h *ChannelIdentityHandler) List(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	items, err := h.service.ListByOwner(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []identities.ChannelIdentity{}
	}
	return c.JSON(http.StatusOK, listIdentitiesResponse{Items: items})
}

// Unlink soft-deletes one of the caller's identities.
func (h *ChannelIdentityHandler) Unlink(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	if err := h.service.SoftDelete(c.Request().Context(), userID, id); err != nil {
		if errors.Is(err, identities.ErrChannelIdentityNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel identity not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("channel identity unlinked", slog.String("user_id", userID), slog.String("identity_id", id))
	return c.NoContent(http.StatusNoContent)
}
