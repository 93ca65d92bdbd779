package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/config"
)

// LinkCodeService issues and looks up linking codes.
type LinkCodeService interface {
	Issue(ctx context.Context, ownerUserID, channelType string, ttl time.Duration) (bind.Code, error)
	Get(ctx context.Context, code string) (bind.Code, error)
}

// LinkCodeHandler manages linking code issuance via REST API.
type LinkCodeHandler struct {
	service LinkCodeService
	cfg     *config.Store
	logger  *slog.Logger
}

// NewLinkCodeHandler creates a LinkCodeHandler.
func NewLinkCodeHandler(log *slog.Logger, service LinkCodeService, cfg *config.Store) *LinkCodeHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LinkCodeHandler{
		service: service,
		cfg:     cfg,
		logger:  log.With(slog.String("handler", "link_codes")),
	}
}

// Register registers linking code routes.
func (h *LinkCodeHandler) Register(e *echo.Echo) {
	e.POST("/users/me/link_codes", h.Issue)
	e.GET("/users/me/link_codes/:code", h.Get)
}

// IssueLinkCodeRequest is the body for POST /users/me/link_codes.
type IssueLinkCodeRequest struct {
	ChannelType string `json:"channel_type" validate:"required"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty" validate:"omitempty,min=60,max=604800"`
}

// Issue creates a new linking code for the current user.
func (h *LinkCodeHandler) Issue(c echo.Context) error {
	if h.service == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "linking service not available")
	}
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	var req IssueLinkCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	cfg := h.cfg.Current()
	if !cfg.Channels.Enabled(req.ChannelType) {
		return echo.NewHTTPError(http.StatusBadRequest, "channel not enabled")
	}
	ttl := cfg.Linking.TTL()
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	code, err := h.service.Issue(c.Request().Context(), userID, req.ChannelType, ttl)
	if err != nil {
		if errors.Is(err, bind.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("issue linking code failed", slog.String("user_id", userID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, code)
}

// Get returns an unconsumed code owned by the current user.
func (h *LinkCodeHandler) Get(c echo.Context) error {
	userID, err := RequireUserID(c)
	if err != nil {
		return err
	}
	code, err := h.service.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, bind.ErrCodeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "linking code not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if code.OwnerUserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "linking code not found")
	}
	return c.JSON(http.StatusOK, code)
}
