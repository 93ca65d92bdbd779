package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/auth"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/tasks"
)

// ConfigReloader re-reads the configuration file and swaps the active snapshot.
type ConfigReloader interface {
	Reload() (config.Config, error)
}

// TaskStatser reports detached task counters.
type TaskStatser interface {
	Stats() tasks.Stats
}

// ChannelLister lists the registered channel types.
type ChannelLister interface {
	Types() []channel.Type
}

// AdminHandler serves operator endpoints. Every route requires the admin role.
type AdminHandler struct {
	reloader ConfigReloader
	tasks    TaskStatser
	channels ChannelLister
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(log *slog.Logger, reloader ConfigReloader, tasks TaskStatser, channels ChannelLister) *AdminHandler {
	return &AdminHandler{
		reloader: reloader,
		tasks:    tasks,
		channels: channels,
		logger:   log.With(slog.String("handler", "admin")),
	}
}

// Register mounts the operator routes.
func (h *AdminHandler) Register(e *echo.Echo) {
	e.POST("/admin/config/reload", h.ReloadConfig, auth.RequireAdmin)
	e.GET("/ops/tasks", h.TaskStats, auth.RequireAdmin)
}

type reloadResponse struct {
	ReloadedAt time.Time `json:"reloaded_at"`
	Channels   []string  `json:"enabled_channels"`
}

// ReloadConfig swaps in a freshly loaded config. On error the previous one stays active.
func (h *AdminHandler) ReloadConfig(c echo.Context) error {
	cfg, err := h.reloader.Reload()
	if err != nil {
		h.logger.Warn("config reload failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	enabled := []string{}
	for _, ct := range h.channels.Types() {
		if cfg.Channels.Enabled(ct.String()) {
			enabled = append(enabled, ct.String())
		}
	}
	h.logger.Info("config reloaded", slog.Any("enabled_channels", enabled))
	return c.JSON(http.StatusOK, reloadResponse{ReloadedAt: time.Now().UTC(), Channels: enabled})
}

// TaskStats returns the detached task counters.
func (h *AdminHandler) TaskStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tasks.Stats())
}
