package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/dispatch"
)

// maxWebhookBody caps the provider payload read into memory.
const maxWebhookBody = 1 << 20

// InboundDispatcher handles one raw webhook request.
type InboundDispatcher interface {
	HandleInbound(ctx context.Context, channelType channel.Type, req channel.Request) (dispatch.AckResult, error)
}

// WebhookHandler receives provider webhooks and verification challenges.
type WebhookHandler struct {
	dispatcher InboundDispatcher
	logger     *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(log *slog.Logger, dispatcher InboundDispatcher) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "webhooks")),
	}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/:channel", h.Handle)
	e.POST("/webhooks/:channel", h.Handle)
}

// Handle passes the raw request to the dispatch pipeline and writes its acknowledgement.
func (h *WebhookHandler) Handle(c echo.Context) error {
	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	channelType := channel.ParseType(c.Param("channel"))
	ack, err := h.dispatcher.HandleInbound(req.Context(), channelType, channel.Request{
		Method: req.Method,
		Header: req.Header.Clone(),
		Query:  req.URL.Query(),
		Body:   body,
	})
	if err != nil {
		status := dispatch.HTTPStatus(err)
		if status == http.StatusOK {
			ack = dispatch.OK()
		} else {
			h.logger.Debug("webhook refused", slog.String("channel", channelType.String()), slog.Int("status", status), slog.Any("error", err))
			return c.JSON(status, ErrorResponse{Message: http.StatusText(status)})
		}
	}
	if ack.Status == 0 {
		ack.Status = http.StatusOK
	}
	if len(ack.Body) == 0 {
		return c.NoContent(ack.Status)
	}
	contentType := ack.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(ack.Status, contentType, ack.Body)
}
