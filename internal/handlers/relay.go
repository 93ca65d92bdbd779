package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RelayHandler mounts the websocket relay. The relay authenticates the
// token itself so the route is skipped by the JWT middleware.
type RelayHandler struct {
	relay http.Handler
}

func NewRelayHandler(relay http.Handler) *RelayHandler {
	return &RelayHandler{relay: relay}
}

func (h *RelayHandler) Register(e *echo.Echo) {
	e.GET("/relay", echo.WrapHandler(h.relay))
}
