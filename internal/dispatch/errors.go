package dispatch

import (
	"errors"
	"net/http"
)

// Error taxonomy of the inbound path. Only the first group reaches the
// provider as a non-2xx status; the rest are logged and acknowledged.
var (
	ErrChannelNotFound  = errors.New("channel not found or disabled")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrAuthenticity     = errors.New("request authenticity check failed")
	ErrMalformedPayload = errors.New("malformed payload")

	ErrUnresolvedSender      = errors.New("no human sender")
	ErrRegistrationDisabled  = errors.New("auto-registration disabled for channel")
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
)

// HTTPStatus maps a HandleInbound error to the webhook response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrAuthenticity):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}
