package channel

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ErrUnexpectedPayload is returned when an adapter is handed another provider's payload.
var ErrUnexpectedPayload = errors.New("unexpected payload type")

// Adapter is the per-provider contract. Extract methods are pure functions of
// the parsed payload; ExtractChannelUserID reports false when the payload has
// no human sender (bot echoes, delivery receipts, edits, system events).
type Adapter interface {
	Type() Type
	Verify(body []byte, header http.Header) error
	Parse(body []byte) (Payload, error)
	ExtractChannelUserID(p Payload) (string, bool)
	ExtractDisplayName(p Payload) string
	ExtractText(p Payload) string
	ExtractMetadata(p Payload) map[string]string
	SendReply(ctx context.Context, target ReplyTarget, text string) error
}

// Request is the raw webhook request as seen by an adapter.
type Request struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// Response is a provider-specific HTTP answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// ChallengeResponder is implemented by providers with a subscription handshake
// (Slack url_verification, Discord PING, WhatsApp hub.challenge, Feishu).
// Handled is false when the request is an ordinary event.
type ChallengeResponder interface {
	Challenge(req Request) (resp Response, handled bool)
}

// Acknowledger is implemented by providers that expect a specific body in the
// webhook acknowledgement instead of an empty 200.
type Acknowledger interface {
	Ack(p Payload) (Response, bool)
}

// Batcher is implemented by providers that deliver several events in one
// webhook. Split returns one payload per candidate message, each normalized
// and routed on its own; an empty result routes the original payload.
type Batcher interface {
	Split(p Payload) []Payload
}

// Normalize extracts an InboundMessage from a parsed payload. The second
// result is false when the payload carries no human sender.
func Normalize(a Adapter, p Payload) (InboundMessage, bool) {
	id, ok := a.ExtractChannelUserID(p)
	if !ok || id == "" {
		return InboundMessage{}, false
	}
	return InboundMessage{
		Channel:       a.Type(),
		ChannelUserID: id,
		DisplayName:   a.ExtractDisplayName(p),
		Text:          a.ExtractText(p),
		Metadata:      a.ExtractMetadata(p),
	}, true
}
