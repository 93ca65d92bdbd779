// Package line implements the LINE Messaging API webhook adapter.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for LINE.
const Type channel.Type = "line"

// Payload is a parsed webhook delivery.
type Payload struct {
	destination string
	events      []webhook.EventInterface
}

func (Payload) ChannelType() channel.Type { return Type }

type inbound struct {
	event      webhook.MessageEvent
	userID     string
	sourceType string
	groupID    string
	roomID     string
}

// candidate reports whether ev is an active message event with a user behind it.
func candidate(ev webhook.EventInterface) (inbound, bool) {
	me, ok := ev.(webhook.MessageEvent)
	if !ok || me.Message == nil || me.Mode == webhook.EventMode_STANDBY {
		return inbound{}, false
	}
	in := inbound{event: me}
	switch src := me.Source.(type) {
	case webhook.UserSource:
		in.userID, in.sourceType = src.UserId, "user"
	case webhook.GroupSource:
		in.userID, in.sourceType, in.groupID = src.UserId, "group", src.GroupId
	case webhook.RoomSource:
		in.userID, in.sourceType, in.roomID = src.UserId, "room", src.RoomId
	}
	in.userID = strings.TrimSpace(in.userID)
	return in, in.userID != ""
}

// message returns the first candidate event. The empty-events delivery LINE
// sends when the URL is verified yields nothing.
func message(p channel.Payload) (inbound, bool) {
	lp, ok := p.(Payload)
	if !ok {
		return inbound{}, false
	}
	for _, ev := range lp.events {
		if in, ok := candidate(ev); ok {
			return in, true
		}
	}
	return inbound{}, false
}

// Adapter handles LINE webhooks and sends push messages.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store
	client *http.Client
}

// NewAdapter creates a LINE adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "line")),
		cfg:    cfg,
		client: adapterutil.DefaultHTTPClient,
	}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.Line{}.Verify(body, header, a.cfg.Current().Channels.Line.ChannelSecret)
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode line webhook: %w", err)
	}
	return Payload{destination: cb.Destination, events: cb.Events}, nil
}

// Split returns one payload per message event. LINE batches events from
// different users into a single delivery.
func (a *Adapter) Split(p channel.Payload) []channel.Payload {
	lp, ok := p.(Payload)
	if !ok {
		return nil
	}
	var out []channel.Payload
	for _, ev := range lp.events {
		if _, ok := candidate(ev); ok {
			out = append(out, Payload{destination: lp.destination, events: []webhook.EventInterface{ev}})
		}
	}
	return out
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	in, ok := message(p)
	if !ok {
		return "", false
	}
	return in.userID, true
}

// ExtractDisplayName is empty: LINE webhooks carry only user ids.
func (a *Adapter) ExtractDisplayName(channel.Payload) string { return "" }

func (a *Adapter) ExtractText(p channel.Payload) string {
	in, ok := message(p)
	if !ok {
		return ""
	}
	text, ok := in.event.Message.(webhook.TextMessageContent)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text.Text)
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	in, ok := message(p)
	if !ok {
		return meta
	}
	meta["source_type"] = in.sourceType
	if text, ok := in.event.Message.(webhook.TextMessageContent); ok {
		meta["message_id"] = text.Id
	}
	if id := in.event.WebhookEventId; id != "" {
		meta["webhook_event_id"] = id
	}
	if in.event.ReplyToken != "" {
		meta["reply_token"] = in.event.ReplyToken
	}
	if in.groupID != "" {
		meta["group_id"] = in.groupID
	}
	if in.roomID != "" {
		meta["room_id"] = in.roomID
	}
	return meta
}

// SendReply pushes a message to the user, or to the group or room the
// inbound message came from. Reply tokens expire too quickly for assistant
// replies, so push is used throughout.
func (a *Adapter) SendReply(ctx context.Context, target channel.ReplyTarget, text string) error {
	lc := a.cfg.Current().Channels.Line
	if strings.TrimSpace(lc.ChannelAccessToken) == "" {
		return errors.New("line channel access token is required")
	}
	to := target.Meta("group_id")
	if to == "" {
		to = target.Meta("room_id")
	}
	if to == "" {
		to = target.ChannelUserID
	}
	opts := []messaging_api.MessagingApiAPIOption{messaging_api.WithHTTPClient(a.client)}
	if base := strings.TrimSpace(lc.APIBaseURL); base != "" {
		opts = append(opts, messaging_api.WithEndpoint(strings.TrimRight(base, "/")))
	}
	api, err := messaging_api.NewMessagingApiAPI(lc.ChannelAccessToken, opts...)
	if err != nil {
		return fmt.Errorf("line client: %w", err)
	}
	_, err = api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: []messaging_api.MessageInterface{messaging_api.TextMessage{Text: text}},
	}, "")
	if err != nil {
		return fmt.Errorf("line push failed: %w", err)
	}
	return nil
}
