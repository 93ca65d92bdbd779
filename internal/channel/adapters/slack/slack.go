// Package slack implements the Slack Events API webhook adapter.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for Slack.
const Type channel.Type = "slack"

// Payload is a parsed Events API envelope.
type Payload struct {
	Event slackevents.EventsAPIEvent
}

func (Payload) ChannelType() channel.Type { return Type }

// Adapter handles Slack event callbacks and replies with chat.postMessage.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store
}

// NewAdapter creates a Slack adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{logger: log.With(slog.String("adapter", "slack")), cfg: cfg}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.Slack{}.Verify(body, header, a.cfg.Current().Channels.Slack.SigningSecret)
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("decode slack event: %w", err)
	}
	return Payload{Event: ev}, nil
}

// Challenge answers the url_verification handshake sent when the request URL is configured.
func (a *Adapter) Challenge(req channel.Request) (channel.Response, bool) {
	if req.Method != http.MethodPost {
		return channel.Response{}, false
	}
	var head struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(req.Body, &head); err != nil || head.Type != slackevents.URLVerification {
		return channel.Response{}, false
	}
	return channel.Response{
		Status:      http.StatusOK,
		ContentType: "text/plain",
		Body:        []byte(head.Challenge),
	}, true
}

// message is the subset of message-like inner events the gateway cares about.
type message struct {
	user, text, channel, channelType, threadTS, ts string
}

func inner(p channel.Payload) (message, bool) {
	sp, ok := p.(Payload)
	if !ok || sp.Event.Type != slackevents.CallbackEvent {
		return message{}, false
	}
	switch ev := sp.Event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Subtypes cover bot_message, message_changed, channel_join and friends.
		if ev.BotID != "" || ev.SubType != "" || ev.User == "" {
			return message{}, false
		}
		return message{user: ev.User, text: ev.Text, channel: ev.Channel, channelType: ev.ChannelType, threadTS: ev.ThreadTimeStamp, ts: ev.TimeStamp}, true
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" || ev.User == "" {
			return message{}, false
		}
		return message{user: ev.User, text: ev.Text, channel: ev.Channel, threadTS: ev.ThreadTimeStamp, ts: ev.TimeStamp}, true
	}
	return message{}, false
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	m, ok := inner(p)
	if !ok {
		return "", false
	}
	return m.user, true
}

// ExtractDisplayName is empty: Slack events carry only user ids.
func (a *Adapter) ExtractDisplayName(channel.Payload) string { return "" }

func (a *Adapter) ExtractText(p channel.Payload) string {
	m, ok := inner(p)
	if !ok {
		return ""
	}
	return strings.TrimSpace(stripMentions(m.text))
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	m, ok := inner(p)
	if !ok {
		return meta
	}
	sp := p.(Payload)
	meta["channel"] = m.channel
	if m.channelType != "" {
		meta["channel_type"] = m.channelType
	}
	if m.threadTS != "" {
		meta["thread_ts"] = m.threadTS
	}
	if m.ts != "" {
		meta["ts"] = m.ts
	}
	if sp.Event.TeamID != "" {
		meta["team_id"] = sp.Event.TeamID
	}
	return meta
}

func (a *Adapter) SendReply(ctx context.Context, target channel.ReplyTarget, text string) error {
	sc := a.cfg.Current().Channels.Slack
	token := strings.TrimSpace(sc.BotToken)
	if token == "" {
		return errors.New("slack bot token is required")
	}
	var opts []slackapi.Option
	if u := strings.TrimSpace(sc.APIURL); u != "" {
		opts = append(opts, slackapi.OptionAPIURL(strings.TrimRight(u, "/")+"/"))
	}
	api := slackapi.New(token, opts...)

	dest := target.Meta("channel")
	if dest == "" {
		dest = target.ChannelUserID
	}
	msgOpts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if ts := target.Meta("thread_ts"); ts != "" {
		msgOpts = append(msgOpts, slackapi.MsgOptionTS(ts))
	}
	if _, _, err := api.PostMessageContext(ctx, dest, msgOpts...); err != nil {
		return fmt.Errorf("slack post message: %w", err)
	}
	return nil
}

// stripMentions removes <@U123> tokens so app mentions read like plain messages.
func stripMentions(text string) string {
	var b strings.Builder
	for {
		start := strings.Index(text, "<@")
		if start < 0 {
			break
		}
		end := strings.IndexByte(text[start:], '>')
		if end < 0 {
			break
		}
		b.WriteString(text[:start])
		text = text[start+end+1:]
	}
	b.WriteString(text)
	return strings.Join(strings.Fields(b.String()), " ")
}
