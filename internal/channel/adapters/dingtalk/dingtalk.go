// Package dingtalk implements the DingTalk outgoing robot webhook adapter.
package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/dingtalk-stream-sdk-go/chatbot"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for DingTalk.
const Type channel.Type = "dingtalk"

// ErrNoSessionWebhook is returned when a reply target lacks the per-conversation webhook.
var ErrNoSessionWebhook = errors.New("dingtalk reply needs a session webhook")

// ErrSessionWebhookExpired is returned when the session webhook has lapsed.
var ErrSessionWebhookExpired = errors.New("dingtalk session webhook expired")

// Payload is a parsed robot callback.
type Payload struct {
	Data chatbot.BotCallbackDataModel
}

func (Payload) ChannelType() channel.Type { return Type }

// Adapter handles DingTalk robot callbacks. Replies go to the session webhook
// DingTalk hands out with every callback.
type Adapter struct {
	logger  *slog.Logger
	cfg     *config.Store
	replier *chatbot.ChatbotReplier
	now     func() time.Time
}

// NewAdapter creates a DingTalk adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "dingtalk")),
		cfg:     cfg,
		replier: chatbot.NewChatbotReplier(),
		now:     time.Now,
	}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.DingTalk{}.Verify(body, header, a.cfg.Current().Channels.DingTalk.AppSecret)
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var data chatbot.BotCallbackDataModel
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode dingtalk callback: %w", err)
	}
	return Payload{Data: data}, nil
}

func callback(p channel.Payload) (chatbot.BotCallbackDataModel, bool) {
	dp, ok := p.(Payload)
	if !ok || strings.TrimSpace(dp.Data.SenderId) == "" {
		return chatbot.BotCallbackDataModel{}, false
	}
	return dp.Data, true
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	data, ok := callback(p)
	if !ok {
		return "", false
	}
	return data.SenderId, true
}

func (a *Adapter) ExtractDisplayName(p channel.Payload) string {
	data, _ := callback(p)
	return strings.TrimSpace(data.SenderNick)
}

func (a *Adapter) ExtractText(p channel.Payload) string {
	data, ok := callback(p)
	if !ok || (data.Msgtype != "" && data.Msgtype != "text") {
		return ""
	}
	return strings.TrimSpace(data.Text.Content)
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	data, ok := callback(p)
	if !ok {
		return meta
	}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	put("session_webhook", data.SessionWebhook)
	put("conversation_id", data.ConversationId)
	put("conversation_type", data.ConversationType)
	put("staff_id", data.SenderStaffId)
	put("message_id", data.MsgId)
	if data.SessionWebhookExpiredTime > 0 {
		meta["session_webhook_expires"] = strconv.FormatInt(data.SessionWebhookExpiredTime, 10)
	}
	return meta
}

func (a *Adapter) SendReply(ctx context.Context, target channel.ReplyTarget, text string) error {
	webhook := target.Meta("session_webhook")
	if webhook == "" {
		return ErrNoSessionWebhook
	}
	if raw := target.Meta("session_webhook_expires"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && a.now().UnixMilli() > ms {
			return ErrSessionWebhookExpired
		}
	}
	return a.replier.SimpleReplyText(ctx, webhook, []byte(text))
}
