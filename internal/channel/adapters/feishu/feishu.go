// Package feishu implements the Feishu/Lark event subscription adapter.
package feishu

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for Feishu.
const Type channel.Type = "feishu"

const eventMessageReceive = "im.message.receive_v1"

// ErrEncryptedEvent is returned for bodies encrypted with the app encrypt key.
var ErrEncryptedEvent = errors.New("encrypted feishu events are not supported")

type envelope struct {
	// v1 and url_verification fields
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	Schema string `json:"schema"`
	Header *struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		AppID     string `json:"app_id"`
		TenantKey string `json:"tenant_key"`
		Token     string `json:"token"`
	} `json:"header"`
	Event   json.RawMessage `json:"event"`
	Encrypt string          `json:"encrypt"`
}

func (e envelope) token() string {
	if e.Header != nil && e.Header.Token != "" {
		return e.Header.Token
	}
	return e.Token
}

// Payload is a parsed event callback.
type Payload struct {
	envelope envelope
	message  *larkim.P2MessageReceiveV1Data
}

func (Payload) ChannelType() channel.Type { return Type }

// Adapter handles Feishu event callbacks and replies through the IM API.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store

	mu      sync.Mutex
	clients map[string]*lark.Client
}

// NewAdapter creates a Feishu adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "feishu")),
		cfg:     cfg,
		clients: map[string]*lark.Client{},
	}
}

func (a *Adapter) Type() channel.Type { return Type }

// Verify requires the signed, timestamped scheme whenever an encrypt key is
// configured. The body verification token is only checked without one.
func (a *Adapter) Verify(body []byte, header http.Header) error {
	fc := a.cfg.Current().Channels.Feishu
	if fc.EncryptKey != "" {
		return signature.Feishu{}.Verify(body, header, fc.EncryptKey)
	}
	if fc.VerificationToken == "" {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return signature.ErrMissingSignature
	}
	got := env.token()
	if got == "" {
		return signature.ErrMissingSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(fc.VerificationToken)) != 1 {
		return signature.ErrInvalidSignature
	}
	return nil
}

// Challenge answers the url_verification handshake.
func (a *Adapter) Challenge(req channel.Request) (channel.Response, bool) {
	if req.Method != http.MethodPost {
		return channel.Response{}, false
	}
	var env envelope
	if err := json.Unmarshal(req.Body, &env); err != nil || env.Type != "url_verification" {
		return channel.Response{}, false
	}
	body, _ := json.Marshal(map[string]string{"challenge": env.Challenge})
	return channel.Response{Status: http.StatusOK, ContentType: "application/json", Body: body}, true
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode feishu event: %w", err)
	}
	if env.Encrypt != "" {
		return nil, ErrEncryptedEvent
	}
	p := Payload{envelope: env}
	if env.Header != nil && env.Header.EventType == eventMessageReceive && len(env.Event) > 0 {
		var data larkim.P2MessageReceiveV1Data
		if err := json.Unmarshal(env.Event, &data); err != nil {
			return nil, fmt.Errorf("decode feishu message event: %w", err)
		}
		p.message = &data
	}
	return p, nil
}

func received(p channel.Payload) *larkim.P2MessageReceiveV1Data {
	fp, ok := p.(Payload)
	if !ok || fp.message == nil || fp.message.Message == nil || fp.message.Sender == nil {
		return nil
	}
	if t := deref(fp.message.Sender.SenderType); t != "" && t != "user" {
		return nil
	}
	return fp.message
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	ev := received(p)
	if ev == nil || ev.Sender.SenderId == nil {
		return "", false
	}
	id := strings.TrimSpace(deref(ev.Sender.SenderId.OpenId))
	return id, id != ""
}

// ExtractDisplayName is empty: message events carry ids only.
func (a *Adapter) ExtractDisplayName(channel.Payload) string { return "" }

func (a *Adapter) ExtractText(p channel.Payload) string {
	ev := received(p)
	if ev == nil || deref(ev.Message.MessageType) != larkim.MsgTypeText {
		return ""
	}
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(deref(ev.Message.Content)), &content); err != nil {
		return ""
	}
	return strings.TrimSpace(stripMentions(content.Text))
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	ev := received(p)
	if ev == nil {
		return meta
	}
	set := func(key string, v *string) {
		if s := strings.TrimSpace(deref(v)); s != "" {
			meta[key] = s
		}
	}
	set("message_id", ev.Message.MessageId)
	set("chat_id", ev.Message.ChatId)
	set("chat_type", ev.Message.ChatType)
	if ev.Sender.SenderId != nil {
		set("user_id", ev.Sender.SenderId.UserId)
		set("union_id", ev.Sender.SenderId.UnionId)
	}
	set("tenant_key", ev.Sender.TenantKey)
	return meta
}

// SendReply posts into the group chat for group messages and to the user's
// open_id otherwise.
func (a *Adapter) SendReply(ctx context.Context, target channel.ReplyTarget, text string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	receiveID, receiveType := target.ChannelUserID, larkim.ReceiveIdTypeOpenId
	if target.Meta("chat_type") == "group" && target.Meta("chat_id") != "" {
		receiveID, receiveType = target.Meta("chat_id"), larkim.ReceiveIdTypeChatId
	}
	content, _ := json.Marshal(map[string]string{"text": text})
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return fmt.Errorf("feishu send failed: %s (code: %d)", msg, code)
	}
	return nil
}

func (a *Adapter) client() (*lark.Client, error) {
	fc := a.cfg.Current().Channels.Feishu
	if strings.TrimSpace(fc.AppID) == "" || strings.TrimSpace(fc.AppSecret) == "" {
		return nil, errors.New("feishu app id and secret are required")
	}
	key := fc.AppID + "|" + fc.AppSecret + "|" + fc.BaseURL

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[key]; ok {
		return c, nil
	}
	opts := []lark.ClientOptionFunc{lark.WithLogger(newLarkSlogLogger(a.logger))}
	if base := strings.TrimSpace(fc.BaseURL); base != "" {
		opts = append(opts, lark.WithOpenBaseUrl(strings.TrimRight(base, "/")))
	}
	c := lark.NewClient(fc.AppID, fc.AppSecret, opts...)
	a.clients[key] = c
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// stripMentions drops @_user_N placeholders Feishu inserts for mentions.
func stripMentions(text string) string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "@_user_") || f == "@_all" {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
