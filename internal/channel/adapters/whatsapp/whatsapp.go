// Package whatsapp implements the WhatsApp Business Cloud API webhook adapter.
package whatsapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for WhatsApp.
const Type channel.Type = "whatsapp"

// DefaultAPIBaseURL is the Graph API root used when none is configured.
const DefaultAPIBaseURL = "https://graph.facebook.com/v21.0"

type webhook struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []contact         `json:"contacts"`
	Messages []inboundMessage  `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

// Payload is a parsed webhook notification.
type Payload struct {
	body webhook
}

func (Payload) ChannelType() channel.Type { return Type }

// first returns the first user message in the notification together with
// its change value. After Split a payload holds exactly one. Delivery receipts carry statuses only and yield nothing.
func (p Payload) first() (inboundMessage, value, bool) {
	for _, e := range p.body.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				if strings.TrimSpace(m.From) != "" {
					return m, c.Value, true
				}
			}
		}
	}
	return inboundMessage{}, value{}, false
}

// Adapter handles WhatsApp Cloud API webhooks.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store
	client *http.Client
}

// NewAdapter creates a WhatsApp adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger: log.With(slog.String("adapter", "whatsapp")),
		cfg:    cfg,
		client: adapterutil.DefaultHTTPClient,
	}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.WhatsApp{}.Verify(body, header, a.cfg.Current().Channels.WhatsApp.AppSecret)
}

// Challenge answers the GET subscription handshake.
func (a *Adapter) Challenge(req channel.Request) (channel.Response, bool) {
	if req.Method != http.MethodGet {
		return channel.Response{}, false
	}
	if req.Query.Get("hub.mode") != "subscribe" {
		return channel.Response{Status: http.StatusBadRequest}, true
	}
	want := a.cfg.Current().Channels.WhatsApp.VerifyToken
	got := req.Query.Get("hub.verify_token")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return channel.Response{Status: http.StatusForbidden}, true
	}
	return channel.Response{
		Status:      http.StatusOK,
		ContentType: "text/plain",
		Body:        []byte(req.Query.Get("hub.challenge")),
	}, true
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var w webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	return Payload{body: w}, nil
}

// Split returns one payload per user message. A notification may batch
// messages from several senders across entries and changes.
func (a *Adapter) Split(p channel.Payload) []channel.Payload {
	wp, ok := p.(Payload)
	if !ok {
		return nil
	}
	var out []channel.Payload
	for _, e := range wp.body.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				if strings.TrimSpace(m.From) == "" {
					continue
				}
				v := c.Value
				v.Messages = []inboundMessage{m}
				v.Statuses = nil
				out = append(out, Payload{body: webhook{
					Object: wp.body.Object,
					Entry:  []entry{{ID: e.ID, Changes: []change{{Field: c.Field, Value: v}}}},
				}})
			}
		}
	}
	return out
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	wp, ok := p.(Payload)
	if !ok {
		return "", false
	}
	m, _, ok := wp.first()
	if !ok {
		return "", false
	}
	return m.From, true
}

func (a *Adapter) ExtractDisplayName(p channel.Payload) string {
	wp, ok := p.(Payload)
	if !ok {
		return ""
	}
	m, v, ok := wp.first()
	if !ok {
		return ""
	}
	for _, c := range v.Contacts {
		if c.WaID == m.From || len(v.Contacts) == 1 {
			return strings.TrimSpace(c.Profile.Name)
		}
	}
	return ""
}

func (a *Adapter) ExtractText(p channel.Payload) string {
	wp, ok := p.(Payload)
	if !ok {
		return ""
	}
	m, _, ok := wp.first()
	if !ok {
		return ""
	}
	switch {
	case m.Text != nil:
		return strings.TrimSpace(m.Text.Body)
	case m.Button != nil:
		return strings.TrimSpace(m.Button.Text)
	}
	return ""
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	wp, ok := p.(Payload)
	if !ok {
		return meta
	}
	m, v, ok := wp.first()
	if !ok {
		return meta
	}
	meta["message_id"] = m.ID
	meta["message_type"] = m.Type
	if id := v.Metadata.PhoneNumberID; id != "" {
		meta["phone_number_id"] = id
	}
	return meta
}

// SendReply sends a text message from the business number that received the
// inbound message, or the configured default number.
func (a *Adapter) SendReply(ctx context.Context, target channel.ReplyTarget, text string) error {
	wc := a.cfg.Current().Channels.WhatsApp
	if strings.TrimSpace(wc.AccessToken) == "" {
		return errors.New("whatsapp access token is required")
	}
	phoneID := target.Meta("phone_number_id")
	if phoneID == "" {
		phoneID = strings.TrimSpace(wc.PhoneNumberID)
	}
	if phoneID == "" {
		return errors.New("whatsapp phone number id is required")
	}
	base := strings.TrimSpace(wc.APIBaseURL)
	if base == "" {
		base = DefaultAPIBaseURL
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                target.ChannelUserID,
		"type":              "text",
		"text":              map[string]any{"body": text, "preview_url": false},
	}
	return adapterutil.PostJSON(ctx, a.client, adapterutil.JoinURL(base, phoneID+"/messages"), wc.AccessToken, payload)
}
