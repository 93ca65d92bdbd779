// Package telegram implements the Telegram Bot API webhook adapter.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for Telegram.
const Type channel.Type = "telegram"

// Payload is a parsed Telegram update.
type Payload struct {
	Update tgbotapi.Update
}

func (Payload) ChannelType() channel.Type { return Type }

var libLoggerOnce sync.Once

// Adapter handles Telegram webhooks and replies through the Bot API.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store
	client *http.Client

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewAdapter creates a Telegram adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", "telegram"))
	libLoggerOnce.Do(func() { _ = tgbotapi.SetLogger(&slogBotLogger{log: log}) })
	return &Adapter{
		logger: log,
		cfg:    cfg,
		client: adapterutil.DefaultHTTPClient,
		bots:   map[string]*tgbotapi.BotAPI{},
	}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.Telegram{}.Verify(body, header, a.cfg.Current().Channels.Telegram.SecretToken)
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	return Payload{Update: update}, nil
}

// humanMessage returns the new message of the update if it came from a person.
// Edits, channel posts and bot messages are ignored.
func humanMessage(p channel.Payload) *tgbotapi.Message {
	tp, ok := p.(Payload)
	if !ok {
		return nil
	}
	msg := tp.Update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return nil
	}
	return msg
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	msg := humanMessage(p)
	if msg == nil || msg.From.ID == 0 {
		return "", false
	}
	return strconv.FormatInt(msg.From.ID, 10), true
}

func (a *Adapter) ExtractDisplayName(p channel.Payload) string {
	msg := humanMessage(p)
	if msg == nil {
		return ""
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		name = strings.TrimSpace(msg.From.UserName)
	}
	return name
}

func (a *Adapter) ExtractText(p channel.Payload) string {
	msg := humanMessage(p)
	if msg == nil {
		return ""
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		return text
	}
	return strings.TrimSpace(msg.Caption)
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	msg := humanMessage(p)
	meta := map[string]string{}
	if msg == nil {
		return meta
	}
	if msg.Chat != nil {
		meta["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
		meta["chat_type"] = msg.Chat.Type
	}
	if msg.From.UserName != "" {
		meta["username"] = msg.From.UserName
	}
	if msg.From.LanguageCode != "" {
		meta["language"] = msg.From.LanguageCode
	}
	meta["message_id"] = strconv.Itoa(msg.MessageID)
	return meta
}

// SendReply posts text to the chat the message came from, falling back to the
// user's private chat.
func (a *Adapter) SendReply(_ context.Context, target channel.ReplyTarget, text string) error {
	raw := target.Meta("chat_id")
	if raw == "" {
		raw = strings.TrimSpace(target.ChannelUserID)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", raw, err)
	}
	bot, err := a.bot()
	if err != nil {
		return err
	}
	_, err = bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (a *Adapter) bot() (*tgbotapi.BotAPI, error) {
	tc := a.cfg.Current().Channels.Telegram
	token := strings.TrimSpace(tc.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	endpoint := strings.TrimSpace(tc.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	key := token + "|" + endpoint

	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[key]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, a.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bots[key] = bot
	return bot, nil
}
