// Package discord implements the Discord interactions webhook adapter.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/signature"
)

// Type is the registered channel type for Discord.
const Type channel.Type = "discord"

// maxMessageLen is Discord's content limit per message.
const maxMessageLen = 2000

// Payload is a parsed Discord interaction.
type Payload struct {
	Interaction discordgo.Interaction
}

func (Payload) ChannelType() channel.Type { return Type }

var libLoggerOnce sync.Once

// Adapter handles Discord interaction webhooks and replies over the REST API.
type Adapter struct {
	logger *slog.Logger
	cfg    *config.Store

	mu       sync.Mutex
	sessions map[string]*discordgo.Session
}

// NewAdapter creates a Discord adapter reading credentials from cfg.
func NewAdapter(log *slog.Logger, cfg *config.Store) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("adapter", "discord"))
	libLoggerOnce.Do(func() {
		discordgo.Logger = func(msgL, _ int, format string, a ...any) {
			level := slog.LevelDebug
			if msgL == discordgo.LogError {
				level = slog.LevelWarn
			}
			log.Log(context.Background(), level, "discordgo", slog.String("detail", fmt.Sprintf(format, a...)))
		}
	})
	return &Adapter{
		logger:   log,
		cfg:      cfg,
		sessions: map[string]*discordgo.Session{},
	}
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Verify(body []byte, header http.Header) error {
	return signature.Discord{}.Verify(body, header, a.cfg.Current().Channels.Discord.PublicKey)
}

func (a *Adapter) Parse(body []byte) (channel.Payload, error) {
	var it discordgo.Interaction
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, fmt.Errorf("decode discord interaction: %w", err)
	}
	return Payload{Interaction: it}, nil
}

// Challenge answers Discord's endpoint PING.
func (a *Adapter) Challenge(req channel.Request) (channel.Response, bool) {
	if req.Method != http.MethodPost {
		return channel.Response{}, false
	}
	var head struct {
		Type discordgo.InteractionType `json:"type"`
	}
	if err := json.Unmarshal(req.Body, &head); err != nil || head.Type != discordgo.InteractionPing {
		return channel.Response{}, false
	}
	return jsonResponse(discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}), true
}

// Ack acknowledges slash commands with an ephemeral notice; the real reply is
// delivered asynchronously as a message.
func (a *Adapter) Ack(p channel.Payload) (channel.Response, bool) {
	if command(p) == nil {
		return channel.Response{}, false
	}
	return jsonResponse(discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Received.",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}), true
}

func jsonResponse(v any) channel.Response {
	body, _ := json.Marshal(v)
	return channel.Response{Status: http.StatusOK, ContentType: "application/json", Body: body}
}

func command(p channel.Payload) *discordgo.Interaction {
	dp, ok := p.(Payload)
	if !ok || dp.Interaction.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	return &dp.Interaction
}

func sender(p channel.Payload) *discordgo.User {
	it := command(p)
	if it == nil {
		return nil
	}
	user := it.User
	if it.Member != nil && it.Member.User != nil {
		user = it.Member.User
	}
	if user == nil || user.Bot || user.ID == "" {
		return nil
	}
	return user
}

func (a *Adapter) ExtractChannelUserID(p channel.Payload) (string, bool) {
	user := sender(p)
	if user == nil {
		return "", false
	}
	return user.ID, true
}

func (a *Adapter) ExtractDisplayName(p channel.Payload) string {
	user := sender(p)
	if user == nil {
		return ""
	}
	if name := strings.TrimSpace(user.GlobalName); name != "" {
		return name
	}
	return strings.TrimSpace(user.Username)
}

// ExtractText renders the slash command as chat text. /ask and /chat carry a
// free-form message; other commands become "/name arg...".
func (a *Adapter) ExtractText(p channel.Payload) string {
	it := command(p)
	if it == nil {
		return ""
	}
	data := it.ApplicationCommandData()
	args := make([]string, 0, len(data.Options))
	for _, opt := range data.Options {
		if opt == nil || opt.Value == nil {
			continue
		}
		args = append(args, strings.TrimSpace(fmt.Sprint(opt.Value)))
	}
	switch data.Name {
	case "ask", "chat":
		return strings.Join(args, " ")
	}
	return strings.TrimSpace("/" + data.Name + " " + strings.Join(args, " "))
}

func (a *Adapter) ExtractMetadata(p channel.Payload) map[string]string {
	meta := map[string]string{}
	it := command(p)
	if it == nil {
		return meta
	}
	meta["interaction_id"] = it.ID
	if it.ChannelID != "" {
		meta["channel_id"] = it.ChannelID
	}
	if it.GuildID != "" {
		meta["guild_id"] = it.GuildID
	}
	if it.Locale != "" {
		meta["locale"] = string(it.Locale)
	}
	return meta
}

// SendReply writes to the DM channel of the interaction, or opens a DM with
// the user when the command came from a guild.
func (a *Adapter) SendReply(_ context.Context, target channel.ReplyTarget, text string) error {
	session, err := a.session()
	if err != nil {
		return err
	}
	channelID := ""
	if target.Meta("guild_id") == "" {
		channelID = target.Meta("channel_id")
	}
	if channelID == "" {
		dm, err := session.UserChannelCreate(target.ChannelUserID)
		if err != nil {
			return fmt.Errorf("discord open dm: %w", err)
		}
		channelID = dm.ID
	}
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (a *Adapter) session() (*discordgo.Session, error) {
	token := strings.TrimSpace(a.cfg.Current().Channels.Discord.BotToken)
	if token == "" {
		return nil, errors.New("discord bot token is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[token]; ok {
		return s, nil
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	a.sessions[token] = s
	return s, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
