// Package dispatch turns a raw provider webhook into an acknowledgement and,
// behind it, a message delivered to the sender's gateway.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"text/template"
	"time"

	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/gateway"
	"github.com/memohai/chathub/internal/registration"
)

// Chat replies for the linking flow.
const (
	ReplyLinkUsage     = "Usage: /link CODE"
	ReplyInvalidCode   = "That linking code is invalid or expired."
	ReplyAlreadyLinked = "This chat is already linked to your account."
	ReplyLinked        = "Linked! Messages from this chat now go to your assistant."
)

var okBody = []byte(`{"ok":true}`)

// AckResult is the HTTP answer returned to the provider.
type AckResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK is the generic acknowledgement.
func OK() AckResult {
	return AckResult{Status: http.StatusOK, ContentType: "application/json", Body: okBody}
}

func fromResponse(r channel.Response) AckResult {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	return AckResult{Status: status, ContentType: r.ContentType, Body: r.Body}
}

// Resolver maps a sender to a user.
type Resolver interface {
	Resolve(ctx context.Context, msg channel.InboundMessage) (registration.Result, error)
}

// Linker consumes linking codes.
type Linker interface {
	Consume(ctx context.Context, in bind.ConsumeInput) (bind.ConsumeResult, error)
}

// Gateway starts gateways and forwards messages to them.
type Gateway interface {
	EnsureRunning(ctx context.Context, userID string) error
	Forward(ctx context.Context, userID string, msg gateway.Message) (gateway.Reply, error)
}

// Replier delivers best-effort chat replies.
type Replier interface {
	Reply(ctx context.Context, channelType channel.Type, target channel.ReplyTarget, text string) error
}

// TaskRunner runs detached work.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// Pipeline handles inbound webhooks for every registered channel.
type Pipeline struct {
	cfg      *config.Store
	registry *channel.Registry
	resolver Resolver
	linker   Linker
	gateway  Gateway
	replier  Replier
	tasks    TaskRunner
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline creates the dispatch pipeline.
func NewPipeline(log *slog.Logger, cfg *config.Store, registry *channel.Registry, resolver Resolver, linker Linker, gw Gateway, replier Replier, tasks TaskRunner) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		linker:   linker,
		gateway:  gw,
		replier:  replier,
		tasks:    tasks,
		logger:   log.With(slog.String("service", "dispatch")),
		now:      time.Now,
	}
}

// HandleInbound processes one webhook request. A non-nil error is returned
// only for an unknown or disabled channel, an unsupported method, a failed
// authenticity check or an unparseable body; see HTTPStatus.
func (p *Pipeline) HandleInbound(ctx context.Context, channelType channel.Type, req channel.Request) (AckResult, error) {
	channelType = channel.ParseType(channelType.String())
	adapter, ok := p.registry.Get(channelType)
	if !ok || !p.cfg.Current().Channels.Enabled(channelType.String()) {
		return AckResult{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelType)
	}
	log := p.logger.With(slog.String("channel", channelType.String()))

	responder, _ := adapter.(channel.ChallengeResponder)
	if req.Method == http.MethodGet {
		if responder != nil {
			if resp, handled := responder.Challenge(req); handled {
				return fromResponse(resp), nil
			}
		}
		return AckResult{}, ErrMethodNotAllowed
	}

	if err := adapter.Verify(req.Body, req.Header); err != nil {
		log.Warn("webhook rejected", slog.Any("error", err))
		return AckResult{}, fmt.Errorf("%w: %w", ErrAuthenticity, err)
	}
	if responder != nil {
		if resp, handled := responder.Challenge(req); handled {
			log.Info("verification challenge answered")
			return fromResponse(resp), nil
		}
	}
	payload, err := adapter.Parse(req.Body)
	if err != nil {
		log.Warn("webhook payload malformed", slog.Any("error", err))
		return AckResult{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	ack := OK()
	if acker, ok := adapter.(channel.Acknowledger); ok {
		if resp, custom := acker.Ack(payload); custom {
			ack = fromResponse(resp)
		}
	}
	for _, part := range split(adapter, payload) {
		p.process(ctx, log, adapter, part)
	}
	return ack, nil
}

func split(adapter channel.Adapter, payload channel.Payload) []channel.Payload {
	if b, ok := adapter.(channel.Batcher); ok {
		if parts := b.Split(payload); len(parts) > 0 {
			return parts
		}
	}
	return []channel.Payload{payload}
}

// process runs every step after parsing for one message. Nothing here
// changes the acknowledgement: errors are logged and panics recovered, so
// one failing message in a batch does not stop the rest.
func (p *Pipeline) process(ctx context.Context, log *slog.Logger, adapter channel.Adapter, payload channel.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("dispatch panic", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
		}
	}()
	if err := p.route(ctx, log, adapter, payload); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrUnresolvedSender) || errors.Is(err, ErrRegistrationDisabled) {
			level = slog.LevelDebug
		}
		log.Log(ctx, level, "inbound message not delivered", slog.Any("error", err))
	}
}

func (p *Pipeline) route(ctx context.Context, log *slog.Logger, adapter channel.Adapter, payload channel.Payload) error {
	msg, ok := channel.Normalize(adapter, payload)
	if !ok {
		return ErrUnresolvedSender
	}
	msg.ReceivedAt = p.now().UTC()
	log = log.With(slog.String("channel_user_id", msg.ChannelUserID))

	switch cmd := parseCommand(msg.Text); cmd.kind {
	case commandLink:
		return p.link(ctx, log, msg, cmd.arg)
	case commandStart, commandHelp:
		p.reply(msg, p.welcome(msg))
		return nil
	}

	res, err := p.resolver.Resolve(ctx, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownstreamUnavailable, err)
	}
	if res.Outcome == registration.OutcomeRejected {
		p.reply(msg, p.cfg.Current().Registration.UnknownSenderReply)
		return ErrRegistrationDisabled
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	p.forward(log, res.UserID, msg)
	return nil
}

func (p *Pipeline) link(ctx context.Context, log *slog.Logger, msg channel.InboundMessage, code string) error {
	if strings.TrimSpace(code) == "" {
		p.reply(msg, ReplyLinkUsage)
		return nil
	}
	res, err := p.linker.Consume(ctx, bind.ConsumeInput{
		Code:          code,
		ChannelType:   msg.Channel.String(),
		ChannelUserID: msg.ChannelUserID,
		DisplayName:   msg.DisplayName,
		Metadata:      msg.Metadata,
	})
	switch {
	case errors.Is(err, bind.ErrCodeNotFound), errors.Is(err, bind.ErrCodeExpired), errors.Is(err, bind.ErrCodeMismatch):
		log.Info("linking code rejected", slog.Any("error", err))
		p.reply(msg, ReplyInvalidCode)
		return nil
	case err != nil:
		return fmt.Errorf("%w: consume linking code: %w", ErrDownstreamUnavailable, err)
	}

	if res.Outcome == bind.OutcomeAlreadyLinked {
		p.reply(msg, ReplyAlreadyLinked)
		return nil
	}
	p.reply(msg, ReplyLinked)
	userID := res.OwnerUserID
	p.tasks.Go("ensure_gateway", func(ctx context.Context) error {
		return p.gateway.EnsureRunning(ctx, userID)
	})
	return nil
}

// forward runs ensure, forward and reply as one detached task so the
// provider gets its acknowledgement without waiting on the assistant.
func (p *Pipeline) forward(log *slog.Logger, userID string, msg channel.InboundMessage) {
	p.tasks.Go("forward_message", func(ctx context.Context) error {
		if err := p.gateway.EnsureRunning(ctx, userID); err != nil {
			return fmt.Errorf("%w: ensure gateway: %w", ErrDownstreamUnavailable, err)
		}
		reply, err := p.gateway.Forward(ctx, userID, gateway.MessageFromInbound(msg))
		if err != nil {
			return fmt.Errorf("%w: forward: %w", ErrDownstreamUnavailable, err)
		}
		log.Debug("message forwarded",
			slog.String("user_id", userID),
			slog.String("text", adapterutil.SummarizeText(msg.Text)),
		)
		if reply.Text == "" {
			return nil
		}
		return p.replier.Reply(ctx, msg.Channel, msg.ReplyTarget(), reply.Text)
	})
}

func (p *Pipeline) reply(msg channel.InboundMessage, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	target := msg.ReplyTarget()
	p.tasks.Go("reply", func(ctx context.Context) error {
		return p.replier.Reply(ctx, msg.Channel, target, text)
	})
}

type welcomeData struct {
	DisplayName   string
	Channel       string
	ChannelUserID string
}

// welcome renders the configured welcome template, falling back to the
// default text when the template does not parse or execute.
func (p *Pipeline) welcome(msg channel.InboundMessage) string {
	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = "there"
	}
	data := welcomeData{DisplayName: name, Channel: msg.Channel.String(), ChannelUserID: msg.ChannelUserID}
	raw := p.cfg.Current().Registration.WelcomeMessage
	if strings.TrimSpace(raw) == "" {
		raw = config.DefaultWelcomeMessage
	}
	text, err := render(raw, data)
	if err != nil {
		p.logger.Warn("welcome template invalid", slog.Any("error", err))
		text, _ = render(config.DefaultWelcomeMessage, data)
	}
	return text
}

func render(raw string, data welcomeData) (string, error) {
	tmpl, err := template.New("welcome").Option("missingkey=zero").Parse(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
