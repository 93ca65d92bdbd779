package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/memohai/chathub/internal/channel/adapters/adapterutil"
	"github.com/memohai/chathub/internal/config"
)

// ErrUnknownChannel is returned for a channel type with no registered adapter.
var ErrUnknownChannel = errors.New("unknown channel")

// Replier sends best-effort replies through the registered adapters, throttled
// per channel so a burst of inbound traffic cannot exhaust provider quotas.
type Replier struct {
	logger   *slog.Logger
	registry *Registry
	cfg      *config.Store

	mu       sync.Mutex
	limiters map[Type]*rate.Limiter
}

// NewReplier creates a Replier.
func NewReplier(log *slog.Logger, registry *Registry, cfg *config.Store) *Replier {
	if log == nil {
		log = slog.Default()
	}
	return &Replier{
		logger:   log.With(slog.String("service", "channel_replier")),
		registry: registry,
		cfg:      cfg,
		limiters: map[Type]*rate.Limiter{},
	}
}

// Reply sends text to target. Failures are logged and returned; callers on
// the webhook path ignore them.
func (r *Replier) Reply(ctx context.Context, channelType Type, target ReplyTarget, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	adapter, ok := r.registry.Get(channelType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelType)
	}
	if err := r.limiter(channelType).Wait(ctx); err != nil {
		r.logger.Warn("reply throttled", slog.String("channel", channelType.String()), slog.Any("error", err))
		return err
	}
	if err := adapter.SendReply(ctx, target, text); err != nil {
		r.logger.Warn("send reply failed",
			slog.String("channel", channelType.String()),
			slog.String("channel_user_id", target.ChannelUserID),
			slog.String("text", adapterutil.SummarizeText(text)),
			slog.Any("error", err),
		)
		return err
	}
	r.logger.Debug("reply sent",
		slog.String("channel", channelType.String()),
		slog.String("channel_user_id", target.ChannelUserID),
	)
	return nil
}

func (r *Replier) limiter(channelType Type) *rate.Limiter {
	limit, burst := rate.Inf, 1
	if r.cfg != nil {
		cc := r.cfg.Current().Channels
		if cc.ReplyRate > 0 {
			limit = rate.Limit(cc.ReplyRate)
		}
		if cc.ReplyBurst > 0 {
			burst = cc.ReplyBurst
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[channelType]
	if !ok {
		l = rate.NewLimiter(limit, burst)
		r.limiters[channelType] = l
		return l
	}
	if l.Limit() != limit {
		l.SetLimit(limit)
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}
