package modules

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/adapters/dingtalk"
	"github.com/memohai/chathub/internal/channel/adapters/discord"
	"github.com/memohai/chathub/internal/channel/adapters/feishu"
	"github.com/memohai/chathub/internal/channel/adapters/line"
	"github.com/memohai/chathub/internal/channel/adapters/slack"
	"github.com/memohai/chathub/internal/channel/adapters/telegram"
	"github.com/memohai/chathub/internal/channel/adapters/whatsapp"
	"github.com/memohai/chathub/internal/config"
)

var ChannelModule = fx.Module(
	"channel",
	fx.Provide(
		provideChannelRegistry,
		channel.NewReplier,
	),
)

// ---------------------------------------------------------------------------
// channel providers
// ---------------------------------------------------------------------------

// Every adapter is registered; the enabled switch is read per request so a
// config reload can turn a channel on or off.
func provideChannelRegistry(log *slog.Logger, cfg *config.Store) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(log, cfg))
	registry.MustRegister(discord.NewAdapter(log, cfg))
	registry.MustRegister(slack.NewAdapter(log, cfg))
	registry.MustRegister(whatsapp.NewAdapter(log, cfg))
	registry.MustRegister(line.NewAdapter(log, cfg))
	registry.MustRegister(feishu.NewAdapter(log, cfg))
	registry.MustRegister(dingtalk.NewAdapter(log, cfg))
	return registry
}
