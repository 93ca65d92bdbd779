package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.uber.org/fx"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/boot"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/dispatch"
	"github.com/memohai/chathub/internal/handlers"
	"github.com/memohai/chathub/internal/relay"
	"github.com/memohai/chathub/internal/server"
	"github.com/memohai/chathub/internal/tasks"
	"github.com/memohai/chathub/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(handlers.NewPingHandler),
		provideServerHandler(provideAuthHandler),
		provideServerHandler(provideLinkCodeHandler),
		provideServerHandler(provideChannelIdentityHandler),
		provideServerHandler(provideWebhookHandler),
		provideServerHandler(provideAdminHandler),
		provideServerHandler(provideRelayHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideAuthHandler(log *slog.Logger, accountService *accounts.Service, rc *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, accountService, rc.JwtSecret, rc.JwtExpiresIn)
}

func provideLinkCodeHandler(log *slog.Logger, service *bind.Service, cfg *config.Store) *handlers.LinkCodeHandler {
	return handlers.NewLinkCodeHandler(log, service, cfg)
}

func provideChannelIdentityHandler(log *slog.Logger, service *identities.Service) *handlers.ChannelIdentityHandler {
	return handlers.NewChannelIdentityHandler(log, service)
}

func provideWebhookHandler(log *slog.Logger, pipeline *dispatch.Pipeline) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, pipeline)
}

func provideAdminHandler(log *slog.Logger, cfg *config.Store, runner *tasks.Runner, registry *channel.Registry) *handlers.AdminHandler {
	return handlers.NewAdminHandler(log, cfg, runner, registry)
}

func provideRelayHandler(r *relay.Relay) *handlers.RelayHandler {
	return handlers.NewRelayHandler(r)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.RuntimeConfig.JwtSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, accountService *accounts.Service) {
	fmt.Printf("Starting chathub %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminUser(ctx, logger, accountService, cfg); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func ensureAdminUser(ctx context.Context, log *slog.Logger, accountService *accounts.Service, cfg config.Config) error {
	username := strings.TrimSpace(cfg.Admin.Username)
	password := strings.TrimSpace(cfg.Admin.Password)
	if username == "" || password == "" {
		return errors.New("admin username/password required in config.toml")
	}
	if password == config.Defaults().Admin.Password {
		log.Warn("admin password uses default placeholder; please update config.toml")
	}
	if _, _, err := accountService.EnsureAdmin(ctx, username, password); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	return nil
}
