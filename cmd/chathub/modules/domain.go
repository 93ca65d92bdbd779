package modules

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/chathub/internal/accounts"
	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/channel"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	dbsqlc "github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/dispatch"
	"github.com/memohai/chathub/internal/gateway"
	"github.com/memohai/chathub/internal/registration"
	"github.com/memohai/chathub/internal/relay"
	"github.com/memohai/chathub/internal/tasks"
)

var DomainModule = fx.Module(
	"domain",
	fx.Provide(
		accounts.NewService,
		identities.NewService,
		provideBindService,
		provideSweeper,
		provideGatewayClient,
		provideRegistration,
		providePipeline,
		provideRelay,
	),
	fx.Invoke(startSweeper),
)

// ---------------------------------------------------------------------------
// domain providers
// ---------------------------------------------------------------------------

func provideBindService(log *slog.Logger, pool *pgxpool.Pool, queries *dbsqlc.Queries, identityService *identities.Service) *bind.Service {
	return bind.NewService(log, bind.NewPgStore(pool, queries, identityService))
}

func provideSweeper(log *slog.Logger, cfg config.Config, service *bind.Service) (*bind.Sweeper, error) {
	return bind.NewSweeper(log, service, cfg.Linking.SweepSchedule)
}

func provideGatewayClient(log *slog.Logger, cfg *config.Store) *gateway.Client {
	return gateway.NewClient(log, cfg, nil)
}

func provideRegistration(log *slog.Logger, cfg *config.Store, identityService *identities.Service, accountService *accounts.Service, gw *gateway.Client, runner *tasks.Runner) *registration.Service {
	return registration.NewService(log, cfg, identityService, accountService, gw, runner)
}

func providePipeline(log *slog.Logger, cfg *config.Store, registry *channel.Registry, resolver *registration.Service, linker *bind.Service, gw *gateway.Client, replier *channel.Replier, runner *tasks.Runner) *dispatch.Pipeline {
	return dispatch.NewPipeline(log, cfg, registry, resolver, linker, gw, replier, runner)
}

func provideRelay(log *slog.Logger, cfg *config.Store, gw *gateway.Client) *relay.Relay {
	return relay.New(log, cfg, gw, nil)
}

func startSweeper(lc fx.Lifecycle, sweeper *bind.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sweeper.Stop(ctx)
		},
	})
}
