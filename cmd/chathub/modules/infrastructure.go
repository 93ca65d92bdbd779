package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/memohai/chathub/internal/boot"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/db"
	dbsqlc "github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/tasks"
)

// ConfigPath is the config file the process was started with.
type ConfigPath string

const dbPingTimeout = 10 * time.Second

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfigStore,
		provideConfig,
		provideLogger,
		boot.ProvideRuntimeConfig,
		provideDBConn,
		provideDBQueries,
		provideTaskRunner,
	),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfigStore(path ConfigPath) (*config.Store, error) {
	store, err := config.NewStore(string(path), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store, nil
}

// provideConfig is the startup snapshot. Components that must follow
// reloads take the *config.Store instead.
func provideConfig(store *config.Store) config.Config {
	return store.Current()
}

func provideLogger(cfg config.Config) *slog.Logger {
	return logger.Init(cfg.Log.Level, cfg.Log.Format)
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres, dbPingTimeout)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideDBQueries(conn *pgxpool.Pool) *dbsqlc.Queries {
	return dbsqlc.New(conn)
}

func provideTaskRunner(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) *tasks.Runner {
	runner := tasks.NewRunner(log, cfg.Gateway.ForwardTimeout())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return runner.Shutdown(ctx)
		},
	})
	return runner
}
