package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/chathub/cmd/chathub/modules"
	dbembed "github.com/memohai/chathub/db"
	"github.com/memohai/chathub/internal/bind"
	"github.com/memohai/chathub/internal/channel/identities"
	"github.com/memohai/chathub/internal/config"
	"github.com/memohai/chathub/internal/db"
	dbsqlc "github.com/memohai/chathub/internal/db/sqlc"
	"github.com/memohai/chathub/internal/logger"
	"github.com/memohai/chathub/internal/version"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "chathub",
		Short:         "Multi-channel chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("CONFIG_PATH")
	if strings.TrimSpace(defaultConfig) == "" {
		defaultConfig = config.DefaultConfigPath
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to config.toml (or .yaml)")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
		newLinkCodeCommand(&configPath),
		newVersionCommand(),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, API and relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(
				fx.Supply(modules.ConfigPath(*configPath)),
				modules.InfraModule,
				modules.ChannelModule,
				modules.DomainModule,
				modules.ServerModule,
				fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
					l := &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
					l.UseLogLevel(slog.LevelDebug)
					return l
				}),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version|force N]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: db.MigrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.Init(cfg.Log.Level, cfg.Log.Format)
			return db.RunMigrate(log, cfg.Postgres, dbembed.MigrationsFS(), args[0], args[1:])
		},
	}
}

func newLinkCodeCommand(configPath *string) *cobra.Command {
	linkcode := &cobra.Command{
		Use:   "linkcode",
		Short: "Manage linking codes",
	}

	var (
		userID      string
		channelType string
		ttl         time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a linking code on behalf of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.Init(cfg.Log.Level, cfg.Log.Format)
			if ttl <= 0 {
				ttl = cfg.Linking.TTL()
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := db.Open(ctx, cfg.Postgres, 10*time.Second)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			queries := dbsqlc.New(pool)
			service := bind.NewService(log, bind.NewPgStore(pool, queries, identities.NewService(log, queries)))
			code, err := service.Issue(ctx, userID, channelType, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\texpires %s\n", code.Code, code.ChannelType, code.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "Owner user id")
	issue.Flags().StringVar(&channelType, "channel", "", "Channel type the code is valid on (telegram, discord, ...)")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Code lifetime (defaults to linking.code_ttl)")
	_ = issue.MarkFlagRequired("user")
	_ = issue.MarkFlagRequired("channel")

	linkcode.AddCommand(issue)
	return linkcode
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chathub %s\n", version.GetInfo())
		},
	}
}
