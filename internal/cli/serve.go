package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/config"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/server"
	"github.com/rcliao/emotion-lens/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the history, analysis and game API over HTTP",
		Run:   runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Listen port (default: server.port)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Server.Port = port
	}
	log := newLogger(cfg)

	opts := []fx.Option{
		fx.Supply(cfg, log),
		fx.Provide(
			provideStore,
			provideHistory,
			provideClassifiers,
			provideServerOptions,
		),
		server.Module,
	}
	if log.GetLevel() > zerolog.DebugLevel {
		opts = append(opts, fx.NopLogger)
	}

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		exitErr("serve", err)
	}
	app.Run()
}

func provideStore(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	kv, err := openStore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := kv.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing store")
			}
			return nil
		},
	})
	return kv, nil
}

func provideHistory(kv store.Store, log zerolog.Logger) *history.History {
	return history.New(kv, history.WithLogger(log))
}

func provideClassifiers(cfg *config.Config) (*classifier.Set, error) {
	return classifier.New(classifierOptions(cfg))
}

func provideServerOptions(h *history.History, kv store.Store, set *classifier.Set, cfg *config.Config, log zerolog.Logger) server.Options {
	return server.Options{
		History:     h,
		Store:       kv,
		Classifiers: set,
		Logger:      log,
		MaxDim:      cfg.Capture.MaxDim,
	}
}
