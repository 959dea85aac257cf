// Package cli implements the emotion-lens CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/config"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/logger"
	"github.com/rcliao/emotion-lens/internal/store"
)

var (
	dbPath     string
	formatFlag string
	configPath string
	ephemeral  bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "emotion-lens",
	Short: "Emotion detection from faces, text and audio",
	Long: "Classify emotions through a detection backend, keep a capped local history, " +
		"watch a camera, play the expression game or serve it all over HTTP.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $EMOTION_LENS_DB or ~/.emotion-lens/emotion.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./emotion-lens.yaml or ~/.emotion-lens/emotion-lens.yaml)")
	RootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "Keep history in memory only for this run")
}

// env carries everything a command needs once configuration is loaded.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	kv      store.Store
	history *history.History
}

func (e *env) Close() error {
	return e.kv.Close()
}

func loadConfig() *config.Config {
	boot := logger.New(logger.Options{Level: os.Getenv(config.EnvPrefix + "_LOG_LEVEL")})
	cfg, err := config.Load(configPath, boot)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DB = dbPath
	}
	if cfg.DB == "" {
		cfg.DB = store.DefaultDBPath()
	}
	if ephemeral {
		cfg.Store.Backend = store.BackendMemory
	}
	return cfg
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		File:   cfg.Log.File,
	})
}

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		Backend:       cfg.Store.Backend,
		DBPath:        cfg.DB,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.Open(ctx, storeOptions(cfg))
}

// openEnv loads configuration and opens the store and history.
func openEnv(cmd *cobra.Command) *env {
	cfg := loadConfig()
	log := newLogger(cfg)
	kv, err := openStore(ctx(cmd), cfg)
	if err != nil {
		exitErr("open store", err)
	}
	return &env{
		cfg:     cfg,
		log:     log,
		kv:      kv,
		history: history.New(kv, history.WithLogger(log)),
	}
}

func classifierOptions(cfg *config.Config) classifier.Options {
	return classifier.Options{
		BaseURL:       cfg.Classifier.URL,
		Timeout:       cfg.Classifier.Timeout,
		TextProvider:  cfg.Classifier.TextProvider,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
		OpenAIModel:   cfg.OpenAI.Model,
	}
}

func newClassifiers(cfg *config.Config) *classifier.Set {
	set, err := classifier.New(classifierOptions(cfg))
	if err != nil {
		exitErr("classifier", err)
	}
	return set
}

func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}

func textFormat() bool {
	return formatFlag == "text"
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
