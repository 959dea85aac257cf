package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/rcliao/emotion-lens/internal/game"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
	"github.com/rcliao/emotion-lens/internal/server"
	"github.com/rcliao/emotion-lens/internal/store"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dbPath, formatFlag, configPath, ephemeral = "", "json", "", false
	t.Cleanup(func() {
		dbPath, formatFlag, configPath, ephemeral = "", "json", "", false
	})
}

func TestLoadConfigFlags(t *testing.T) {
	resetFlags(t)

	cfg := loadConfig()
	if cfg.DB != store.DefaultDBPath() {
		t.Errorf("expected default db path, got %q", cfg.DB)
	}
	if cfg.Store.Backend != store.BackendSQLite {
		t.Errorf("expected sqlite backend, got %q", cfg.Store.Backend)
	}

	dbPath = filepath.Join(t.TempDir(), "x.db")
	ephemeral = true
	cfg = loadConfig()
	if cfg.DB != dbPath {
		t.Errorf("expected --db to win, got %q", cfg.DB)
	}
	if cfg.Store.Backend != store.BackendMemory {
		t.Errorf("expected --ephemeral to select memory, got %q", cfg.Store.Backend)
	}
}

func TestLoadConfigEnvDB(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("EMOTION_LENS_DB", path)

	if cfg := loadConfig(); cfg.DB != path {
		t.Errorf("expected %q, got %q", path, cfg.DB)
	}
}

func TestStoreOptions(t *testing.T) {
	resetFlags(t)
	t.Setenv("EMOTION_LENS_STORE_BACKEND", "redis")
	t.Setenv("EMOTION_LENS_REDIS_ADDR", "cache:6380")
	t.Setenv("EMOTION_LENS_REDIS_DB", "2")

	opts := storeOptions(loadConfig())
	if opts.Backend != store.BackendRedis || opts.RedisAddr != "cache:6380" || opts.RedisDB != 2 {
		t.Errorf("unexpected store options %+v", opts)
	}
	if opts.RedisPrefix != "emotion-lens:" {
		t.Errorf("expected default prefix, got %q", opts.RedisPrefix)
	}
}

func TestServeGraph(t *testing.T) {
	resetFlags(t)
	ephemeral = true
	cfg := loadConfig()
	cfg.Server.Port = "0"

	var (
		h  *history.History
		kv store.Store
	)
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg, zerolog.Nop()),
		fx.Provide(provideStore, provideHistory, provideClassifiers, provideServerOptions),
		server.Module,
		fx.Populate(&h, &kv),
	)
	app.RequireStart()

	h.Append(context.Background(), history.NewRecord{Emotion: "happy", Confidence: "90.0%", Source: model.SourceFace})
	if n := len(h.List(context.Background())); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
	if got := game.LoadHighScore(context.Background(), kv); got != 0 {
		t.Errorf("expected empty high score, got %d", got)
	}

	app.RequireStop()
}

func TestPrintGameStateDoesNotPanic(t *testing.T) {
	for _, st := range []game.State{
		{Phase: game.PhaseCountdown, Round: 1, MaxRounds: 5, Countdown: 3},
		{Phase: game.PhasePlaying, TimeLeft: 4},
		{Phase: game.PhaseChecking},
		{Phase: game.PhaseResult, Correct: true, LastPoints: 130, Detected: "happy"},
		{Phase: game.PhaseResult, Error: "backend unavailable"},
		{Phase: game.PhaseGameOver, Score: 300, HighScore: 300, NewHighScore: true},
	} {
		printGameState(st)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		label string
		conf  float64
		want  string
	}{
		{"happy", 0.855, "😊 Senang (85.5%)"},
		{"ANGER", 1, "😠 Marah (100.0%)"},
		{"bored", 0.4, "😐 bored (40.0%)"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := describe(tt.label, tt.conf); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
