package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/store"
)

func init() {
	health := &cobra.Command{
		Use:   "health",
		Short: "Check that the detection backend is reachable",
		Run:   runHealth,
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show storage statistics",
		Run:   runInfo,
	}

	RootCmd.AddCommand(health, info)
}

func runHealth(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	set := newClassifiers(cfg)

	c, cancel := context.WithTimeout(ctx(cmd), classifier.HealthTimeout)
	defer cancel()

	detail, err := set.Backend.Health(c)
	if err != nil {
		printJSON(map[string]any{"backend": set.Backend.BaseURL(), "status": "unavailable", "error": err.Error()})
		exitErr("health", err)
	}
	printJSON(map[string]any{"backend": set.Backend.BaseURL(), "status": "ok", "detail": detail})
}

func runInfo(cmd *cobra.Command, args []string) {
	e := openEnv(cmd)
	defer e.Close()

	out := map[string]any{
		"backend": e.cfg.Store.Backend,
		"records": len(e.history.List(ctx(cmd))),
	}
	if s, ok := e.kv.(*store.SQLiteStore); ok {
		info, err := s.Info(ctx(cmd))
		if err != nil {
			exitErr("info", err)
		}
		out["sqlite"] = info
	}
	if textFormat() {
		for k, v := range out {
			fmt.Printf("%s: %v\n", k, v)
		}
		return
	}
	printJSON(out)
}
