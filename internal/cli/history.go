package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage the emotion history",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		Run:   runHistoryList,
	}
	list.Flags().StringP("source", "s", "", "Filter by source: face, text or all")
	list.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	list.Flags().String("date", "", "Only records from this date (YYYY-MM-DD)")
	list.Flags().Int("days", 0, "Only records from the last N days")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryRm,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every record",
		Run:   runHistoryClear,
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics",
		Run:   runHistoryStats,
	}
	stats.Flags().StringP("source", "s", "", "Filter by source: face, text or all")

	trend := &cobra.Command{
		Use:   "trend",
		Short: "Show per-day emotion counts",
		Run:   runHistoryTrend,
	}
	trend.Flags().Int("days", 7, "Window size in days")

	export := &cobra.Command{
		Use:   "export",
		Short: "Export the history as JSON",
		Run:   runHistoryExport,
	}
	export.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	imp := &cobra.Command{
		Use:   "import [file]",
		Short: "Import records from a JSON export (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		Run:   runHistoryImport,
	}

	historyCmd.AddCommand(list, rm, clearCmd, stats, trend, export, imp)
	RootCmd.AddCommand(historyCmd)
}

func sourceFlag(cmd *cobra.Command) model.Source {
	s, _ := cmd.Flags().GetString("source")
	src := model.Source(s)
	if src != "" && src != "all" && !model.ValidSources[src] {
		exitErr("source", fmt.Errorf("unknown source %q (valid: face, text, all)", s))
	}
	return src
}

func runHistoryList(cmd *cobra.Command, args []string) {
	src := sourceFlag(cmd)
	limit, _ := cmd.Flags().GetInt("limit")
	date, _ := cmd.Flags().GetString("date")
	days, _ := cmd.Flags().GetInt("days")

	e := openEnv(cmd)
	defer e.Close()

	var records []model.EmotionRecord
	switch {
	case date != "":
		records = e.history.ByDate(ctx(cmd), date)
	case days > 0:
		records = e.history.Recent(ctx(cmd), days)
	default:
		records = e.history.List(ctx(cmd))
	}
	records = history.FilterBySource(records, src)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	if textFormat() {
		for _, r := range records {
			fmt.Printf("%s %s %-5s %-10s %s\n", r.Date, r.Timestamp, r.Source, r.Emotion, r.Confidence)
		}
		return
	}
	printJSON(records)
}

func runHistoryRm(cmd *cobra.Command, args []string) {
	e := openEnv(cmd)
	defer e.Close()

	e.history.Remove(ctx(cmd), args[0])
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	e := openEnv(cmd)
	defer e.Close()

	e.history.Clear(ctx(cmd))
	fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
}

func runHistoryStats(cmd *cobra.Command, args []string) {
	src := sourceFlag(cmd)

	e := openEnv(cmd)
	defer e.Close()

	all := e.history.List(ctx(cmd))
	stats := history.ComputeStats(history.FilterBySource(all, src))

	if textFormat() {
		fmt.Printf("total:      %d\n", stats.TotalRecords)
		fmt.Printf("dominant:   %s\n", stats.DominantEmotion)
		fmt.Printf("confidence: %d%%\n", stats.AverageConfidence)
		fmt.Printf("updated:    %s\n", stats.LastUpdated)
		for k, n := range stats.EmotionCounts {
			fmt.Printf("  %-10s %d\n", k, n)
		}
		return
	}
	printJSON(map[string]any{
		"stats":   stats,
		"sources": history.SourceBreakdown(all),
	})
}

func runHistoryTrend(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	if days < 1 {
		exitErr("trend", fmt.Errorf("--days must be at least 1"))
	}

	e := openEnv(cmd)
	defer e.Close()

	buckets := history.ComputeTrend(e.history.List(ctx(cmd)), days, time.Now())
	if textFormat() {
		for _, b := range buckets {
			fmt.Printf("%-7s %v\n", b.Label, b.Counts)
		}
		return
	}
	printJSON(buckets)
}

func runHistoryExport(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")

	e := openEnv(cmd)
	defer e.Close()

	data, err := e.history.Export(ctx(cmd))
	if err != nil {
		exitErr("export", err)
	}

	if output != "" {
		if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
			exitErr("write file", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"file":%q}`+"\n", output)
		return
	}
	fmt.Println(string(data))
}

func runHistoryImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var records []model.EmotionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		exitErr("parse import", err)
	}

	e := openEnv(cmd)
	defer e.Close()

	n, err := e.history.Import(ctx(cmd), records)
	if err != nil {
		exitErr("import", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", n)
}
