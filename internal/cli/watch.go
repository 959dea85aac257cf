package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/monitor"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Classify camera frames continuously until interrupted",
		Run:   runWatch,
	}

	addCameraFlags(cmd)
	cmd.Flags().Duration("interval", 0, "Time between captures (default: monitor.interval)")
	cmd.Flags().Duration("for", 0, "Stop after this long (default: run until interrupted)")

	RootCmd.AddCommand(cmd)
}

func addCameraFlags(cmd *cobra.Command) {
	cmd.Flags().String("camera-cmd", "", "Command that writes one image to stdout, e.g. \"fswebcam -q -\"")
	cmd.Flags().String("camera-file", "", "Image file re-read on every capture")
}

func cameraFromFlags(cmd *cobra.Command) capture.Camera {
	line, _ := cmd.Flags().GetString("camera-cmd")
	path, _ := cmd.Flags().GetString("camera-file")
	switch {
	case line != "" && path != "":
		exitErr("camera", fmt.Errorf("--camera-cmd and --camera-file are mutually exclusive"))
	case line != "":
		cam, err := capture.ParseCommand(line)
		if err != nil {
			exitErr("camera", err)
		}
		return cam
	case path != "":
		return capture.FileCamera{Path: path}
	}
	exitErr("camera", fmt.Errorf("one of --camera-cmd or --camera-file is required"))
	return nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx(cmd), os.Interrupt, syscall.SIGTERM)
}

func runWatch(cmd *cobra.Command, args []string) {
	cam := cameraFromFlags(cmd)
	interval, _ := cmd.Flags().GetDuration("interval")
	limit, _ := cmd.Flags().GetDuration("for")

	e := openEnv(cmd)
	defer e.Close()
	set := newClassifiers(e.cfg)
	if interval <= 0 {
		interval = e.cfg.Monitor.Interval
	}

	m, err := monitor.New(monitor.Options{
		Camera:     cam,
		Classifier: set.Backend,
		History:    e.history,
		Interval:   interval,
		MaxDim:     e.cfg.Capture.MaxDim,
		Logger:     &e.log,
		OnFrame: func(face classifier.Face, found bool, err error) {
			now := time.Now().Format("15:04:05")
			switch {
			case err != nil:
				fmt.Fprintf(os.Stderr, "%s error: %v\n", now, err)
			case !found:
				fmt.Fprintf(os.Stderr, "%s no face\n", now)
			default:
				fmt.Fprintf(os.Stderr, "%s %s\n", now, describe(face.Emotion, face.Confidence))
			}
		},
	})
	if err != nil {
		exitErr("monitor", err)
	}

	runCtx, stop := signalContext(cmd)
	defer stop()
	if limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, limit)
		defer cancel()
	}

	summary := m.Run(runCtx)
	if textFormat() {
		fmt.Printf("frames:   %d (%d failed)\n", summary.Frames, summary.Failures)
		fmt.Printf("elapsed:  %s\n", summary.Elapsed.Round(time.Second))
		fmt.Printf("dominant: %s\n", summary.Stats.DominantEmotion)
		return
	}
	printJSON(summary)
}
