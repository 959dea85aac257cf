package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/emotion-lens/internal/game"
	"github.com/rcliao/emotion-lens/internal/sched"
)

func init() {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Play the expression challenge game (use -f text for a readable transcript)",
		Long: "Each round names an emotion to make in front of the camera. Press Enter to " +
			"submit early for a time bonus, type r to restart or q to quit.",
		Run: runGame,
	}

	addCameraFlags(cmd)
	cmd.Flags().Int("rounds", 0, "Rounds per game (default: game.rounds)")

	RootCmd.AddCommand(cmd)
}

func printGameState(st game.State) {
	switch st.Phase {
	case game.PhaseCountdown:
		fmt.Printf("round %d/%d: make a %s %s face in %d...\n",
			st.Round, st.MaxRounds, st.Challenge.Name, st.Challenge.Emoji, st.Countdown)
	case game.PhasePlaying:
		fmt.Printf("  %ds left\n", st.TimeLeft)
	case game.PhaseChecking:
		fmt.Println("  checking...")
	case game.PhaseResult:
		verdict := "miss"
		if st.Correct {
			verdict = fmt.Sprintf("+%d", st.LastPoints)
		}
		detected := st.Detected
		if detected == "" {
			detected = "nothing"
		}
		fmt.Printf("  detected %s: %s (score %d)\n", detected, verdict, st.Score)
		if st.Error != "" {
			fmt.Printf("  (%s)\n", st.Error)
		}
	case game.PhaseGameOver:
		fmt.Printf("game over: %d points (high score %d)\n", st.Score, st.HighScore)
		if st.NewHighScore {
			fmt.Println("new high score!")
		}
		fmt.Println("r to play again, q to quit")
	}
}

func runGame(cmd *cobra.Command, args []string) {
	cam := cameraFromFlags(cmd)
	rounds, _ := cmd.Flags().GetInt("rounds")

	e := openEnv(cmd)
	defer e.Close()
	set := newClassifiers(e.cfg)
	if rounds <= 0 {
		rounds = e.cfg.Game.Rounds
	}

	onChange := func(st game.State) {
		if textFormat() {
			printGameState(st)
			return
		}
		b, _ := json.Marshal(st)
		fmt.Println(string(b))
	}

	s, err := game.New(game.Options{
		Camera:     cam,
		Classifier: set.Backend,
		Store:      e.kv,
		Scheduler:  sched.Real{},
		History:    e.history,
		Logger:     &e.log,
		OnChange:   onChange,
		Rounds:     rounds,
		MaxDim:     e.cfg.Capture.MaxDim,
	})
	if err != nil {
		exitErr("game", err)
	}
	defer s.Close()

	runCtx, stop := signalContext(cmd)
	defer stop()

	if textFormat() {
		fmt.Printf("high score: %d\n", s.State().HighScore)
	}
	if err := s.Start(); err != nil {
		exitErr("start game", err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-runCtx.Done():
			return
		case line, ok := <-lines:
			if !ok || line == "q" {
				return
			}
			if line == "r" {
				if err := s.Restart(); err != nil {
					fmt.Fprintf(os.Stderr, "restart: %v\n", err)
				}
				continue
			}
			if err := s.Submit(); err != nil {
				fmt.Fprintf(os.Stderr, "submit: %v\n", err)
			}
		}
	}
}
