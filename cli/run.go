package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nathoo/turnweave/engine"
	"github.com/nathoo/turnweave/loader"
	"github.com/nathoo/turnweave/tui"
)

// NewRunCommand creates the run command.
func NewRunCommand(cfg *Config) *cobra.Command {
	var record string

	cmd := &cobra.Command{
		Use:   "run <game-directory>",
		Short: "Play a game interactively",
		Long: `Load Lua game content and start an interactive run.

A fresh run gets a random run id; the RNG seed derives from the game
and run ids, so noting the run id is enough to replay the run later.

Example:
  turnweave run ./games/rainy-cafe
  turnweave run --run-id 4ba6... --record run.json ./games/rainy-cafe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGame(cfg, args[0], record, cmd)
		},
	}

	cmd.Flags().StringVar(&cfg.RunID, "run-id", cfg.RunID, "run id (default: new UUID)")
	cmd.Flags().StringVar(&record, "record", "", "write a replay recording to this file on exit")
	cmd.Flags().BoolVar(&cfg.Plain, "plain", cfg.Plain, "plain terminal loop instead of the TUI")
	cmd.Flags().StringVar(&cfg.SaveDir, "save-dir", cfg.SaveDir, "save file directory")

	return cmd
}

func runGame(cfg *Config, gameDir, record string, cmd *cobra.Command) error {
	defs, err := loader.Load(gameDir)
	if err != nil {
		return fmt.Errorf("loading game: %w", err)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	eng := engine.New(defs, defs.Game.ID, runID)

	fmt.Fprintf(cmd.OutOrStdout(), "%s v%s by %s (run %s)\n\n",
		defs.Game.Title, defs.Game.Version, defs.Game.Author, runID)

	var rec *Recording
	if record != "" {
		rec = &Recording{GameID: defs.Game.ID, RunID: runID}
	}

	if cfg.Plain || !isTerminal() {
		session := NewSession(eng, cfg.SaveDir)
		session.In = cmd.InOrStdin()
		session.Out = cmd.OutOrStdout()
		session.Recorder = rec
		if err := session.Run(cmd.Context()); err != nil {
			return err
		}
		// the session may have swapped engines via /load
		eng = session.Engine
	} else {
		if err := tui.Run(eng, cfg.SaveDir); err != nil {
			return err
		}
	}

	if rec != nil {
		rec.Final = FinalState{
			TurnCount:   eng.State.TurnCount,
			Node:        eng.State.Node,
			RNGPosition: eng.State.RNGPosition,
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(record, data, 0o644); err != nil {
			return fmt.Errorf("writing recording: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recording written to %s (%d turns).\n",
			record, len(rec.Choices))
	}
	return nil
}

// isTerminal returns true if stdout is a terminal (not piped/redirected).
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
