package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathoo/turnweave/engine"
	"github.com/nathoo/turnweave/loader"
)

// Recording is an action log for replay verification: the run identity,
// every accepted choice in order, and the final checkpoints a re-run
// must reproduce.
type Recording struct {
	GameID  string     `json:"game_id"`
	RunID   string     `json:"run_id"`
	Choices []string   `json:"choices"`
	Final   FinalState `json:"final"`
}

// FinalState is the determinism checkpoint at the end of a recording.
type FinalState struct {
	TurnCount   int    `json:"turn_count"`
	Node        string `json:"node"`
	RNGPosition int64  `json:"rng_position"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <game-directory> <recording.json>",
		Short: "Re-run a recording and verify determinism",
		Long: `Re-execute a recorded action log from a fresh run with the recorded
run id and fail on any divergence from the recorded final state. A
divergence means either the content changed since the recording or the
engine broke its determinism contract.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0], args[1], cmd)
		},
	}
}

func runReplay(gameDir, recPath string, cmd *cobra.Command) error {
	data, err := os.ReadFile(recPath)
	if err != nil {
		return fmt.Errorf("reading recording: %w", err)
	}
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parsing recording: %w", err)
	}

	defs, err := loader.Load(gameDir)
	if err != nil {
		return fmt.Errorf("loading game: %w", err)
	}
	if defs.Game.ID != rec.GameID {
		return fmt.Errorf("recording is for game %q, directory contains %q", rec.GameID, defs.Game.ID)
	}

	eng := engine.New(defs, rec.GameID, rec.RunID)
	for i, choice := range rec.Choices {
		if _, err := eng.Step(cmdContext(cmd), choice); err != nil {
			return fmt.Errorf("replay diverged at turn %d (choice %q): %w", i, choice, err)
		}
	}

	s := eng.State
	if s.TurnCount != rec.Final.TurnCount {
		return fmt.Errorf("replay diverged: turn count %d, recorded %d", s.TurnCount, rec.Final.TurnCount)
	}
	if s.Node != rec.Final.Node {
		return fmt.Errorf("replay diverged: node %q, recorded %q", s.Node, rec.Final.Node)
	}
	if s.RNGPosition != rec.Final.RNGPosition {
		return fmt.Errorf("replay diverged: rng position %d, recorded %d", s.RNGPosition, rec.Final.RNGPosition)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "replay ok: %d turns, node %s, rng position %d\n",
		len(rec.Choices), s.Node, s.RNGPosition)
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
