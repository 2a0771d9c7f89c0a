// Package cli provides the turnweave command surface: an interactive
// run loop, content validation, and deterministic replay verification.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Config holds runtime settings. Environment variables fill the
// defaults; flags override them.
type Config struct {
	SaveDir string `env:"TURNWEAVE_SAVE_DIR"`
	RunID   string `env:"TURNWEAVE_RUN_ID"`
	Plain   bool   `env:"TURNWEAVE_PLAIN"`
	Verbose bool   `env:"TURNWEAVE_VERBOSE"`
}

// LoadConfig reads settings from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.SaveDir == "" {
		home, _ := os.UserHomeDir()
		cfg.SaveDir = filepath.Join(home, ".turnweave", "saves")
	}
	return cfg, nil
}

// NewRootCommand creates the turnweave root command.
func NewRootCommand() *cobra.Command {
	cfg, err := LoadConfig()
	if err != nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:   "turnweave",
		Short: "Deterministic turn-resolution engine for interactive narrative",
		Long: `TurnWeave runs Lua-authored narrative games through a deterministic
turn pipeline: choices, effects, events, modifiers, and arcs all resolve
from a seeded RNG stream, so any run can be replayed bit for bit.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(),
				&slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "verbose logging")

	cmd.AddCommand(NewRunCommand(cfg))
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewReplayCommand())

	return cmd
}
