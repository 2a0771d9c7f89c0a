package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nathoo/turnweave/engine"
	"github.com/nathoo/turnweave/engine/gates"
	"github.com/nathoo/turnweave/engine/save"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// Session handles terminal interaction with the player.
type Session struct {
	Engine  *engine.Engine
	In      io.Reader
	Out     io.Writer
	SaveDir string
	Trace   bool

	// Recorder, if set, captures each accepted choice for replay
	// verification.
	Recorder *Recording

	choices []types.ChoiceView
}

// NewSession creates a session wired to the given engine.
func NewSession(eng *engine.Engine, saveDir string) *Session {
	return &Session{
		Engine:  eng,
		In:      os.Stdin,
		Out:     os.Stdout,
		SaveDir: saveDir,
	}
}

// Run starts the play loop: show the node, prompt, dispatch, repeat.
func (s *Session) Run(ctx context.Context) error {
	if intro := s.Engine.Defs.Game.Intro; intro != "" {
		s.printLine(intro)
		s.printLine("")
	}
	s.describeNode()

	scanner := bufio.NewScanner(s.In)
	for {
		s.print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if s.handleMeta(input) {
				return nil
			}
			continue
		}

		choiceID, ok := s.resolveChoice(input)
		if !ok {
			s.printSystem("Pick a listed choice by number or id, or 'wait'.")
			continue
		}

		outcome, err := s.Engine.Step(ctx, choiceID)
		if err != nil {
			if errors.Is(err, engine.ErrChoiceUnavailable) {
				s.printSystem("That choice is no longer available.")
				continue
			}
			return err
		}
		if s.Recorder != nil {
			s.Recorder.Choices = append(s.Recorder.Choices, choiceID)
		}
		s.printOutcome(outcome)
	}
}

// resolveChoice maps player input to a choice id: a 1-based number
// into the current choice list, a literal choice id, or a wait.
func (s *Session) resolveChoice(input string) (string, bool) {
	lower := strings.ToLower(input)
	if lower == "wait" || lower == "w" {
		return "", true
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(s.choices) {
			return "", false
		}
		return s.choices[n-1].ID, true
	}
	for _, c := range s.choices {
		if c.ID == input {
			return input, true
		}
	}
	return "", false
}

// handleMeta dispatches meta-commands. Returns true on quit.
func (s *Session) handleMeta(input string) bool {
	parts := strings.Fields(input)
	cmd := parts[0]
	var arg string
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch cmd {
	case "/quit", "/exit":
		s.printSystem("Goodbye.")
		return true
	case "/save":
		s.cmdSave(arg)
	case "/load":
		s.cmdLoad(arg)
	case "/state":
		s.cmdState()
	case "/trace":
		s.Trace = !s.Trace
		s.printSystem(fmt.Sprintf("Trace output %s.", onOff(s.Trace)))
	case "/help":
		s.cmdHelp()
	default:
		s.printSystem(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
	}
	return false
}

func (s *Session) cmdSave(name string) {
	if name == "" {
		name = "quicksave"
	}
	data, err := save.Save(s.Engine.State, s.Engine.Defs)
	if err != nil {
		s.printSystem(fmt.Sprintf("Save failed: %v", err))
		return
	}
	if err := os.MkdirAll(s.SaveDir, 0o755); err != nil {
		s.printSystem(fmt.Sprintf("Save failed: %v", err))
		return
	}
	path := filepath.Join(s.SaveDir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.printSystem(fmt.Sprintf("Save failed: %v", err))
		return
	}
	s.printSystem(fmt.Sprintf("Game saved to %s.", name))
}

func (s *Session) cmdLoad(name string) {
	if name == "" {
		name = "quicksave"
	}
	path := filepath.Join(s.SaveDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		s.printSystem(fmt.Sprintf("Load failed: %v", err))
		return
	}
	ws, err := save.Load(data)
	if err != nil {
		s.printSystem(fmt.Sprintf("Load failed: %v", err))
		return
	}
	restored := engine.Restore(s.Engine.Defs, ws)
	restored.Generator = s.Engine.Generator
	restored.Log = s.Engine.Log
	s.Engine = restored
	s.Recorder = nil // a loaded run no longer matches the recording
	s.printSystem(fmt.Sprintf("Game loaded from %s (turn %d).", name, ws.TurnCount))
	s.describeNode()
}

func (s *Session) cmdState() {
	ws := s.Engine.State
	s.printSystem(fmt.Sprintf("Turn: %d", ws.TurnCount))
	s.printSystem(fmt.Sprintf("Node: %s", ws.Node))
	s.printSystem(fmt.Sprintf("Position: %s/%s", ws.Position.Zone, ws.Position.Location))
	s.printSystem(fmt.Sprintf("Time: day %d, %s", ws.Time.Day, ws.Time.Slot))
	if meters, ok := ws.Meters[state.PlayerID]; ok && len(meters) > 0 {
		s.printSystem(fmt.Sprintf("Meters: %v", meters))
	}
	if len(ws.Modifiers[state.PlayerID]) > 0 {
		s.printSystem(fmt.Sprintf("Modifiers: %v", ws.Modifiers[state.PlayerID]))
	}
	s.printSystem(fmt.Sprintf("RNG position: %d", ws.RNGPosition))
}

func (s *Session) cmdHelp() {
	help := []string{
		"System:",
		"  /save [name]  — Save game (default: quicksave)",
		"  /load [name]  — Load game (default: quicksave)",
		"  /state        — Debug: dump current state",
		"  /trace        — Toggle per-turn effect trace",
		"  /quit         — Exit game",
		"",
		"Play:",
		"  <number>      — Take the numbered choice",
		"  <choice id>   — Take a choice by id",
		"  wait (w)      — Let the turn pass with no action",
	}
	for _, line := range help {
		s.printLine(line)
	}
}

// describeNode prints the current node without consuming a turn.
func (s *Session) describeNode() {
	node, ok := s.Engine.Defs.Nodes[s.Engine.State.Node]
	if !ok {
		return
	}
	if node.Title != "" {
		s.printLine(node.Title)
	}
	if node.Body != "" {
		s.printLine(node.Body)
	}
	s.choices = nodeChoices(s.Engine, node)
	s.printChoices()
}

func (s *Session) printOutcome(o *types.TurnOutcome) {
	for _, line := range o.Narrative {
		s.printLine(line)
	}
	if !o.Safety.OK {
		s.printSystem("Some proposed changes were refused.")
	}
	if s.Trace {
		s.printTrace(o)
	}
	s.choices = o.Choices
	s.printChoices()
}

func (s *Session) printChoices() {
	for i, c := range s.choices {
		s.printLine(fmt.Sprintf("  %d. %s", i+1, c.Label))
	}
}

func (s *Session) printTrace(o *types.TurnOutcome) {
	s.printSystem(fmt.Sprintf("[trace] Turn %d, node %s", o.Turn, o.Node))
	for _, rec := range o.Effects {
		line := fmt.Sprintf("[trace]   %s %s", rec.Effect.Kind, rec.Outcome)
		if rec.Reason != "" {
			line += " (" + rec.Reason + ")"
		}
		s.printSystem(line)
	}
	if o.FiredEvent != "" {
		s.printSystem(fmt.Sprintf("[trace] Event: %s", o.FiredEvent))
	}
	for _, tr := range o.ArcTransitions {
		s.printSystem(fmt.Sprintf("[trace] Arc %s: %s -> %s", tr.Arc, tr.From, tr.To))
	}
	for _, v := range o.Safety.Violations {
		s.printSystem(fmt.Sprintf("[trace] Violation %s at %s: %s", v.Code, v.Path, v.Reason))
	}
}

// nodeChoices evaluates a node's choice guards without consuming a
// turn. The nil-RNG context makes rand() in a guard draw false instead
// of advancing the stream outside a turn.
func nodeChoices(eng *engine.Engine, node types.NodeDef) []types.ChoiceView {
	ec := state.NewEvalContext(eng.Defs, eng.State, nil)
	ec.Gates = gates.Compute(eng.Defs, eng.State)
	var views []types.ChoiceView
	for i := range node.Choices {
		c := &node.Choices[i]
		if c.When != nil && !expr.EvalBool(c.When, ec) {
			continue
		}
		views = append(views, types.ChoiceView{ID: c.ID, Label: c.Label})
	}
	return views
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

func (s *Session) printLine(text string) {
	fmt.Fprintln(s.Out, text)
}

func (s *Session) print(text string) {
	fmt.Fprint(s.Out, text)
}

func (s *Session) printSystem(text string) {
	fmt.Fprintf(s.Out, "[%s]\n", text)
}
