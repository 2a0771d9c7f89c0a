package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nathoo/turnweave/engine"
	"github.com/nathoo/turnweave/engine/gates"
	"github.com/nathoo/turnweave/engine/save"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// rawLine stores an unstyled output line with its classification, so
// we can re-wrap and re-style when the terminal is resized.
type rawLine struct {
	text     string
	kind     lineKind
	isInput  bool // echoed player input
	isSystem bool // meta-command output
}

// Model is the Bubble Tea model for a TurnWeave run.
type Model struct {
	engine *engine.Engine

	viewport viewport.Model
	input    textinput.Model
	history  *History

	rawLines []rawLine
	choices  []types.ChoiceView

	width    int
	height   int
	ready    bool
	trace    bool
	quitting bool
	saveDir  string
}

// gameOutputMsg carries output from the engine into the Update loop.
type gameOutputMsg struct {
	input    string   // echoed player input (empty for intro)
	lines    []string // output lines
	isSystem bool     // true for meta-command output
}

// New creates a TUI model wired to the given engine.
func New(eng *engine.Engine, saveDir string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 256
	ti.PromptStyle = styleInputPrompt

	return Model{
		engine:  eng,
		input:   ti,
		history: NewHistory(100),
		saveDir: saveDir,
	}
}

// Run starts the Bubble Tea program.
func Run(eng *engine.Engine, saveDir string) error {
	m := New(eng, saveDir)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

// Init returns the initial command that shows the intro and the
// starting node.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.initialOutput())
}

func (m Model) initialOutput() tea.Cmd {
	return func() tea.Msg {
		g := m.engine.Defs.Game
		var lines []string
		lines = append(lines, g.Title+" v"+g.Version+" by "+g.Author)
		lines = append(lines, "")
		if g.Intro != "" {
			lines = append(lines, g.Intro)
			lines = append(lines, "")
		}
		lines = append(lines, describeNode(m.engine)...)
		return gameOutputMsg{lines: lines}
	}
}

// Update handles messages (key presses, window resize, game output).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		vpHeight := m.height - 2 // 1 status bar + 1 input line
		if vpHeight < 1 {
			vpHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.KeyMap = viewportKeyMap()
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}

		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			return m.handleEnter()

		case "up":
			if prev, ok := m.history.Prev(); ok {
				m.input.SetValue(prev)
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if next, ok := m.history.Next(); ok {
				m.input.SetValue(next)
				m.input.CursorEnd()
			} else {
				m.input.SetValue("")
				m.history.ResetCursor()
			}
			return m, nil

		case "pgup", "pgdown":
			var vpCmd tea.Cmd
			m.viewport, vpCmd = m.viewport.Update(msg)
			return m, vpCmd
		}

	case gameOutputMsg:
		m = m.appendOutput(msg)
		m.choices = currentChoices(m.engine, m.choices, msg)
	}

	var inputCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	cmds = append(cmds, inputCmd)

	return m, tea.Batch(cmds...)
}

// handleEnter processes the submitted input line.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")

	if input == "" {
		return m, nil
	}

	m.history.Push(input)
	m.history.ResetCursor()

	// Meta-commands.
	if strings.HasPrefix(input, "/") {
		output, quit := m.handleMeta(input)
		m = m.appendOutput(gameOutputMsg{input: input, lines: output, isSystem: true})
		if quit {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	}

	choiceID, ok := m.resolveChoice(input)
	if !ok {
		m = m.appendOutput(gameOutputMsg{
			input: input, lines: []string{"Pick a listed choice by number or id, or 'wait'."},
			isSystem: true,
		})
		return m, nil
	}

	outcome, err := m.engine.Step(context.Background(), choiceID)
	if err != nil {
		m = m.appendOutput(gameOutputMsg{
			input: input, lines: []string{fmt.Sprintf("%v", err)}, isSystem: true,
		})
		return m, nil
	}

	var output []string
	output = append(output, outcome.Narrative...)
	if !outcome.Safety.OK {
		output = append(output, "[Some proposed changes were refused.]")
	}
	if m.trace {
		output = append(output, formatTrace(outcome)...)
	}
	output = append(output, choiceLines(outcome.Choices)...)
	m.choices = outcome.Choices
	m = m.appendOutput(gameOutputMsg{input: input, lines: output})
	return m, nil
}

// resolveChoice maps player input to a choice id: a 1-based number
// into the current list, a literal choice id, or a wait.
func (m Model) resolveChoice(input string) (string, bool) {
	lower := strings.ToLower(input)
	if lower == "wait" || lower == "w" {
		return "", true
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(m.choices) {
			return "", false
		}
		return m.choices[n-1].ID, true
	}
	for _, c := range m.choices {
		if c.ID == input {
			return input, true
		}
	}
	return "", false
}

// appendOutput adds lines to the narrative and refreshes the viewport.
func (m Model) appendOutput(msg gameOutputMsg) Model {
	if msg.input != "" {
		m.rawLines = append(m.rawLines, rawLine{
			text: "> " + msg.input, isInput: true,
		})
	}

	for _, line := range msg.lines {
		rl := rawLine{text: line, isSystem: msg.isSystem}
		if !msg.isSystem {
			rl.kind = classifyLine(line)
		}
		m.rawLines = append(m.rawLines, rl)
	}

	// Blank line separator between turns.
	m.rawLines = append(m.rawLines, rawLine{})

	m.refreshViewport()

	return m
}

// refreshViewport re-wraps and re-styles all raw lines at the current
// width and updates the viewport content.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}

	width := m.width
	if width < 10 {
		width = 10
	}

	var styled []string
	for _, rl := range m.rawLines {
		if rl.text == "" {
			styled = append(styled, "")
			continue
		}

		wrapped := wordWrap(rl.text, width)

		switch {
		case rl.isInput:
			styled = append(styled, stylePlayerInput.Render(wrapped))
		case rl.isSystem:
			styled = append(styled, styledSystemMsg(wrapped))
		default:
			styled = append(styled, renderLineKind(wrapped, rl.kind))
		}
	}

	m.viewport.SetContent(strings.Join(styled, "\n"))
	m.viewport.GotoBottom()
}

// wordWrap wraps text to fit within the given width, breaking at word
// boundaries.
func wordWrap(text string, width int) string {
	if width <= 0 || len(text) <= width {
		return text
	}

	var result strings.Builder
	words := strings.Fields(text)
	lineLen := 0

	for i, word := range words {
		wLen := len(word)

		if i == 0 {
			result.WriteString(word)
			lineLen = wLen
			continue
		}

		if lineLen+1+wLen > width {
			result.WriteString("\n")
			result.WriteString(word)
			lineLen = wLen
		} else {
			result.WriteString(" ")
			result.WriteString(word)
			lineLen += 1 + wLen
		}
	}

	return result.String()
}

// View renders the full TUI layout: viewport + status bar + input.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	return m.viewport.View() + "\n" + m.renderStatusBar() + "\n" + m.input.View()
}

// handleMeta dispatches meta-commands. Returns output lines and quit
// flag.
func (m *Model) handleMeta(input string) ([]string, bool) {
	parts := strings.Fields(input)
	cmd := parts[0]
	var arg string
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch cmd {
	case "/quit", "/exit":
		return []string{"Goodbye."}, true

	case "/save":
		return m.cmdSave(arg), false

	case "/load":
		return m.cmdLoad(arg), false

	case "/help":
		return m.cmdHelp(), false

	case "/state":
		return m.cmdState(), false

	case "/trace":
		m.trace = !m.trace
		if m.trace {
			return []string{"Trace output enabled."}, false
		}
		return []string{"Trace output disabled."}, false

	default:
		return []string{fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)}, false
	}
}

func (m *Model) cmdSave(name string) []string {
	if name == "" {
		name = "quicksave"
	}

	data, err := save.Save(m.engine.State, m.engine.Defs)
	if err != nil {
		return []string{fmt.Sprintf("Save failed: %v", err)}
	}

	if err := os.MkdirAll(m.saveDir, 0o755); err != nil {
		return []string{fmt.Sprintf("Save failed: %v", err)}
	}

	path := filepath.Join(m.saveDir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return []string{fmt.Sprintf("Save failed: %v", err)}
	}

	return []string{fmt.Sprintf("Game saved to %s.", name)}
}

func (m *Model) cmdLoad(name string) []string {
	if name == "" {
		name = "quicksave"
	}

	path := filepath.Join(m.saveDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("Load failed: %v", err)}
	}

	ws, err := save.Load(data)
	if err != nil {
		return []string{fmt.Sprintf("Load failed: %v", err)}
	}

	restored := engine.Restore(m.engine.Defs, ws)
	restored.Generator = m.engine.Generator
	restored.Log = m.engine.Log
	m.engine = restored

	output := []string{fmt.Sprintf("Game loaded from %s (turn %d).", name, ws.TurnCount)}
	output = append(output, describeNode(m.engine)...)
	m.choices = nodeChoiceViews(m.engine)
	return output
}

func (m *Model) cmdHelp() []string {
	return []string{
		"System:",
		"  /save [name]  — Save game (default: quicksave)",
		"  /load [name]  — Load game (default: quicksave)",
		"  /quit         — Exit game",
		"  /help         — Show this help",
		"  /state        — Debug: dump current state",
		"  /trace        — Toggle per-turn effect trace",
		"",
		"Play:",
		"  <number>      — Take the numbered choice",
		"  <choice id>   — Take a choice by id",
		"  wait (w)      — Let the turn pass with no action",
		"",
		"Navigation: PgUp/PgDn to scroll, Up/Down for input history",
	}
}

func (m *Model) cmdState() []string {
	s := m.engine.State
	output := []string{
		fmt.Sprintf("Turn: %d", s.TurnCount),
		fmt.Sprintf("Node: %s", s.Node),
		fmt.Sprintf("Position: %s/%s", s.Position.Zone, s.Position.Location),
		fmt.Sprintf("Time: day %d, %s", s.Time.Day, s.Time.Slot),
	}
	if meters, ok := s.Meters[state.PlayerID]; ok && len(meters) > 0 {
		output = append(output, fmt.Sprintf("Meters: %v", meters))
	}
	if len(s.Modifiers[state.PlayerID]) > 0 {
		output = append(output, fmt.Sprintf("Modifiers: %v", s.Modifiers[state.PlayerID]))
	}
	output = append(output, fmt.Sprintf("RNG position: %d", s.RNGPosition))
	return output
}

func formatTrace(o *types.TurnOutcome) []string {
	var lines []string
	for _, rec := range o.Effects {
		line := fmt.Sprintf("[trace] %s %s", rec.Effect.Kind, rec.Outcome)
		if rec.Reason != "" {
			line += " (" + rec.Reason + ")"
		}
		lines = append(lines, line)
	}
	if o.FiredEvent != "" {
		lines = append(lines, fmt.Sprintf("[trace] Event: %s", o.FiredEvent))
	}
	for _, tr := range o.ArcTransitions {
		lines = append(lines, fmt.Sprintf("[trace] Arc %s: %s -> %s", tr.Arc, tr.From, tr.To))
	}
	for _, v := range o.Safety.Violations {
		lines = append(lines, fmt.Sprintf("[trace] Violation %s at %s: %s", v.Code, v.Path, v.Reason))
	}
	return lines
}

// describeNode renders the current node without consuming a turn.
func describeNode(eng *engine.Engine) []string {
	node, ok := eng.Defs.Nodes[eng.State.Node]
	if !ok {
		return nil
	}
	var lines []string
	if node.Title != "" {
		lines = append(lines, node.Title)
	}
	if node.Body != "" {
		lines = append(lines, node.Body)
	}
	lines = append(lines, choiceLines(nodeChoiceViews(eng))...)
	return lines
}

// nodeChoiceViews evaluates the current node's choice guards with a
// nil-RNG context, so rand() in a guard cannot advance the stream
// outside a turn.
func nodeChoiceViews(eng *engine.Engine) []types.ChoiceView {
	node, ok := eng.Defs.Nodes[eng.State.Node]
	if !ok {
		return nil
	}
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

func choiceLines(choices []types.ChoiceView) []string {
	var lines []string
	for i, c := range choices {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, c.Label))
	}
	return lines
}

// currentChoices refreshes the choice list after intro output, which
// carries no outcome.
func currentChoices(eng *engine.Engine, prev []types.ChoiceView, msg gameOutputMsg) []types.ChoiceView {
	if msg.isSystem {
		return prev
	}
	if len(prev) == 0 {
		return nodeChoiceViews(eng)
	}
	return prev
}

// viewportKeyMap returns a viewport keymap with Up/Down disabled (we
// use those for input history).
func viewportKeyMap() viewport.KeyMap {
	return viewport.KeyMap{
		PageDown:     key.NewBinding(key.WithKeys("pgdown")),
		PageUp:       key.NewBinding(key.WithKeys("pgup")),
		HalfPageDown: key.NewBinding(key.WithKeys("ctrl+d")),
		HalfPageUp:   key.NewBinding(key.WithKeys("ctrl+u")),
		Up:           key.NewBinding(key.WithDisabled()),
		Down:         key.NewBinding(key.WithDisabled()),
	}
}
