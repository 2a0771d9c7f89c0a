package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nathoo/turnweave/types"
)

func TestLoad_MinimalGame(t *testing.T) {
	defs, err := Load("testdata/minimal")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if defs.Game.Title != "Minimal Test Game" {
		t.Errorf("Title = %q, want %q", defs.Game.Title, "Minimal Test Game")
	}
	if defs.Game.StartNode != "hall" {
		t.Errorf("StartNode = %q, want %q", defs.Game.StartNode, "hall")
	}
	if _, ok := defs.Nodes["hall"]; !ok {
		t.Error("node 'hall' not found")
	}
	if defs.Nodes["hall"].Body != "A grand hall." {
		t.Errorf("hall body = %q, want %q", defs.Nodes["hall"].Body, "A grand hall.")
	}
}

func TestLoad_FullGame(t *testing.T) {
	defs, err := Load("testdata/full")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Game metadata and day structure.
	if defs.Game.Title != "Full Test Game" {
		t.Errorf("Title = %q", defs.Game.Title)
	}
	if defs.Game.Author != "Tester" {
		t.Errorf("Author = %q", defs.Game.Author)
	}
	if len(defs.Game.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(defs.Game.Slots))
	}
	if defs.Game.Slots[2].ID != "evening" || defs.Game.Slots[2].Minutes != 360 {
		t.Errorf("slot 2 = %+v, want evening/360", defs.Game.Slots[2])
	}

	// Meters.
	trust, ok := defs.Meters["trust"]
	if !ok {
		t.Fatal("meter 'trust' not found")
	}
	if trust.Default != 50 {
		t.Errorf("trust default = %v, want 50", trust.Default)
	}
	if trust.DeltaCapPerTurn != 15 {
		t.Errorf("trust delta cap = %v, want 15", trust.DeltaCapPerTurn)
	}
	if len(trust.Thresholds) != 3 || trust.Thresholds[1].Label != "open" {
		t.Errorf("trust thresholds = %+v", trust.Thresholds)
	}

	// Flags keep declared types.
	if defs.Flags["met_riko"].Type != types.FlagBool {
		t.Errorf("met_riko type = %q", defs.Flags["met_riko"].Type)
	}
	if defs.Flags["visit_count"].Default != float64(0) {
		t.Errorf("visit_count default = %v", defs.Flags["visit_count"].Default)
	}

	// Items and outfits.
	if defs.Items["silver_pendant"].Slot != "neck" {
		t.Errorf("pendant slot = %q", defs.Items["silver_pendant"].Slot)
	}
	casual := defs.Outfits["casual"]
	if len(casual.Layers) != 2 {
		t.Fatalf("casual layers = %d, want 2", len(casual.Layers))
	}
	if casual.Layers[1].Gate != "accept_touch" {
		t.Errorf("top layer gate = %q", casual.Layers[1].Gate)
	}

	// Character with gate override.
	riko, ok := defs.Characters["riko"]
	if !ok {
		t.Fatal("character 'riko' not found")
	}
	if riko.Meters["trust"] != 50 {
		t.Errorf("riko trust = %v", riko.Meters["trust"])
	}
	if riko.Gates["accept_touch"] == nil {
		t.Error("riko accept_touch override not compiled")
	}

	// Modifiers.
	tipsy := defs.Modifiers["tipsy"]
	if tipsy.DurationMinutes == nil || *tipsy.DurationMinutes != 90 {
		t.Errorf("tipsy duration = %v, want 90", tipsy.DurationMinutes)
	}
	if d := defs.Modifiers["exhausted"].DurationMinutes; d != nil {
		t.Errorf("exhausted duration = %d, want nil for indefinite", *d)
	}
	if len(tipsy.EntryEffects) != 1 || len(tipsy.ExitEffects) != 1 {
		t.Errorf("tipsy effects = %d entry / %d exit", len(tipsy.EntryEffects), len(tipsy.ExitEffects))
	}
	exhausted := defs.Modifiers["exhausted"]
	if exhausted.When == nil {
		t.Error("exhausted condition not compiled")
	}
	if len(exhausted.DisallowGates) != 1 || exhausted.DisallowGates[0] != "accept_touch" {
		t.Errorf("exhausted disallow = %v", exhausted.DisallowGates)
	}

	// Nodes, choices, nested effects.
	corner := defs.Nodes["street_corner"]
	if len(corner.Choices) != 2 {
		t.Fatalf("street_corner choices = %d", len(corner.Choices))
	}
	if corner.Choices[0].Goto != "cafe_talk" {
		t.Errorf("enter_cafe goto = %q", corner.Choices[0].Goto)
	}
	talk := defs.Nodes["cafe_talk"]
	if len(talk.OnEnter) != 2 {
		t.Fatalf("cafe_talk on_enter = %d", len(talk.OnEnter))
	}
	cond := talk.OnEnter[1]
	if cond.Kind != types.EffectConditional || cond.When == nil {
		t.Fatalf("on_enter[1] = %+v, want conditional with when", cond)
	}
	if len(cond.Else) != 1 || cond.Else[0].Kind != types.EffectRandom {
		t.Fatalf("else branch should hold a random effect")
	}
	if len(cond.Else[0].Branches) != 2 || cond.Else[0].Branches[0].Weight != 7 {
		t.Errorf("random branches = %+v", cond.Else[0].Branches)
	}
	if talk.Choices[0].Effects[0].Guard == nil {
		t.Error("compliment effect guard not compiled")
	}

	// Events keep declaration order; kind inference fills gaps.
	if len(defs.Events) != 4 {
		t.Fatalf("events = %d, want 4", len(defs.Events))
	}
	if defs.Events[0].ID != "closing_time" || defs.Events[0].Kind != types.EventScheduled {
		t.Errorf("event 0 = %s/%s", defs.Events[0].ID, defs.Events[0].Kind)
	}
	if got := defs.Events[0].Window.Slots; len(got) != 2 || got[0] != "evening" {
		t.Errorf("closing_time window = %v", got)
	}
	if defs.Events[1].Kind != types.EventConditional {
		t.Errorf("spilled_drink kind = %q, want conditional", defs.Events[1].Kind)
	}
	if !defs.Events[1].Interrupt || !defs.Events[1].Once {
		t.Error("spilled_drink should be once+interrupt")
	}
	if defs.Events[2].Kind != types.EventPool || defs.Events[2].Weight != 7 {
		t.Errorf("busker = %s weight %d", defs.Events[2].Kind, defs.Events[2].Weight)
	}
	if defs.Pools["street_life"].ChancePerTurn != 0.3 {
		t.Errorf("pool chance = %v", defs.Pools["street_life"].ChancePerTurn)
	}

	// Arcs.
	if len(defs.Arcs) != 1 {
		t.Fatalf("arcs = %d", len(defs.Arcs))
	}
	arc := defs.Arcs[0]
	if arc.Evaluation != types.ArcHighest || arc.Meter != "trust" {
		t.Errorf("friendship arc = %+v", arc)
	}
	friendly := arc.Stages[1]
	if friendly.Enter == nil || *friendly.Enter != 40 || friendly.Exit == nil || *friendly.Exit != 35 {
		t.Errorf("friendly thresholds = %v/%v", friendly.Enter, friendly.Exit)
	}
	if friendly.DebounceTurns != 2 {
		t.Errorf("friendly debounce = %d", friendly.DebounceTurns)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	if _, err := Load("testdata/does_not_exist"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestLoad_NoLuaFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestLoad_BadExpression(t *testing.T) {
	dir := t.TempDir()
	src := `
Game { id = "bad", title = "Bad", start_node = "start" }
Node "start" {
    body = "x",
    choices = {
        { id = "c", label = "c", when = "meters.self.trust >=" },
    },
}
`
	writeGameFile(t, dir, "game.lua", src)

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for malformed condition")
	}
	if !strings.Contains(err.Error(), "choice c") {
		t.Errorf("error should locate the bad choice: %v", err)
	}
}

func TestLoad_SandboxBlocksIO(t *testing.T) {
	dir := t.TempDir()
	writeGameFile(t, dir, "game.lua", `dofile("other.lua")`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error: dofile must not be reachable from content")
	}
}

func TestLoad_SandboxBlocksMathRandom(t *testing.T) {
	dir := t.TempDir()
	writeGameFile(t, dir, "game.lua", `local x = math.random()`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error: math.random must not be reachable from content")
	}
}

func TestSortedLuaFiles_GameFirst(t *testing.T) {
	got := sortedLuaFiles([]string{"world.lua", "arcs.lua", "game.lua", "story.lua"})
	want := []string{"game.lua", "arcs.lua", "story.lua", "world.lua"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func writeGameFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}
