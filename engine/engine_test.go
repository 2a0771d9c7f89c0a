package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nathoo/turnweave/engine/narrate"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

func fptr(f float64) *float64 { return &f }
func intptr(n int) *int       { return &n }

func testDefs() *state.Defs {
	return &state.Defs{
		Game: types.GameDef{
			ID: "demo", Title: "Demo", Version: "1.0",
			StartNode: "intro", StartZone: "downtown", StartLocation: "street",
			Slots: []types.SlotDef{
				{ID: "morning", Minutes: 360},
				{ID: "evening", Minutes: 360},
			},
		},
		Meters: map[string]types.MeterDef{
			"trust":      {ID: "trust", Min: 0, Max: 100},
			"corruption": {ID: "corruption", Min: 0, Max: 100},
		},
		Flags: map[string]types.FlagDef{
			"met_alex": {ID: "met_alex", Type: types.FlagBool},
		},
		Modifiers: map[string]types.ModifierDef{
			"charmed": {ID: "charmed", When: expr.MustParse("meters.self.trust >= 60")},
			"soaked":  {ID: "soaked", DurationMinutes: intptr(20)},
		},
		Items:   map[string]types.ItemDef{"rose": {ID: "rose", Name: "Rose"}},
		Outfits: map[string]types.OutfitDef{},
		Characters: map[string]types.CharacterDef{
			state.PlayerID: {ID: state.PlayerID, Meters: map[string]float64{"corruption": 0}, StartLocation: "street"},
			"alex":         {ID: "alex", Name: "Alex", Meters: map[string]float64{"trust": 45}, StartLocation: "street"},
		},
		Gates:     map[string]types.GateDef{},
		Locations: map[string]types.LocationDef{
			"street": {ID: "street", Zone: "downtown", Privacy: 0},
			"cafe":   {ID: "cafe", Zone: "downtown", Privacy: 1},
		},
		Nodes: map[string]types.NodeDef{
			"intro": {
				ID: "intro", Body: "A grey morning on the street.",
				Choices: []types.ChoiceDef{
					{
						ID: "greet", Label: "Say hello",
						Effects: []types.Effect{
							{Kind: types.EffectFlagSet, Flag: "met_alex", FlagValue: true},
							{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 5},
						},
					},
					{
						ID: "invite", Label: "Suggest coffee",
						When: expr.MustParse("flags.met_alex"),
						Effects: []types.Effect{
							{Kind: types.EffectMoveTo, Location: "cafe"},
							{Kind: types.EffectAdvanceTime, Minutes: 30},
						},
						Goto: "cafe_talk",
					},
					{
						ID: "leave", Label: "Head home",
						Effects: []types.Effect{
							{Kind: types.EffectApplyModifier, Modifier: "soaked"},
						},
						Goto: "walk_home",
					},
					{
						ID: "gamble", Label: "Flip a coin",
						Effects: []types.Effect{
							{
								Kind: types.EffectRandom,
								Branches: []types.RandomBranch{
									{Weight: 1, Effects: []types.Effect{{Kind: types.EffectMeterChange, Meter: "corruption", Op: types.OpAdd, Value: 1}}},
									{Weight: 1, Effects: []types.Effect{{Kind: types.EffectMeterChange, Meter: "corruption", Op: types.OpAdd, Value: 2}}},
								},
							},
						},
					},
				},
			},
			"cafe_talk": {
				ID: "cafe_talk", Body: "Steam curls off two cups.",
				OnEnter: []types.Effect{
					{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 3},
				},
			},
			"aside": {ID: "aside", Body: "An interruption."},
			"walk_home": {
				ID: "walk_home", Body: "The long way back.",
				OnEnter: []types.Effect{
					{Kind: types.EffectAdvanceTime, Minutes: 30},
				},
			},
		},
		Events: []types.EventDef{
			{
				ID: "rain", Kind: types.EventConditional,
				When:          expr.MustParse("turn == 2"),
				Narrative:     "Rain sweeps in.",
				CooldownTurns: 10,
			},
		},
		Pools: map[string]types.PoolDef{},
		Arcs: []types.ArcDef{
			{
				ID: "descent", Evaluation: types.ArcHighest, Meter: "corruption",
				Stages: []types.StageDef{
					{ID: "innocent"},
					{ID: "curious", Enter: fptr(2), Exit: fptr(1)},
				},
			},
		},
	}
}

func TestStep_ChoiceEffectsAndGuards(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	ctx := context.Background()

	// invite is guarded on met_alex
	if _, err := e.Step(ctx, "invite"); !errors.Is(err, ErrChoiceUnavailable) {
		t.Fatalf("err = %v, want ErrChoiceUnavailable", err)
	}

	out, err := e.Step(ctx, "greet")
	if err != nil {
		t.Fatal(err)
	}
	if e.State.Flags["met_alex"] != true {
		t.Error("greet effects did not apply")
	}
	if v, _ := state.Meter(e.State, "alex", "trust"); v != 50 {
		t.Errorf("trust = %v, want 50", v)
	}
	found := false
	for _, c := range out.Choices {
		if c.ID == "invite" {
			found = true
		}
	}
	if !found {
		t.Error("invite not offered after met_alex set")
	}
}

func TestStep_ChoiceGotoAndOnEnter(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	ctx := context.Background()

	if _, err := e.Step(ctx, "greet"); err != nil {
		t.Fatal(err)
	}
	out, err := e.Step(ctx, "invite")
	if err != nil {
		t.Fatal(err)
	}
	if out.Node != "cafe_talk" || e.State.Node != "cafe_talk" {
		t.Fatalf("node = %q, want cafe_talk", out.Node)
	}
	// 50 from greet, +3 from cafe_talk's OnEnter
	if v, _ := state.Meter(e.State, "alex", "trust"); v != 53 {
		t.Errorf("trust = %v, want 53", v)
	}
	if e.State.Position.Location != "cafe" {
		t.Errorf("location = %q", e.State.Position.Location)
	}
	if *e.State.Time.MinuteOfDay != 30 {
		t.Errorf("minute = %d, want 30", *e.State.Time.MinuteOfDay)
	}
}

func TestStep_WaitTurnStillRunsScheduler(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	ctx := context.Background()

	for turn := 0; turn < 3; turn++ {
		out, err := e.Step(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if turn == 2 && out.FiredEvent != "rain" {
			t.Errorf("turn 2 fired %q, want rain", out.FiredEvent)
		}
		if turn != 2 && out.FiredEvent != "" {
			t.Errorf("turn %d fired %q, want none", turn, out.FiredEvent)
		}
	}
}

func TestStep_ArcAdvancesOnSettledState(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	ctx := context.Background()

	// gamble until corruption crosses the arc threshold
	for i := 0; i < 3; i++ {
		if _, err := e.Step(ctx, "gamble"); err != nil {
			t.Fatal(err)
		}
	}
	if got := e.State.Arcs["descent"].Stage; got != "curious" {
		t.Errorf("stage = %q, want curious (corruption %v)",
			got, e.State.Meters[state.PlayerID]["corruption"])
	}
}

func TestStep_DeterministicReplay(t *testing.T) {
	script := []string{"gamble", "greet", "gamble", "", "invite", "gamble"}
	run := func() *types.WorldState {
		e := New(testDefs(), "demo", "run-7")
		for _, choice := range script {
			if _, err := e.Step(context.Background(), choice); err != nil {
				t.Fatal(err)
			}
		}
		return e.State
	}

	a, errA := json.Marshal(run())
	b, errB := json.Marshal(run())
	if errA != nil || errB != nil {
		t.Fatal(errA, errB)
	}
	if string(a) != string(b) {
		t.Errorf("identical runs diverged:\n%s\n%s", a, b)
	}
}

func TestStep_RestoreContinuesStream(t *testing.T) {
	script := []string{"greet", "gamble", "gamble"}

	// full run
	full := New(testDefs(), "demo", "run-9")
	for _, c := range script {
		if _, err := full.Step(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}

	// partial run, snapshot, restore, finish
	part := New(testDefs(), "demo", "run-9")
	for _, c := range script[:1] {
		if _, err := part.Step(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := json.Marshal(part.State)
	if err != nil {
		t.Fatal(err)
	}
	var restored types.WorldState
	if err := json.Unmarshal(snap, &restored); err != nil {
		t.Fatal(err)
	}
	resumed := Restore(testDefs(), &restored)
	for _, c := range script[1:] {
		if _, err := resumed.Step(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}

	av, _ := state.Meter(full.State, state.PlayerID, "corruption")
	bv, _ := state.Meter(resumed.State, state.PlayerID, "corruption")
	if av != bv {
		t.Errorf("corruption diverged after restore: %v vs %v", av, bv)
	}
	if full.State.RNGPosition != resumed.State.RNGPosition {
		t.Errorf("rng position diverged: %d vs %d",
			full.State.RNGPosition, resumed.State.RNGPosition)
	}
}

func TestStep_GeneratorDeltaApplies(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	e.Generator = &narrate.Scripted{Responses: []narrate.Response{
		{
			Prose: "Alex smiles despite the cold.",
			Delta: json.RawMessage(`{"meters":{"alex":{"trust":"+5"}},"memory":["braved the cold together"]}`),
		},
	}}

	out, err := e.Step(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := state.Meter(e.State, "alex", "trust"); v != 50 {
		t.Errorf("trust = %v, want 50 via delta", v)
	}
	if len(e.State.Memory) != 1 {
		t.Errorf("memory = %v", e.State.Memory)
	}
	if len(out.Narrative) == 0 || out.Narrative[0] != "Alex smiles despite the cold." {
		t.Errorf("narrative = %v", out.Narrative)
	}
	if !out.Safety.OK {
		t.Errorf("safety = %+v", out.Safety)
	}
}

func TestStep_MalformedDeltaFailsClosed(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	e.Generator = &narrate.Scripted{Responses: []narrate.Response{
		{Prose: "garbled", Delta: json.RawMessage(`{"meters": {`)},
		{Prose: "still garbled", Delta: json.RawMessage(`{"not_a_field": 1}`)},
	}}

	out, err := e.Step(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := state.Meter(e.State, "alex", "trust"); v != 45 {
		t.Errorf("trust = %v, state must be untouched", v)
	}
	found := false
	for _, v := range out.Safety.Violations {
		if v.Code == "parse_error" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want parse_error record", out.Safety.Violations)
	}
}

func TestStep_GeneratorErrorDegradesToAuthored(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	e.Generator = &narrate.Scripted{} // exhausted immediately

	out, err := e.Step(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Narrative) == 0 || out.Narrative[0] != "A grey morning on the street." {
		t.Errorf("narrative = %v, want authored fallback", out.Narrative)
	}
}

func TestStep_ConditionModifierSettlesOnDirtyTurn(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	e.Generator = &narrate.Scripted{Responses: []narrate.Response{
		{},
		{Delta: json.RawMessage(`{"meters":{"alex":{"trust":"+25"}}}`)},
	}}

	if _, err := e.Step(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if state.HasModifier(e.State, "alex", "charmed") {
		t.Fatal("charmed active before threshold crossed")
	}

	// trust 45 +25 crosses charmed's threshold within the same turn
	if _, err := e.Step(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if !state.HasModifier(e.State, "alex", "charmed") {
		t.Fatal("charmed not active after trust crossed 60")
	}

	// a turn that moves nothing leaves the settled state alone
	e.Generator = narrate.Null{}
	out, err := e.Step(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasModifier(e.State, "alex", "charmed") {
		t.Error("charmed released on a clean turn")
	}
	if len(out.Effects) != 0 {
		t.Errorf("clean turn produced effect records: %+v", out.Effects)
	}
}

func TestStep_NodeEntryTimeTicksDurations(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")

	// "leave" applies a 20 minute modifier, then walk_home's OnEnter
	// advances 30 minutes; the duration must elapse this same turn
	out, err := e.Step(context.Background(), "leave")
	if err != nil {
		t.Fatal(err)
	}
	if out.Node != "walk_home" {
		t.Fatalf("node = %q, want walk_home", out.Node)
	}
	if *e.State.Time.MinuteOfDay != 30 {
		t.Errorf("minute = %d, want 30", *e.State.Time.MinuteOfDay)
	}
	if state.HasModifier(e.State, state.PlayerID, "soaked") {
		t.Error("soaked survived 30 minutes against a 20 minute duration")
	}
}

func TestStep_DeltaGotoOutranksChoiceGoto(t *testing.T) {
	e := New(testDefs(), "demo", "run-1")
	if _, err := e.Step(context.Background(), "greet"); err != nil {
		t.Fatal(err)
	}
	e.Generator = &narrate.Scripted{Responses: []narrate.Response{
		{Delta: json.RawMessage(`{"goto":"aside"}`)},
	}}

	out, err := e.Step(context.Background(), "invite")
	if err != nil {
		t.Fatal(err)
	}
	if out.Node != "aside" {
		t.Errorf("node = %q, want aside over choice goto", out.Node)
	}
}
