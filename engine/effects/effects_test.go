package effects

import (
	"testing"

	"github.com/nathoo/turnweave/engine/rng"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

func intptr(n int) *int { return &n }

func testSetup() (*state.Defs, *types.WorldState, *state.EvalContext) {
	defs := &state.Defs{
		Game: types.GameDef{
			ID: "demo", StartNode: "intro",
			StartZone: "downtown", StartLocation: "street",
			Slots: []types.SlotDef{
				{ID: "morning", Minutes: 360},
				{ID: "evening", Minutes: 360},
			},
		},
		Meters: map[string]types.MeterDef{
			"trust":      {ID: "trust", Min: 0, Max: 100, Default: 10},
			"corruption": {ID: "corruption", Min: 0, Max: 100, DeltaCapPerTurn: 15},
		},
		Flags: map[string]types.FlagDef{
			"met_alex": {ID: "met_alex", Type: types.FlagBool, Default: false},
		},
		Modifiers: map[string]types.ModifierDef{
			"tipsy": {
				ID: "tipsy", DurationMinutes: intptr(120),
				EntryEffects: []types.Effect{
					{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 2},
				},
				ExitEffects: []types.Effect{
					{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpSubtract, Value: 2},
				},
			},
			"furious": {ID: "furious", DisallowGates: []string{"accept_touch"}},
		},
		Items: map[string]types.ItemDef{
			"rose":     {ID: "rose", Name: "Rose"},
			"necklace": {ID: "necklace", Name: "Necklace", Slot: "neck"},
		},
		Outfits: map[string]types.OutfitDef{
			"casual": {ID: "casual", Layers: []types.OutfitLayer{
				{ID: "top", Gate: "accept_touch"},
				{ID: "bottom", Gate: "accept_touch"},
			}},
			"formal": {ID: "formal", Layers: []types.OutfitLayer{
				{ID: "dress", Gate: "accept_touch"},
			}},
		},
		Characters: map[string]types.CharacterDef{
			state.PlayerID: {ID: state.PlayerID, Meters: map[string]float64{"corruption": 0}, StartLocation: "street"},
			"alex": {
				ID: "alex", Name: "Alex",
				Meters:        map[string]float64{"trust": 45},
				StartLocation: "street",
				Outfit:        "casual",
			},
		},
		Gates: map[string]types.GateDef{
			"accept_touch": {ID: "accept_touch", When: expr.MustParse("meters.alex.trust >= 40")},
		},
		Locations: map[string]types.LocationDef{
			"street":    {ID: "street", Zone: "downtown", Privacy: 0},
			"apartment": {ID: "apartment", Zone: "downtown", Privacy: 2},
		},
		Nodes: map[string]types.NodeDef{
			"intro":   {ID: "intro"},
			"chapter": {ID: "chapter"},
		},
		Pools: map[string]types.PoolDef{},
	}
	s := state.NewState(defs, "demo", "run-1", 42)
	ctx := state.NewEvalContext(defs, s, rng.New(42))
	return defs, s, ctx
}

func TestApply_MeterClampsAtMax(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 10},
	})
	if v, _ := state.Meter(s, "alex", "trust"); v != 55 {
		t.Fatalf("trust = %v, want 55", v)
	}
	if rep.Records[0].Outcome != types.OutcomeApplied {
		t.Errorf("outcome = %v", rep.Records[0].Outcome)
	}

	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 60},
	})
	if v, _ := state.Meter(s, "alex", "trust"); v != 100 {
		t.Errorf("trust = %v, want clamped 100", v)
	}
}

func TestApply_DeltaCapPerBatch(t *testing.T) {
	defs, s, ctx := testSetup()

	// corruption caps at 15 units of movement per batch
	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMeterChange, Meter: "corruption", Op: types.OpAdd, Value: 10},
		{Kind: types.EffectMeterChange, Meter: "corruption", Op: types.OpAdd, Value: 10},
	})
	if v, _ := state.Meter(s, state.PlayerID, "corruption"); v != 15 {
		t.Errorf("corruption = %v, want capped 15", v)
	}

	// a fresh batch gets a fresh cap
	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMeterChange, Meter: "corruption", Op: types.OpAdd, Value: 10},
	})
	if v, _ := state.Meter(s, state.PlayerID, "corruption"); v != 25 {
		t.Errorf("corruption = %v, want 25", v)
	}
}

func TestApply_GuardSkips(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{
			Kind: types.EffectMeterChange, Target: "alex", Meter: "trust",
			Op: types.OpAdd, Value: 10,
			Guard: expr.MustParse("flags.met_alex"),
		},
	})
	if rep.Records[0].Outcome != types.OutcomeSkipped {
		t.Errorf("outcome = %v, want skipped", rep.Records[0].Outcome)
	}
	if v, _ := state.Meter(s, "alex", "trust"); v != 45 {
		t.Errorf("trust moved to %v despite false guard", v)
	}
}

func TestApply_UnknownReferencesRejected(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMeterChange, Meter: "charisma", Op: types.OpAdd, Value: 1},
		{Kind: types.EffectInventoryAdd, Item: "sword"},
		{Kind: types.EffectGotoNode, Node: "nowhere"},
		{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 1},
	})
	for i := 0; i < 3; i++ {
		if rep.Records[i].Outcome != types.OutcomeRejected {
			t.Errorf("record %d outcome = %v, want rejected", i, rep.Records[i].Outcome)
		}
	}
	// the batch continues past rejections
	if v, _ := state.Meter(s, "alex", "trust"); v != 46 {
		t.Errorf("trust = %v, want 46", v)
	}
}

func TestApply_ClothingGateRefusal(t *testing.T) {
	defs, s, ctx := testSetup()

	// trust 45 opens accept_touch
	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectClothingSet, Target: "alex", Layer: "top", State: types.LayerDisplaced},
	})
	if rep.Records[0].Outcome != types.OutcomeApplied {
		t.Fatalf("outcome = %v, want applied", rep.Records[0].Outcome)
	}
	if s.Clothing["alex"]["top"] != types.LayerDisplaced {
		t.Errorf("top = %v", s.Clothing["alex"]["top"])
	}

	// drop trust below the gate and recompute for a new turn
	if err := state.SetMeter(s, defs, "alex", "trust", 10); err != nil {
		t.Fatal(err)
	}
	ctx2 := state.NewEvalContext(defs, s, nil)
	rep = Apply(defs, s, ctx2, []types.Effect{
		{Kind: types.EffectClothingSet, Target: "alex", Layer: "bottom", State: types.LayerRemoved},
	})
	if rep.Records[0].Outcome != types.OutcomeRefused {
		t.Errorf("outcome = %v, want refused", rep.Records[0].Outcome)
	}
	if s.Clothing["alex"]["bottom"] != types.LayerIntact {
		t.Errorf("bottom = %v, want intact", s.Clothing["alex"]["bottom"])
	}
}

func TestApply_OutfitChangeGatedByWornOutfit(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectOutfitChange, Target: "alex", Outfit: "formal"},
	})
	if rep.Records[0].Outcome != types.OutcomeApplied {
		t.Fatalf("outcome = %v", rep.Records[0].Outcome)
	}
	if s.Outfits["alex"] != "formal" {
		t.Errorf("outfit = %q", s.Outfits["alex"])
	}
	if s.Clothing["alex"]["dress"] != types.LayerIntact {
		t.Errorf("dress = %v, want fresh intact", s.Clothing["alex"]["dress"])
	}

	if err := state.SetMeter(s, defs, "alex", "trust", 10); err != nil {
		t.Fatal(err)
	}
	ctx2 := state.NewEvalContext(defs, s, nil)
	rep = Apply(defs, s, ctx2, []types.Effect{
		{Kind: types.EffectOutfitChange, Target: "alex", Outfit: "casual"},
	})
	if rep.Records[0].Outcome != types.OutcomeRefused {
		t.Errorf("outcome = %v, want refused", rep.Records[0].Outcome)
	}
	if s.Outfits["alex"] != "formal" {
		t.Errorf("outfit = %q, want formal unchanged", s.Outfits["alex"])
	}
}

func TestApply_ModifierLifecycle(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectApplyModifier, Target: "alex", Modifier: "tipsy"},
	})
	if !state.HasModifier(s, "alex", "tipsy") {
		t.Fatal("tipsy not active")
	}
	if !rep.ModifiersDirty {
		t.Error("ModifiersDirty not set")
	}
	// entry effects ran through the same pipeline
	if v, _ := state.Meter(s, "alex", "trust"); v != 47 {
		t.Errorf("trust = %v, want 47 after entry effect", v)
	}
	if rm := s.Modifiers["alex"][0].RemainingMinutes; rm == nil || *rm != 120 {
		t.Errorf("remaining = %v, want 120", rm)
	}

	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectRemoveModifier, Target: "alex", Modifier: "tipsy"},
	})
	if state.HasModifier(s, "alex", "tipsy") {
		t.Error("tipsy still active")
	}
	if v, _ := state.Meter(s, "alex", "trust"); v != 45 {
		t.Errorf("trust = %v, want 45 after exit effect", v)
	}
}

func TestApply_EquipRequiresHeldItem(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectEquip, Item: "necklace"},
	})
	if rep.Records[0].Outcome != types.OutcomeRejected {
		t.Fatalf("outcome = %v, want rejected when not held", rep.Records[0].Outcome)
	}

	rep = Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectInventoryAdd, Item: "necklace"},
		{Kind: types.EffectEquip, Item: "necklace"},
		{Kind: types.EffectEquip, Item: "rose"},
	})
	if s.Equipment[state.PlayerID]["neck"] != "necklace" {
		t.Errorf("neck slot = %q", s.Equipment[state.PlayerID]["neck"])
	}
	if rep.Records[2].Outcome != types.OutcomeRejected {
		t.Errorf("slotless item equip outcome = %v, want rejected", rep.Records[2].Outcome)
	}

	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectUnequip, Slot: "neck"},
	})
	if s.Equipment[state.PlayerID]["neck"] != "" {
		t.Errorf("neck slot = %q after unequip", s.Equipment[state.PlayerID]["neck"])
	}
}

func TestApply_MoveAndTime(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectMoveTo, Location: "apartment"},
		{Kind: types.EffectAdvanceTime, Minutes: 400},
	})
	if s.Position.Location != "apartment" {
		t.Errorf("location = %q", s.Position.Location)
	}
	if s.Presence[state.PlayerID] != "apartment" {
		t.Errorf("player presence = %q", s.Presence[state.PlayerID])
	}
	if s.Time.Slot != "evening" {
		t.Errorf("slot = %q, want evening after 400m", s.Time.Slot)
	}
	if *s.Time.MinuteOfDay != 400 {
		t.Errorf("minute = %d, want 400", *s.Time.MinuteOfDay)
	}
	if rep.MinutesElapsed != 400 {
		t.Errorf("elapsed = %d", rep.MinutesElapsed)
	}

	Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectAdvanceTime, Minutes: 360},
	})
	if s.Time.Day != 2 || s.Time.Slot != "morning" || *s.Time.MinuteOfDay != 40 {
		t.Errorf("time = day %d slot %q minute %d, want day 2 morning 40",
			s.Time.Day, s.Time.Slot, *s.Time.MinuteOfDay)
	}
}

func TestApply_ConditionalBranches(t *testing.T) {
	defs, s, ctx := testSetup()

	Apply(defs, s, ctx, []types.Effect{
		{
			Kind: types.EffectConditional,
			When: expr.MustParse("meters.alex.trust >= 40"),
			Then: []types.Effect{{Kind: types.EffectFlagSet, Flag: "met_alex", FlagValue: true}},
			Else: []types.Effect{{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 5}},
		},
	})
	if s.Flags["met_alex"] != true {
		t.Errorf("met_alex = %v, want true branch taken", s.Flags["met_alex"])
	}
	if v, _ := state.Meter(s, "alex", "trust"); v != 45 {
		t.Errorf("trust = %v, else branch ran", v)
	}
}

func TestApply_RandomIsDeterministic(t *testing.T) {
	run := func() float64 {
		defs, s, _ := testSetup()
		ctx := state.NewEvalContext(defs, s, rng.New(7))
		Apply(defs, s, ctx, []types.Effect{
			{
				Kind: types.EffectRandom,
				Branches: []types.RandomBranch{
					{Weight: 1, Effects: []types.Effect{{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 1}}},
					{Weight: 1, Effects: []types.Effect{{Kind: types.EffectMeterChange, Target: "alex", Meter: "trust", Op: types.OpAdd, Value: 2}}},
				},
			},
		})
		v, _ := state.Meter(s, "alex", "trust")
		return v
	}
	first := run()
	for i := 0; i < 5; i++ {
		if got := run(); got != first {
			t.Fatalf("run %d = %v, want %v", i, got, first)
		}
	}
}

func TestApply_GotoRecordedNotActed(t *testing.T) {
	defs, s, ctx := testSetup()

	rep := Apply(defs, s, ctx, []types.Effect{
		{Kind: types.EffectGotoNode, Node: "chapter"},
	})
	if rep.Goto != "chapter" {
		t.Errorf("goto = %q", rep.Goto)
	}
	if s.Node != "intro" {
		t.Errorf("node = %q, pipeline must not transition", s.Node)
	}
}
