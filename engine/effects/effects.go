// Package effects applies effect batches to world state. Every state
// mutation in the engine flows through Apply: choice effects, event
// effects, modifier entry/exit effects, and merged generator deltas.
//
// Each effect in a batch is evaluated independently. A failing effect
// is recorded and the batch continues; there is no rollback.
package effects

import (
	"fmt"

	"github.com/nathoo/turnweave/engine/gates"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// maxDepth bounds conditional/random/modifier-effect recursion so
// mutually-recursive content cannot loop forever.
const maxDepth = 8

// Report summarizes a batch application.
type Report struct {
	Records []types.EffectRecord

	// ModifiersDirty is set when meters, flags, position, or the
	// modifier list changed, signalling the resolver to re-evaluate
	// modifier conditions.
	ModifiersDirty bool

	// Goto holds the node id of the last goto_node effect in the
	// batch, empty if none fired.
	Goto string

	// MinutesElapsed is the total time advanced by the batch.
	MinutesElapsed int
}

type applier struct {
	defs *state.Defs
	s    *types.WorldState
	ctx  *state.EvalContext

	// per-batch cumulative meter movement, keyed entity\0meter,
	// for delta_cap_per_turn enforcement
	moved map[string]float64

	report *Report
}

// Apply runs a batch of effects against s. The eval context supplies
// the RNG stream for random effects and the memoized gate table; if
// the gate table is nil it is computed from the current state.
func Apply(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, effs []types.Effect) Report {
	if ctx.Gates == nil {
		ctx.Gates = gates.Compute(defs, s)
	}
	rep := Report{}
	a := &applier{defs: defs, s: s, ctx: ctx, moved: map[string]float64{}, report: &rep}
	a.applyAll(effs, 0)
	return rep
}

func (a *applier) applyAll(effs []types.Effect, depth int) {
	for i := range effs {
		a.apply(&effs[i], depth)
	}
}

func (a *applier) record(e *types.Effect, outcome types.EffectOutcome, reason string) {
	a.report.Records = append(a.report.Records, types.EffectRecord{
		Effect:  *e,
		Outcome: outcome,
		Reason:  reason,
	})
}

func (a *applier) apply(e *types.Effect, depth int) {
	if depth > maxDepth {
		a.record(e, types.OutcomeRejected, "effect nesting too deep")
		return
	}
	if e.Guard != nil && !expr.EvalBool(e.Guard, a.ctx) {
		a.record(e, types.OutcomeSkipped, "guard false")
		return
	}

	switch e.Kind {
	case types.EffectMeterChange:
		a.meterChange(e)
	case types.EffectFlagSet:
		if err := state.SetFlag(a.s, a.defs, e.Flag, e.FlagValue); err != nil {
			a.record(e, types.OutcomeRejected, err.Error())
			return
		}
		a.report.ModifiersDirty = true
		a.record(e, types.OutcomeApplied, "")
	case types.EffectInventoryAdd:
		a.inventoryAdd(e)
	case types.EffectInventoryRemove:
		a.inventoryRemove(e)
	case types.EffectApplyModifier:
		a.applyModifier(e, depth)
	case types.EffectRemoveModifier:
		a.removeModifier(e, depth)
	case types.EffectOutfitChange:
		a.outfitChange(e)
	case types.EffectClothingSet:
		a.clothingSet(e)
	case types.EffectEquip:
		a.equip(e)
	case types.EffectUnequip:
		a.unequip(e)
	case types.EffectMoveTo:
		a.moveTo(e)
	case types.EffectAdvanceTime:
		a.advanceTime(e)
	case types.EffectGotoNode:
		if _, ok := a.defs.Nodes[e.Node]; !ok {
			a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown node %q", e.Node))
			return
		}
		a.report.Goto = e.Node
		a.record(e, types.OutcomeApplied, "")
	case types.EffectConditional:
		a.conditional(e, depth)
	case types.EffectRandom:
		a.random(e, depth)
	case types.EffectUnlock:
		if e.UnlockKind == "" || e.UnlockID == "" {
			a.record(e, types.OutcomeRejected, "unlock needs kind and id")
			return
		}
		a.s.Unlocked[e.UnlockKind+":"+e.UnlockID] = true
		a.record(e, types.OutcomeApplied, "")
	default:
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown effect kind %q", e.Kind))
	}
}

func (a *applier) target(e *types.Effect) string {
	if e.Target == "" {
		return state.PlayerID
	}
	return e.Target
}

func (a *applier) meterChange(e *types.Effect) {
	entity := a.target(e)
	def, ok := a.defs.Meters[e.Meter]
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown meter %q", e.Meter))
		return
	}
	cur, ok := state.Meter(a.s, entity, e.Meter)
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("entity %q does not carry meter %q", entity, e.Meter))
		return
	}
	var want float64
	switch e.Op {
	case types.OpAdd, "":
		want = cur + e.Value
	case types.OpSubtract:
		want = cur - e.Value
	case types.OpSet:
		want = e.Value
	case types.OpMultiply:
		want = cur * e.Value
	case types.OpDivide:
		if e.Value == 0 {
			a.record(e, types.OutcomeRejected, "divide by zero")
			return
		}
		want = cur / e.Value
	default:
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown op %q", e.Op))
		return
	}
	want = state.ClampMeter(def, want)
	delta := want - cur
	if def.DeltaCapPerTurn > 0 {
		key := entity + "\x00" + e.Meter
		remaining := def.DeltaCapPerTurn - abs(a.moved[key])
		if remaining < 0 {
			remaining = 0
		}
		if abs(delta) > remaining {
			if delta > 0 {
				delta = remaining
			} else {
				delta = -remaining
			}
			want = state.ClampMeter(def, cur+delta)
		}
		a.moved[key] += delta
	}
	if err := state.SetMeter(a.s, a.defs, entity, e.Meter, want); err != nil {
		a.record(e, types.OutcomeRejected, err.Error())
		return
	}
	if delta != 0 {
		a.report.ModifiersDirty = true
	}
	a.record(e, types.OutcomeApplied, fmt.Sprintf("%s.%s %+g", entity, e.Meter, delta))
}

func (a *applier) inventoryAdd(e *types.Effect) {
	if _, ok := a.defs.Items[e.Item]; !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown item %q", e.Item))
		return
	}
	n := e.Count
	if n <= 0 {
		n = 1
	}
	state.AddItem(a.s, a.target(e), e.Item, n)
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) inventoryRemove(e *types.Effect) {
	if _, ok := a.defs.Items[e.Item]; !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown item %q", e.Item))
		return
	}
	n := e.Count
	if n <= 0 {
		n = 1
	}
	// removing more than held clamps at zero
	state.RemoveItem(a.s, a.target(e), e.Item, n)
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) applyModifier(e *types.Effect, depth int) {
	entity := a.target(e)
	def, ok := a.defs.Modifiers[e.Modifier]
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown modifier %q", e.Modifier))
		return
	}
	var dur *int
	if e.DurationMinutes != nil {
		d := *e.DurationMinutes
		dur = &d
	} else if def.DurationMinutes != nil {
		d := *def.DurationMinutes
		dur = &d
	}
	active := a.s.Modifiers[entity]
	for i := range active {
		if active[i].ID == e.Modifier {
			// re-application refreshes duration and recency
			active[i].RemainingMinutes = dur
			active[i].ActivatedTurn = a.s.TurnCount
			a.report.ModifiersDirty = true
			a.record(e, types.OutcomeApplied, "refreshed")
			return
		}
	}
	if a.s.Modifiers == nil {
		a.s.Modifiers = map[string][]types.ActiveModifier{}
	}
	a.s.Modifiers[entity] = append(a.s.Modifiers[entity], types.ActiveModifier{
		ID:               e.Modifier,
		RemainingMinutes: dur,
		ActivatedTurn:    a.s.TurnCount,
	})
	a.report.ModifiersDirty = true
	a.record(e, types.OutcomeApplied, "")
	a.applyAll(def.EntryEffects, depth+1)
}

func (a *applier) removeModifier(e *types.Effect, depth int) {
	entity := a.target(e)
	def, ok := a.defs.Modifiers[e.Modifier]
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown modifier %q", e.Modifier))
		return
	}
	active := a.s.Modifiers[entity]
	for i := range active {
		if active[i].ID == e.Modifier {
			a.s.Modifiers[entity] = append(active[:i:i], active[i+1:]...)
			a.report.ModifiersDirty = true
			a.record(e, types.OutcomeApplied, "")
			a.applyAll(def.ExitEffects, depth+1)
			return
		}
	}
	a.record(e, types.OutcomeSkipped, "not active")
}

// outfitGates returns the distinct gate ids named by an outfit's layers.
func outfitGates(defs *state.Defs, outfitID string) []string {
	def, ok := defs.Outfits[outfitID]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, l := range def.Layers {
		if l.Gate != "" && !seen[l.Gate] {
			seen[l.Gate] = true
			ids = append(ids, l.Gate)
		}
	}
	return ids
}

func (a *applier) gateOpen(entity, gate string) bool {
	return a.ctx.Gates[entity][gate]
}

func (a *applier) outfitChange(e *types.Effect) {
	entity := a.target(e)
	if _, ok := a.defs.Outfits[e.Outfit]; !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown outfit %q", e.Outfit))
		return
	}
	// changing outfits means undressing: the gates on the outfit
	// being taken off must all be open
	for _, g := range outfitGates(a.defs, a.s.Outfits[entity]) {
		if !a.gateOpen(entity, g) {
			a.record(e, types.OutcomeRefused, fmt.Sprintf("gate %q closed", g))
			return
		}
	}
	state.ResetClothing(a.s, a.defs, entity, e.Outfit)
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) clothingSet(e *types.Effect) {
	entity := a.target(e)
	switch e.State {
	case types.LayerIntact, types.LayerDisplaced, types.LayerRemoved:
	default:
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown layer state %q", e.State))
		return
	}
	outfit, ok := a.defs.Outfits[a.s.Outfits[entity]]
	if !ok {
		a.record(e, types.OutcomeRejected, "no outfit worn")
		return
	}
	var layer *types.OutfitLayer
	for i := range outfit.Layers {
		if outfit.Layers[i].ID == e.Layer {
			layer = &outfit.Layers[i]
			break
		}
	}
	if layer == nil {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown layer %q", e.Layer))
		return
	}
	if layer.Gate != "" && !a.gateOpen(entity, layer.Gate) {
		a.record(e, types.OutcomeRefused, fmt.Sprintf("gate %q closed", layer.Gate))
		return
	}
	if a.s.Clothing[entity] == nil {
		if a.s.Clothing == nil {
			a.s.Clothing = map[string]map[string]types.LayerState{}
		}
		a.s.Clothing[entity] = map[string]types.LayerState{}
	}
	a.s.Clothing[entity][e.Layer] = e.State
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) equip(e *types.Effect) {
	entity := a.target(e)
	item, ok := a.defs.Items[e.Item]
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown item %q", e.Item))
		return
	}
	if item.Slot == "" {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("item %q is not equippable", e.Item))
		return
	}
	if state.ItemCount(a.s, entity, e.Item) < 1 {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("item %q not held", e.Item))
		return
	}
	if a.s.Equipment[entity] == nil {
		if a.s.Equipment == nil {
			a.s.Equipment = map[string]map[string]string{}
		}
		a.s.Equipment[entity] = map[string]string{}
	}
	a.s.Equipment[entity][item.Slot] = e.Item
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) unequip(e *types.Effect) {
	entity := a.target(e)
	slots := a.s.Equipment[entity]
	if slots == nil || slots[e.Slot] == "" {
		a.record(e, types.OutcomeSkipped, "slot empty")
		return
	}
	delete(slots, e.Slot)
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) moveTo(e *types.Effect) {
	loc, ok := a.defs.Locations[e.Location]
	if !ok {
		a.record(e, types.OutcomeRejected, fmt.Sprintf("unknown location %q", e.Location))
		return
	}
	zone := e.Zone
	if zone == "" {
		zone = loc.Zone
	}
	entity := a.target(e)
	if entity == state.PlayerID {
		a.s.Position = types.Position{Zone: zone, Location: e.Location}
	}
	if a.s.Presence == nil {
		a.s.Presence = map[string]string{}
	}
	a.s.Presence[entity] = e.Location
	a.report.ModifiersDirty = true
	a.record(e, types.OutcomeApplied, "")
}

func (a *applier) advanceTime(e *types.Effect) {
	if e.Minutes <= 0 {
		a.record(e, types.OutcomeRejected, "minutes must be positive")
		return
	}
	state.AdvanceClock(a.s, a.defs, e.Minutes)
	a.report.MinutesElapsed += e.Minutes
	a.report.ModifiersDirty = true
	a.record(e, types.OutcomeApplied, fmt.Sprintf("+%dm", e.Minutes))
}

func (a *applier) conditional(e *types.Effect, depth int) {
	if e.When == nil {
		a.record(e, types.OutcomeRejected, "conditional without condition")
		return
	}
	a.record(e, types.OutcomeApplied, "")
	if expr.EvalBool(e.When, a.ctx) {
		a.applyAll(e.Then, depth+1)
	} else {
		a.applyAll(e.Else, depth+1)
	}
}

func (a *applier) random(e *types.Effect, depth int) {
	if len(e.Branches) == 0 {
		a.record(e, types.OutcomeRejected, "random without branches")
		return
	}
	idx := 0
	if a.ctx.RNG != nil {
		weights := make([]int, len(e.Branches))
		for i, b := range e.Branches {
			weights[i] = b.Weight
		}
		idx = a.ctx.RNG.WeightedSelect(weights)
	}
	a.record(e, types.OutcomeApplied, fmt.Sprintf("branch %d", idx))
	a.applyAll(e.Branches[idx].Effects, depth+1)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
