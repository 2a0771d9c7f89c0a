package loader

import (
	"fmt"

	errors "github.com/pixil98/go-errors"

	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/types"
)

// validate cross-checks every reference in the compiled definitions.
// All problems are collected so authors see everything at once.
func validate(defs *state.Defs) error {
	el := errors.NewErrorList()

	g := defs.Game
	if g.ID == "" {
		el.Add(fmt.Errorf("game: id is required"))
	}
	if _, ok := defs.Nodes[g.StartNode]; !ok {
		el.Add(fmt.Errorf("game: start_node %q not defined", g.StartNode))
	}
	if g.StartLocation != "" {
		loc, ok := defs.Locations[g.StartLocation]
		if !ok {
			el.Add(fmt.Errorf("game: start_location %q not defined", g.StartLocation))
		} else if g.StartZone != "" && loc.Zone != g.StartZone {
			el.Add(fmt.Errorf("game: start_location %q is in zone %q, not start_zone %q",
				g.StartLocation, loc.Zone, g.StartZone))
		}
	}
	for _, slot := range g.Slots {
		if slot.Minutes <= 0 {
			el.Add(fmt.Errorf("game: slot %q must have positive minutes", slot.ID))
		}
	}

	for id, m := range defs.Meters {
		if m.Min >= m.Max {
			el.Add(fmt.Errorf("meter %s: min %v must be below max %v", id, m.Min, m.Max))
		}
		if m.Default < m.Min || m.Default > m.Max {
			el.Add(fmt.Errorf("meter %s: default %v outside [%v, %v]", id, m.Default, m.Min, m.Max))
		}
		if m.DeltaCapPerTurn < 0 {
			el.Add(fmt.Errorf("meter %s: delta_cap_per_turn must not be negative", id))
		}
	}

	for id, f := range defs.Flags {
		switch f.Type {
		case types.FlagBool, types.FlagNumber, types.FlagString:
		default:
			el.Add(fmt.Errorf("flag %s: unknown type %q", id, f.Type))
		}
	}

	for id, mod := range defs.Modifiers {
		where := "modifier " + id
		if mod.When != nil && mod.DurationMinutes != nil {
			el.Add(fmt.Errorf("%s: condition-bound modifiers cannot also declare a duration", where))
		}
		switch mod.Stacking {
		case types.StackHighest, types.StackAdditive, types.StackMultiplicative:
		default:
			el.Add(fmt.Errorf("%s: unknown stacking %q", where, mod.Stacking))
		}
		for _, gate := range mod.DisallowGates {
			if _, ok := defs.Gates[gate]; !ok {
				el.Add(fmt.Errorf("%s: disallow_gates references unknown gate %q", where, gate))
			}
		}
		validateEffects(el, defs, mod.EntryEffects, where+" entry_effects")
		validateEffects(el, defs, mod.ExitEffects, where+" exit_effects")
	}

	for id, o := range defs.Outfits {
		where := "outfit " + id
		seen := map[string]bool{}
		for _, layer := range o.Layers {
			if layer.ID == "" {
				el.Add(fmt.Errorf("%s: layer without id", where))
				continue
			}
			if seen[layer.ID] {
				el.Add(fmt.Errorf("%s: duplicate layer %q", where, layer.ID))
			}
			seen[layer.ID] = true
			if layer.Item != "" {
				if _, ok := defs.Items[layer.Item]; !ok {
					el.Add(fmt.Errorf("%s layer %s: unknown item %q", where, layer.ID, layer.Item))
				}
			}
			if layer.Gate != "" {
				if _, ok := defs.Gates[layer.Gate]; !ok {
					el.Add(fmt.Errorf("%s layer %s: unknown gate %q", where, layer.ID, layer.Gate))
				}
			}
		}
	}

	for id, c := range defs.Characters {
		where := "character " + id
		for meter := range c.Meters {
			if _, ok := defs.Meters[meter]; !ok {
				el.Add(fmt.Errorf("%s: unknown meter %q", where, meter))
			}
		}
		if c.StartLocation != "" {
			if _, ok := defs.Locations[c.StartLocation]; !ok {
				el.Add(fmt.Errorf("%s: unknown start_location %q", where, c.StartLocation))
			}
		}
		if c.Outfit != "" {
			if _, ok := defs.Outfits[c.Outfit]; !ok {
				el.Add(fmt.Errorf("%s: unknown outfit %q", where, c.Outfit))
			}
		}
		for gate := range c.Gates {
			if _, ok := defs.Gates[gate]; !ok {
				el.Add(fmt.Errorf("%s: gate override for unknown gate %q", where, gate))
			}
		}
	}

	for id, n := range defs.Nodes {
		where := "node " + id
		validateEffects(el, defs, n.OnEnter, where+" on_enter")
		seen := map[string]bool{}
		for _, ch := range n.Choices {
			if ch.ID == "" {
				el.Add(fmt.Errorf("%s: choice without id", where))
				continue
			}
			if seen[ch.ID] {
				el.Add(fmt.Errorf("%s: duplicate choice %q", where, ch.ID))
			}
			seen[ch.ID] = true
			cwhere := fmt.Sprintf("%s choice %s", where, ch.ID)
			if ch.Goto != "" {
				if _, ok := defs.Nodes[ch.Goto]; !ok {
					el.Add(fmt.Errorf("%s: goto unknown node %q", cwhere, ch.Goto))
				}
			}
			validateEffects(el, defs, ch.Effects, cwhere)
		}
	}

	eventIDs := map[string]bool{}
	for _, ev := range defs.Events {
		where := "event " + ev.ID
		if eventIDs[ev.ID] {
			el.Add(fmt.Errorf("%s: duplicate event id", where))
		}
		eventIDs[ev.ID] = true
		switch ev.Kind {
		case types.EventScheduled, types.EventConditional, types.EventPool:
		default:
			el.Add(fmt.Errorf("%s: unknown kind %q", where, ev.Kind))
		}
		if ev.Kind == types.EventPool && ev.Pool == "" {
			el.Add(fmt.Errorf("%s: pool events must name a pool", where))
		}
		if ev.Kind != types.EventPool && ev.Pool != "" {
			el.Add(fmt.Errorf("%s: only pool events may name a pool", where))
		}
		if ev.Pool != "" {
			if _, ok := defs.Pools[ev.Pool]; !ok {
				el.Add(fmt.Errorf("%s: unknown pool %q", where, ev.Pool))
			}
		}
		if ev.Kind == types.EventConditional && ev.When == nil {
			el.Add(fmt.Errorf("%s: conditional events require a when condition", where))
		}
		if ev.Goto != "" {
			if _, ok := defs.Nodes[ev.Goto]; !ok {
				el.Add(fmt.Errorf("%s: goto unknown node %q", where, ev.Goto))
			}
		}
		for _, slot := range ev.Window.Slots {
			if !slotDeclared(g, slot) {
				el.Add(fmt.Errorf("%s: window references unknown slot %q", where, slot))
			}
		}
		validateEffects(el, defs, ev.Effects, where)
	}

	for id, p := range defs.Pools {
		if p.ChancePerTurn < 0 || p.ChancePerTurn > 1 {
			el.Add(fmt.Errorf("pool %s: chance_per_turn %v outside [0, 1]", id, p.ChancePerTurn))
		}
	}

	arcIDs := map[string]bool{}
	for _, arc := range defs.Arcs {
		where := "arc " + arc.ID
		if arcIDs[arc.ID] {
			el.Add(fmt.Errorf("%s: duplicate arc id", where))
		}
		arcIDs[arc.ID] = true
		switch arc.Evaluation {
		case types.ArcHighest, types.ArcFirstMatch:
		default:
			el.Add(fmt.Errorf("%s: unknown evaluation %q", where, arc.Evaluation))
		}
		if arc.Meter != "" {
			if _, ok := defs.Meters[arc.Meter]; !ok {
				el.Add(fmt.Errorf("%s: unknown meter %q", where, arc.Meter))
			}
		}
		if arc.Entity != "" && arc.Entity != state.PlayerID {
			if _, ok := defs.Characters[arc.Entity]; !ok {
				el.Add(fmt.Errorf("%s: unknown entity %q", where, arc.Entity))
			}
		}
		if len(arc.Stages) == 0 {
			el.Add(fmt.Errorf("%s: at least one stage required", where))
		}
		stageIDs := map[string]bool{}
		for i, st := range arc.Stages {
			swhere := fmt.Sprintf("%s stage %s", where, st.ID)
			if st.ID == "" {
				el.Add(fmt.Errorf("%s: stage %d without id", where, i))
				continue
			}
			if stageIDs[st.ID] {
				el.Add(fmt.Errorf("%s: duplicate stage id", swhere))
			}
			stageIDs[st.ID] = true
			if (st.Enter != nil || st.Exit != nil) && arc.Meter == "" {
				el.Add(fmt.Errorf("%s: numeric thresholds need the arc to track a meter", swhere))
			}
			validateEffects(el, defs, st.EntryEffects, swhere+" entry_effects")
			validateEffects(el, defs, st.ExitEffects, swhere+" exit_effects")
		}
		for _, peer := range arc.ExclusiveWith {
			if !arcDeclared(defs, peer) {
				el.Add(fmt.Errorf("%s: exclusive_with unknown arc %q", where, peer))
			}
		}
	}

	return el.Err()
}

func slotDeclared(g types.GameDef, id string) bool {
	for _, s := range g.Slots {
		if s.ID == id {
			return true
		}
	}
	return false
}

func arcDeclared(defs *state.Defs, id string) bool {
	for _, a := range defs.Arcs {
		if a.ID == id {
			return true
		}
	}
	return false
}

// validateEffects recursively checks every reference inside an effect list.
func validateEffects(el interface{ Add(error) }, defs *state.Defs, effs []types.Effect, where string) {
	for i, e := range effs {
		ewhere := fmt.Sprintf("%s effect %d", where, i)
		if e.Target != "" && e.Target != state.PlayerID {
			if _, ok := defs.Characters[e.Target]; !ok {
				el.Add(fmt.Errorf("%s: unknown target %q", ewhere, e.Target))
			}
		}
		switch e.Kind {
		case types.EffectMeterChange:
			if _, ok := defs.Meters[e.Meter]; !ok {
				el.Add(fmt.Errorf("%s: unknown meter %q", ewhere, e.Meter))
			}
			switch e.Op {
			case types.OpAdd, types.OpSubtract, types.OpSet, types.OpMultiply, types.OpDivide:
			default:
				el.Add(fmt.Errorf("%s: unknown op %q", ewhere, e.Op))
			}
		case types.EffectFlagSet:
			if _, ok := defs.Flags[e.Flag]; !ok {
				el.Add(fmt.Errorf("%s: unknown flag %q", ewhere, e.Flag))
			}
		case types.EffectInventoryAdd, types.EffectInventoryRemove, types.EffectEquip:
			if _, ok := defs.Items[e.Item]; !ok {
				el.Add(fmt.Errorf("%s: unknown item %q", ewhere, e.Item))
			}
		case types.EffectUnequip:
			if e.Slot == "" {
				el.Add(fmt.Errorf("%s: unequip needs a slot", ewhere))
			}
		case types.EffectApplyModifier, types.EffectRemoveModifier:
			if _, ok := defs.Modifiers[e.Modifier]; !ok {
				el.Add(fmt.Errorf("%s: unknown modifier %q", ewhere, e.Modifier))
			}
		case types.EffectOutfitChange:
			if _, ok := defs.Outfits[e.Outfit]; !ok {
				el.Add(fmt.Errorf("%s: unknown outfit %q", ewhere, e.Outfit))
			}
		case types.EffectClothingSet:
			if e.Layer == "" {
				el.Add(fmt.Errorf("%s: clothing_set needs a layer", ewhere))
			}
			switch e.State {
			case types.LayerIntact, types.LayerDisplaced, types.LayerRemoved:
			default:
				el.Add(fmt.Errorf("%s: unknown layer state %q", ewhere, e.State))
			}
		case types.EffectMoveTo:
			loc, ok := defs.Locations[e.Location]
			if !ok {
				el.Add(fmt.Errorf("%s: unknown location %q", ewhere, e.Location))
			} else if e.Zone != "" && loc.Zone != e.Zone {
				el.Add(fmt.Errorf("%s: location %q is in zone %q, not %q", ewhere, e.Location, loc.Zone, e.Zone))
			}
		case types.EffectAdvanceTime:
			if e.Minutes <= 0 {
				el.Add(fmt.Errorf("%s: advance_time needs positive minutes", ewhere))
			}
		case types.EffectGotoNode:
			if _, ok := defs.Nodes[e.Node]; !ok {
				el.Add(fmt.Errorf("%s: unknown node %q", ewhere, e.Node))
			}
		case types.EffectConditional:
			if e.When == nil {
				el.Add(fmt.Errorf("%s: conditional effect needs a when condition", ewhere))
			}
			validateEffects(el, defs, e.Then, ewhere+" then")
			validateEffects(el, defs, e.Else, ewhere+" else")
		case types.EffectRandom:
			if len(e.Branches) == 0 {
				el.Add(fmt.Errorf("%s: random effect needs branches", ewhere))
			}
			for j, b := range e.Branches {
				if b.Weight <= 0 {
					el.Add(fmt.Errorf("%s branch %d: weight must be positive", ewhere, j))
				}
				validateEffects(el, defs, b.Effects, fmt.Sprintf("%s branch %d", ewhere, j))
			}
		case types.EffectUnlock:
			switch e.UnlockKind {
			case "location":
				if _, ok := defs.Locations[e.UnlockID]; !ok {
					el.Add(fmt.Errorf("%s: unlock unknown location %q", ewhere, e.UnlockID))
				}
			case "node":
				if _, ok := defs.Nodes[e.UnlockID]; !ok {
					el.Add(fmt.Errorf("%s: unlock unknown node %q", ewhere, e.UnlockID))
				}
			case "outfit":
				if _, ok := defs.Outfits[e.UnlockID]; !ok {
					el.Add(fmt.Errorf("%s: unlock unknown outfit %q", ewhere, e.UnlockID))
				}
			default:
				el.Add(fmt.Errorf("%s: unknown unlock kind %q", ewhere, e.UnlockKind))
			}
		default:
			el.Add(fmt.Errorf("%s: unknown effect kind %q", ewhere, e.Kind))
		}
	}
}
