// Package gates computes the per-turn consent/safety gate table: a
// memoized (entity, gate) -> bool map built once after modifier resolution
// and consumed read-only for the rest of the turn. Having a single
// authoritative table makes the modifier veto absolute and keeps repeated
// predicate evaluation from racing mid-turn state changes.
package gates

import (
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// Compute builds the gate table for the current state. For each character
// and declared gate: the gate's predicate (per-character override first)
// must hold, the current location's privacy must reach the gate's minimum,
// and no active modifier on the character may disallow the gate. The veto
// is unconditional; it wins over any predicate or privacy outcome.
func Compute(defs *state.Defs, s *types.WorldState) map[string]map[string]bool {
	ctx := state.NewEvalContext(defs, s, nil)
	privacy := defs.Privacy(s)

	table := make(map[string]map[string]bool, len(defs.Characters))
	for charID, char := range defs.Characters {
		row := make(map[string]bool, len(defs.Gates))
		for gateID, gate := range defs.Gates {
			row[gateID] = evalGate(ctx, char, gate, privacy)
		}
		for _, active := range s.Modifiers[charID] {
			def, ok := defs.Modifiers[active.ID]
			if !ok {
				continue
			}
			for _, g := range def.DisallowGates {
				row[g] = false
			}
		}
		table[charID] = row
	}
	return table
}

func evalGate(ctx *state.EvalContext, char types.CharacterDef, gate types.GateDef, privacy int) bool {
	if privacy < gate.MinPrivacy {
		return false
	}
	when := gate.When
	if override, ok := char.Gates[gate.ID]; ok {
		when = override
	}
	return expr.EvalBool(when, ctx)
}
