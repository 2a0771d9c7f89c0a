// Package modifiers resolves named status modifiers each turn: expiry,
// condition-bound activation, exclusion groups, and value stacking.
package modifiers

import (
	"sort"

	"github.com/nathoo/turnweave/engine/effects"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// maxRounds bounds re-resolution when entry/exit effects themselves
// change state that modifier conditions depend on.
const maxRounds = 4

// Result is the settled outcome of a resolution pass.
type Result struct {
	// Records collects the effect records from entry and exit
	// effects fired during resolution.
	Records []types.EffectRecord

	// Overlay is the stacked effective value per entity and stack
	// group, for display and narrative construction.
	Overlay map[string]map[string]float64

	// MinutesElapsed accumulates time advanced by entry/exit
	// effects during resolution.
	MinutesElapsed int
}

// Resolve runs one resolution pass: expire modifiers whose duration has
// elapsed, activate and deactivate condition-bound modifiers against
// current state, enforce exclusion groups, and stack values. Entry and
// exit effects flow through the effect pipeline.
func Resolve(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, elapsedMinutes int) Result {
	res := Result{}

	tickDurations(s, elapsedMinutes)

	for round := 0; round < maxRounds; round++ {
		dirty := false
		dirty = expireElapsed(defs, s, ctx, &res) || dirty
		dirty = resolveConditions(defs, s, ctx, &res) || dirty
		dirty = enforceExclusion(defs, s, ctx, &res) || dirty
		if !dirty {
			break
		}
	}

	res.Overlay = stack(defs, s)
	return res
}

func tickDurations(s *types.WorldState, elapsed int) {
	if elapsed <= 0 {
		return
	}
	for _, active := range s.Modifiers {
		for i := range active {
			if active[i].RemainingMinutes != nil {
				*active[i].RemainingMinutes -= elapsed
			}
		}
	}
}

func entityIDs(s *types.WorldState) []string {
	ids := make([]string, 0, len(s.Modifiers))
	for id := range s.Modifiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// deactivate removes the modifier at index i from the entity's active
// list and fires its exit effects through the pipeline.
func deactivate(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result, entity string, i int) {
	active := s.Modifiers[entity]
	id := active[i].ID
	s.Modifiers[entity] = append(active[:i:i], active[i+1:]...)
	if def, ok := defs.Modifiers[id]; ok && len(def.ExitEffects) > 0 {
		rep := effects.Apply(defs, s, ctx, def.ExitEffects)
		res.Records = append(res.Records, rep.Records...)
		res.MinutesElapsed += rep.MinutesElapsed
	}
}

func expireElapsed(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result) bool {
	changed := false
	for _, entity := range entityIDs(s) {
		for i := 0; i < len(s.Modifiers[entity]); {
			m := s.Modifiers[entity][i]
			if m.RemainingMinutes != nil && *m.RemainingMinutes <= 0 {
				deactivate(defs, s, ctx, res, entity, i)
				changed = true
				continue
			}
			i++
		}
	}
	return changed
}

func conditionIDs(defs *state.Defs) []string {
	var ids []string
	for id, def := range defs.Modifiers {
		if def.When != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// resolveConditions activates condition-bound modifiers whose when
// expression holds and deactivates those whose expression no longer
// does. Explicitly-applied modifiers are left alone.
func resolveConditions(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result) bool {
	condIDs := conditionIDs(defs)
	changed := false

	for _, entity := range characterIDs(defs) {
		for _, id := range condIDs {
			def := defs.Modifiers[id]
			holds := expr.EvalBool(def.When, ctx.ForEntity(entity))
			idx := activeIndex(s, entity, id)
			switch {
			case holds && idx < 0:
				if s.Modifiers == nil {
					s.Modifiers = map[string][]types.ActiveModifier{}
				}
				var dur *int
				if def.DurationMinutes != nil {
					d := *def.DurationMinutes
					dur = &d
				}
				s.Modifiers[entity] = append(s.Modifiers[entity], types.ActiveModifier{
					ID:               id,
					RemainingMinutes: dur,
					ActivatedTurn:    s.TurnCount,
					ConditionBound:   true,
				})
				if len(def.EntryEffects) > 0 {
					rep := effects.Apply(defs, s, ctx, def.EntryEffects)
					res.Records = append(res.Records, rep.Records...)
					res.MinutesElapsed += rep.MinutesElapsed
				}
				changed = true
			case !holds && idx >= 0 && s.Modifiers[entity][idx].ConditionBound:
				deactivate(defs, s, ctx, res, entity, idx)
				changed = true
			}
		}
	}
	return changed
}

func characterIDs(defs *state.Defs) []string {
	ids := make([]string, 0, len(defs.Characters))
	for id := range defs.Characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func activeIndex(s *types.WorldState, entity, id string) int {
	for i, m := range s.Modifiers[entity] {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// enforceExclusion keeps at most one active modifier per exclusive
// group on each entity. The most recently activated wins; recency ties
// break on declared priority, then lexically by id.
func enforceExclusion(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result) bool {
	changed := false
	for _, entity := range entityIDs(s) {
		groups := map[string][]int{}
		for i, m := range s.Modifiers[entity] {
			def, ok := defs.Modifiers[m.ID]
			if !ok || def.ExclusiveGroup == "" {
				continue
			}
			groups[def.ExclusiveGroup] = append(groups[def.ExclusiveGroup], i)
		}
		groupNames := make([]string, 0, len(groups))
		for g := range groups {
			groupNames = append(groupNames, g)
		}
		sort.Strings(groupNames)

		var losers []int
		for _, g := range groupNames {
			members := groups[g]
			if len(members) < 2 {
				continue
			}
			winner := members[0]
			for _, i := range members[1:] {
				if beats(defs, s.Modifiers[entity][i], s.Modifiers[entity][winner]) {
					winner = i
				}
			}
			for _, i := range members {
				if i != winner {
					losers = append(losers, i)
				}
			}
		}
		sort.Sort(sort.Reverse(sort.IntSlice(losers)))
		for _, i := range losers {
			deactivate(defs, s, ctx, res, entity, i)
			changed = true
		}
	}
	return changed
}

func beats(defs *state.Defs, a, b types.ActiveModifier) bool {
	if a.ActivatedTurn != b.ActivatedTurn {
		return a.ActivatedTurn > b.ActivatedTurn
	}
	pa, pb := defs.Modifiers[a.ID].Priority, defs.Modifiers[b.ID].Priority
	if pa != pb {
		return pa > pb
	}
	return a.ID < b.ID
}

// stacked pairs a group member's definition with its activation, so the
// highest tie-break can reach the activation turn.
type stacked struct {
	def types.ModifierDef
	act types.ActiveModifier
}

// stack computes the effective value per stack group. Modifiers without
// a declared stack group form a singleton group under their own id.
// The highest winner breaks ties on priority, then earlier activation
// turn, then lexically by id.
func stack(defs *state.Defs, s *types.WorldState) map[string]map[string]float64 {
	overlay := map[string]map[string]float64{}
	for _, entity := range entityIDs(s) {
		if len(s.Modifiers[entity]) == 0 {
			continue
		}
		groups := map[string][]stacked{}
		for _, m := range s.Modifiers[entity] {
			def, ok := defs.Modifiers[m.ID]
			if !ok {
				continue
			}
			g := def.StackGroup
			if g == "" {
				g = def.ID
			}
			groups[g] = append(groups[g], stacked{def: def, act: m})
		}
		vals := map[string]float64{}
		for g, members := range groups {
			sort.Slice(members, func(i, j int) bool {
				a, b := members[i], members[j]
				if a.def.Priority != b.def.Priority {
					return a.def.Priority > b.def.Priority
				}
				if a.act.ActivatedTurn != b.act.ActivatedTurn {
					return a.act.ActivatedTurn < b.act.ActivatedTurn
				}
				return a.def.ID < b.def.ID
			})
			switch members[0].def.Stacking {
			case types.StackAdditive:
				sum := 0.0
				for _, m := range members {
					sum += m.def.Value
				}
				vals[g] = sum
			case types.StackMultiplicative:
				prod := 1.0
				for _, m := range members {
					prod *= m.def.Value
				}
				vals[g] = prod
			default: // highest
				vals[g] = members[0].def.Value
			}
		}
		overlay[entity] = vals
	}
	return overlay
}
