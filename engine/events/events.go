// Package events selects and fires at most one event per turn. The
// selection is a deterministic total order over scheduled, conditional,
// and pooled random candidates.
package events

import (
	"sort"

	"github.com/nathoo/turnweave/engine/effects"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// Fired describes the event that won the turn, if any.
type Fired struct {
	ID        string
	Narrative string
	Goto      string
	Interrupt bool
	Report    effects.Report
}

// Run selects this turn's event, applies its effects, and records its
// fire count and cooldown. Returns nil when no event fires.
//
// The RNG draw order is fixed: one Bernoulli draw per declared pool in
// lexical pool-id order (drawn even when the pool has no eligible
// members, so the stream position depends only on content), then one
// weighted draw per pool whose chance succeeded with a non-empty
// eligible set.
func Run(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext) *Fired {
	var candidates []types.EventDef

	for _, ev := range defs.Events {
		if ev.Kind == types.EventPool {
			continue
		}
		if eligible(defs, s, ctx, &ev) {
			candidates = append(candidates, ev)
		}
	}

	candidates = append(candidates, poolWinners(defs, s, ctx)...)
	if len(candidates) == 0 {
		return nil
	}

	// forced interrupts preempt the priority contest
	var interrupts []types.EventDef
	for _, ev := range candidates {
		if ev.Interrupt {
			interrupts = append(interrupts, ev)
		}
	}
	if len(interrupts) > 0 {
		candidates = interrupts
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if ka, kb := kindRank(a.Kind), kindRank(b.Kind); ka != kb {
			return ka < kb
		}
		return a.ID < b.ID
	})
	winner := candidates[0]

	s.EventFireCounts[winner.ID]++
	if winner.CooldownTurns > 0 {
		s.EventCooldowns[winner.ID] = s.TurnCount + winner.CooldownTurns
	}

	fired := &Fired{
		ID:        winner.ID,
		Narrative: winner.Narrative,
		Goto:      winner.Goto,
		Interrupt: winner.Interrupt,
	}
	if len(winner.Effects) > 0 {
		fired.Report = effects.Apply(defs, s, ctx, winner.Effects)
	}
	return fired
}

func kindRank(k types.EventKind) int {
	switch k {
	case types.EventScheduled:
		return 0
	case types.EventConditional:
		return 1
	default:
		return 2
	}
}

// eligible checks scope, cooldown, fire limits, the time window, and
// the trigger predicate.
func eligible(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, ev *types.EventDef) bool {
	if ev.Zone != "" && ev.Zone != s.Position.Zone {
		return false
	}
	if ev.Location != "" && ev.Location != s.Position.Location {
		return false
	}
	if until, ok := s.EventCooldowns[ev.ID]; ok && s.TurnCount < until {
		return false
	}
	fires := s.EventFireCounts[ev.ID]
	if ev.Once && fires >= 1 {
		return false
	}
	if ev.MaxFires > 0 && fires >= ev.MaxFires {
		return false
	}
	if !windowOpen(&ev.Window, &s.Time) {
		return false
	}
	if ev.When != nil && !expr.EvalBool(ev.When, ctx) {
		return false
	}
	// conditional events need a predicate to be meaningful
	if ev.Kind == types.EventConditional && ev.When == nil {
		return false
	}
	return true
}

func windowOpen(w *types.TimeWindow, clock *types.Clock) bool {
	if w.FromDay > 0 && clock.Day < w.FromDay {
		return false
	}
	if w.ToDay > 0 && clock.Day > w.ToDay {
		return false
	}
	if len(w.Slots) == 0 {
		return true
	}
	for _, slot := range w.Slots {
		if slot == clock.Slot {
			return true
		}
	}
	return false
}

func poolWinners(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext) []types.EventDef {
	if len(defs.Pools) == 0 {
		return nil
	}
	poolIDs := make([]string, 0, len(defs.Pools))
	for id := range defs.Pools {
		poolIDs = append(poolIDs, id)
	}
	sort.Strings(poolIDs)

	var winners []types.EventDef
	for _, pid := range poolIDs {
		pool := defs.Pools[pid]
		hit := ctx.RNG != nil && ctx.RNG.Bernoulli(pool.ChancePerTurn)

		var members []types.EventDef
		for _, ev := range defs.Events {
			if ev.Kind == types.EventPool && ev.Pool == pid && eligible(defs, s, ctx, &ev) {
				members = append(members, ev)
			}
		}
		if !hit || len(members) == 0 {
			continue
		}
		weights := make([]int, len(members))
		for i, m := range members {
			w := m.Weight
			if w <= 0 {
				w = 1
			}
			weights[i] = w
		}
		winners = append(winners, members[ctx.RNG.WeightedSelect(weights)])
	}
	return winners
}
