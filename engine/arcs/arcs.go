// Package arcs advances long-running progression tracks after each
// turn's effects and events have settled. Stage selection supports pure
// threshold conditions and hysteresis pairs with debounce.
package arcs

import (
	"github.com/nathoo/turnweave/engine/effects"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// Result reports the turn's arc activity.
type Result struct {
	Transitions    []types.ArcTransition
	Records        []types.EffectRecord
	MinutesElapsed int

	// ModifiersDirty is set when a transition's effects touched state
	// that modifier conditions may depend on.
	ModifiersDirty bool
}

// Evaluate runs stage selection for every declared arc, in declaration
// order, against the current (post-effect) state. Stage entry and exit
// effects flow through the effect pipeline.
func Evaluate(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext) Result {
	res := Result{}
	suppressed := map[string]bool{}

	for i := range defs.Arcs {
		arc := &defs.Arcs[i]
		if suppressed[arc.ID] {
			continue
		}
		cur := s.Arcs[arc.ID]
		curIdx := stageIndex(arc, cur.Stage)
		if curIdx < 0 {
			continue
		}

		// debounce holds the arc in place regardless of conditions
		if inStage := s.TurnCount - cur.EnteredTurn; inStage < arc.Stages[curIdx].DebounceTurns {
			continue
		}

		nextIdx := selectStage(arc, curIdx, ctx)
		if nextIdx == curIdx {
			continue
		}

		transition(defs, s, ctx, &res, arc, curIdx, nextIdx)

		// advancing an arc deactivates its exclusive peers; the
		// first arc to move wins on simultaneous activation
		if nextIdx > curIdx {
			for _, peer := range arc.ExclusiveWith {
				suppressed[peer] = true
				resetArc(defs, s, ctx, &res, peer)
			}
		}
	}
	return res
}

func stageIndex(arc *types.ArcDef, id string) int {
	for i := range arc.Stages {
		if arc.Stages[i].ID == id {
			return i
		}
	}
	return -1
}

// holds reports whether stage i currently qualifies. The occupied stage
// is judged by its exit condition (hysteresis: it holds until exit
// fires); other stages are judged by their enter condition.
func holds(arc *types.ArcDef, i, curIdx int, ctx *state.EvalContext) bool {
	st := &arc.Stages[i]
	if st.When != nil {
		return expr.EvalBool(st.When, ctx)
	}
	occupied := i == curIdx
	if occupied {
		if st.ExitWhen != nil {
			return !expr.EvalBool(st.ExitWhen, ctx)
		}
		if st.Exit != nil {
			v, ok := tracked(arc, ctx)
			return ok && v >= *st.Exit
		}
		return true
	}
	if st.EnterWhen != nil {
		return expr.EvalBool(st.EnterWhen, ctx)
	}
	if st.Enter != nil {
		v, ok := tracked(arc, ctx)
		return ok && v >= *st.Enter
	}
	// a stage with no condition is a resting stage: reachable only
	// when nothing above it holds
	return i == 0
}

func tracked(arc *types.ArcDef, ctx *state.EvalContext) (float64, bool) {
	entity := arc.Entity
	if entity == "" {
		entity = state.PlayerID
	}
	return state.Meter(ctx.State, entity, arc.Meter)
}

func selectStage(arc *types.ArcDef, curIdx int, ctx *state.EvalContext) int {
	if arc.Evaluation == types.ArcFirstMatch {
		for i := range arc.Stages {
			if holds(arc, i, curIdx, ctx) {
				return i
			}
		}
		return curIdx
	}
	// highest: later-declared stages outrank earlier ones
	for i := len(arc.Stages) - 1; i >= 0; i-- {
		if holds(arc, i, curIdx, ctx) {
			return i
		}
	}
	return curIdx
}

func transition(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result, arc *types.ArcDef, fromIdx, toIdx int) {
	from := arc.Stages[fromIdx]
	to := arc.Stages[toIdx]

	if len(from.ExitEffects) > 0 {
		rep := effects.Apply(defs, s, ctx, from.ExitEffects)
		res.Records = append(res.Records, rep.Records...)
		res.MinutesElapsed += rep.MinutesElapsed
		res.ModifiersDirty = res.ModifiersDirty || rep.ModifiersDirty
	}
	if len(to.EntryEffects) > 0 {
		rep := effects.Apply(defs, s, ctx, to.EntryEffects)
		res.Records = append(res.Records, rep.Records...)
		res.MinutesElapsed += rep.MinutesElapsed
		res.ModifiersDirty = res.ModifiersDirty || rep.ModifiersDirty
	}

	st := s.Arcs[arc.ID]
	st.Stage = to.ID
	st.History = append(st.History, to.ID)
	st.EnteredTurn = s.TurnCount
	s.Arcs[arc.ID] = st

	res.Transitions = append(res.Transitions, types.ArcTransition{
		Arc: arc.ID, From: from.ID, To: to.ID,
	})
}

// resetArc forces an exclusive peer back to its first stage.
func resetArc(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, res *Result, arcID string) {
	arc, ok := defs.Arc(arcID)
	if !ok || len(arc.Stages) == 0 {
		return
	}
	cur := s.Arcs[arcID]
	curIdx := stageIndex(&arc, cur.Stage)
	if curIdx <= 0 {
		return
	}
	transition(defs, s, ctx, res, &arc, curIdx, 0)
}
