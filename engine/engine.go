// Package engine provides the Step() orchestrator that wires the
// expression evaluator, effect pipeline, modifier resolver, event
// scheduler, and arc tracker into a single deterministic turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nathoo/turnweave/engine/arcs"
	"github.com/nathoo/turnweave/engine/delta"
	"github.com/nathoo/turnweave/engine/effects"
	"github.com/nathoo/turnweave/engine/events"
	"github.com/nathoo/turnweave/engine/gates"
	"github.com/nathoo/turnweave/engine/modifiers"
	"github.com/nathoo/turnweave/engine/narrate"
	"github.com/nathoo/turnweave/engine/rng"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// ErrChoiceUnavailable is returned when the requested choice does not
// exist on the current node or its guard no longer holds. The turn is
// not consumed.
var ErrChoiceUnavailable = errors.New("choice unavailable")

// Engine holds the immutable definitions and one run's mutable state.
// A single Engine is single-threaded: one turn runs start to finish
// before the next begins.
type Engine struct {
	Defs      *state.Defs
	State     *types.WorldState
	RNG       *rng.Stream
	Generator narrate.Generator
	Log       *slog.Logger
}

// New creates an engine for a fresh run. The RNG seed is derived from
// the game and run ids, so a replay with the same ids reproduces every
// draw.
func New(defs *state.Defs, gameID, runID string) *Engine {
	seed := rng.SeedFor(gameID, runID)
	return &Engine{
		Defs:      defs,
		State:     state.NewState(defs, gameID, runID, seed),
		RNG:       rng.New(seed),
		Generator: narrate.Null{},
		Log:       slog.Default(),
	}
}

// Restore resumes an engine from a loaded snapshot. The RNG stream is
// fast-forwarded to the saved position.
func Restore(defs *state.Defs, s *types.WorldState) *Engine {
	return &Engine{
		Defs:      defs,
		State:     s,
		RNG:       rng.Restore(s.RNGSeed, s.RNGPosition),
		Generator: narrate.Null{},
		Log:       slog.Default(),
	}
}

// Step processes one turn. choiceID selects a choice on the current
// node; the empty string is a pure "wait" turn with no player action.
func (e *Engine) Step(ctx context.Context, choiceID string) (*types.TurnOutcome, error) {
	s := e.State
	defs := e.Defs

	// 1. Snapshot version bump and evaluation context. The gate table
	// entering the turn reflects last turn's settled state.
	s.Version++
	ec := state.NewEvalContext(defs, s, e.RNG)
	ec.Gates = gates.Compute(defs, s)

	outcome := &types.TurnOutcome{Turn: s.TurnCount}
	outcome.Safety.OK = true
	minutes := 0
	dirty := false
	effectGoto := ""

	node, ok := defs.Nodes[s.Node]
	if !ok {
		return nil, fmt.Errorf("state names undeclared node %q", s.Node)
	}

	// 2. Player action: re-check the guard, then run choice effects.
	var chosen *types.ChoiceDef
	if choiceID != "" {
		for i := range node.Choices {
			c := &node.Choices[i]
			if c.ID == choiceID {
				chosen = c
				break
			}
		}
		if chosen == nil || (chosen.When != nil && !expr.EvalBool(chosen.When, ec)) {
			s.Version--
			return nil, fmt.Errorf("%w: %q on node %q", ErrChoiceUnavailable, choiceID, s.Node)
		}
		rep := effects.Apply(defs, s, ec, chosen.Effects)
		outcome.Effects = append(outcome.Effects, rep.Records...)
		minutes += rep.MinutesElapsed
		dirty = dirty || rep.ModifiersDirty
		if rep.Goto != "" {
			effectGoto = rep.Goto
		}
	}

	// 3. Generator call: prose plus an untrusted delta proposal.
	prose := node.Body
	if e.Generator != nil {
		genProse, res := e.consult(ctx, ec, node, chosen)
		if genProse != "" {
			prose = genProse
		}
		if res != nil {
			outcome.Safety = res.Safety
			if len(res.Effects) > 0 {
				rep := effects.Apply(defs, s, ec, res.Effects)
				outcome.Effects = append(outcome.Effects, rep.Records...)
				minutes += rep.MinutesElapsed
				dirty = dirty || rep.ModifiersDirty
				if rep.Goto != "" {
					effectGoto = rep.Goto
				}
			}
			s.Memory = append(s.Memory, res.Memory...)
		}
	}
	if prose != "" {
		outcome.Narrative = append(outcome.Narrative, prose)
	}

	// 4. Event selection: at most one event per turn.
	fired := events.Run(defs, s, ec)
	if fired != nil {
		outcome.FiredEvent = fired.ID
		outcome.Effects = append(outcome.Effects, fired.Report.Records...)
		minutes += fired.Report.MinutesElapsed
		dirty = dirty || fired.Report.ModifiersDirty
		if fired.Report.Goto != "" {
			effectGoto = fired.Report.Goto
		}
		if fired.Narrative != "" {
			outcome.Narrative = append(outcome.Narrative, fired.Narrative)
		}
	}

	// 5. Modifier resolution, then the authoritative gate table for
	// the rest of the turn. A clean turn (no state movement, no time)
	// skips resolution; the first turn always runs so condition-bound
	// modifiers settle against initial state.
	var mres modifiers.Result
	if dirty || minutes > 0 || s.TurnCount == 0 {
		mres = modifiers.Resolve(defs, s, ec, minutes)
		outcome.Effects = append(outcome.Effects, mres.Records...)
	}
	ec.Gates = gates.Compute(defs, s)

	// 6. Arc evaluation against settled state.
	ares := arcs.Evaluate(defs, s, ec)
	outcome.Effects = append(outcome.Effects, ares.Records...)
	outcome.ArcTransitions = ares.Transitions
	if err := e.checkArcInvariants(); err != nil {
		return nil, err
	}

	// 7. Node transition: a forced interrupt outranks effect-recorded
	// gotos, which outrank an event's landing node, which outranks the
	// choice's own goto.
	next := s.Node
	switch {
	case fired != nil && fired.Interrupt && fired.Goto != "":
		next = fired.Goto
	case effectGoto != "":
		next = effectGoto
	case fired != nil && fired.Goto != "":
		next = fired.Goto
	case chosen != nil && chosen.Goto != "":
		next = chosen.Goto
	}
	lateMinutes := mres.MinutesElapsed + ares.MinutesElapsed
	lateDirty := ares.ModifiersDirty
	if next != s.Node {
		target, ok := defs.Nodes[next]
		if !ok {
			return nil, fmt.Errorf("transition to undeclared node %q", next)
		}
		s.Node = next
		if len(target.OnEnter) > 0 {
			rep := effects.Apply(defs, s, ec, target.OnEnter)
			outcome.Effects = append(outcome.Effects, rep.Records...)
			lateMinutes += rep.MinutesElapsed
			lateDirty = lateDirty || rep.ModifiersDirty
		}
	}

	// Time and state movement after the main resolution (modifier entry
	// and exit effects, arc transitions, node entry) still tick durations
	// and settle conditions this turn.
	if lateMinutes > 0 || lateDirty {
		lres := modifiers.Resolve(defs, s, ec, lateMinutes)
		outcome.Effects = append(outcome.Effects, lres.Records...)
		ec.Gates = gates.Compute(defs, s)
	}

	// 8. Bookkeeping: the RNG position is recorded so a save made now
	// restores onto exactly the next draw.
	s.RNGPosition = e.RNG.Position()
	s.TurnCount++

	// 9. Surface the outcome with the next node's eligible choices.
	outcome.Node = s.Node
	outcome.Choices = e.eligibleChoices(ec)
	return outcome, nil
}

// consult runs the generator with the retry-once-then-fail-closed delta
// protocol. A generator failure degrades to authored prose and no
// deltas; it never blocks the turn.
func (e *Engine) consult(ctx context.Context, ec *state.EvalContext, node types.NodeDef, chosen *types.ChoiceDef) (string, *delta.Result) {
	req := narrate.Request{
		GameID:   e.State.GameID,
		RunID:    e.State.RunID,
		Turn:     e.State.TurnCount,
		Node:     node.ID,
		Authored: node.Body,
		Memory:   e.State.Memory,
	}
	resp, err := e.Generator.Generate(ctx, req)
	if err != nil {
		e.Log.Warn("generator failed, degrading to authored text",
			"node", node.ID, "error", err)
		return "", nil
	}
	if len(resp.Delta) == 0 {
		return resp.Prose, nil
	}

	proposed, perr := delta.Parse(resp.Delta)
	if perr != nil {
		req.RetryReason = perr.Error()
		retry, rerr := e.Generator.Generate(ctx, req)
		if rerr == nil && len(retry.Delta) > 0 {
			resp.Prose = orElse(retry.Prose, resp.Prose)
			proposed, perr = delta.Parse(retry.Delta)
		}
		if perr != nil {
			// fail closed: the turn proceeds with no deltas
			e.Log.Warn("delta unparseable after retry, applying nothing",
				"node", node.ID, "error", perr)
			return resp.Prose, &delta.Result{Safety: types.SafetyReport{
				OK: true,
				Violations: []types.Violation{{
					Code: "parse_error", Path: "delta", Reason: perr.Error(),
				}},
			}}
		}
	}

	res := delta.Merge(e.Defs, e.State, ec, proposed)
	return resp.Prose, &res
}

func orElse(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// eligibleChoices evaluates the current node's choice guards.
func (e *Engine) eligibleChoices(ec *state.EvalContext) []types.ChoiceView {
	node, ok := e.Defs.Nodes[e.State.Node]
	if !ok {
		return nil
	}
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

// checkArcInvariants verifies every arc sits on a declared stage. A
// failure is an engine or content-authoring bug and aborts the run.
func (e *Engine) checkArcInvariants() error {
	for i := range e.Defs.Arcs {
		arc := &e.Defs.Arcs[i]
		cur := e.State.Arcs[arc.ID].Stage
		found := false
		for j := range arc.Stages {
			if arc.Stages[j].ID == cur {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invariant violation: arc %q on undeclared stage %q", arc.ID, cur)
		}
	}
	return nil
}
