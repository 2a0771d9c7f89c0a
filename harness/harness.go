package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	errors "github.com/pixil98/go-errors"

	"github.com/nathoo/turnweave/engine"
	"github.com/nathoo/turnweave/engine/narrate"
	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/loader"
	"github.com/nathoo/turnweave/types"
)

// Result is a completed scenario run.
type Result struct {
	Scenario *Scenario
	Outcomes []*types.TurnOutcome
	Engine   *engine.Engine
}

// Run loads the scenario's game content and executes every scripted
// turn. Per-step Expect clauses fail the run in place; final-state
// Assertions are checked afterwards with Result.CheckAll.
func Run(s *Scenario) (*Result, error) {
	defs, err := loader.Load(s.Game)
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}

	runID := s.RunID
	if runID == "" {
		runID = s.Name
	}
	eng := engine.New(defs, defs.Game.ID, runID)
	eng.Generator = scriptedGenerator(s.Turns)

	res := &Result{Scenario: s, Engine: eng}
	for i, step := range s.Turns {
		outcome, err := eng.Step(context.Background(), step.Choice)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		res.Outcomes = append(res.Outcomes, outcome)

		if step.Expect != nil {
			if err := checkExpect(i, step.Expect, outcome); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// scriptedGenerator converts the steps' prose/delta scripts into a
// generator. Steps without a delta still produce a response so the
// script stays aligned with the turn index.
func scriptedGenerator(steps []TurnStep) *narrate.Scripted {
	responses := make([]narrate.Response, len(steps))
	for i, step := range steps {
		responses[i] = narrate.Response{Prose: step.Prose}
		if step.Delta != "" {
			responses[i].Delta = json.RawMessage(step.Delta)
		}
	}
	return &narrate.Scripted{Responses: responses}
}

func checkExpect(turn int, exp *ExpectClause, outcome *types.TurnOutcome) error {
	if exp.Node != "" && outcome.Node != exp.Node {
		return fmt.Errorf("turn %d: node = %q, expected %q", turn, outcome.Node, exp.Node)
	}
	switch {
	case exp.Event == "":
	case exp.Event == "none":
		if outcome.FiredEvent != "" {
			return fmt.Errorf("turn %d: event %q fired, expected none", turn, outcome.FiredEvent)
		}
	case outcome.FiredEvent != exp.Event:
		return fmt.Errorf("turn %d: fired event = %q, expected %q", turn, outcome.FiredEvent, exp.Event)
	}
	if exp.SafetyOK != nil && outcome.Safety.OK != *exp.SafetyOK {
		return fmt.Errorf("turn %d: safety.ok = %v, expected %v", turn, outcome.Safety.OK, *exp.SafetyOK)
	}
	return nil
}

// CheckAll evaluates every final-state assertion, collecting all
// failures rather than stopping at the first.
func (r *Result) CheckAll() error {
	el := errors.NewErrorList()
	for i, a := range r.Scenario.Assertions {
		if err := r.Check(a); err != nil {
			el.Add(fmt.Errorf("assertions[%d]: %w", i, err))
		}
	}
	return el.Err()
}

// Check evaluates one assertion against the final state.
func (r *Result) Check(a Assertion) error {
	s := r.Engine.State
	switch a.Type {
	case AssertMeter:
		entity := a.Entity
		if entity == "" {
			entity = state.PlayerID
		}
		v, ok := state.Meter(s, entity, a.Meter)
		if !ok {
			return fmt.Errorf("meter %s.%s not found", entity, a.Meter)
		}
		if a.Equals != nil && v != *a.Equals {
			return fmt.Errorf("meter %s.%s = %v, expected %v", entity, a.Meter, v, *a.Equals)
		}
		if a.Min != nil && v < *a.Min {
			return fmt.Errorf("meter %s.%s = %v, expected >= %v", entity, a.Meter, v, *a.Min)
		}
		if a.Max != nil && v > *a.Max {
			return fmt.Errorf("meter %s.%s = %v, expected <= %v", entity, a.Meter, v, *a.Max)
		}
	case AssertFlag:
		got, ok := s.Flags[a.Flag]
		if !ok {
			return fmt.Errorf("flag %s not found", a.Flag)
		}
		if !flagEqual(got, a.Value) {
			return fmt.Errorf("flag %s = %v, expected %v", a.Flag, got, a.Value)
		}
	case AssertNode:
		if s.Node != a.Node {
			return fmt.Errorf("node = %q, expected %q", s.Node, a.Node)
		}
	case AssertModifierActive:
		entity := a.Entity
		if entity == "" {
			entity = state.PlayerID
		}
		active := state.HasModifier(s, entity, a.Modifier)
		want := true
		if a.Active != nil {
			want = *a.Active
		}
		if active != want {
			return fmt.Errorf("modifier %s on %s: active = %v, expected %v", a.Modifier, entity, active, want)
		}
	case AssertArcStage:
		got := s.Arcs[a.Arc].Stage
		if got != a.Stage {
			return fmt.Errorf("arc %s stage = %q, expected %q", a.Arc, got, a.Stage)
		}
	case AssertMemoryContains:
		for _, m := range s.Memory {
			if strings.Contains(m, a.Text) {
				return nil
			}
		}
		return fmt.Errorf("memory does not contain %q", a.Text)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// flagEqual compares a stored flag against a YAML-decoded expectation.
// YAML decodes whole numbers as int; flags store float64.
func flagEqual(got, want any) bool {
	if wi, ok := want.(int); ok {
		if gf, ok := got.(float64); ok {
			return gf == float64(wi)
		}
	}
	return got == want
}
