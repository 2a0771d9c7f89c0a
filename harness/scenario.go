// Package harness runs YAML-scripted conformance scenarios against the
// engine: scripted player choices, scripted generator responses, and
// assertions on turn outcomes and final state. Golden transcripts pin
// replay determinism.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run loaded from YAML.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Game is the Lua content directory, relative to the scenario file.
	Game string `yaml:"game"`

	// RunID seeds the RNG stream together with the game id. Defaults to
	// the scenario name, so a scenario is reproducible by construction.
	RunID string `yaml:"run_id,omitempty"`

	// Turns is the scripted action sequence.
	Turns []TurnStep `yaml:"turns"`

	// Assertions validate the final state after all turns.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// TurnStep is one scripted turn.
type TurnStep struct {
	// Choice is the choice id to take; empty means a wait turn.
	Choice string `yaml:"choice,omitempty"`

	// Prose and Delta script the generator's response for this turn.
	// An empty Delta means the generator proposes no state change.
	Prose string `yaml:"prose,omitempty"`
	Delta string `yaml:"delta,omitempty"`

	// Expect validates the turn outcome in place; nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause is a subset match on one turn's outcome.
type ExpectClause struct {
	// Node is the node occupied after the turn.
	Node string `yaml:"node,omitempty"`

	// Event is the fired event id ("none" asserts no event fired).
	Event string `yaml:"event,omitempty"`

	// SafetyOK, if set, matches the turn's safety report.
	SafetyOK *bool `yaml:"safety_ok,omitempty"`
}

// Assertion validates final state. Type selects the variant:
// meter, flag, node, modifier_active, arc_stage, memory_contains.
type Assertion struct {
	Type string `yaml:"type"`

	// meter
	Entity string   `yaml:"entity,omitempty"`
	Meter  string   `yaml:"meter,omitempty"`
	Equals *float64 `yaml:"equals,omitempty"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`

	// flag
	Flag  string `yaml:"flag,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// node
	Node string `yaml:"node,omitempty"`

	// modifier_active
	Modifier string `yaml:"modifier,omitempty"`
	Active   *bool  `yaml:"active,omitempty"`

	// arc_stage
	Arc   string `yaml:"arc,omitempty"`
	Stage string `yaml:"stage,omitempty"`

	// memory_contains
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertMeter          = "meter"
	AssertFlag           = "flag"
	AssertNode           = "node"
	AssertModifierActive = "modifier_active"
	AssertArcStage       = "arc_stage"
	AssertMemoryContains = "memory_contains"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly, and the game path is resolved
// relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}

	if s.Game != "" && !filepath.IsAbs(s.Game) {
		s.Game = filepath.Join(filepath.Dir(path), s.Game)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Game == "" {
		return fmt.Errorf("game directory is required")
	}
	if _, err := os.Stat(s.Game); err != nil {
		return fmt.Errorf("game directory %s: %w", s.Game, err)
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("turns list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion) error {
	switch a.Type {
	case AssertMeter:
		if a.Meter == "" {
			return fmt.Errorf("assertions[%d]: meter is required", i)
		}
		if a.Equals == nil && a.Min == nil && a.Max == nil {
			return fmt.Errorf("assertions[%d]: one of equals/min/max is required", i)
		}
	case AssertFlag:
		if a.Flag == "" {
			return fmt.Errorf("assertions[%d]: flag is required", i)
		}
	case AssertNode:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required", i)
		}
	case AssertModifierActive:
		if a.Modifier == "" {
			return fmt.Errorf("assertions[%d]: modifier is required", i)
		}
	case AssertArcStage:
		if a.Arc == "" || a.Stage == "" {
			return fmt.Errorf("assertions[%d]: arc and stage are required", i)
		}
	case AssertMemoryContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
