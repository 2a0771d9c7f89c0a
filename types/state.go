package types

// ActiveModifier is one active status overlay on an entity.
// RemainingMinutes is nil for indefinite/condition-bound activations.
type ActiveModifier struct {
	ID               string `json:"id"`
	RemainingMinutes *int   `json:"remaining_minutes,omitempty"`
	ActivatedTurn    int    `json:"activated_turn"`
	// ConditionBound marks activations owned by the modifier's declared
	// When expression; they expire when it stops holding.
	ConditionBound bool `json:"condition_bound,omitempty"`
}

// Position is the current zone and location.
type Position struct {
	Zone     string `json:"zone"`
	Location string `json:"id"`
}

// Clock is the in-game time.
type Clock struct {
	Day         int    `json:"day"`
	Slot        string `json:"slot"`
	MinuteOfDay *int   `json:"minute_of_day,omitempty"`
}

// ArcState is the runtime state of one arc.
type ArcState struct {
	Stage       string   `json:"stage"`
	History     []string `json:"history"`
	EnteredTurn int      `json:"entered_turn"`
}

// WorldState is the complete mutable run state. It is owned by the engine
// and mutated exclusively through the effect pipeline.
type WorldState struct {
	GameID string `json:"game_id"`
	RunID  string `json:"run_id"`

	// Meters: entity -> meter -> value, clamped per definition.
	Meters map[string]map[string]float64 `json:"meters"`
	// Flags: typed at definition time.
	Flags map[string]any `json:"flags"`
	// Modifiers: entity -> active overlays.
	Modifiers map[string][]ActiveModifier `json:"modifiers"`
	// Inventory: owner -> item -> count.
	Inventory map[string]map[string]int `json:"inventory"`
	// Equipment: owner -> slot -> item ("" = empty).
	Equipment map[string]map[string]string `json:"equipment"`
	// Clothing: character -> layer -> state.
	Clothing map[string]map[string]LayerState `json:"clothing"`
	// Outfits: character -> current outfit.
	Outfits map[string]string `json:"outfits"`
	// Presence: character -> current location.
	Presence map[string]string `json:"presence"`

	Position Position            `json:"position"`
	Time     Clock               `json:"time"`
	Arcs     map[string]ArcState `json:"arcs"`

	// EventCooldowns: event -> turn index at which it is eligible again.
	EventCooldowns  map[string]int `json:"event_cooldowns"`
	EventFireCounts map[string]int `json:"event_fire_counts"`

	Unlocked map[string]bool `json:"unlocked"`

	Node   string   `json:"node"`
	Memory []string `json:"memory"`

	TurnCount   int   `json:"turn_count"`
	RNGSeed     int64 `json:"rng_seed"`
	RNGPosition int64 `json:"rng_position"`

	// Version increments once per turn snapshot; readers hold it to
	// detect stale borrows.
	Version int `json:"version"`
}

// EffectOutcome classifies the result of one pipeline entry.
type EffectOutcome string

const (
	OutcomeApplied  EffectOutcome = "applied"
	OutcomeSkipped  EffectOutcome = "skipped"  // guard false
	OutcomeRefused  EffectOutcome = "refused"  // gate/privacy veto
	OutcomeRejected EffectOutcome = "rejected" // content error
)

// EffectRecord is one pipeline entry in the turn outcome.
type EffectRecord struct {
	Effect  Effect        `json:"effect"`
	Outcome EffectOutcome `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
}

// Violation records a rejected or refused external sub-delta.
type Violation struct {
	Code   string `json:"code"` // "out_of_bounds", "gate_refused", "bad_reference", "type_mismatch"
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SafetyReport summarizes delta-merge validation for one turn.
type SafetyReport struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

// ArcTransition records one stage change.
type ArcTransition struct {
	Arc  string `json:"arc"`
	From string `json:"from"`
	To   string `json:"to"`
}

// ChoiceView is a choice surfaced to the presentation layer.
type ChoiceView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// TurnOutcome is the per-turn record emitted to presentation and logging.
// Presentation never mutates state; this is a value copy.
type TurnOutcome struct {
	Turn           int             `json:"turn"`
	Node           string          `json:"node"`
	Narrative      []string        `json:"narrative,omitempty"`
	Effects        []EffectRecord  `json:"effects,omitempty"`
	FiredEvent     string          `json:"fired_event,omitempty"`
	ArcTransitions []ArcTransition `json:"arc_transitions,omitempty"`
	Safety         SafetyReport    `json:"safety"`
	Choices        []ChoiceView    `json:"choices,omitempty"`
}
