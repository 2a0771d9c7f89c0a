// Package types defines the shared data structures for the TurnWeave engine:
// content definitions, the closed Effect union, world state, and per-turn
// outcome records. This package contains only type definitions — no logic.
package types

import "github.com/nathoo/turnweave/expr"

// GameDef holds game metadata and run defaults.
type GameDef struct {
	ID            string
	Title         string
	Author        string
	Version       string
	Intro         string
	StartNode     string
	StartZone     string
	StartLocation string
	// Slots is the declared day structure in order; durations drive
	// modifier expiry and minute_of_day accounting.
	Slots []SlotDef
}

// SlotDef is one named segment of the day.
type SlotDef struct {
	ID      string
	Minutes int
}

// ThresholdDef labels a closed numeric range of a meter.
type ThresholdDef struct {
	Label string
	Min   float64
	Max   float64
}

// MeterDef declares a bounded numeric meter. Every write clamps into
// [Min, Max]; DeltaCapPerTurn additionally caps the magnitude applied by
// a single batch (0 means uncapped).
type MeterDef struct {
	ID              string
	Min             float64
	Max             float64
	Default         float64
	DeltaCapPerTurn float64
	Thresholds      []ThresholdDef
}

// FlagType is the declared scalar type of a flag.
type FlagType string

const (
	FlagBool   FlagType = "bool"
	FlagNumber FlagType = "number"
	FlagString FlagType = "string"
)

// FlagDef declares a typed global flag. Writes with a mismatched type are
// rejected as content errors, never coerced.
type FlagDef struct {
	ID      string
	Type    FlagType
	Default any
}

// Stacking selects how same-group modifier values combine.
type Stacking string

const (
	StackHighest        Stacking = "highest"
	StackAdditive       Stacking = "additive"
	StackMultiplicative Stacking = "multiplicative"
)

// ModifierDef declares a named status overlay.
type ModifierDef struct {
	ID string
	// When, if set, activates the modifier whenever it holds on
	// post-effect state (condition-bound; no duration).
	When *expr.Expr
	// DurationMinutes is the default duration for effect-applied
	// activations; nil means indefinite.
	DurationMinutes *int
	ExclusiveGroup  string
	StackGroup      string
	Stacking        Stacking
	Priority        int
	// Value is the behavioral delta contributed to the stack group.
	Value float64
	// DisallowGates is a hard veto: while active, the listed gates
	// evaluate false for the entity regardless of anything else.
	DisallowGates []string
	EntryEffects  []Effect
	ExitEffects   []Effect
}

// ItemDef declares an inventory item.
type ItemDef struct {
	ID   string
	Name string
	// Slot is the equipment slot the item occupies when equipped
	// ("" means not equippable).
	Slot string
}

// OutfitLayer is one clothing layer of an outfit. Gate names the consent
// gate checked before any state change to this layer ("" means ungated).
type OutfitLayer struct {
	ID   string
	Item string
	Gate string
}

// OutfitDef declares a wearable outfit as an ordered set of layers.
type OutfitDef struct {
	ID     string
	Name   string
	Layers []OutfitLayer
}

// GateDef declares a named consent/safety predicate. A gate holds for an
// entity when its predicate is true AND the current location's privacy is
// at least MinPrivacy AND no active modifier on the entity disallows it.
type GateDef struct {
	ID         string
	MinPrivacy int
	When       *expr.Expr
}

// CharacterDef declares a character: meter defaults, starting position,
// outfit, and per-character gate predicate overrides.
type CharacterDef struct {
	ID            string
	Name          string
	Meters        map[string]float64
	StartLocation string
	Outfit        string
	Gates         map[string]*expr.Expr
}

// LocationDef declares a location within a zone. Privacy gates intimacy-
// relevant effects (higher is more private).
type LocationDef struct {
	ID      string
	Zone    string
	Name    string
	Privacy int
}

// ChoiceDef is a selectable option on a node.
type ChoiceDef struct {
	ID      string
	Label   string
	When    *expr.Expr
	Effects []Effect
	Goto    string
}

// NodeDef is a narrative node.
type NodeDef struct {
	ID      string
	Title   string
	Body    string
	OnEnter []Effect
	Choices []ChoiceDef
}

// EventKind orders event categories for tie-breaking:
// scheduled > conditional > pool.
type EventKind string

const (
	EventScheduled   EventKind = "scheduled"
	EventConditional EventKind = "conditional"
	EventPool        EventKind = "pool"
)

// TimeWindow restricts a scheduled event to day slots (empty = any) and an
// optional day range (0 = open-ended).
type TimeWindow struct {
	Slots   []string
	FromDay int
	ToDay   int
}

// EventDef declares a triggerable event.
type EventDef struct {
	ID            string
	Kind          EventKind
	Zone          string // scope; "" = any zone
	Location      string // scope; "" = any location
	Window        TimeWindow
	When          *expr.Expr
	Pool          string // pool membership for EventPool
	Weight        int    // weighted draw within the pool
	CooldownTurns int
	MaxFires      int // 0 = unlimited
	Once          bool
	Interrupt     bool
	Priority      int
	Effects       []Effect
	Narrative     string
	Goto          string
}

// PoolDef declares a random event pool.
type PoolDef struct {
	ID            string
	ChancePerTurn float64
}

// ArcEvaluation selects the stage-selection rule.
type ArcEvaluation string

const (
	ArcHighest    ArcEvaluation = "highest"
	ArcFirstMatch ArcEvaluation = "first_match"
)

// StageDef is one stage of an arc. Either When (pure threshold) or the
// hysteresis pair EnterWhen/ExitWhen (or numeric Enter/Exit against the
// arc's tracked meter) gates membership.
type StageDef struct {
	ID        string
	When      *expr.Expr
	EnterWhen *expr.Expr
	ExitWhen  *expr.Expr
	Enter     *float64
	Exit      *float64
	// DebounceTurns is the minimum turns the arc must stay in this stage
	// before it may transition again.
	DebounceTurns int
	EntryEffects  []Effect
	ExitEffects   []Effect
}

// ArcDef declares a long-running progression track.
type ArcDef struct {
	ID         string
	Evaluation ArcEvaluation
	// Entity/Meter name the tracked meter for numeric Enter/Exit
	// thresholds.
	Entity        string
	Meter         string
	ExclusiveWith []string
	Stages        []StageDef
}
