package types

import "github.com/nathoo/turnweave/expr"

// EffectKind tags an Effect variant. The set is closed: the pipeline
// dispatches with an exhaustive switch, so a new kind is a compile-time
// exercise, not a runtime string-dispatch risk.
type EffectKind string

const (
	EffectMeterChange     EffectKind = "meter_change"
	EffectFlagSet         EffectKind = "flag_set"
	EffectInventoryAdd    EffectKind = "inventory_add"
	EffectInventoryRemove EffectKind = "inventory_remove"
	EffectApplyModifier   EffectKind = "apply_modifier"
	EffectRemoveModifier  EffectKind = "remove_modifier"
	EffectOutfitChange    EffectKind = "outfit_change"
	EffectClothingSet     EffectKind = "clothing_set"
	EffectEquip           EffectKind = "equip"
	EffectUnequip         EffectKind = "unequip"
	EffectMoveTo          EffectKind = "move_to"
	EffectAdvanceTime     EffectKind = "advance_time"
	EffectGotoNode        EffectKind = "goto_node"
	EffectConditional     EffectKind = "conditional"
	EffectRandom          EffectKind = "random"
	EffectUnlock          EffectKind = "unlock"
)

// NumericOp is the operation of a MeterChange.
type NumericOp string

const (
	OpAdd      NumericOp = "add"
	OpSubtract NumericOp = "subtract"
	OpSet      NumericOp = "set"
	OpMultiply NumericOp = "multiply"
	OpDivide   NumericOp = "divide"
)

// LayerState is the state of one clothing layer.
type LayerState string

const (
	LayerIntact    LayerState = "intact"
	LayerDisplaced LayerState = "displaced"
	LayerRemoved   LayerState = "removed"
)

// RandomBranch is one weighted branch of a Random effect.
type RandomBranch struct {
	Weight  int      `json:"weight"`
	Effects []Effect `json:"effects"`
}

// Effect is a single atomic state-mutation instruction. Kind selects the
// variant; only that variant's fields are meaningful. Guard, when set,
// skips the effect (not an error) if it evaluates false.
type Effect struct {
	Kind  EffectKind `json:"kind"`
	Guard *expr.Expr `json:"guard,omitempty"`

	// Target is the entity acted on: meter owner, modifier holder,
	// inventory owner, or clothed character, depending on Kind.
	Target string `json:"target,omitempty"`

	// MeterChange
	Meter string    `json:"meter,omitempty"`
	Op    NumericOp `json:"op,omitempty"`
	Value float64   `json:"value,omitempty"`

	// FlagSet
	Flag      string `json:"flag,omitempty"`
	FlagValue any    `json:"flag_value,omitempty"`

	// InventoryAdd / InventoryRemove / Equip / Unequip
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
	Slot  string `json:"slot,omitempty"`

	// ApplyModifier / RemoveModifier
	Modifier string `json:"modifier,omitempty"`
	// DurationMinutes overrides the modifier's declared default; nil
	// means use the default.
	DurationMinutes *int `json:"duration_minutes,omitempty"`

	// OutfitChange / ClothingSet
	Outfit string     `json:"outfit,omitempty"`
	Layer  string     `json:"layer,omitempty"`
	State  LayerState `json:"state,omitempty"`

	// MoveTo
	Zone     string `json:"zone,omitempty"`
	Location string `json:"location,omitempty"`

	// AdvanceTime
	Minutes int `json:"minutes,omitempty"`

	// GotoNode
	Node string `json:"node,omitempty"`

	// Conditional
	When *expr.Expr `json:"when,omitempty"`
	Then []Effect   `json:"then,omitempty"`
	Else []Effect   `json:"else,omitempty"`

	// Random
	Branches []RandomBranch `json:"branches,omitempty"`

	// Unlock
	UnlockKind string `json:"unlock_kind,omitempty"` // "location", "node", "outfit"
	UnlockID   string `json:"unlock_id,omitempty"`
}
