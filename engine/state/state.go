// Package state manages the immutable content definitions, construction of
// a fresh WorldState from declared defaults, and the clamped/typed accessors
// every mutation goes through.
package state

import (
	"fmt"

	"github.com/nathoo/turnweave/types"
)

// Defs holds the immutable content definitions for a run. The loader is
// responsible for schema validation, unique ids, and cross-reference
// resolution; the engine assumes those invariants hold. Events and Arcs
// keep declaration order because selection rules depend on it.
type Defs struct {
	Game       types.GameDef
	Meters     map[string]types.MeterDef
	Flags      map[string]types.FlagDef
	Modifiers  map[string]types.ModifierDef
	Items      map[string]types.ItemDef
	Outfits    map[string]types.OutfitDef
	Characters map[string]types.CharacterDef
	Gates      map[string]types.GateDef
	Locations  map[string]types.LocationDef
	Nodes      map[string]types.NodeDef
	Events     []types.EventDef
	Pools      map[string]types.PoolDef
	Arcs       []types.ArcDef
}

// Event returns an event definition by id.
func (d *Defs) Event(id string) (types.EventDef, bool) {
	for _, ev := range d.Events {
		if ev.ID == id {
			return ev, true
		}
	}
	return types.EventDef{}, false
}

// Arc returns an arc definition by id.
func (d *Defs) Arc(id string) (types.ArcDef, bool) {
	for _, a := range d.Arcs {
		if a.ID == id {
			return a, true
		}
	}
	return types.ArcDef{}, false
}

// SlotIndex returns the position of a slot in the declared day order.
func (d *Defs) SlotIndex(slot string) int {
	for i, s := range d.Game.Slots {
		if s.ID == slot {
			return i
		}
	}
	return -1
}

// SlotMinutes returns the declared length of a slot, defaulting to 60.
func (d *Defs) SlotMinutes(slot string) int {
	for _, s := range d.Game.Slots {
		if s.ID == slot && s.Minutes > 0 {
			return s.Minutes
		}
	}
	return 60
}

// Privacy returns the privacy level of the current location.
func (d *Defs) Privacy(s *types.WorldState) int {
	if loc, ok := d.Locations[s.Position.Location]; ok {
		return loc.Privacy
	}
	return 0
}

// NewState creates a fresh WorldState from declared defaults.
func NewState(defs *Defs, gameID, runID string, seed int64) *types.WorldState {
	s := &types.WorldState{
		GameID:          gameID,
		RunID:           runID,
		Meters:          map[string]map[string]float64{},
		Flags:           map[string]any{},
		Modifiers:       map[string][]types.ActiveModifier{},
		Inventory:       map[string]map[string]int{},
		Equipment:       map[string]map[string]string{},
		Clothing:        map[string]map[string]types.LayerState{},
		Outfits:         map[string]string{},
		Presence:        map[string]string{},
		Arcs:            map[string]types.ArcState{},
		EventCooldowns:  map[string]int{},
		EventFireCounts: map[string]int{},
		Unlocked:        map[string]bool{},
		Memory:          []string{},
		RNGSeed:         seed,
	}

	s.Position = types.Position{Zone: defs.Game.StartZone, Location: defs.Game.StartLocation}
	s.Node = defs.Game.StartNode
	s.Time = types.Clock{Day: 1}
	if len(defs.Game.Slots) > 0 {
		s.Time.Slot = defs.Game.Slots[0].ID
		minute := 0
		s.Time.MinuteOfDay = &minute
	}

	for id, f := range defs.Flags {
		s.Flags[id] = f.Default
	}

	for id, c := range defs.Characters {
		meters := map[string]float64{}
		for meter, def := range c.Meters {
			if md, ok := defs.Meters[meter]; ok {
				meters[meter] = ClampMeter(md, def)
			}
		}
		s.Meters[id] = meters
		if c.StartLocation != "" {
			s.Presence[id] = c.StartLocation
		}
		if c.Outfit != "" {
			s.Outfits[id] = c.Outfit
			s.Clothing[id] = freshLayers(defs, c.Outfit)
		}
	}

	for _, arc := range defs.Arcs {
		if len(arc.Stages) == 0 {
			continue
		}
		first := arc.Stages[0].ID
		s.Arcs[arc.ID] = types.ArcState{Stage: first, History: []string{first}, EnteredTurn: 0}
	}

	return s
}

// freshLayers builds the intact layer map for an outfit.
func freshLayers(defs *Defs, outfitID string) map[string]types.LayerState {
	layers := map[string]types.LayerState{}
	if outfit, ok := defs.Outfits[outfitID]; ok {
		for _, l := range outfit.Layers {
			layers[l.ID] = types.LayerIntact
		}
	}
	return layers
}

// ResetClothing replaces a character's layer map for a new outfit.
// Only the effect pipeline calls this.
func ResetClothing(s *types.WorldState, defs *Defs, character, outfitID string) {
	s.Outfits[character] = outfitID
	s.Clothing[character] = freshLayers(defs, outfitID)
}

// AdvanceClock moves the clock forward by minutes, rolling slots at
// their declared boundaries and the day when the last slot ends. Games
// without declared slots keep a bare day counter and ignore minutes.
func AdvanceClock(s *types.WorldState, defs *Defs, minutes int) {
	if len(defs.Game.Slots) == 0 || s.Time.MinuteOfDay == nil {
		return
	}
	dayMinutes := 0
	for _, sl := range defs.Game.Slots {
		dayMinutes += defs.SlotMinutes(sl.ID)
	}
	m := *s.Time.MinuteOfDay + minutes
	for m >= dayMinutes {
		m -= dayMinutes
		s.Time.Day++
	}
	s.Time.MinuteOfDay = &m
	acc := 0
	for _, sl := range defs.Game.Slots {
		acc += defs.SlotMinutes(sl.ID)
		if m < acc {
			s.Time.Slot = sl.ID
			break
		}
	}
}

// ClampMeter clamps v into the meter's declared range.
func ClampMeter(def types.MeterDef, v float64) float64 {
	if v < def.Min {
		return def.Min
	}
	if v > def.Max {
		return def.Max
	}
	return v
}

// Meter returns the meter value for an entity.
func Meter(s *types.WorldState, entity, meter string) (float64, bool) {
	if em, ok := s.Meters[entity]; ok {
		v, ok := em[meter]
		return v, ok
	}
	return 0, false
}

// SetMeter writes a meter value, clamping into range. The entity must
// already carry the meter; unknown references are content errors.
func SetMeter(s *types.WorldState, defs *Defs, entity, meter string, v float64) error {
	def, ok := defs.Meters[meter]
	if !ok {
		return fmt.Errorf("unknown meter %q", meter)
	}
	em, ok := s.Meters[entity]
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	if _, ok := em[meter]; !ok {
		return fmt.Errorf("entity %q does not carry meter %q", entity, meter)
	}
	em[meter] = ClampMeter(def, v)
	return nil
}

// SetFlag writes a flag, enforcing the declared type. A mismatched write
// is a rejected content error, never a silent coercion.
func SetFlag(s *types.WorldState, defs *Defs, flag string, value any) error {
	def, ok := defs.Flags[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}
	switch def.Type {
	case types.FlagBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("flag %q wants bool, got %T", flag, value)
		}
	case types.FlagNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("flag %q wants number, got %T", flag, value)
		}
	case types.FlagString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("flag %q wants string, got %T", flag, value)
		}
	}
	s.Flags[flag] = value
	return nil
}

// ItemCount returns how many of an item the owner holds.
func ItemCount(s *types.WorldState, owner, item string) int {
	if inv, ok := s.Inventory[owner]; ok {
		return inv[item]
	}
	return 0
}

// AddItem adds count items to the owner's inventory.
func AddItem(s *types.WorldState, owner, item string, count int) {
	if s.Inventory[owner] == nil {
		s.Inventory[owner] = map[string]int{}
	}
	s.Inventory[owner][item] += count
}

// RemoveItem removes up to count items, clamping at zero.
func RemoveItem(s *types.WorldState, owner, item string, count int) {
	inv, ok := s.Inventory[owner]
	if !ok {
		return
	}
	inv[item] -= count
	if inv[item] <= 0 {
		delete(inv, item)
	}
}

// HasModifier reports whether the entity has the modifier active.
func HasModifier(s *types.WorldState, entity, id string) bool {
	for _, m := range s.Modifiers[entity] {
		if m.ID == id {
			return true
		}
	}
	return false
}

// ThresholdLabel returns the label of the threshold range containing v,
// or "" when no declared range matches.
func ThresholdLabel(def types.MeterDef, v float64) string {
	for _, t := range def.Thresholds {
		if v >= t.Min && v <= t.Max {
			return t.Label
		}
	}
	return ""
}
