package state

import (
	"github.com/nathoo/turnweave/engine/rng"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
)

// PlayerID is the reserved character id for the player.
const PlayerID = "player"

// EvalContext adapts a WorldState to the expression evaluator. It is the
// turn's borrowed read view: evaluation never mutates state, and the Gates
// table is the single authoritative gate source once computed.
type EvalContext struct {
	Defs  *Defs
	State *types.WorldState
	// RNG is the turn's deterministic stream; nil contexts (pure
	// re-evaluation, validation) make rand() draw false without
	// consuming the stream.
	RNG *rng.Stream
	// Gates is entity -> gate -> bool, computed once per turn after
	// modifier resolution. Lookups before computation see false.
	Gates map[string]map[string]bool
}

// NewEvalContext builds the standard turn context.
func NewEvalContext(defs *Defs, s *types.WorldState, stream *rng.Stream) *EvalContext {
	return &EvalContext{Defs: defs, State: s, RNG: stream}
}

// Lookup resolves a dotted path against state. Unknown paths are nil.
func (c *EvalContext) Lookup(parts []string) expr.Value {
	if len(parts) == 0 {
		return nil
	}
	s := c.State

	switch parts[0] {
	case "meters":
		if len(parts) == 3 {
			if v, ok := Meter(s, parts[1], parts[2]); ok {
				return v
			}
			return nil
		}
		// meters.<entity>.<meter>.label resolves the threshold label.
		if len(parts) == 4 && parts[3] == "label" {
			def, ok := c.Defs.Meters[parts[2]]
			if !ok {
				return nil
			}
			if v, ok := Meter(s, parts[1], parts[2]); ok {
				return ThresholdLabel(def, v)
			}
		}
		return nil

	case "flags":
		if len(parts) == 2 {
			return s.Flags[parts[1]]
		}
		return nil

	case "time":
		if len(parts) != 2 {
			return nil
		}
		switch parts[1] {
		case "day":
			return float64(s.Time.Day)
		case "slot":
			return s.Time.Slot
		case "minute":
			if s.Time.MinuteOfDay != nil {
				return float64(*s.Time.MinuteOfDay)
			}
			return nil
		}
		return nil

	case "location":
		if len(parts) != 2 {
			return nil
		}
		switch parts[1] {
		case "zone":
			return s.Position.Zone
		case "id":
			return s.Position.Location
		case "privacy":
			return float64(c.Defs.Privacy(s))
		}
		return nil

	case "arcs":
		if len(parts) >= 2 {
			arc, ok := s.Arcs[parts[1]]
			if !ok {
				return nil
			}
			if len(parts) == 2 || parts[2] == "stage" {
				return arc.Stage
			}
		}
		return nil

	case "gates":
		if len(parts) == 3 {
			if eg, ok := c.Gates[parts[1]]; ok {
				return eg[parts[2]]
			}
			return false
		}
		return nil

	case "inventory":
		if len(parts) == 3 {
			return float64(ItemCount(s, parts[1], parts[2]))
		}
		return nil

	case "equipment":
		if len(parts) == 3 {
			if slots, ok := s.Equipment[parts[1]]; ok {
				return slots[parts[2]]
			}
			return nil
		}
		return nil

	case "clothing":
		if len(parts) == 3 {
			if layers, ok := s.Clothing[parts[1]]; ok {
				if st, ok := layers[parts[2]]; ok {
					return string(st)
				}
			}
			return nil
		}
		return nil

	case "outfit":
		if len(parts) == 2 {
			return s.Outfits[parts[1]]
		}
		return nil

	case "modifiers":
		if len(parts) == 2 {
			mods := s.Modifiers[parts[1]]
			out := make([]any, 0, len(mods))
			for _, m := range mods {
				out = append(out, m.ID)
			}
			return out
		}
		if len(parts) == 3 {
			return HasModifier(s, parts[1], parts[2])
		}
		return nil

	case "node":
		if len(parts) == 1 {
			return s.Node
		}
		return nil

	case "turn":
		if len(parts) == 1 {
			return float64(s.TurnCount)
		}
		return nil

	case "event_fires":
		if len(parts) == 2 {
			return float64(s.EventFireCounts[parts[1]])
		}
		return nil

	case "unlocked":
		if len(parts) == 2 {
			return s.Unlocked[parts[1]]
		}
		return nil
	}

	return nil
}

// Has reports whether the player holds the item.
func (c *EvalContext) Has(itemID string) bool {
	return ItemCount(c.State, PlayerID, itemID) > 0
}

// NPCPresent reports whether the character is at the player's location.
func (c *EvalContext) NPCPresent(characterID string) bool {
	loc, ok := c.State.Presence[characterID]
	return ok && loc == c.State.Position.Location
}

// Rand draws from the turn stream. Pure contexts draw false.
func (c *EvalContext) Rand(p float64) bool {
	if c.RNG == nil {
		return false
	}
	return c.RNG.Bernoulli(p)
}

// entityCtx is an EvalContext view bound to one entity: the path
// segment "self" resolves to that entity's id, so a shared predicate
// like meters.self.energy < 20 can be evaluated per character.
type entityCtx struct {
	*EvalContext
	entity string
}

// ForEntity returns a context that resolves "self" to the given entity.
func (c *EvalContext) ForEntity(entity string) expr.Context {
	return entityCtx{c, entity}
}

func (e entityCtx) Lookup(parts []string) expr.Value {
	resolved := make([]string, len(parts))
	for i, p := range parts {
		if p == "self" {
			resolved[i] = e.entity
		} else {
			resolved[i] = p
		}
	}
	return e.EvalContext.Lookup(resolved)
}
