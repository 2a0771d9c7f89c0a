// Package delta validates externally-proposed state changes and
// translates them into the shared effect vocabulary. A generative
// process is untrusted: every sub-delta is checked against declared
// bounds and consent gates before it is allowed anywhere near the
// pipeline, and disallowed sub-deltas are dropped, never clamped into
// acceptability.
package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/types"
)

// ExternalDelta is the structured change-set an external generator may
// propose alongside its prose. Meter requests carry explicit +N/-N/=N
// semantics so the generator can never smuggle an absolute write in as
// a relative one.
type ExternalDelta struct {
	Meters          map[string]map[string]string      `json:"meters,omitempty"`
	Flags           map[string]any                    `json:"flags,omitempty"`
	InventoryAdd    []ItemRequest                     `json:"inventory_add,omitempty"`
	InventoryRemove []ItemRequest                     `json:"inventory_remove,omitempty"`
	Clothing        map[string]map[string]string      `json:"clothing,omitempty"`
	ApplyModifiers  []ModifierRequest                 `json:"apply_modifiers,omitempty"`
	RemoveModifiers []ModifierRequest                 `json:"remove_modifiers,omitempty"`
	Goto            string                            `json:"goto,omitempty"`
	Memory          []string                          `json:"memory,omitempty"`
}

// ItemRequest is one inventory change request.
type ItemRequest struct {
	Owner string `json:"owner,omitempty"`
	Item  string `json:"item"`
	Count int    `json:"count,omitempty"`
}

// ModifierRequest is one modifier change request.
type ModifierRequest struct {
	Entity          string `json:"entity,omitempty"`
	ID              string `json:"id"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

// Parse decodes a raw generator payload. Unknown fields are rejected so
// a generator inventing new delta surfaces fails loudly instead of
// being silently ignored.
func Parse(raw []byte) (*ExternalDelta, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var d ExternalDelta
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("delta parse: %w", err)
	}
	return &d, nil
}

// Result is the validated output of a merge.
type Result struct {
	Effects []types.Effect
	Memory  []string
	Safety  types.SafetyReport
}

// Merge validates every sub-delta against the current state and emits
// effects for the ones that pass. Violations drop only their own
// sub-delta; the rest of the proposal still applies. Safety.OK goes
// false only for consent/privacy violations, the caller surfaces those
// as in-character refusals.
func Merge(defs *state.Defs, s *types.WorldState, ctx *state.EvalContext, proposed *ExternalDelta) Result {
	m := &merger{defs: defs, s: s, ctx: ctx}
	m.res.Safety.OK = true

	m.meters(proposed.Meters)
	m.flags(proposed.Flags)
	m.inventory(proposed.InventoryAdd, types.EffectInventoryAdd)
	m.inventory(proposed.InventoryRemove, types.EffectInventoryRemove)
	m.clothing(proposed.Clothing)
	m.modifiers(proposed.ApplyModifiers, types.EffectApplyModifier)
	m.modifiers(proposed.RemoveModifiers, types.EffectRemoveModifier)
	m.gotoNode(proposed.Goto)

	for _, entry := range proposed.Memory {
		if entry = strings.TrimSpace(entry); entry != "" {
			m.res.Memory = append(m.res.Memory, entry)
		}
	}
	return m.res
}

type merger struct {
	defs *state.Defs
	s    *types.WorldState
	ctx  *state.EvalContext
	res  Result
}

func (m *merger) violate(code, path, reason string) {
	m.res.Safety.Violations = append(m.res.Safety.Violations, types.Violation{
		Code: code, Path: path, Reason: reason,
	})
}

// refuse is a consent/privacy violation: it also flips Safety.OK.
func (m *merger) refuse(path, reason string) {
	m.res.Safety.OK = false
	m.violate("gate_refused", path, reason)
}

// sortedKeys keeps merged effect order independent of map iteration,
// replay demands a stable order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *merger) meters(reqs map[string]map[string]string) {
	for _, proposed := range sortedKeys(reqs) {
		meters := reqs[proposed]
		entity := normEntity(proposed)
		for _, meter := range sortedKeys(meters) {
			spec := meters[meter]
			path := "meters." + proposed + "." + meter
			def, ok := m.defs.Meters[meter]
			if !ok {
				m.violate("unknown_ref", path, "undeclared meter")
				continue
			}
			cur, ok := state.Meter(m.s, entity, meter)
			if !ok {
				m.violate("unknown_ref", path, "entity does not carry meter")
				continue
			}
			op, val, err := parseMeterSpec(spec)
			if err != nil {
				m.violate("bad_request", path, err.Error())
				continue
			}
			target := cur
			switch op {
			case types.OpAdd:
				target = cur + val
			case types.OpSubtract:
				target = cur - val
			case types.OpSet:
				target = val
			}
			if target < def.Min || target > def.Max {
				m.violate("out_of_bounds", path,
					fmt.Sprintf("%g is outside [%g,%g]", target, def.Min, def.Max))
				continue
			}
			m.res.Effects = append(m.res.Effects, types.Effect{
				Kind: types.EffectMeterChange, Target: entity,
				Meter: meter, Op: op, Value: val,
			})
		}
	}
}

// parseMeterSpec decodes "+N", "-N", or "=N".
func parseMeterSpec(spec string) (types.NumericOp, float64, error) {
	if len(spec) < 2 {
		return "", 0, fmt.Errorf("malformed meter request %q", spec)
	}
	var op types.NumericOp
	switch spec[0] {
	case '+':
		op = types.OpAdd
	case '-':
		op = types.OpSubtract
	case '=':
		op = types.OpSet
	default:
		return "", 0, fmt.Errorf("meter request %q needs a +/-/= prefix", spec)
	}
	// the magnitude is unsigned, the prefix already carries the sign
	if spec[1] == '+' || spec[1] == '-' {
		return "", 0, fmt.Errorf("malformed meter magnitude %q", spec[1:])
	}
	val, err := strconv.ParseFloat(spec[1:], 64)
	if err != nil || val < 0 {
		return "", 0, fmt.Errorf("malformed meter magnitude %q", spec[1:])
	}
	return op, val, nil
}

func (m *merger) flags(reqs map[string]any) {
	for _, flag := range sortedKeys(reqs) {
		value := reqs[flag]
		path := "flags." + flag
		def, ok := m.defs.Flags[flag]
		if !ok {
			m.violate("unknown_ref", path, "undeclared flag")
			continue
		}
		okType := false
		switch def.Type {
		case types.FlagBool:
			_, okType = value.(bool)
		case types.FlagNumber:
			_, okType = value.(float64)
		case types.FlagString:
			_, okType = value.(string)
		}
		if !okType {
			m.violate("type_mismatch", path, fmt.Sprintf("flag wants %s, got %T", def.Type, value))
			continue
		}
		m.res.Effects = append(m.res.Effects, types.Effect{
			Kind: types.EffectFlagSet, Flag: flag, FlagValue: value,
		})
	}
}

func (m *merger) inventory(reqs []ItemRequest, kind types.EffectKind) {
	for _, req := range reqs {
		path := "inventory." + req.Item
		if _, ok := m.defs.Items[req.Item]; !ok {
			m.violate("unknown_ref", path, "undeclared item")
			continue
		}
		owner := normEntity(req.Owner)
		if kind == types.EffectInventoryRemove &&
			state.ItemCount(m.s, ownerOrPlayer(owner), req.Item) < max(req.Count, 1) {
			m.violate("out_of_bounds", path, "not enough held")
			continue
		}
		m.res.Effects = append(m.res.Effects, types.Effect{
			Kind: kind, Target: owner, Item: req.Item, Count: req.Count,
		})
	}
}

func ownerOrPlayer(owner string) string {
	if owner == "" {
		return state.PlayerID
	}
	return owner
}

// normEntity maps the generator-facing "self" alias to the player id.
// Violation paths keep the proposal's own spelling.
func normEntity(id string) string {
	if id == "self" {
		return state.PlayerID
	}
	return id
}

func (m *merger) clothing(reqs map[string]map[string]string) {
	for _, proposed := range sortedKeys(reqs) {
		layers := reqs[proposed]
		entity := normEntity(proposed)
		outfit, wearing := m.defs.Outfits[m.s.Outfits[entity]]
		for _, layer := range sortedKeys(layers) {
			want := layers[layer]
			path := "clothing." + proposed + "." + layer
			st := types.LayerState(want)
			switch st {
			case types.LayerIntact, types.LayerDisplaced, types.LayerRemoved:
			default:
				m.violate("bad_request", path, fmt.Sprintf("unknown layer state %q", want))
				continue
			}
			if !wearing {
				m.violate("unknown_ref", path, "no outfit worn")
				continue
			}
			var layerDef *types.OutfitLayer
			for i := range outfit.Layers {
				if outfit.Layers[i].ID == layer {
					layerDef = &outfit.Layers[i]
					break
				}
			}
			if layerDef == nil {
				m.violate("unknown_ref", path, "layer not part of worn outfit")
				continue
			}
			if layerDef.Gate != "" && !m.ctx.Gates[entity][layerDef.Gate] {
				m.refuse(path, fmt.Sprintf("gate %q is closed", layerDef.Gate))
				continue
			}
			m.res.Effects = append(m.res.Effects, types.Effect{
				Kind: types.EffectClothingSet, Target: entity, Layer: layer, State: st,
			})
		}
	}
}

func (m *merger) modifiers(reqs []ModifierRequest, kind types.EffectKind) {
	for _, req := range reqs {
		path := "modifiers." + req.ID
		if _, ok := m.defs.Modifiers[req.ID]; !ok {
			m.violate("unknown_ref", path, "undeclared modifier")
			continue
		}
		eff := types.Effect{Kind: kind, Target: normEntity(req.Entity), Modifier: req.ID}
		if kind == types.EffectApplyModifier && req.DurationMinutes != nil {
			d := *req.DurationMinutes
			if d <= 0 {
				m.violate("bad_request", path, "duration must be positive")
				continue
			}
			eff.DurationMinutes = &d
		}
		m.res.Effects = append(m.res.Effects, eff)
	}
}

func (m *merger) gotoNode(node string) {
	if node == "" {
		return
	}
	if _, ok := m.defs.Nodes[node]; !ok {
		m.violate("unknown_ref", "goto."+node, "undeclared node")
		return
	}
	m.res.Effects = append(m.res.Effects, types.Effect{Kind: types.EffectGotoNode, Node: node})
}
