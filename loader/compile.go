// Package loader loads Lua game content into Go structs at load time.
// Condition strings compile to expression ASTs here; the Lua VM is
// discarded after loading — zero Lua at runtime.
package loader

import (
	"fmt"

	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/expr"
	"github.com/nathoo/turnweave/types"
	lua "github.com/yuin/gopher-lua"
)

// getString returns a string field from a Lua table, or "" if missing.
func getString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// getBool returns a bool field from a Lua table, or the default if missing.
func getBool(tbl *lua.LTable, key string, def bool) bool {
	if b, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return def
}

// getNumber returns a numeric field from a Lua table, or def if missing.
func getNumber(tbl *lua.LTable, key string, def float64) float64 {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return def
}

func getInt(tbl *lua.LTable, key string) int {
	return int(getNumber(tbl, key, 0))
}

// getTable returns a table field from a Lua table, or nil if missing.
func getTable(tbl *lua.LTable, key string) *lua.LTable {
	if t, ok := tbl.RawGetString(key).(*lua.LTable); ok {
		return t
	}
	return nil
}

// getIntPtr distinguishes a missing integer field from zero.
func getIntPtr(tbl *lua.LTable, key string) *int {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		i := int(n)
		return &i
	}
	return nil
}

// getNumberPtr distinguishes a missing numeric field from zero.
func getNumberPtr(tbl *lua.LTable, key string) *float64 {
	if n, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		f := float64(n)
		return &f
	}
	return nil
}

// getExpr compiles a condition string field, "" meaning absent.
func getExpr(tbl *lua.LTable, key, where string) (*expr.Expr, error) {
	src := getString(tbl, key)
	if src == "" {
		return nil, nil
	}
	e, err := expr.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", where, key, err)
	}
	return e, nil
}

// getStringList reads an array field of strings.
func getStringList(tbl *lua.LTable, key string) []string {
	arr := getTable(tbl, key)
	if arr == nil {
		return nil
	}
	var out []string
	for i := 1; i <= arr.MaxN(); i++ {
		if s, ok := arr.RawGetInt(i).(lua.LString); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// toGoValue converts a scalar Lua value for flag defaults and values.
func toGoValue(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	default:
		return nil
	}
}

func compile(coll *collector) (*state.Defs, error) {
	defs := &state.Defs{
		Meters:     map[string]types.MeterDef{},
		Flags:      map[string]types.FlagDef{},
		Modifiers:  map[string]types.ModifierDef{},
		Items:      map[string]types.ItemDef{},
		Outfits:    map[string]types.OutfitDef{},
		Characters: map[string]types.CharacterDef{},
		Gates:      map[string]types.GateDef{},
		Locations:  map[string]types.LocationDef{},
		Nodes:      map[string]types.NodeDef{},
		Pools:      map[string]types.PoolDef{},
	}

	if coll.game == nil {
		return nil, fmt.Errorf("no Game {} declaration found")
	}
	defs.Game = compileGame(coll.game)

	for _, r := range coll.meters {
		defs.Meters[r.id] = compileMeter(r)
	}
	for _, r := range coll.flags {
		defs.Flags[r.id] = compileFlag(r)
	}
	for _, r := range coll.modifiers {
		m, err := compileModifier(r)
		if err != nil {
			return nil, err
		}
		defs.Modifiers[r.id] = m
	}
	for _, r := range coll.items {
		defs.Items[r.id] = types.ItemDef{
			ID:   r.id,
			Name: getString(r.table, "name"),
			Slot: getString(r.table, "slot"),
		}
	}
	for _, r := range coll.outfits {
		defs.Outfits[r.id] = compileOutfit(r)
	}
	for _, r := range coll.characters {
		c, err := compileCharacter(r)
		if err != nil {
			return nil, err
		}
		defs.Characters[r.id] = c
	}
	for _, r := range coll.gates {
		when, err := getExpr(r.table, "when", "gate "+r.id)
		if err != nil {
			return nil, err
		}
		defs.Gates[r.id] = types.GateDef{
			ID:         r.id,
			MinPrivacy: getInt(r.table, "min_privacy"),
			When:       when,
		}
	}
	for _, r := range coll.locations {
		defs.Locations[r.id] = types.LocationDef{
			ID:      r.id,
			Zone:    getString(r.table, "zone"),
			Name:    getString(r.table, "name"),
			Privacy: getInt(r.table, "privacy"),
		}
	}
	for _, r := range coll.nodes {
		n, err := compileNode(r)
		if err != nil {
			return nil, err
		}
		defs.Nodes[r.id] = n
	}
	// Events and arcs keep declaration order: it drives tie-breaking
	// and exclusivity resolution.
	for _, r := range coll.events {
		ev, err := compileEvent(r)
		if err != nil {
			return nil, err
		}
		defs.Events = append(defs.Events, ev)
	}
	for _, r := range coll.pools {
		defs.Pools[r.id] = types.PoolDef{
			ID:            r.id,
			ChancePerTurn: getNumber(r.table, "chance_per_turn", 0),
		}
	}
	for _, r := range coll.arcs {
		arc, err := compileArc(r)
		if err != nil {
			return nil, err
		}
		defs.Arcs = append(defs.Arcs, arc)
	}

	return defs, nil
}

func compileGame(tbl *lua.LTable) types.GameDef {
	g := types.GameDef{
		ID:            getString(tbl, "id"),
		Title:         getString(tbl, "title"),
		Author:        getString(tbl, "author"),
		Version:       getString(tbl, "version"),
		Intro:         getString(tbl, "intro"),
		StartNode:     getString(tbl, "start_node"),
		StartZone:     getString(tbl, "start_zone"),
		StartLocation: getString(tbl, "start_location"),
	}
	if slots := getTable(tbl, "slots"); slots != nil {
		for i := 1; i <= slots.MaxN(); i++ {
			if st, ok := slots.RawGetInt(i).(*lua.LTable); ok {
				g.Slots = append(g.Slots, types.SlotDef{
					ID:      getString(st, "id"),
					Minutes: getInt(st, "minutes"),
				})
			}
		}
	}
	return g
}

func compileMeter(r rawDef) types.MeterDef {
	m := types.MeterDef{
		ID:              r.id,
		Min:             getNumber(r.table, "min", 0),
		Max:             getNumber(r.table, "max", 100),
		Default:         getNumber(r.table, "default", 0),
		DeltaCapPerTurn: getNumber(r.table, "delta_cap_per_turn", 0),
	}
	if ths := getTable(r.table, "thresholds"); ths != nil {
		for i := 1; i <= ths.MaxN(); i++ {
			if tt, ok := ths.RawGetInt(i).(*lua.LTable); ok {
				m.Thresholds = append(m.Thresholds, types.ThresholdDef{
					Label: getString(tt, "label"),
					Min:   getNumber(tt, "min", 0),
					Max:   getNumber(tt, "max", 0),
				})
			}
		}
	}
	return m
}

func compileFlag(r rawDef) types.FlagDef {
	ft := types.FlagType(getString(r.table, "type"))
	if ft == "" {
		ft = types.FlagBool
	}
	f := types.FlagDef{ID: r.id, Type: ft, Default: toGoValue(r.table.RawGetString("default"))}
	if f.Default == nil {
		switch ft {
		case types.FlagBool:
			f.Default = false
		case types.FlagNumber:
			f.Default = float64(0)
		case types.FlagString:
			f.Default = ""
		}
	}
	return f
}

func compileModifier(r rawDef) (types.ModifierDef, error) {
	where := "modifier " + r.id
	when, err := getExpr(r.table, "when", where)
	if err != nil {
		return types.ModifierDef{}, err
	}
	entry, err := compileEffectList(getTable(r.table, "entry_effects"), where)
	if err != nil {
		return types.ModifierDef{}, err
	}
	exit, err := compileEffectList(getTable(r.table, "exit_effects"), where)
	if err != nil {
		return types.ModifierDef{}, err
	}
	stacking := types.Stacking(getString(r.table, "stacking"))
	if stacking == "" {
		stacking = types.StackHighest
	}
	return types.ModifierDef{
		ID:              r.id,
		When:            when,
		DurationMinutes: getIntPtr(r.table, "duration_minutes"),
		ExclusiveGroup:  getString(r.table, "exclusive_group"),
		StackGroup:      getString(r.table, "stack_group"),
		Stacking:        stacking,
		Priority:        getInt(r.table, "priority"),
		Value:           getNumber(r.table, "value", 0),
		DisallowGates:   getStringList(r.table, "disallow_gates"),
		EntryEffects:    entry,
		ExitEffects:     exit,
	}, nil
}

func compileOutfit(r rawDef) types.OutfitDef {
	o := types.OutfitDef{ID: r.id, Name: getString(r.table, "name")}
	if layers := getTable(r.table, "layers"); layers != nil {
		for i := 1; i <= layers.MaxN(); i++ {
			if lt, ok := layers.RawGetInt(i).(*lua.LTable); ok {
				o.Layers = append(o.Layers, types.OutfitLayer{
					ID:   getString(lt, "id"),
					Item: getString(lt, "item"),
					Gate: getString(lt, "gate"),
				})
			}
		}
	}
	return o
}

func compileCharacter(r rawDef) (types.CharacterDef, error) {
	c := types.CharacterDef{
		ID:            r.id,
		Name:          getString(r.table, "name"),
		StartLocation: getString(r.table, "start_location"),
		Outfit:        getString(r.table, "outfit"),
	}
	if meters := getTable(r.table, "meters"); meters != nil {
		c.Meters = map[string]float64{}
		meters.ForEach(func(k, v lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				if vn, ok := v.(lua.LNumber); ok {
					c.Meters[string(ks)] = float64(vn)
				}
			}
		})
	}
	if gates := getTable(r.table, "gates"); gates != nil {
		c.Gates = map[string]*expr.Expr{}
		var gerr error
		gates.ForEach(func(k, v lua.LValue) {
			ks, ok := k.(lua.LString)
			if !ok || gerr != nil {
				return
			}
			vs, ok := v.(lua.LString)
			if !ok {
				gerr = fmt.Errorf("character %s gate %s: override must be a condition string", r.id, ks)
				return
			}
			e, err := expr.Parse(string(vs))
			if err != nil {
				gerr = fmt.Errorf("character %s gate %s: %w", r.id, ks, err)
				return
			}
			c.Gates[string(ks)] = e
		})
		if gerr != nil {
			return types.CharacterDef{}, gerr
		}
	}
	return c, nil
}

func compileNode(r rawDef) (types.NodeDef, error) {
	where := "node " + r.id
	onEnter, err := compileEffectList(getTable(r.table, "on_enter"), where)
	if err != nil {
		return types.NodeDef{}, err
	}
	n := types.NodeDef{
		ID:      r.id,
		Title:   getString(r.table, "title"),
		Body:    getString(r.table, "body"),
		OnEnter: onEnter,
	}
	if choices := getTable(r.table, "choices"); choices != nil {
		for i := 1; i <= choices.MaxN(); i++ {
			ct, ok := choices.RawGetInt(i).(*lua.LTable)
			if !ok {
				continue
			}
			cid := getString(ct, "id")
			cwhere := fmt.Sprintf("%s choice %s", where, cid)
			when, err := getExpr(ct, "when", cwhere)
			if err != nil {
				return types.NodeDef{}, err
			}
			effs, err := compileEffectList(getTable(ct, "effects"), cwhere)
			if err != nil {
				return types.NodeDef{}, err
			}
			n.Choices = append(n.Choices, types.ChoiceDef{
				ID:      cid,
				Label:   getString(ct, "label"),
				When:    when,
				Effects: effs,
				// "goto" is a Lua keyword, so content uses "to".
				Goto: getString(ct, "to"),
			})
		}
	}
	return n, nil
}

func compileEvent(r rawDef) (types.EventDef, error) {
	where := "event " + r.id
	when, err := getExpr(r.table, "when", where)
	if err != nil {
		return types.EventDef{}, err
	}
	effs, err := compileEffectList(getTable(r.table, "effects"), where)
	if err != nil {
		return types.EventDef{}, err
	}
	kind := types.EventKind(getString(r.table, "kind"))
	if kind == "" {
		if getString(r.table, "pool") != "" {
			kind = types.EventPool
		} else if when != nil {
			kind = types.EventConditional
		} else {
			kind = types.EventScheduled
		}
	}
	ev := types.EventDef{
		ID:            r.id,
		Kind:          kind,
		Zone:          getString(r.table, "zone"),
		Location:      getString(r.table, "location"),
		When:          when,
		Pool:          getString(r.table, "pool"),
		Weight:        getInt(r.table, "weight"),
		CooldownTurns: getInt(r.table, "cooldown_turns"),
		MaxFires:      getInt(r.table, "max_fires"),
		Once:          getBool(r.table, "once", false),
		Interrupt:     getBool(r.table, "interrupt", false),
		Priority:      getInt(r.table, "priority"),
		Effects:       effs,
		Narrative:     getString(r.table, "narrative"),
		Goto:          getString(r.table, "to"),
	}
	if w := getTable(r.table, "window"); w != nil {
		ev.Window = types.TimeWindow{
			Slots:   getStringList(w, "slots"),
			FromDay: getInt(w, "from_day"),
			ToDay:   getInt(w, "to_day"),
		}
	}
	return ev, nil
}

func compileArc(r rawDef) (types.ArcDef, error) {
	where := "arc " + r.id
	evaluation := types.ArcEvaluation(getString(r.table, "evaluation"))
	if evaluation == "" {
		evaluation = types.ArcHighest
	}
	arc := types.ArcDef{
		ID:            r.id,
		Evaluation:    evaluation,
		Entity:        getString(r.table, "entity"),
		Meter:         getString(r.table, "meter"),
		ExclusiveWith: getStringList(r.table, "exclusive_with"),
	}
	stages := getTable(r.table, "stages")
	if stages == nil {
		return arc, fmt.Errorf("%s: at least one stage required", where)
	}
	for i := 1; i <= stages.MaxN(); i++ {
		st, ok := stages.RawGetInt(i).(*lua.LTable)
		if !ok {
			continue
		}
		sid := getString(st, "id")
		swhere := fmt.Sprintf("%s stage %s", where, sid)
		when, err := getExpr(st, "when", swhere)
		if err != nil {
			return arc, err
		}
		enterWhen, err := getExpr(st, "enter_when", swhere)
		if err != nil {
			return arc, err
		}
		exitWhen, err := getExpr(st, "exit_when", swhere)
		if err != nil {
			return arc, err
		}
		entry, err := compileEffectList(getTable(st, "entry_effects"), swhere)
		if err != nil {
			return arc, err
		}
		exit, err := compileEffectList(getTable(st, "exit_effects"), swhere)
		if err != nil {
			return arc, err
		}
		arc.Stages = append(arc.Stages, types.StageDef{
			ID:            sid,
			When:          when,
			EnterWhen:     enterWhen,
			ExitWhen:      exitWhen,
			Enter:         getNumberPtr(st, "enter"),
			Exit:          getNumberPtr(st, "exit"),
			DebounceTurns: getInt(st, "debounce_turns"),
			EntryEffects:  entry,
			ExitEffects:   exit,
		})
	}
	return arc, nil
}

// compileEffectList compiles an array of effect tables.
func compileEffectList(tbl *lua.LTable, where string) ([]types.Effect, error) {
	if tbl == nil {
		return nil, nil
	}
	var out []types.Effect
	for i := 1; i <= tbl.MaxN(); i++ {
		et, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("%s: effect %d is not a table", where, i)
		}
		eff, err := compileEffect(et, where)
		if err != nil {
			return nil, err
		}
		out = append(out, eff)
	}
	return out, nil
}

// compileEffect compiles one effect table, recursing into conditional
// and random variants.
func compileEffect(tbl *lua.LTable, where string) (types.Effect, error) {
	kind := types.EffectKind(getString(tbl, "kind"))
	guard, err := getExpr(tbl, "guard", where)
	if err != nil {
		return types.Effect{}, err
	}
	e := types.Effect{
		Kind:   kind,
		Guard:  guard,
		Target: getString(tbl, "target"),
	}

	switch kind {
	case types.EffectMeterChange:
		e.Meter = getString(tbl, "meter")
		e.Op = types.NumericOp(getString(tbl, "op"))
		e.Value = getNumber(tbl, "value", 0)
	case types.EffectFlagSet:
		e.Flag = getString(tbl, "flag")
		e.FlagValue = toGoValue(tbl.RawGetString("value"))
	case types.EffectInventoryAdd, types.EffectInventoryRemove:
		e.Item = getString(tbl, "item")
		e.Count = getInt(tbl, "count")
	case types.EffectApplyModifier, types.EffectRemoveModifier:
		e.Modifier = getString(tbl, "modifier")
		e.DurationMinutes = getIntPtr(tbl, "duration_minutes")
	case types.EffectOutfitChange:
		e.Outfit = getString(tbl, "outfit")
	case types.EffectClothingSet:
		e.Layer = getString(tbl, "layer")
		e.State = types.LayerState(getString(tbl, "state"))
	case types.EffectEquip:
		e.Item = getString(tbl, "item")
	case types.EffectUnequip:
		e.Slot = getString(tbl, "slot")
	case types.EffectMoveTo:
		e.Zone = getString(tbl, "zone")
		e.Location = getString(tbl, "location")
	case types.EffectAdvanceTime:
		e.Minutes = getInt(tbl, "minutes")
	case types.EffectGotoNode:
		e.Node = getString(tbl, "node")
	case types.EffectConditional:
		e.When, err = getExpr(tbl, "when", where)
		if err != nil {
			return types.Effect{}, err
		}
		e.Then, err = compileEffectList(getTable(tbl, "then_effects"), where)
		if err != nil {
			return types.Effect{}, err
		}
		e.Else, err = compileEffectList(getTable(tbl, "else_effects"), where)
		if err != nil {
			return types.Effect{}, err
		}
	case types.EffectRandom:
		branches := getTable(tbl, "branches")
		if branches == nil {
			return types.Effect{}, fmt.Errorf("%s: random effect needs branches", where)
		}
		for i := 1; i <= branches.MaxN(); i++ {
			bt, ok := branches.RawGetInt(i).(*lua.LTable)
			if !ok {
				continue
			}
			beffs, err := compileEffectList(getTable(bt, "effects"), where)
			if err != nil {
				return types.Effect{}, err
			}
			e.Branches = append(e.Branches, types.RandomBranch{
				Weight:  int(getNumber(bt, "weight", 1)),
				Effects: beffs,
			})
		}
	case types.EffectUnlock:
		e.UnlockKind = getString(tbl, "unlock_kind")
		e.UnlockID = getString(tbl, "unlock_id")
	default:
		return types.Effect{}, fmt.Errorf("%s: unknown effect kind %q", where, kind)
	}
	return e, nil
}
