package loader

import (
	lua "github.com/yuin/gopher-lua"
)

// registerAPI registers the Lua constructors as globals. All except
// Game use the curried form: Meter "id" { ... }.
func registerAPI(L *lua.LState, coll *collector) {
	// Game { id = "...", title = "...", ... }
	L.SetGlobal("Game", L.NewFunction(func(L *lua.LState) int {
		coll.game = L.CheckTable(1)
		return 0
	}))

	curried := map[string]*[]rawDef{
		"Meter":     &coll.meters,
		"Flag":      &coll.flags,
		"Modifier":  &coll.modifiers,
		"Item":      &coll.items,
		"Outfit":    &coll.outfits,
		"Character": &coll.characters,
		"Gate":      &coll.gates,
		"Location":  &coll.locations,
		"Node":      &coll.nodes,
		"Event":     &coll.events,
		"Pool":      &coll.pools,
		"Arc":       &coll.arcs,
	}
	for name, sink := range curried {
		sink := sink
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			id := L.CheckString(1)
			L.Push(L.NewFunction(func(L *lua.LState) int {
				tbl := L.CheckTable(1)
				*sink = append(*sink, rawDef{id: id, table: tbl})
				return 0
			}))
			return 1
		}))
	}
}
