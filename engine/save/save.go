// Package save implements JSON serialization and deserialization of
// run state. A save is a wholesale WorldState snapshot, including the
// RNG seed and stream position, so a restored run continues on exactly
// the draw it would have made anyway.
package save

import (
	"encoding/json"
	"fmt"

	"github.com/nathoo/turnweave/engine/state"
	"github.com/nathoo/turnweave/types"
)

// FormatVersion guards against loading saves from an incompatible
// snapshot layout.
const FormatVersion = 1

// SaveData is the JSON-serializable save format.
type SaveData struct {
	Format      int               `json:"format"`
	Game        string            `json:"game"`
	GameVersion string            `json:"game_version"`
	State       *types.WorldState `json:"state"`
}

// Save serializes run state to JSON bytes.
func Save(s *types.WorldState, defs *state.Defs) ([]byte, error) {
	data := SaveData{
		Format:      FormatVersion,
		Game:        defs.Game.ID,
		GameVersion: defs.Game.Version,
		State:       s,
	}
	return json.MarshalIndent(data, "", "  ")
}

// Load deserializes JSON bytes into a WorldState.
func Load(data []byte) (*types.WorldState, error) {
	var sd SaveData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, err
	}
	if sd.Format != FormatVersion {
		return nil, fmt.Errorf("save format %d, want %d", sd.Format, FormatVersion)
	}
	if sd.State == nil {
		return nil, fmt.Errorf("save carries no state")
	}
	normalize(sd.State)
	return sd.State, nil
}

// normalize ensures maps are never nil after load.
func normalize(s *types.WorldState) {
	if s.Meters == nil {
		s.Meters = map[string]map[string]float64{}
	}
	if s.Flags == nil {
		s.Flags = map[string]any{}
	}
	if s.Modifiers == nil {
		s.Modifiers = map[string][]types.ActiveModifier{}
	}
	if s.Inventory == nil {
		s.Inventory = map[string]map[string]int{}
	}
	if s.Equipment == nil {
		s.Equipment = map[string]map[string]string{}
	}
	if s.Clothing == nil {
		s.Clothing = map[string]map[string]types.LayerState{}
	}
	if s.Outfits == nil {
		s.Outfits = map[string]string{}
	}
	if s.Presence == nil {
		s.Presence = map[string]string{}
	}
	if s.Arcs == nil {
		s.Arcs = map[string]types.ArcState{}
	}
	if s.EventCooldowns == nil {
		s.EventCooldowns = map[string]int{}
	}
	if s.EventFireCounts == nil {
		s.EventFireCounts = map[string]int{}
	}
	if s.Unlocked == nil {
		s.Unlocked = map[string]bool{}
	}
	if s.Memory == nil {
		s.Memory = []string{}
	}
}
