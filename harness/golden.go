package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/nathoo/turnweave/types"
)

// Transcript is the canonical per-run record compared against golden
// files. It is a pure function of the scenario script and the derived
// RNG seed, so any diff is a determinism regression.
type Transcript struct {
	Scenario    string               `json:"scenario"`
	GameID      string               `json:"game_id"`
	RunID       string               `json:"run_id"`
	Turns       []*types.TurnOutcome `json:"turns"`
	RNGPosition int64                `json:"rng_position"`
}

// RunWithGolden executes a scenario and compares its transcript against
// testdata/golden/{name}.golden. Regenerate with go test -update.
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	res, err := Run(s)
	if err != nil {
		t.Fatalf("scenario %s: %v", s.Name, err)
	}
	if err := res.CheckAll(); err != nil {
		t.Fatalf("scenario %s assertions: %v", s.Name, err)
	}

	tr := Transcript{
		Scenario:    s.Name,
		GameID:      res.Engine.State.GameID,
		RunID:       res.Engine.State.RunID,
		Turns:       res.Outcomes,
		RNGPosition: res.Engine.State.RNGPosition,
	}
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		t.Fatalf("marshaling transcript: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)
	return res
}
