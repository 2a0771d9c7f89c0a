package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/porch-knock.yaml")
	require.NoError(t, err)

	assert.Equal(t, "porch-knock", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "..", "game"), s.Game)
	require.Len(t, s.Turns, 2)
	assert.Equal(t, "knock", s.Turns[0].Choice)
	require.NotNil(t, s.Turns[0].Expect)
	assert.Equal(t, "doorway", s.Turns[0].Expect.Node)
	assert.Equal(t, "none", s.Turns[0].Expect.Event)
	require.Len(t, s.Assertions, 3)
	assert.Equal(t, AssertMeter, s.Assertions[0].Type)
	require.NotNil(t, s.Assertions[0].Equals)
	assert.Equal(t, 40.0, *s.Assertions[0].Equals)
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: has a typo
game: ../game
turnz:
  - choice: knock
`)
	_, err := LoadScenario(path)
	assert.Error(t, err, "unknown fields must be rejected")
}

func TestLoadScenario_MissingTurns(t *testing.T) {
	path := writeScenario(t, `
name: empty
description: no turns
game: ../game
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turns")
}

func TestLoadScenario_BadAssertion(t *testing.T) {
	path := writeScenario(t, `
name: bad-assert
description: assertion without a meter bound
game: ../game
turns:
  - choice: knock
assertions:
  - type: meter
    meter: calm
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "equals/min/max")
}

func TestLoadScenario_MissingGameDir(t *testing.T) {
	path := writeScenario(t, `
name: ghost
description: game dir does not exist
game: ../no_such_game
turns:
  - choice: knock
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

// writeScenario drops a scenario file next to the real ones so relative
// game paths resolve the same way.
func writeScenario(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join("testdata", "scenarios")
	f, err := os.CreateTemp(dir, "tmp-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(f.Name()) })
	_, err = f.WriteString(src)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
