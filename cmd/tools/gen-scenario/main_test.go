package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/localiser/internal/replay"
)

func TestGenerate(t *testing.T) {
	cfg := replay.DefaultScenarioConfig()
	cfg.Steps = 25

	dataPath, mapPath, err := generate(t.TempDir(), cfg)
	require.NoError(t, err)

	records, err := replay.LoadLog(dataPath)
	require.NoError(t, err)
	assert.Len(t, records, 26)

	beacons, err := replay.LoadBeaconMap(mapPath)
	require.NoError(t, err)
	assert.NotEmpty(t, beacons)

	cfg.Kind = "spiral"
	_, _, err = generate(t.TempDir(), cfg)
	assert.Error(t, err)
}
