package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

func TestRunner_Scenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			data, err := os.ReadFile(file)
			require.NoError(t, err)

			scenario, err := ParseScenario(data)
			require.NoError(t, err)

			result, err := NewRunner(nil).Run(scenario)
			require.NoError(t, err)
			require.True(t, result.Passed(), "mismatches: %v", result.Mismatches)
			require.Equal(t, len(scenario.Events), result.Events)
		})
	}
}

func TestRunner_ReportsMismatches(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
initial:
  lifecycle: joined
  published: [s1]
events:
  - {type: mount, session: s1}
  - {type: geometry, session: s1, width: 320, height: 240}
expect:
  - {session: s1, dimension: 640x480}
  - {session: s2, dimension: none}
`))
	require.NoError(t, err)

	result, err := NewRunner(nil).Run(scenario)
	require.NoError(t, err)
	require.False(t, result.Passed())
	require.Len(t, result.Mismatches, 2)
	require.Len(t, result.Requests, 1)
	require.Equal(t, 2, result.Requests[0].Step)
}

func TestRunner_Idempotent(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
initial:
  lifecycle: joined
  published: [s1]
events:
  - {type: mount, session: s1}
  - {type: geometry, session: s1, width: 320, height: 240}
  - {type: geometry, session: s1, width: 320.9, height: 240.9}
  - {type: visibility, session: s1, visible: true}
  - {type: publish, session: s1, published: true}
  - {type: lifecycle, state: joined}
  - {type: mount, session: s1}
`))
	require.NoError(t, err)

	result, err := NewRunner(nil).Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Requests, 1)
	require.Equal(t, types.Dimension{Width: 320, Height: 240}, *result.Requests[0].Dimension)
}

func TestRunner_IgnoresEventsAfterUnmount(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
initial:
  lifecycle: joined
  published: [s1]
events:
  - {type: mount, session: s1}
  - {type: geometry, session: s1, width: 320, height: 240}
  - {type: unmount, session: s1}
  - {type: geometry, session: s1, width: 640, height: 480}
  - {type: visibility, session: s1, visible: false}
  - {type: publish, session: s1, published: false}
  - {type: unmount, session: s1}
expect:
  - {session: s1, dimension: 320x240}
  - {session: s1, dimension: none}
`))
	require.NoError(t, err)

	result, err := NewRunner(nil).Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Passed(), "mismatches: %v", result.Mismatches)
}

func TestParseScenario_Errors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown field":       "events:\n  - {type: mount, session: s1, color: red}",
		"unknown event":       "events:\n  - {type: resize, session: s1}",
		"missing session":     "events:\n  - {type: mount}",
		"bad kind":            "events:\n  - {type: mount, session: s1, kind: audio}",
		"bad lifecycle":       "events:\n  - {type: lifecycle, state: dancing}",
		"missing visible":     "events:\n  - {type: visibility, session: s1}",
		"missing published":   "events:\n  - {type: publish, session: s1}",
		"negative size":       "events:\n  - {type: geometry, session: s1, width: -1, height: 10}",
		"bad initial state":   "initial:\n  lifecycle: sideways",
		"bad expected size":   "expect:\n  - {session: s1, dimension: big}",
		"bad initial publish": "initial:\n  published: [s1/audio]",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestParseDimension(t *testing.T) {
	dim, err := ParseDimension("320x240")
	require.NoError(t, err)
	require.Equal(t, &types.Dimension{Width: 320, Height: 240}, dim)

	dim, err = ParseDimension("none")
	require.NoError(t, err)
	require.Nil(t, dim)

	for _, bad := range []string{"320", "x240", "320x", "-1x10", "axb"} {
		_, err = ParseDimension(bad)
		require.Error(t, err, bad)
	}
}
