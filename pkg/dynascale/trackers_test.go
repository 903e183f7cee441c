package dynascale

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

func TestViewportTracker(t *testing.T) {
	v := NewViewportTracker()
	require.Equal(t, types.VisibilityVisible, v.Visibility(s1Video))

	var seen []types.Visibility
	stop := v.Observe(s1Video, func(visibility types.Visibility) {
		seen = append(seen, visibility)
	})
	require.Equal(t, []types.Visibility{types.VisibilityVisible}, seen)

	v.SetVisibility(s1Video, types.VisibilityInvisible)
	v.SetVisibility(s1Video, types.VisibilityInvisible)
	v.SetVisibility(s1Video, types.VisibilityVisible)
	require.Equal(t, []types.Visibility{
		types.VisibilityVisible,
		types.VisibilityInvisible,
		types.VisibilityVisible,
	}, seen)

	stop()
	v.SetVisibility(s1Video, types.VisibilityInvisible)
	require.Len(t, seen, 3)
	require.Equal(t, types.VisibilityInvisible, v.Visibility(s1Video))

	v.Forget(s1Video)
	require.Equal(t, types.VisibilityVisible, v.Visibility(s1Video))
}

func TestGeometryTracker(t *testing.T) {
	measured := map[types.TrackRef][2]float64{
		s1Video: {640.9, 480.1},
	}
	g := NewGeometryTracker(func(ref types.TrackRef) (float64, float64, bool) {
		size, ok := measured[ref]
		return size[0], size[1], ok
	})

	var seen []types.Dimension
	stop := g.Observe(s1Video, func(dim types.Dimension) {
		seen = append(seen, dim)
	})
	require.Empty(t, seen)

	require.True(t, g.Measure(s1Video, 320.4, 240.6))
	require.False(t, g.Measure(s1Video, 320.9, 240.0))
	require.Equal(t, []types.Dimension{d320}, seen)

	last, ok := g.Last(s1Video)
	require.True(t, ok)
	require.Equal(t, d320, last)

	g.Remeasure(s1Video)
	require.Equal(t, []types.Dimension{d320, d640}, seen)

	// not laid out, nothing reported
	g.Remeasure(s2Video)
	_, ok = g.Last(s2Video)
	require.False(t, ok)

	stop()
	g.Forget(s1Video)
	_, ok = g.Last(s1Video)
	require.False(t, ok)

	// a new observer gets the known size right away
	g.Measure(s1Video, 320, 240)
	var late []types.Dimension
	g.Observe(s1Video, func(dim types.Dimension) {
		late = append(late, dim)
	})
	require.Equal(t, []types.Dimension{d320}, late)
}

func TestGeometryTracker_NoMeasurer(t *testing.T) {
	g := NewGeometryTracker(nil)
	g.Remeasure(s1Video)
	_, ok := g.Last(s1Video)
	require.False(t, ok)
}
