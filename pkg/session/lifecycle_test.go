package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

func TestLifecycle(t *testing.T) {
	l := NewLifecycle(types.LifecycleIdle)
	require.Equal(t, types.LifecycleIdle, l.State())

	var seen []types.LifecycleState
	stop := l.OnChanged(func(state types.LifecycleState) {
		seen = append(seen, state)
	})
	require.Equal(t, []types.LifecycleState{types.LifecycleIdle}, seen)

	require.True(t, l.Set(types.LifecycleJoining))
	require.True(t, l.Set(types.LifecycleJoined))
	require.False(t, l.Set(types.LifecycleJoined))
	require.Equal(t, []types.LifecycleState{
		types.LifecycleIdle,
		types.LifecycleJoining,
		types.LifecycleJoined,
	}, seen)

	stop()
	require.True(t, l.Set(types.LifecycleLeft))
	require.Len(t, seen, 3)
	require.Equal(t, types.LifecycleLeft, l.State())
}
