package dynascale

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/dynascale/types/typesfakes"
)

var (
	s1Video = types.TrackRef{SessionID: "s1", Kind: types.TrackKindVideo}
	s2Video = types.TrackRef{SessionID: "s2", Kind: types.TrackKindVideo}
	s1Share = types.TrackRef{SessionID: "s1", Kind: types.TrackKindScreenShare}

	d320 = types.Dimension{Width: 320, Height: 240}
	d640 = types.Dimension{Width: 640, Height: 480}
)

func newTestReconciler(state types.LifecycleState, published bool) (*Reconciler, *typesfakes.FakeSessionAdapter) {
	adapter := &typesfakes.FakeSessionAdapter{}
	adapter.CurrentLifecycleStateReturns(state)
	adapter.IsPublishedReturns(published)
	return NewReconciler(ReconcilerParams{Adapter: adapter}), adapter
}

func requireRequest(t *testing.T, adapter *typesfakes.FakeSessionAdapter, i int, kind types.TrackKind, sessionID livekit.ParticipantID, dim *types.Dimension) {
	t.Helper()
	require.Greater(t, adapter.RequestSubscriptionCallCount(), i)
	gotKind, patch := adapter.RequestSubscriptionArgsForCall(i)
	require.Equal(t, kind, gotKind)
	require.Contains(t, patch, sessionID)
	require.True(t, types.EqualDimensions(dim, patch[sessionID]), "expected %s, got %s", types.FormatDimension(dim), types.FormatDimension(patch[sessionID]))
}

func TestReconciler_ExampleScenario(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleIdle, false)
	r.Mount(s1Video)

	r.OnLifecycleChanged(types.LifecycleJoined)
	r.OnPublishStateChanged(s1Video, true)
	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 0, adapter.RequestSubscriptionCallCount())

	r.OnGeometryMeasured(s1Video, d320)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 0, types.TrackKindVideo, "s1", &d320)

	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", nil)

	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 3, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 2, types.TrackKindVideo, "s1", &d320)
}

func TestReconciler_GeometryIdempotent(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)

	r.OnGeometryMeasured(s1Video, d320)
	r.OnGeometryMeasured(s1Video, d320)
	r.OnGeometryMeasured(s1Video, types.NewDimension(320.8, 240.2))
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())

	r.OnGeometryMeasured(s1Video, d640)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", &d640)

	intent, ok := r.Intent(s1Video)
	require.True(t, ok)
	require.Equal(t, d640, *intent.Committed)
	require.Nil(t, intent.Pending)
}

func TestReconciler_NoSubscriptionBeforeJoin(t *testing.T) {
	for _, state := range []types.LifecycleState{
		types.LifecycleIdle,
		types.LifecycleJoining,
		types.LifecycleReconnecting,
		types.LifecycleLeft,
	} {
		t.Run(string(state), func(t *testing.T) {
			r, adapter := newTestReconciler(state, true)
			r.Mount(s1Video)
			r.Mount(s1Share)

			r.OnGeometryMeasured(s1Video, d320)
			r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
			r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
			r.OnPublishStateChanged(s1Video, false)
			r.OnPublishStateChanged(s1Video, true)
			r.OnGeometryMeasured(s1Video, d640)
			r.OnGeometryMeasured(s1Share, d320)
			r.OnUnmount(s1Share)

			require.Equal(t, 0, adapter.RequestSubscriptionCallCount())
			intent, ok := r.Intent(s1Video)
			require.True(t, ok)
			require.Nil(t, intent.Committed)
			require.Equal(t, d640, *intent.Pending)
		})
	}
}

func TestReconciler_VisibilityRoundTrip(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())

	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", nil)

	intent, _ := r.Intent(s1Video)
	require.Nil(t, intent.Committed)
	require.Equal(t, d320, *intent.Pending)

	// repeated invisibility does nothing
	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())

	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 3, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 2, types.TrackKindVideo, "s1", &d320)

	intent, _ = r.Intent(s1Video)
	require.Equal(t, d320, *intent.Committed)
	require.Nil(t, intent.Pending)
}

func TestReconciler_InvisibleWithoutSubscription(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)

	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	require.Equal(t, 0, adapter.RequestSubscriptionCallCount())

	// measured while off-screen, remembered for later
	r.OnGeometryMeasured(s1Video, d320)
	require.Equal(t, 0, adapter.RequestSubscriptionCallCount())

	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 0, types.TrackKindVideo, "s1", &d320)
}

func TestReconciler_Rejoin(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())

	r.OnLifecycleChanged(types.LifecycleLeft)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
	intent, _ := r.Intent(s1Video)
	require.Nil(t, intent.Committed)
	require.Equal(t, d320, *intent.Pending)

	r.OnLifecycleChanged(types.LifecycleJoined)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", &d320)

	// duplicate delivery of the same lifecycle state is a no-op
	r.OnLifecycleChanged(types.LifecycleJoined)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
}

func TestReconciler_RejoinWhileInvisible(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)
	r.OnLifecycleChanged(types.LifecycleReconnecting)
	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)

	r.OnLifecycleChanged(types.LifecycleJoined)
	require.Equal(t, 1, adapter.RequestSubscriptionCallCount())

	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", &d320)
}

func TestReconciler_JoinBatchesPerKind(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoining, true)
	r.Mount(s1Video)
	r.Mount(s2Video)
	r.Mount(s1Share)
	r.OnGeometryMeasured(s1Video, d320)
	r.OnGeometryMeasured(s2Video, d640)
	r.OnGeometryMeasured(s1Share, d640)

	r.OnLifecycleChanged(types.LifecycleJoined)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())

	kind, patch := adapter.RequestSubscriptionArgsForCall(0)
	require.Equal(t, types.TrackKindVideo, kind)
	require.Len(t, patch, 2)
	require.Equal(t, d320, *patch["s1"])
	require.Equal(t, d640, *patch["s2"])

	kind, patch = adapter.RequestSubscriptionArgsForCall(1)
	require.Equal(t, types.TrackKindScreenShare, kind)
	require.Len(t, patch, 1)
	require.Equal(t, d640, *patch["s1"])
}

func TestReconciler_Unmount(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)

	r.OnUnmount(s1Video)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", nil)

	_, ok := r.Intent(s1Video)
	require.False(t, ok)
	require.Equal(t, 0, r.NumSurfaces())

	// everything after unmount is ignored
	r.OnGeometryMeasured(s1Video, d640)
	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	r.OnPublishStateChanged(s1Video, false)
	r.OnUnmount(s1Video)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())

	// a remount starts clean
	r.Mount(s1Video)
	intent, ok := r.Intent(s1Video)
	require.True(t, ok)
	require.Nil(t, intent.Committed)
	require.Nil(t, intent.Pending)
}

func TestReconciler_UnmountWithoutSubscription(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, false)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)

	r.OnUnmount(s1Video)
	require.Equal(t, 0, adapter.RequestSubscriptionCallCount())
}

func TestReconciler_PublishState(t *testing.T) {
	t.Run("unpublish is local only and republish resumes", func(t *testing.T) {
		r, adapter := newTestReconciler(types.LifecycleJoined, true)
		r.Mount(s1Video)
		r.OnGeometryMeasured(s1Video, d320)

		r.OnPublishStateChanged(s1Video, false)
		require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
		intent, _ := r.Intent(s1Video)
		require.Nil(t, intent.Committed)
		require.Equal(t, d320, *intent.Pending)

		// sizes measured while unpublished replace the remembered one
		r.OnGeometryMeasured(s1Video, d640)
		require.Equal(t, 1, adapter.RequestSubscriptionCallCount())

		r.OnPublishStateChanged(s1Video, true)
		require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
		requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", &d640)

		// repeated publish is idempotent
		r.OnPublishStateChanged(s1Video, true)
		require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	})

	t.Run("publish without known size asks for a measurement", func(t *testing.T) {
		adapter := &typesfakes.FakeSessionAdapter{}
		adapter.CurrentLifecycleStateReturns(types.LifecycleJoined)

		var r *Reconciler
		var remeasured []types.TrackRef
		r = NewReconciler(ReconcilerParams{
			Adapter: adapter,
			Remeasure: func(ref types.TrackRef) {
				remeasured = append(remeasured, ref)
				r.OnGeometryMeasured(ref, d320)
			},
		})
		r.Mount(s1Video)

		r.OnPublishStateChanged(s1Video, true)
		require.Equal(t, []types.TrackRef{s1Video}, remeasured)
		require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
		requireRequest(t, adapter, 0, types.TrackKindVideo, "s1", &d320)
	})

	t.Run("publish while invisible waits", func(t *testing.T) {
		r, adapter := newTestReconciler(types.LifecycleJoined, false)
		r.Mount(s1Video)
		r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
		r.OnGeometryMeasured(s1Video, d320)

		r.OnPublishStateChanged(s1Video, true)
		require.Equal(t, 0, adapter.RequestSubscriptionCallCount())

		r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
		require.Equal(t, 1, adapter.RequestSubscriptionCallCount())
	})
}

func TestReconciler_ZeroGeometry(t *testing.T) {
	r, adapter := newTestReconciler(types.LifecycleJoined, true)
	r.Mount(s1Video)
	r.OnGeometryMeasured(s1Video, d320)

	r.OnGeometryMeasured(s1Video, types.NewDimension(0, 240))
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())
	requireRequest(t, adapter, 1, types.TrackKindVideo, "s1", nil)

	intent, _ := r.Intent(s1Video)
	require.Nil(t, intent.Committed)
	require.Nil(t, intent.Pending)

	// a zero size never becomes a pending target
	r.OnVisibilityChanged(s1Video, types.VisibilityInvisible)
	r.OnVisibilityChanged(s1Video, types.VisibilityVisible)
	require.Equal(t, 2, adapter.RequestSubscriptionCallCount())

	r.OnGeometryMeasured(s1Video, d320)
	require.Equal(t, 3, adapter.RequestSubscriptionCallCount())
}

func TestIntentStore(t *testing.T) {
	s := NewIntentStore()
	require.Equal(t, types.Intent{}, s.Get(s1Video))
	require.False(t, s.Has(s1Video))

	dim := d320
	s.SetPending(s1Video, &dim)
	// stored values are copies
	dim.Width = 1
	require.Equal(t, d320, *s.Get(s1Video).Pending)

	s.SetCommitted(s1Video, &d640)
	s.SetPending(s1Video, nil)
	require.Equal(t, d640, *s.Get(s1Video).Committed)
	require.Nil(t, s.Get(s1Video).Pending)
	require.Equal(t, 1, s.Len())

	s.Delete(s1Video)
	require.False(t, s.Has(s1Video))
}
