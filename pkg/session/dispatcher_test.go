package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

type testSignaller struct {
	lock     sync.Mutex
	requests []*livekit.UpdateTrackSettings
	err      error
}

func (s *testSignaller) SendRequest(req *livekit.SignalRequest) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, req.GetTrackSetting())
	return nil
}

func (s *testSignaller) setError(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.err = err
}

func (s *testSignaller) sent() []*livekit.UpdateTrackSettings {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]*livekit.UpdateTrackSettings(nil), s.requests...)
}

type testResolver struct {
	lock   sync.Mutex
	tracks map[types.TrackRef]livekit.TrackID
}

func (r *testResolver) TrackID(ref types.TrackRef) (livekit.TrackID, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	trackID, ok := r.tracks[ref]
	return trackID, ok
}

func (r *testResolver) set(ref types.TrackRef, trackID livekit.TrackID) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.tracks[ref] = trackID
}

var (
	p1Video = types.TrackRef{SessionID: "p1", Kind: types.TrackKindVideo}
	p2Video = types.TrackRef{SessionID: "p2", Kind: types.TrackKindVideo}
	p3Video = types.TrackRef{SessionID: "p3", Kind: types.TrackKindVideo}
	p1Share = types.TrackRef{SessionID: "p1", Kind: types.TrackKindScreenShare}

	dim320 = &types.Dimension{Width: 320, Height: 240}
	dim640 = &types.Dimension{Width: 640, Height: 480}
)

var noDebounce = DebounceConfig{
	Immediate: time.Hour,
	Fast:      time.Hour,
	Medium:    time.Hour,
	Slow:      time.Hour,
}

func newTestDispatcher(t *testing.T, debounce DebounceConfig) (*Dispatcher, *testSignaller, *testResolver) {
	signaller := &testSignaller{}
	resolver := &testResolver{
		tracks: map[types.TrackRef]livekit.TrackID{
			p1Video: "TR_p1v",
			p2Video: "TR_p2v",
			p1Share: "TR_p1s",
		},
	}
	d := NewDispatcher(DispatcherParams{
		Debounce:  debounce,
		Resolver:  resolver,
		Signaller: signaller,
	})
	t.Cleanup(d.Stop)
	return d, signaller, resolver
}

func TestDispatcher_GroupsAndDedupes(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320, "p2": dim320})
	d.Dispatch(types.TrackKindScreenShare, types.SubscriptionPatch{"p1": dim640})
	d.Flush()

	sent := signaller.sent()
	require.Len(t, sent, 2)
	require.Equal(t, []string{"TR_p1v", "TR_p2v"}, sent[0].TrackSids)
	require.False(t, sent[0].Disabled)
	require.Equal(t, uint32(320), sent[0].Width)
	require.Equal(t, uint32(240), sent[0].Height)
	require.Equal(t, []string{"TR_p1s"}, sent[1].TrackSids)
	require.Equal(t, uint32(640), sent[1].Width)

	// nothing changed
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Len(t, signaller.sent(), 2)

	// clear
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": nil})
	d.Flush()
	sent = signaller.sent()
	require.Len(t, sent, 3)
	require.Equal(t, []string{"TR_p1v"}, sent[2].TrackSids)
	require.True(t, sent[2].Disabled)
	require.Zero(t, sent[2].Width)

	_, ok := d.Desired(p1Video)
	require.False(t, ok)
	dim, ok := d.Desired(p2Video)
	require.True(t, ok)
	require.Equal(t, dim320, dim)
}

func TestDispatcher_LastPatchWins(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": nil})
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim640})
	d.Flush()

	sent := signaller.sent()
	require.Len(t, sent, 1)
	require.Equal(t, uint32(640), sent[0].Width)
}

func TestDispatcher_UnresolvedTrack(t *testing.T) {
	d, signaller, resolver := newTestDispatcher(t, noDebounce)

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p3": dim320})
	d.Flush()
	require.Empty(t, signaller.sent())

	// held until the track is known
	dim, ok := d.Desired(p3Video)
	require.True(t, ok)
	require.Equal(t, dim320, dim)

	resolver.set(p3Video, "TR_p3v")
	d.OnTrackResolved(p3Video)
	d.Flush()
	sent := signaller.sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"TR_p3v"}, sent[0].TrackSids)

	// a clear for an unknown track is dropped
	d.Dispatch(types.TrackKindScreenShare, types.SubscriptionPatch{"p3": nil})
	d.Flush()
	require.Len(t, signaller.sent(), 1)
	_, ok = d.Desired(types.TrackRef{SessionID: "p3", Kind: types.TrackKindScreenShare})
	require.False(t, ok)
}

func TestDispatcher_Unpublished(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Len(t, signaller.sent(), 1)

	d.OnTrackUnpublished(p1Video)
	_, ok := d.Desired(p1Video)
	require.False(t, ok)

	// republished track is left for the reconciler to request
	d.OnTrackResolved(p1Video)
	d.Flush()
	require.Len(t, signaller.sent(), 1)
}

func TestDispatcher_Overrides(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)
	overrides := d.params.Overrides

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim640, "p2": dim640})
	d.Dispatch(types.TrackKindScreenShare, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Len(t, signaller.sent(), 2)

	overrides.Set(&VideoOverride{Dimension: types.Dimension{Width: 160, Height: 120}})
	d.Refresh()
	d.Flush()
	sent := signaller.sent()
	require.Len(t, sent, 3)
	require.Equal(t, []string{"TR_p1v", "TR_p2v"}, sent[2].TrackSids)
	require.Equal(t, uint32(160), sent[2].Width)

	overrides.Set(&VideoOverride{Disabled: true}, "p2")
	d.Refresh()
	d.Flush()
	sent = signaller.sent()
	require.Len(t, sent, 4)
	require.Equal(t, []string{"TR_p2v"}, sent[3].TrackSids)
	require.True(t, sent[3].Disabled)

	// the wanted size is kept under an override
	dim, _ := d.Desired(p2Video)
	require.Equal(t, dim640, dim)

	overrides.Set(nil)
	d.Refresh()
	d.Flush()
	sent = signaller.sent()
	require.Len(t, sent, 5)
	require.Equal(t, []string{"TR_p1v", "TR_p2v"}, sent[4].TrackSids)
	require.Equal(t, uint32(640), sent[4].Width)
}

func TestDispatcher_SendFailure(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)

	signaller.setError(errors.New("broken pipe"))
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Empty(t, signaller.sent())

	// the same request is not treated as a duplicate next time
	signaller.setError(nil)
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Len(t, signaller.sent(), 1)
}

func TestDispatcher_Reset(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p2": dim320})

	d.Reset()
	_, ok := d.Desired(p1Video)
	require.False(t, ok)
	d.Flush()
	require.Len(t, signaller.sent(), 1)

	// after a reset the same settings are sent again
	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Len(t, signaller.sent(), 2)
}

func TestDispatcher_Debounce(t *testing.T) {
	t.Run("subscribe goes out on the immediate timer", func(t *testing.T) {
		d, signaller, _ := newTestDispatcher(t, DebounceConfig{
			Immediate: time.Millisecond,
			Fast:      time.Hour,
			Medium:    time.Hour,
			Slow:      time.Hour,
		})

		d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
		require.Eventually(t, func() bool {
			return len(signaller.sent()) == 1
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("newer schedule replaces a pending one", func(t *testing.T) {
		d, signaller, _ := newTestDispatcher(t, DebounceConfig{
			Immediate: 100 * time.Millisecond,
			Fast:      time.Hour,
			Medium:    time.Hour,
			Slow:      time.Hour,
		})

		d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
		d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p2": nil})
		time.Sleep(300 * time.Millisecond)
		require.Empty(t, signaller.sent())

		d.Flush()
		require.Len(t, signaller.sent(), 2)
	})
}

func TestDebounceTypeFor(t *testing.T) {
	require.Equal(t, DebounceFast, debounceTypeFor(dim320, nil))
	require.Equal(t, DebounceImmediate, debounceTypeFor(nil, dim320))
	require.Equal(t, DebounceImmediate, debounceTypeFor(dim320, dim640))
	require.Equal(t, DebounceMedium, debounceTypeFor(dim640, dim320))
	require.Equal(t, DebounceMedium, debounceTypeFor(dim320, &types.Dimension{Width: 350, Height: 260}))
}

func TestDispatcher_Stop(t *testing.T) {
	d, signaller, _ := newTestDispatcher(t, noDebounce)
	d.Stop()

	d.Dispatch(types.TrackKindVideo, types.SubscriptionPatch{"p1": dim320})
	d.Flush()
	require.Empty(t, signaller.sent())
}
