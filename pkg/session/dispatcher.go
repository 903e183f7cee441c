// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/elliotchance/orderedmap/v2"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/telemetry/prometheus"
	"github.com/livekit/dynascale/pkg/utils"
)

// upscaleRatio above which a resize is sent without waiting, a blurry upscaled video is more visible than a late downscale.
const upscaleRatio = 1.2

type DebounceType int

const (
	DebounceImmediate DebounceType = iota
	DebounceFast
	DebounceMedium
	DebounceSlow
)

func (d DebounceType) String() string {
	switch d {
	case DebounceImmediate:
		return "immediate"
	case DebounceFast:
		return "fast"
	case DebounceMedium:
		return "medium"
	case DebounceSlow:
		return "slow"
	default:
		return fmt.Sprintf("%d", int(d))
	}
}

type DebounceConfig struct {
	Immediate time.Duration `yaml:"immediate,omitempty"`
	Fast      time.Duration `yaml:"fast,omitempty"`
	Medium    time.Duration `yaml:"medium,omitempty"`
	Slow      time.Duration `yaml:"slow,omitempty"`
}

var DefaultDebounceConfig = DebounceConfig{
	Immediate: 20 * time.Millisecond,
	Fast:      100 * time.Millisecond,
	Medium:    600 * time.Millisecond,
	Slow:      1200 * time.Millisecond,
}

func (c DebounceConfig) Duration(d DebounceType) time.Duration {
	switch d {
	case DebounceImmediate:
		return c.Immediate
	case DebounceFast:
		return c.Fast
	case DebounceMedium:
		return c.Medium
	default:
		return c.Slow
	}
}

// Signaller delivers a request to the SFU.
type Signaller interface {
	SendRequest(req *livekit.SignalRequest) error
}

// TrackResolver maps a TrackRef to the sid of its currently published track.
type TrackResolver interface {
	TrackID(ref types.TrackRef) (livekit.TrackID, bool)
}

type DispatcherParams struct {
	Debounce  DebounceConfig
	Resolver  TrackResolver
	Overrides *VideoOverrides
	Signaller Signaller
	Logger    logger.Logger
}

// Dispatcher turns subscription patches into UpdateTrackSettings requests.
// Patches are debounced, a newer schedule replaces a pending one, and the accumulated state is sent in one go.
type Dispatcher struct {
	params  DispatcherParams
	deduper *SubscriptionDeduper
	queue   *utils.OpsQueue

	lock       sync.Mutex
	desired    map[types.TrackKind]*orderedmap.OrderedMap[livekit.ParticipantID, *types.Dimension]
	dirty      *orderedmap.OrderedMap[types.TrackRef, struct{}]
	debouncers map[DebounceType]func(func())

	closed atomic.Bool
}

func NewDispatcher(params DispatcherParams) *Dispatcher {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Overrides == nil {
		params.Overrides = NewVideoOverrides()
	}

	d := &Dispatcher{
		params:  params,
		deduper: NewSubscriptionDeduper(params.Logger),
		queue: utils.NewOpsQueue(utils.OpsQueueParams{
			Name:    "dispatcher",
			MinSize: 16,
			Logger:  params.Logger,
		}),
		desired: map[types.TrackKind]*orderedmap.OrderedMap[livekit.ParticipantID, *types.Dimension]{
			types.TrackKindVideo:       orderedmap.NewOrderedMap[livekit.ParticipantID, *types.Dimension](),
			types.TrackKindScreenShare: orderedmap.NewOrderedMap[livekit.ParticipantID, *types.Dimension](),
		},
		dirty:      orderedmap.NewOrderedMap[types.TrackRef, struct{}](),
		debouncers: make(map[DebounceType]func(func())),
	}
	for _, dt := range []DebounceType{DebounceImmediate, DebounceFast, DebounceMedium, DebounceSlow} {
		d.debouncers[dt] = debounce.New(params.Debounce.Duration(dt))
	}
	d.queue.Start()
	return d
}

// Dispatch records patch as the wanted state of kind and schedules a send.
func (d *Dispatcher) Dispatch(kind types.TrackKind, patch types.SubscriptionPatch) {
	if d.closed.Load() || len(patch) == 0 {
		return
	}

	sessionIDs := make([]livekit.ParticipantID, 0, len(patch))
	for sessionID := range patch {
		sessionIDs = append(sessionIDs, sessionID)
	}
	sort.Slice(sessionIDs, func(i, j int) bool { return sessionIDs[i] < sessionIDs[j] })

	d.lock.Lock()
	debounceType := DebounceSlow
	desired := d.desired[kind]
	for _, sessionID := range sessionIDs {
		dim := patch[sessionID]
		prev, _ := desired.Get(sessionID)
		if dt := debounceTypeFor(prev, dim); dt < debounceType {
			debounceType = dt
		}

		desired.Set(sessionID, types.CloneDimension(dim))
		d.dirty.Set(types.TrackRef{SessionID: sessionID, Kind: kind}, struct{}{})
	}
	d.scheduleLocked(debounceType)
	d.lock.Unlock()
}

// Refresh resends all camera video, used after video overrides change.
func (d *Dispatcher) Refresh() {
	if d.closed.Load() {
		return
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	for _, sessionID := range d.desired[types.TrackKindVideo].Keys() {
		d.dirty.Set(types.TrackRef{SessionID: sessionID, Kind: types.TrackKindVideo}, struct{}{})
	}
	d.scheduleLocked(DebounceSlow)
}

// OnTrackResolved sends what is wanted for ref once its track sid is known or has changed.
func (d *Dispatcher) OnTrackResolved(ref types.TrackRef) {
	if d.closed.Load() {
		return
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if dim, ok := d.desired[ref.Kind].Get(ref.SessionID); !ok || dim == nil {
		return
	}
	d.dirty.Set(ref, struct{}{})
	d.scheduleLocked(DebounceImmediate)
}

// OnTrackUnpublished forgets what was wanted for ref, the server dropped the subscription with the track.
func (d *Dispatcher) OnTrackUnpublished(ref types.TrackRef) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.desired[ref.Kind].Delete(ref.SessionID)
	d.dirty.Delete(ref)
}

// Desired returns the size last asked for ref, before overrides.
func (d *Dispatcher) Desired(ref types.TrackRef) (*types.Dimension, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	dim, ok := d.desired[ref.Kind].Get(ref.SessionID)
	return types.CloneDimension(dim), ok
}

// Reset drops all state, for a new connection.
func (d *Dispatcher) Reset() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.cancelLocked()
	for _, desired := range d.desired {
		for _, sessionID := range desired.Keys() {
			desired.Delete(sessionID)
		}
	}
	d.dirty = orderedmap.NewOrderedMap[types.TrackRef, struct{}]()
	d.deduper.Reset()
}

// Flush sends pending changes right away and waits for them to be written.
func (d *Dispatcher) Flush() {
	d.lock.Lock()
	d.cancelLocked()
	d.lock.Unlock()

	done := make(chan struct{})
	if !d.queue.Enqueue(func() {
		d.flush()
		close(done)
	}) {
		return
	}
	<-done
}

func (d *Dispatcher) Stop() {
	if d.closed.Swap(true) {
		return
	}

	d.lock.Lock()
	d.cancelLocked()
	d.lock.Unlock()

	<-d.queue.Stop()
}

func (d *Dispatcher) scheduleLocked(debounceType DebounceType) {
	for dt, debouncer := range d.debouncers {
		if dt != debounceType {
			debouncer(func() {})
		}
	}
	d.debouncers[debounceType](func() {
		d.queue.Enqueue(d.flush)
	})
}

func (d *Dispatcher) cancelLocked() {
	for _, debouncer := range d.debouncers {
		debouncer(func() {})
	}
}

type trackSettingsKey struct {
	disabled bool
	width    uint32
	height   uint32
}

func (d *Dispatcher) flush() {
	d.lock.Lock()
	groups := orderedmap.NewOrderedMap[trackSettingsKey, *livekit.UpdateTrackSettings]()
	numDupes := 0
	for el := d.dirty.Front(); el != nil; el = el.Next() {
		ref := el.Key
		desired := d.desired[ref.Kind]
		dim, ok := desired.Get(ref.SessionID)
		if !ok {
			continue
		}

		trackID, resolved := d.params.Resolver.TrackID(ref)
		if !resolved {
			if dim == nil {
				desired.Delete(ref.SessionID)
			} else {
				d.params.Logger.Debugw("holding subscription until track is known", "trackRef", ref)
			}
			continue
		}

		effective := d.params.Overrides.Apply(ref, dim)
		key := trackSettingsKey{disabled: effective == nil}
		if effective != nil {
			key.width, key.height = effective.Width, effective.Height
		}

		single := &livekit.UpdateTrackSettings{
			TrackSids: []string{string(trackID)},
			Disabled:  key.disabled,
			Width:     key.width,
			Height:    key.height,
		}
		if d.deduper.Dedupe(&livekit.SignalRequest{
			Message: &livekit.SignalRequest_TrackSetting{TrackSetting: single},
		}) {
			numDupes++
		} else if group, ok := groups.Get(key); ok {
			group.TrackSids = append(group.TrackSids, string(trackID))
		} else {
			groups.Set(key, single)
		}

		if dim == nil {
			desired.Delete(ref.SessionID)
		}
	}
	d.dirty = orderedmap.NewOrderedMap[types.TrackRef, struct{}]()
	d.lock.Unlock()

	for i := 0; i < numDupes; i++ {
		prometheus.RecordSignalRequest(prometheus.SignalStatusDupe)
	}

	for el := groups.Front(); el != nil; el = el.Next() {
		uts := el.Value
		err := d.params.Signaller.SendRequest(&livekit.SignalRequest{
			Message: &livekit.SignalRequest_TrackSetting{TrackSetting: uts},
		})
		if err != nil {
			d.params.Logger.Warnw("could not send track settings", err,
				"trackIDs", uts.TrackSids,
				"disabled", uts.Disabled,
			)
			d.deduper.Forget(uts.TrackSids)
			prometheus.RecordSignalRequest(prometheus.SignalStatusFailure)
			continue
		}

		d.params.Logger.Debugw("sent track settings",
			"trackIDs", uts.TrackSids,
			"disabled", uts.Disabled,
			"width", uts.Width,
			"height", uts.Height,
		)
		prometheus.RecordSignalRequest(prometheus.SignalStatusSuccess)
	}
}

func debounceTypeFor(prev *types.Dimension, next *types.Dimension) DebounceType {
	switch {
	case next == nil:
		return DebounceFast
	case prev == nil || prev.Width == 0 || prev.Height == 0:
		return DebounceImmediate
	}

	ratio := float64(next.Width) / float64(prev.Width)
	if r := float64(next.Height) / float64(prev.Height); r > ratio {
		ratio = r
	}
	if ratio > upscaleRatio {
		return DebounceImmediate
	}
	return DebounceMedium
}
