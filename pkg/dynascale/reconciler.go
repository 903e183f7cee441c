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

package dynascale

import (
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/telemetry/prometheus"
)

type ReconcilerParams struct {
	Adapter types.SessionAdapter
	// Remeasure is called when a track becomes published and no size is known for its surface.
	Remeasure func(ref types.TrackRef)
	Logger    logger.Logger
}

type surface struct {
	published    bool
	visible      bool
	lastGeometry *types.Dimension
}

// Reconciler turns geometry, visibility, publish and lifecycle events into subscription changes.
//
// It is not safe for concurrent use: all events for the TrackRefs it owns must be delivered from one goroutine.
// Requests produced while handling one event are batched into one patch per track kind.
type Reconciler struct {
	params ReconcilerParams

	store     *IntentStore
	surfaces  map[types.TrackRef]*surface
	lifecycle types.LifecycleState

	batch     map[types.TrackKind]types.SubscriptionPatch
	remeasure []types.TrackRef
}

func NewReconciler(params ReconcilerParams) *Reconciler {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &Reconciler{
		params:    params,
		store:     NewIntentStore(),
		surfaces:  make(map[types.TrackRef]*surface),
		lifecycle: params.Adapter.CurrentLifecycleState(),
		batch:     make(map[types.TrackKind]types.SubscriptionPatch),
	}
}

func (r *Reconciler) Mount(ref types.TrackRef) {
	if _, ok := r.surfaces[ref]; ok {
		r.params.Logger.Debugw("surface already mounted", "trackRef", ref)
		return
	}

	r.surfaces[ref] = &surface{
		published: r.params.Adapter.IsPublished(ref),
		visible:   true,
	}
	r.store.SetCommitted(ref, nil)
	prometheus.AddSurface(ref.Kind.String(), 1)
}

func (r *Reconciler) OnGeometryMeasured(ref types.TrackRef, dim types.Dimension) {
	s := r.getSurface(ref, "geometry")
	if s == nil {
		return
	}
	defer r.flush()

	intent := r.store.Get(ref)
	if dim.IsZero() {
		// a surface without area cannot render, it does not get a subscription
		s.lastGeometry = nil
		r.store.SetPending(ref, nil)
		if intent.Committed != nil && r.isActive(s) {
			r.issue(ref, nil)
			r.store.SetCommitted(ref, nil)
		}
		return
	}

	s.lastGeometry = types.DimensionPtr(dim)
	if !r.isActive(s) {
		r.store.SetPending(ref, &dim)
		return
	}

	if !types.EqualDimensions(intent.Committed, &dim) {
		r.issue(ref, &dim)
	}
	r.store.SetCommitted(ref, &dim)
	r.store.SetPending(ref, nil)
}

func (r *Reconciler) OnVisibilityChanged(ref types.TrackRef, visibility types.Visibility) {
	s := r.getSurface(ref, "visibility")
	if s == nil {
		return
	}
	defer r.flush()

	visible := visibility == types.VisibilityVisible
	if s.visible == visible {
		return
	}
	s.visible = visible

	intent := r.store.Get(ref)
	if !visible {
		if intent.Committed != nil {
			r.store.SetPending(ref, intent.Committed)
			r.store.SetCommitted(ref, nil)
			r.issue(ref, nil)
		}
		return
	}

	if r.lifecycle.IsJoined() && s.published && intent.Pending != nil {
		r.commitPending(ref, intent)
	}
}

func (r *Reconciler) OnPublishStateChanged(ref types.TrackRef, published bool) {
	s := r.getSurface(ref, "publish")
	if s == nil {
		return
	}
	defer r.flush()

	if s.published == published {
		return
	}
	s.published = published

	intent := r.store.Get(ref)
	if !published {
		// the server already dropped the track, only local intent changes
		if intent.Committed != nil {
			r.store.SetPending(ref, intent.Committed)
			r.store.SetCommitted(ref, nil)
		}
		return
	}

	if !r.lifecycle.IsJoined() || !s.visible {
		return
	}

	target := intent.Pending
	if target == nil {
		target = s.lastGeometry
	}
	if target == nil {
		r.remeasure = append(r.remeasure, ref)
		return
	}

	if !types.EqualDimensions(intent.Committed, target) {
		r.issue(ref, target)
	}
	r.store.SetCommitted(ref, target)
	r.store.SetPending(ref, nil)
}

func (r *Reconciler) OnLifecycleChanged(state types.LifecycleState) {
	prev := r.lifecycle
	if prev == state {
		return
	}
	r.lifecycle = state
	defer r.flush()

	r.params.Logger.Debugw("lifecycle changed", "from", prev, "to", state, "surfaces", len(r.surfaces))

	if state.IsJoined() {
		for ref, s := range r.surfaces {
			// subscriptions made before a rejoin are gone on the new connection
			r.stash(ref)
			s.published = r.params.Adapter.IsPublished(ref)

			intent := r.store.Get(ref)
			if s.visible && s.published && intent.Pending != nil {
				r.commitPending(ref, intent)
			}
		}
		return
	}

	if prev.IsJoined() {
		for ref := range r.surfaces {
			r.stash(ref)
		}
	}
}

func (r *Reconciler) OnUnmount(ref types.TrackRef) {
	if r.getSurface(ref, "unmount") == nil {
		return
	}
	defer r.flush()

	intent := r.store.Get(ref)
	if intent.Committed != nil {
		r.issue(ref, nil)
	}

	delete(r.surfaces, ref)
	r.store.Delete(ref)
	prometheus.AddSurface(ref.Kind.String(), -1)
}

func (r *Reconciler) Intent(ref types.TrackRef) (types.Intent, bool) {
	if !r.store.Has(ref) {
		return types.Intent{}, false
	}
	return r.store.Get(ref), true
}

func (r *Reconciler) Lifecycle() types.LifecycleState {
	return r.lifecycle
}

func (r *Reconciler) NumSurfaces() int {
	return len(r.surfaces)
}

func (r *Reconciler) getSurface(ref types.TrackRef, event string) *surface {
	s := r.surfaces[ref]
	if s == nil {
		r.params.Logger.Debugw("ignoring event for unmounted surface", "trackRef", ref, "event", event)
		prometheus.RecordStaleEvent(event)
	}
	return s
}

func (r *Reconciler) isActive(s *surface) bool {
	return r.lifecycle.IsJoined() && s.published && s.visible
}

// stash moves a committed dimension to pending without any request.
func (r *Reconciler) stash(ref types.TrackRef) {
	intent := r.store.Get(ref)
	if intent.Committed == nil {
		return
	}
	r.store.SetPending(ref, intent.Committed)
	r.store.SetCommitted(ref, nil)
}

func (r *Reconciler) commitPending(ref types.TrackRef, intent types.Intent) {
	if !types.EqualDimensions(intent.Committed, intent.Pending) {
		r.issue(ref, intent.Pending)
	}
	r.store.SetCommitted(ref, intent.Pending)
	r.store.SetPending(ref, nil)
}

func (r *Reconciler) issue(ref types.TrackRef, dim *types.Dimension) {
	if !r.lifecycle.IsJoined() {
		r.params.Logger.Warnw("dropping subscription change, call not joined", nil,
			"trackRef", ref,
			"lifecycle", r.lifecycle,
			"dimension", types.FormatDimension(dim),
		)
		return
	}

	patch := r.batch[ref.Kind]
	if patch == nil {
		patch = make(types.SubscriptionPatch)
		r.batch[ref.Kind] = patch
	}
	patch[ref.SessionID] = types.CloneDimension(dim)
}

func (r *Reconciler) flush() {
	for _, kind := range []types.TrackKind{types.TrackKindVideo, types.TrackKindScreenShare} {
		patch := r.batch[kind]
		if len(patch) == 0 {
			continue
		}
		delete(r.batch, kind)

		for sessionID, dim := range patch {
			ref := types.TrackRef{SessionID: sessionID, Kind: kind}
			r.params.Logger.Debugw("requesting subscription change",
				"trackRef", ref,
				"dimension", types.FormatDimension(dim),
				"intent", r.store.Get(ref),
			)
			action := prometheus.SubscriptionActionSubscribe
			if dim == nil {
				action = prometheus.SubscriptionActionClear
			}
			prometheus.RecordSubscriptionRequest(kind.String(), action)
		}
		r.params.Adapter.RequestSubscription(kind, patch)
	}

	if len(r.remeasure) == 0 || r.params.Remeasure == nil {
		r.remeasure = r.remeasure[:0]
		return
	}
	refs := r.remeasure
	r.remeasure = nil
	for _, ref := range refs {
		r.params.Remeasure(ref)
	}
}
