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

package replay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale"
	"github.com/livekit/dynascale/pkg/dynascale/types"
)

// Request is one TrackRef entry of a subscription patch, in the order the adapter received them.
type Request struct {
	// Step is the 1-based index of the event that produced the request.
	Step      int
	Event     string
	Ref       types.TrackRef
	Dimension *types.Dimension
}

func (r Request) String() string {
	return fmt.Sprintf("%s=%s", r.Ref, types.FormatDimension(r.Dimension))
}

type Result struct {
	Name       string
	Events     int
	Requests   []Request
	Mismatches []string
	Elapsed    time.Duration
}

func (r *Result) Passed() bool {
	return len(r.Mismatches) == 0
}

// recordingAdapter stands in for the SFU session, publish and lifecycle state are scripted by the scenario.
type recordingAdapter struct {
	lock      sync.Mutex
	lifecycle types.LifecycleState
	published map[types.TrackRef]bool
	step      int
	event     string
	requests  []Request
}

func (a *recordingAdapter) IsPublished(ref types.TrackRef) bool {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.published[ref]
}

func (a *recordingAdapter) CurrentLifecycleState() types.LifecycleState {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.lifecycle
}

func (a *recordingAdapter) RequestSubscription(kind types.TrackKind, patch types.SubscriptionPatch) {
	a.lock.Lock()
	defer a.lock.Unlock()

	sessionIDs := make([]livekit.ParticipantID, 0, len(patch))
	for sessionID := range patch {
		sessionIDs = append(sessionIDs, sessionID)
	}
	sort.Slice(sessionIDs, func(i, j int) bool { return sessionIDs[i] < sessionIDs[j] })

	for _, sessionID := range sessionIDs {
		a.requests = append(a.requests, Request{
			Step:      a.step,
			Event:     a.event,
			Ref:       types.TrackRef{SessionID: sessionID, Kind: kind},
			Dimension: types.CloneDimension(patch[sessionID]),
		})
	}
}

// Runner plays a scenario against a reconciler fed by the viewport and geometry trackers, on the calling goroutine.
type Runner struct {
	logger logger.Logger

	adapter    *recordingAdapter
	reconciler *dynascale.Reconciler
	viewport   *dynascale.ViewportTracker
	geometry   *dynascale.GeometryTracker
	sizes      map[types.TrackRef][2]float64
	observers  map[types.TrackRef]func()
}

func NewRunner(l logger.Logger) *Runner {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Runner{logger: l}
}

func (r *Runner) Run(scenario *Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	r.reset(scenario)
	for i, e := range scenario.Events {
		r.adapter.lock.Lock()
		r.adapter.step = i + 1
		r.adapter.event = e.String()
		r.adapter.lock.Unlock()

		r.apply(e)
	}

	for ref, stop := range r.observers {
		stop()
		delete(r.observers, ref)
	}

	result := &Result{
		Name:     scenario.Name,
		Events:   len(scenario.Events),
		Requests: r.adapter.requests,
		Elapsed:  time.Since(start),
	}
	if scenario.Expect != nil {
		result.Mismatches = compare(scenario.Expect, result.Requests)
	}
	r.logger.Debugw("scenario replayed",
		"name", scenario.Name,
		"events", result.Events,
		"requests", len(result.Requests),
		"mismatches", len(result.Mismatches),
	)
	return result, nil
}

func (r *Runner) reset(scenario *Scenario) {
	lifecycle := types.LifecycleIdle
	if scenario.Initial.Lifecycle != "" {
		lifecycle, _ = types.ParseLifecycleState(scenario.Initial.Lifecycle)
	}
	r.adapter = &recordingAdapter{
		lifecycle: lifecycle,
		published: make(map[types.TrackRef]bool),
	}
	for _, published := range scenario.Initial.Published {
		ref, _ := ParseTrackRef(published)
		r.adapter.published[ref] = true
	}

	r.sizes = make(map[types.TrackRef][2]float64)
	r.observers = make(map[types.TrackRef]func())
	r.viewport = dynascale.NewViewportTracker()
	r.geometry = dynascale.NewGeometryTracker(func(ref types.TrackRef) (float64, float64, bool) {
		size, ok := r.sizes[ref]
		return size[0], size[1], ok
	})
	r.reconciler = dynascale.NewReconciler(dynascale.ReconcilerParams{
		Adapter:   r.adapter,
		Remeasure: r.geometry.Remeasure,
		Logger:    r.logger,
	})
}

func (r *Runner) apply(e Event) {
	if e.Type == EventLifecycle {
		state, _ := types.ParseLifecycleState(e.State)
		r.adapter.lock.Lock()
		r.adapter.lifecycle = state
		r.adapter.lock.Unlock()
		r.reconciler.OnLifecycleChanged(state)
		return
	}

	ref, _ := e.trackRef()
	switch e.Type {
	case EventMount:
		if _, ok := r.observers[ref]; ok {
			return
		}
		r.reconciler.Mount(ref)
		stopVisibility := r.viewport.Observe(ref, func(visibility types.Visibility) {
			r.reconciler.OnVisibilityChanged(ref, visibility)
		})
		stopGeometry := r.geometry.Observe(ref, func(dim types.Dimension) {
			r.reconciler.OnGeometryMeasured(ref, dim)
		})
		r.observers[ref] = func() {
			stopVisibility()
			stopGeometry()
		}

	case EventUnmount:
		if stop, ok := r.observers[ref]; ok {
			stop()
			delete(r.observers, ref)
		}
		r.viewport.Forget(ref)
		r.geometry.Forget(ref)
		delete(r.sizes, ref)
		r.reconciler.OnUnmount(ref)

	case EventGeometry:
		r.sizes[ref] = [2]float64{e.Width, e.Height}
		r.geometry.Measure(ref, e.Width, e.Height)

	case EventVisibility:
		r.viewport.SetVisibility(ref, types.VisibilityFromBool(*e.Visible))

	case EventPublish:
		r.adapter.lock.Lock()
		r.adapter.published[ref] = *e.Published
		r.adapter.lock.Unlock()
		r.reconciler.OnPublishStateChanged(ref, *e.Published)
	}
}

func compare(expected []ExpectedRequest, actual []Request) []string {
	var mismatches []string
	for i := 0; i < len(expected) || i < len(actual); i++ {
		switch {
		case i >= len(actual):
			mismatches = append(mismatches, fmt.Sprintf("request %d: expected %s/%s=%s, got nothing",
				i+1, expected[i].Session, expectedKind(expected[i]), expected[i].Dimension))
		case i >= len(expected):
			mismatches = append(mismatches, fmt.Sprintf("request %d: unexpected %s", i+1, actual[i]))
		default:
			ref, _ := Event{Session: expected[i].Session, Kind: expected[i].Kind}.trackRef()
			dim, _ := ParseDimension(expected[i].Dimension)
			if ref != actual[i].Ref || !types.EqualDimensions(dim, actual[i].Dimension) {
				mismatches = append(mismatches, fmt.Sprintf("request %d: expected %s=%s, got %s",
					i+1, ref, types.FormatDimension(dim), actual[i]))
			}
		}
	}
	return mismatches
}

func expectedKind(e ExpectedRequest) string {
	if e.Kind == "" {
		return types.TrackKindVideo.String()
	}
	return e.Kind
}
