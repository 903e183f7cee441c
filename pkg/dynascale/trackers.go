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
	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/utils"
)

// ViewportTracker reports whether a surface is on-screen. Observing emits the current state right away,
// surfaces never reported by the host are considered visible.
type ViewportTracker struct {
	states *utils.ChangeNotifier[types.TrackRef, types.Visibility]
}

func NewViewportTracker() *ViewportTracker {
	return &ViewportTracker{
		states: utils.NewChangeNotifier[types.TrackRef, types.Visibility](),
	}
}

func (v *ViewportTracker) Observe(ref types.TrackRef, onChanged func(types.Visibility)) func() {
	v.states.SetIfAbsent(ref, types.VisibilityVisible)
	return v.states.AddObserver(ref, onChanged)
}

func (v *ViewportTracker) SetVisibility(ref types.TrackRef, visibility types.Visibility) {
	v.states.Set(ref, visibility)
}

func (v *ViewportTracker) Visibility(ref types.TrackRef) types.Visibility {
	if visibility, ok := v.states.Get(ref); ok {
		return visibility
	}
	return types.VisibilityVisible
}

func (v *ViewportTracker) Forget(ref types.TrackRef) {
	v.states.Forget(ref)
}

// -------------------------------------------------------

// Measurer reads the current size of a surface from the host layout, ok is false if it is not laid out.
type Measurer func(ref types.TrackRef) (width float64, height float64, ok bool)

// GeometryTracker reports the last measured, integer-truncated size of a surface.
// Repeated identical sizes are not emitted.
type GeometryTracker struct {
	measurer Measurer
	sizes    *utils.ChangeNotifier[types.TrackRef, types.Dimension]
}

func NewGeometryTracker(measurer Measurer) *GeometryTracker {
	return &GeometryTracker{
		measurer: measurer,
		sizes:    utils.NewChangeNotifier[types.TrackRef, types.Dimension](),
	}
}

func (g *GeometryTracker) Observe(ref types.TrackRef, onChanged func(types.Dimension)) func() {
	return g.sizes.AddObserver(ref, onChanged)
}

// Measure records a layout measurement. Returns true if the truncated size changed.
func (g *GeometryTracker) Measure(ref types.TrackRef, width, height float64) bool {
	return g.sizes.Set(ref, types.NewDimension(width, height))
}

func (g *GeometryTracker) Last(ref types.TrackRef) (types.Dimension, bool) {
	return g.sizes.Get(ref)
}

// Remeasure asks the host for a fresh size. It is a no-op without a Measurer.
func (g *GeometryTracker) Remeasure(ref types.TrackRef) {
	if g.measurer == nil {
		return
	}
	if width, height, ok := g.measurer(ref); ok {
		g.Measure(ref, width, height)
	}
}

func (g *GeometryTracker) Forget(ref types.TrackRef) {
	g.sizes.Forget(ref)
}
