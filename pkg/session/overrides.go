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
	"sync"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

// VideoOverride replaces the measured size of incoming camera video.
// A disabled override keeps the video unsubscribed, otherwise Dimension is requested instead of the measured size.
type VideoOverride struct {
	Disabled  bool
	Dimension types.Dimension
}

// VideoOverrides holds a global override and per-session overrides, a per-session one wins.
// Screen share is never overridden.
type VideoOverrides struct {
	lock      sync.RWMutex
	global    *VideoOverride
	bySession map[livekit.ParticipantID]VideoOverride
}

func NewVideoOverrides() *VideoOverrides {
	return &VideoOverrides{
		bySession: make(map[livekit.ParticipantID]VideoOverride),
	}
}

// Set applies override to the given sessions, or globally when none are given. A nil override removes it.
// Setting a global override drops all per-session ones.
func (o *VideoOverrides) Set(override *VideoOverride, sessionIDs ...livekit.ParticipantID) {
	o.lock.Lock()
	defer o.lock.Unlock()

	if len(sessionIDs) == 0 {
		o.global = nil
		if override != nil {
			global := *override
			o.global = &global
		}
		o.bySession = make(map[livekit.ParticipantID]VideoOverride)
		return
	}

	for _, sessionID := range sessionIDs {
		if override == nil {
			delete(o.bySession, sessionID)
		} else {
			o.bySession[sessionID] = *override
		}
	}
}

func (o *VideoOverrides) Get(sessionID livekit.ParticipantID) (VideoOverride, bool) {
	o.lock.RLock()
	defer o.lock.RUnlock()

	if override, ok := o.bySession[sessionID]; ok {
		return override, true
	}
	if o.global != nil {
		return *o.global, true
	}
	return VideoOverride{}, false
}

// Apply returns the size to request for ref given the requested one. A nil result means unsubscribe.
func (o *VideoOverrides) Apply(ref types.TrackRef, dim *types.Dimension) *types.Dimension {
	if ref.Kind != types.TrackKindVideo || dim == nil {
		return dim
	}

	override, ok := o.Get(ref.SessionID)
	switch {
	case !ok:
		return dim
	case override.Disabled:
		return nil
	case override.Dimension.IsZero():
		return dim
	default:
		return types.DimensionPtr(override.Dimension)
	}
}
