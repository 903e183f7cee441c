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
	"sort"
	"sync"

	"github.com/thoas/go-funk"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

type ParticipantRegistryParams struct {
	OnPublishStateChanged func(ref types.TrackRef, published bool)
	// OnTrackResolved is called whenever a published TrackRef gets a (new) track sid.
	OnTrackResolved func(ref types.TrackRef, trackID livekit.TrackID)
	Logger          logger.Logger
}

// ParticipantRegistry mirrors the remote participants announced by the SFU
// and derives which TrackRefs are currently published.
type ParticipantRegistry struct {
	params ParticipantRegistryParams

	lock         sync.RWMutex
	localID      livekit.ParticipantID
	participants map[livekit.ParticipantID]*livekit.ParticipantInfo
	tracks       map[types.TrackRef]livekit.TrackID
}

func NewParticipantRegistry(params ParticipantRegistryParams) *ParticipantRegistry {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &ParticipantRegistry{
		params:       params,
		participants: make(map[livekit.ParticipantID]*livekit.ParticipantInfo),
		tracks:       make(map[types.TrackRef]livekit.TrackID),
	}
}

// Reset replaces the whole roster, as received on join.
func (r *ParticipantRegistry) Reset(local *livekit.ParticipantInfo, others []*livekit.ParticipantInfo) {
	r.lock.Lock()
	r.localID = ""
	if local != nil {
		r.localID = livekit.ParticipantID(local.Sid)
	}
	r.participants = make(map[livekit.ParticipantID]*livekit.ParticipantInfo, len(others))
	for _, p := range others {
		r.setParticipantLocked(p)
	}
	changes := r.refreshTracksLocked()
	r.lock.Unlock()

	r.notify(changes)
}

func (r *ParticipantRegistry) Update(participants []*livekit.ParticipantInfo) {
	r.lock.Lock()
	for _, p := range participants {
		r.setParticipantLocked(p)
	}
	changes := r.refreshTracksLocked()
	r.lock.Unlock()

	r.notify(changes)
}

func (r *ParticipantRegistry) IsPublished(ref types.TrackRef) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.tracks[ref]
	return ok
}

func (r *ParticipantRegistry) TrackID(ref types.TrackRef) (livekit.TrackID, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	trackID, ok := r.tracks[ref]
	return trackID, ok
}

func (r *ParticipantRegistry) LocalParticipantID() livekit.ParticipantID {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.localID
}

func (r *ParticipantRegistry) Participants() []*livekit.ParticipantInfo {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return funk.Values(r.participants).([]*livekit.ParticipantInfo)
}

func (r *ParticipantRegistry) setParticipantLocked(p *livekit.ParticipantInfo) {
	participantID := livekit.ParticipantID(p.Sid)
	if participantID == r.localID {
		// never subscribe to our own tracks
		return
	}
	if p.State == livekit.ParticipantInfo_DISCONNECTED {
		delete(r.participants, participantID)
		return
	}
	r.participants[participantID] = p
}

type trackChange struct {
	ref       types.TrackRef
	trackID   livekit.TrackID
	published bool
	resolved  bool
}

func (r *ParticipantRegistry) refreshTracksLocked() []trackChange {
	tracks := make(map[types.TrackRef]livekit.TrackID)
	for participantID, p := range r.participants {
		for _, ti := range p.Tracks {
			kind, ok := trackKindFromTrackInfo(ti)
			if !ok || ti.Muted {
				continue
			}
			ref := types.TrackRef{SessionID: participantID, Kind: kind}
			if _, exists := tracks[ref]; !exists {
				tracks[ref] = livekit.TrackID(ti.Sid)
			}
		}
	}

	var changes []trackChange
	for ref, trackID := range tracks {
		prev, ok := r.tracks[ref]
		switch {
		case !ok:
			changes = append(changes, trackChange{ref: ref, trackID: trackID, published: true, resolved: true})
		case prev != trackID:
			changes = append(changes, trackChange{ref: ref, trackID: trackID, published: true, resolved: true})
		}
	}
	for ref, trackID := range r.tracks {
		if _, ok := tracks[ref]; !ok {
			changes = append(changes, trackChange{ref: ref, trackID: trackID})
		}
	}
	r.tracks = tracks

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ref.String() < changes[j].ref.String()
	})
	return changes
}

func (r *ParticipantRegistry) notify(changes []trackChange) {
	for _, c := range changes {
		r.params.Logger.Debugw("track publication changed",
			"trackRef", c.ref,
			"trackID", c.trackID,
			"published", c.published,
		)
		if c.resolved && r.params.OnTrackResolved != nil {
			r.params.OnTrackResolved(c.ref, c.trackID)
		}
		if r.params.OnPublishStateChanged != nil {
			r.params.OnPublishStateChanged(c.ref, c.published)
		}
	}
}

func trackKindFromTrackInfo(ti *livekit.TrackInfo) (types.TrackKind, bool) {
	if ti.Type != livekit.TrackType_VIDEO {
		return 0, false
	}
	if ti.Source == livekit.TrackSource_SCREEN_SHARE {
		return types.TrackKindScreenShare, true
	}
	return types.TrackKindVideo, true
}
