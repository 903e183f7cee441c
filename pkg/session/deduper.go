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
	"github.com/livekit/protocol/logger"
)

type subscriptionSetting struct {
	isEnabled bool
	width     uint32
	height    uint32
}

func subscriptionSettingFromUpdateTrackSettings(uts *livekit.UpdateTrackSettings) *subscriptionSetting {
	return &subscriptionSetting{
		isEnabled: !uts.Disabled,
		width:     uts.Width,
		height:    uts.Height,
	}
}

func (s *subscriptionSetting) Equal(other *subscriptionSetting) bool {
	return s.isEnabled == other.isEnabled &&
		s.width == other.width &&
		s.height == other.height
}

// --------------------------------------------------

// SubscriptionDeduper drops track settings identical to the last ones sent for every track they name.
type SubscriptionDeduper struct {
	logger logger.Logger

	lock               sync.Mutex
	trackSubscriptions map[livekit.TrackID]*subscriptionSetting
}

func NewSubscriptionDeduper(logger logger.Logger) *SubscriptionDeduper {
	return &SubscriptionDeduper{
		logger:             logger,
		trackSubscriptions: make(map[livekit.TrackID]*subscriptionSetting),
	}
}

// Dedupe returns true if req would not change anything on the server.
func (s *SubscriptionDeduper) Dedupe(req *livekit.SignalRequest) bool {
	isDupe := false
	switch msg := req.Message.(type) {
	case *livekit.SignalRequest_TrackSetting:
		isDupe = s.updateSubscriptionsFromUpdateTrackSettings(msg.TrackSetting)
	}

	return isDupe
}

// Reset forgets everything sent, subscriptions do not survive a new connection.
func (s *SubscriptionDeduper) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.trackSubscriptions = make(map[livekit.TrackID]*subscriptionSetting)
}

// Forget drops what is known about the given tracks, used when a send did not go through.
func (s *SubscriptionDeduper) Forget(trackSids []string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, trackSid := range trackSids {
		delete(s.trackSubscriptions, livekit.TrackID(trackSid))
	}
}

func (s *SubscriptionDeduper) updateSubscriptionsFromUpdateTrackSettings(uts *livekit.UpdateTrackSettings) bool {
	isDupe := true

	s.lock.Lock()
	defer s.lock.Unlock()

	newSubscriptionSetting := subscriptionSettingFromUpdateTrackSettings(uts)
	for _, trackSid := range uts.TrackSids {
		trackID := livekit.TrackID(trackSid)
		subscriptionSetting := s.trackSubscriptions[trackID]
		if subscriptionSetting == nil || !subscriptionSetting.Equal(newSubscriptionSetting) {
			s.trackSubscriptions[trackID] = newSubscriptionSetting
			isDupe = false
		}
	}

	if isDupe {
		s.logger.Debugw("dropping duplicate track settings", "trackIDs", uts.TrackSids)
	}
	return isDupe
}
