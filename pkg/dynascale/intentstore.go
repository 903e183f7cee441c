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
)

// IntentStore holds the subscription intent of every mounted TrackRef.
// It is plain storage owned by a single reconciler and is not safe for concurrent use.
type IntentStore struct {
	intents map[types.TrackRef]*types.Intent
}

func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents: make(map[types.TrackRef]*types.Intent),
	}
}

// Get returns a copy of the intent for ref, zero valued when ref is unknown.
func (s *IntentStore) Get(ref types.TrackRef) types.Intent {
	intent := s.intents[ref]
	if intent == nil {
		return types.Intent{}
	}
	return types.Intent{
		Committed: types.CloneDimension(intent.Committed),
		Pending:   types.CloneDimension(intent.Pending),
	}
}

func (s *IntentStore) Has(ref types.TrackRef) bool {
	_, ok := s.intents[ref]
	return ok
}

func (s *IntentStore) SetCommitted(ref types.TrackRef, dim *types.Dimension) {
	s.getOrCreate(ref).Committed = types.CloneDimension(dim)
}

func (s *IntentStore) SetPending(ref types.TrackRef, dim *types.Dimension) {
	s.getOrCreate(ref).Pending = types.CloneDimension(dim)
}

func (s *IntentStore) Delete(ref types.TrackRef) {
	delete(s.intents, ref)
}

func (s *IntentStore) Len() int {
	return len(s.intents)
}

func (s *IntentStore) getOrCreate(ref types.TrackRef) *types.Intent {
	intent := s.intents[ref]
	if intent == nil {
		intent = &types.Intent{}
		s.intents[ref] = intent
	}
	return intent
}
