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
	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/telemetry/prometheus"
	"github.com/livekit/dynascale/pkg/utils"
)

type lifecycleKey struct{}

// Lifecycle holds the calling state of the session. Observers only hear about actual changes.
type Lifecycle struct {
	states *utils.ChangeNotifier[lifecycleKey, types.LifecycleState]
}

func NewLifecycle(initial types.LifecycleState) *Lifecycle {
	l := &Lifecycle{
		states: utils.NewChangeNotifier[lifecycleKey, types.LifecycleState](),
	}
	l.states.Set(lifecycleKey{}, initial)
	return l
}

func (l *Lifecycle) State() types.LifecycleState {
	state, _ := l.states.Get(lifecycleKey{})
	return state
}

// Set returns false when state is already current.
func (l *Lifecycle) Set(state types.LifecycleState) bool {
	if !l.states.Set(lifecycleKey{}, state) {
		return false
	}
	prometheus.RecordLifecycleChange(string(state))
	return true
}

// OnChanged registers fn and delivers the current state to it right away.
func (l *Lifecycle) OnChanged(fn func(types.LifecycleState)) func() {
	return l.states.AddObserver(lifecycleKey{}, fn)
}
