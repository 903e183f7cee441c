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

package service

import (
	"sync"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

// HostRegistry knows which host connections show each surface.
type HostRegistry struct {
	lock   sync.Mutex
	owners map[types.TrackRef]map[*hostConn]struct{}
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		owners: make(map[types.TrackRef]map[*hostConn]struct{}),
	}
}

func (r *HostRegistry) add(ref types.TrackRef, c *hostConn) {
	r.lock.Lock()
	defer r.lock.Unlock()

	conns := r.owners[ref]
	if conns == nil {
		conns = make(map[*hostConn]struct{})
		r.owners[ref] = conns
	}
	conns[c] = struct{}{}
}

func (r *HostRegistry) remove(ref types.TrackRef, c *hostConn) {
	r.lock.Lock()
	defer r.lock.Unlock()

	conns := r.owners[ref]
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.owners, ref)
	}
}

func (r *HostRegistry) NumOwners(ref types.TrackRef) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.owners[ref])
}

// RequestMeasure sends a measure frame to every host showing ref. The size arrives later as a
// geometry frame, so it never reports a measurement itself.
func (r *HostRegistry) RequestMeasure(ref types.TrackRef) (float64, float64, bool) {
	r.lock.Lock()
	conns := make([]*hostConn, 0, len(r.owners[ref]))
	for c := range r.owners[ref] {
		conns = append(conns, c)
	}
	r.lock.Unlock()

	for _, c := range conns {
		c.send(&HostMessage{
			Type:      HostMessageMeasure,
			SessionID: string(ref.SessionID),
			Kind:      ref.Kind.String(),
		})
	}
	return 0, 0, false
}
