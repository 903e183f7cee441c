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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/utils"
)

var ErrManagerClosed = errors.New("dynascale manager closed")

const DefaultUnmountedCacheSize = 1024

type ManagerParams struct {
	// Adapter must be safe for concurrent use when Workers > 1.
	Adapter   types.SessionAdapter
	Workers   int
	QueueSize uint
	Measurer  Measurer
	// UnmountedCacheSize bounds how many surfaces reported before their mount are remembered.
	UnmountedCacheSize int
	Logger             logger.Logger
}

// mountedSurface is shared by every host showing the same TrackRef.
type mountedSurface struct {
	refs int
	stop func()
}

// unmountedState holds what the host reported for a surface that is not mounted yet.
type unmountedState struct {
	visibility    *types.Visibility
	width, height float64
	measured      bool
}

// geometrySlot carries the latest size for a queued geometry op, newer sizes overwrite it until the op runs.
type geometrySlot struct {
	dim types.Dimension
}

type shard struct {
	queue      *utils.OpsQueue
	reconciler *Reconciler

	lock            sync.Mutex
	pendingGeometry map[types.TrackRef]*geometrySlot
}

// Manager owns the trackers and serializes every event for a TrackRef onto one worker.
// TrackRefs are spread over workers by hash, lifecycle changes go to all of them.
type Manager struct {
	params ManagerParams

	viewport *ViewportTracker
	geometry *GeometryTracker
	shards   []*shard

	lock      sync.Mutex
	mounted   map[types.TrackRef]*mountedSurface
	unmounted *lru.Cache[types.TrackRef, *unmountedState]
	isClosed  bool
}

func NewManager(params ManagerParams) *Manager {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Workers <= 0 {
		params.Workers = 1
	}
	if params.UnmountedCacheSize <= 0 {
		params.UnmountedCacheSize = DefaultUnmountedCacheSize
	}
	// only fails on a non-positive size
	unmounted, _ := lru.New[types.TrackRef, *unmountedState](params.UnmountedCacheSize)

	m := &Manager{
		params:    params,
		viewport:  NewViewportTracker(),
		geometry:  NewGeometryTracker(params.Measurer),
		shards:    make([]*shard, 0, params.Workers),
		mounted:   make(map[types.TrackRef]*mountedSurface),
		unmounted: unmounted,
	}
	for i := 0; i < params.Workers; i++ {
		s := &shard{
			queue: utils.NewOpsQueue(utils.OpsQueueParams{
				Name:        fmt.Sprintf("dynascale-%d", i),
				MinSize:     params.QueueSize,
				FlushOnStop: true,
				Logger:      params.Logger,
			}),
			reconciler: NewReconciler(ReconcilerParams{
				Adapter:   params.Adapter,
				Remeasure: m.geometry.Remeasure,
				Logger:    params.Logger.WithValues("worker", i),
			}),
			pendingGeometry: make(map[types.TrackRef]*geometrySlot),
		}
		s.queue.Start()
		m.shards = append(m.shards, s)
	}
	return m
}

// Mount starts reconciling ref. Mounts are counted, the surface stays mounted until every Mount
// has been matched by an Unmount.
func (m *Manager) Mount(ref types.TrackRef) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.isClosed {
		return ErrManagerClosed
	}
	if surface, ok := m.mounted[ref]; ok {
		surface.refs++
		return nil
	}

	if early, ok := m.unmounted.Peek(ref); ok {
		m.unmounted.Remove(ref)
		if early.visibility != nil {
			m.viewport.SetVisibility(ref, *early.visibility)
		}
		if early.measured {
			m.geometry.Measure(ref, early.width, early.height)
		}
	}

	s := m.shardFor(ref)
	s.enqueue(ref, func() {
		s.reconciler.Mount(ref)
	})

	stopVisibility := m.viewport.Observe(ref, func(visibility types.Visibility) {
		s.enqueue(ref, func() {
			s.reconciler.OnVisibilityChanged(ref, visibility)
		})
	})
	stopGeometry := m.geometry.Observe(ref, func(dim types.Dimension) {
		s.enqueueGeometry(ref, dim)
	})
	m.mounted[ref] = &mountedSurface{
		refs: 1,
		stop: func() {
			stopVisibility()
			stopGeometry()
		},
	}
	return nil
}

func (m *Manager) Unmount(ref types.TrackRef) {
	m.lock.Lock()
	defer m.lock.Unlock()

	surface, ok := m.mounted[ref]
	if !ok {
		return
	}
	if surface.refs--; surface.refs > 0 {
		return
	}
	delete(m.mounted, ref)

	surface.stop()
	m.viewport.Forget(ref)
	m.geometry.Forget(ref)

	s := m.shardFor(ref)
	s.enqueue(ref, func() {
		s.reconciler.OnUnmount(ref)
	})
}

// OnGeometryMeasured takes a layout size in pixels, fractional parts are dropped.
func (m *Manager) OnGeometryMeasured(ref types.TrackRef, width, height float64) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.mounted[ref]; ok {
		m.geometry.Measure(ref, width, height)
		return
	}
	early := m.unmountedState(ref)
	early.width, early.height, early.measured = width, height, true
}

func (m *Manager) OnVisibilityChanged(ref types.TrackRef, visibility types.Visibility) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.mounted[ref]; ok {
		m.viewport.SetVisibility(ref, visibility)
		return
	}
	m.unmountedState(ref).visibility = &visibility
}

func (m *Manager) unmountedState(ref types.TrackRef) *unmountedState {
	if early, ok := m.unmounted.Get(ref); ok {
		return early
	}
	early := &unmountedState{}
	m.unmounted.Add(ref, early)
	return early
}

// Mounted reports whether any host currently shows ref.
func (m *Manager) Mounted(ref types.TrackRef) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.mounted[ref]
	return ok
}

func (m *Manager) OnPublishStateChanged(ref types.TrackRef, published bool) {
	s := m.shardFor(ref)
	s.enqueue(ref, func() {
		s.reconciler.OnPublishStateChanged(ref, published)
	})
}

func (m *Manager) OnLifecycleChanged(state types.LifecycleState) {
	for _, s := range m.shards {
		s.lock.Lock()
		clear(s.pendingGeometry)
		s.queue.Enqueue(func() {
			s.reconciler.OnLifecycleChanged(state)
		})
		s.lock.Unlock()
	}
}

// Intent returns the current intent of ref once all events delivered before the call are applied.
func (m *Manager) Intent(ref types.TrackRef) (types.Intent, bool) {
	var (
		intent types.Intent
		ok     bool
	)
	done := make(chan struct{})
	s := m.shardFor(ref)
	if !s.queue.Enqueue(func() {
		intent, ok = s.reconciler.Intent(ref)
		close(done)
	}) {
		return types.Intent{}, false
	}
	<-done
	return intent, ok
}

// Sync blocks until every event delivered before the call has been reconciled.
func (m *Manager) Sync(ctx context.Context) error {
	done := make([]chan struct{}, 0, len(m.shards))
	for _, s := range m.shards {
		ch := make(chan struct{})
		if !s.queue.Enqueue(func() { close(ch) }) {
			return ErrManagerClosed
		}
		done = append(done, ch)
	}

	for _, ch := range done {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stop applies the events already queued, then stops all workers.
func (m *Manager) Stop() {
	m.lock.Lock()
	if m.isClosed {
		m.lock.Unlock()
		return
	}
	m.isClosed = true
	mounted := m.mounted
	m.mounted = make(map[types.TrackRef]*mountedSurface)
	m.unmounted.Purge()
	m.lock.Unlock()

	for _, surface := range mounted {
		surface.stop()
	}

	done := make([]<-chan struct{}, 0, len(m.shards))
	for _, s := range m.shards {
		done = append(done, s.queue.Stop())
	}
	for _, ch := range done {
		<-ch
	}
	m.params.Logger.Debugw("dynascale manager stopped", "surfaces", len(mounted))
}

func (m *Manager) shardFor(ref types.TrackRef) *shard {
	if len(m.shards) == 1 {
		return m.shards[0]
	}
	return m.shards[xxhash.Sum64String(ref.String())%uint64(len(m.shards))]
}

// -------------------------------------------------------

func (s *shard) enqueue(ref types.TrackRef, op func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	// a later geometry must not jump over this event
	delete(s.pendingGeometry, ref)
	s.queue.Enqueue(op)
}

func (s *shard) enqueueGeometry(ref types.TrackRef, dim types.Dimension) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if slot := s.pendingGeometry[ref]; slot != nil {
		slot.dim = dim
		return
	}

	slot := &geometrySlot{dim: dim}
	if !s.queue.Enqueue(func() {
		s.lock.Lock()
		if s.pendingGeometry[ref] == slot {
			delete(s.pendingGeometry, ref)
		}
		dim := slot.dim
		s.lock.Unlock()

		s.reconciler.OnGeometryMeasured(ref, dim)
	}) {
		return
	}
	s.pendingGeometry[ref] = slot
}
