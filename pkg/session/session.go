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
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/utils"
)

var (
	ErrNotConnected       = errors.New("not connected to signal server")
	errReconnectRequested = errors.New("server requested reconnect")
)

// EventSink receives what the session learns from the SFU. dynascale.Manager implements it.
type EventSink interface {
	OnPublishStateChanged(ref types.TrackRef, published bool)
	OnLifecycleChanged(state types.LifecycleState)
}

type SessionParams struct {
	Signal            SignalClientParams
	Debounce          DebounceConfig
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	Logger            logger.Logger
}

// Session is the SFU side of the reconciler: it answers publish and lifecycle queries from the
// participant roster and turns subscription patches into debounced track settings.
type Session struct {
	params SessionParams

	lifecycle  *Lifecycle
	registry   *ParticipantRegistry
	overrides  *VideoOverrides
	dispatcher *Dispatcher

	lock      sync.RWMutex
	client    *SignalClient
	sink      EventSink
	stopwatch *utils.Stopwatch

	joined       atomic.Bool
	canReconnect atomic.Bool
}

func NewSession(params SessionParams) *Session {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}

	s := &Session{
		params:    params,
		lifecycle: NewLifecycle(types.LifecycleIdle),
		overrides: NewVideoOverrides(),
	}
	s.registry = NewParticipantRegistry(ParticipantRegistryParams{
		OnPublishStateChanged: s.onPublishStateChanged,
		OnTrackResolved:       s.onTrackResolved,
		Logger:                params.Logger,
	})
	s.dispatcher = NewDispatcher(DispatcherParams{
		Debounce:  params.Debounce,
		Resolver:  s.registry,
		Overrides: s.overrides,
		Signaller: s,
		Logger:    params.Logger,
	})
	return s
}

// Bind routes publish and lifecycle changes to sink. The returned func detaches it.
func (s *Session) Bind(sink EventSink) func() {
	s.lock.Lock()
	s.sink = sink
	s.lock.Unlock()

	stop := s.lifecycle.OnChanged(sink.OnLifecycleChanged)
	return func() {
		stop()
		s.lock.Lock()
		if s.sink == sink {
			s.sink = nil
		}
		s.lock.Unlock()
	}
}

// Run connects to the signal server and keeps the session joined until ctx is done or the server
// sends it away. Dropped connections are retried up to ReconnectAttempts times.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		if attempt == 0 {
			s.lifecycle.Set(types.LifecycleJoining)
		} else {
			s.lifecycle.Set(types.LifecycleReconnecting)
		}

		err := s.connect(ctx)
		if err == nil || ctx.Err() != nil {
			s.lifecycle.Set(types.LifecycleLeft)
			return nil
		}
		if s.joined.Swap(false) {
			attempt = 0
		}

		attempt++
		if attempt > s.params.ReconnectAttempts {
			s.params.Logger.Warnw("giving up on signal connection", err, "attempts", attempt)
			s.lifecycle.Set(types.LifecycleReconnectingFailed)
			return err
		}
		s.params.Logger.Infow("reconnecting to signal server", "attempt", attempt, "error", err)
		s.lifecycle.Set(types.LifecycleReconnecting)

		select {
		case <-time.After(time.Duration(attempt) * s.params.ReconnectBackoff):
		case <-ctx.Done():
			s.lifecycle.Set(types.LifecycleLeft)
			return nil
		}
	}
}

func (s *Session) connect(ctx context.Context) error {
	stopwatch := utils.NewStopwatch()
	client, err := DialSignalClient(ctx, s.params.Signal)
	if err != nil {
		return err
	}
	stopwatch.Mark("dial")

	s.lock.Lock()
	s.client = client
	s.stopwatch = stopwatch
	s.lock.Unlock()
	defer func() {
		s.lock.Lock()
		if s.client == client {
			s.client = nil
		}
		s.lock.Unlock()
	}()
	defer client.Close()

	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-client.Closed():
		}
	}()

	s.canReconnect.Store(false)
	if err := client.Run(s); err != nil {
		return err
	}
	if s.canReconnect.Load() && ctx.Err() == nil {
		return errReconnectRequested
	}
	return nil
}

func (s *Session) Close() {
	s.dispatcher.Stop()

	s.lock.RLock()
	client := s.client
	s.lock.RUnlock()
	if client != nil {
		client.Close()
	}
}

// SetVideoOverride applies a camera video override to the given sessions, or to all when none are given.
func (s *Session) SetVideoOverride(override *VideoOverride, sessionIDs ...livekit.ParticipantID) {
	s.overrides.Set(override, sessionIDs...)
	s.dispatcher.Refresh()
}

func (s *Session) Participants() []*livekit.ParticipantInfo {
	return s.registry.Participants()
}

func (s *Session) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// Flush sends pending subscription changes without waiting for the debounce.
func (s *Session) Flush() {
	s.dispatcher.Flush()
}

// ---------------------------------------
// SessionAdapter

func (s *Session) IsPublished(ref types.TrackRef) bool {
	return s.registry.IsPublished(ref)
}

func (s *Session) CurrentLifecycleState() types.LifecycleState {
	return s.lifecycle.State()
}

func (s *Session) RequestSubscription(kind types.TrackKind, patch types.SubscriptionPatch) {
	s.dispatcher.Dispatch(kind, patch)
}

// ---------------------------------------
// Signaller

func (s *Session) SendRequest(req *livekit.SignalRequest) error {
	s.lock.RLock()
	client := s.client
	s.lock.RUnlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.SendRequest(req)
}

// ---------------------------------------
// SignalHandler

func (s *Session) OnJoin(join *livekit.JoinResponse) {
	s.dispatcher.Reset()
	s.registry.Reset(join.GetParticipant(), join.GetOtherParticipants())
	s.joined.Store(true)

	s.lock.RLock()
	stopwatch := s.stopwatch
	s.lock.RUnlock()
	if stopwatch != nil {
		stopwatch.Mark("join")
		s.params.Logger.Infow("joined room",
			"participant", join.GetParticipant().GetSid(),
			"others", len(join.GetOtherParticipants()),
			"timing", stopwatch,
		)
	}
	s.lifecycle.Set(types.LifecycleJoined)
}

func (s *Session) OnParticipantUpdate(participants []*livekit.ParticipantInfo) {
	s.registry.Update(participants)
}

func (s *Session) OnLeave(leave *livekit.LeaveRequest) {
	s.canReconnect.Store(leave.GetCanReconnect())
}

// ---------------------------------------

func (s *Session) onPublishStateChanged(ref types.TrackRef, published bool) {
	if !published {
		s.dispatcher.OnTrackUnpublished(ref)
	}

	s.lock.RLock()
	sink := s.sink
	s.lock.RUnlock()
	if sink != nil {
		sink.OnPublishStateChanged(ref, published)
	}
}

func (s *Session) onTrackResolved(ref types.TrackRef, _ livekit.TrackID) {
	s.dispatcher.OnTrackResolved(ref)
}
