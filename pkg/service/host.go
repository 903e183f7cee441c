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
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/dynascale"
	"github.com/livekit/dynascale/pkg/dynascale/types"
	"github.com/livekit/dynascale/pkg/session"
	"github.com/livekit/dynascale/pkg/utils"
)

type HostMessageType string

const (
	// host -> server
	HostMessageMount      HostMessageType = "mount"
	HostMessageUnmount    HostMessageType = "unmount"
	HostMessageGeometry   HostMessageType = "geometry"
	HostMessageVisibility HostMessageType = "visibility"
	HostMessageOverride   HostMessageType = "override"
	HostMessageIntent     HostMessageType = "intent"
	HostMessageSync       HostMessageType = "sync"

	// server -> host
	HostMessageSynced  HostMessageType = "synced"
	HostMessageMeasure HostMessageType = "measure"
	HostMessageError   HostMessageType = "error"
)

const hostSyncTimeout = 5 * time.Second

var (
	ErrUnknownMessageType = errors.New("unknown host message type")
	ErrMissingSessionID   = errors.New("session_id is required")
	ErrMissingVisibility  = errors.New("visible is required")
)

// HostMessage is the JSON frame exchanged with a rendering host over /host.
type HostMessage struct {
	Type       HostMessageType `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Width      float64         `json:"width,omitempty"`
	Height     float64         `json:"height,omitempty"`
	Visible    *bool           `json:"visible,omitempty"`
	Disabled   bool            `json:"disabled,omitempty"`
	SessionIDs []string        `json:"session_ids,omitempty"`

	// set on intent replies
	Committed *types.Dimension `json:"committed,omitempty"`
	Pending   *types.Dimension `json:"pending,omitempty"`
	Mounted   bool             `json:"mounted,omitempty"`

	Error string `json:"error,omitempty"`
}

type VideoOverrider interface {
	SetVideoOverride(override *session.VideoOverride, sessionIDs ...livekit.ParticipantID)
}

// HostService accepts rendering hosts over websocket. Each host reports surface mounts,
// sizes and visibility. Hosts may show the same surface, it is unmounted once the last of them
// unmounts it or disconnects.
type HostService struct {
	manager   *dynascale.Manager
	overrider VideoOverrider
	registry  *HostRegistry
	upgrader  websocket.Upgrader
	logger    logger.Logger

	lock   sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewHostService(manager *dynascale.Manager, overrider VideoOverrider, registry *HostRegistry) *HostService {
	s := &HostService{
		manager:   manager,
		overrider: overrider,
		registry:  registry,
		logger:    logger.GetLogger().WithValues("service", "host"),
		conns:     make(map[*websocket.Conn]struct{}),
	}
	// hosts are typically browser based and served from anywhere
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	return s
}

func (s *HostService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	closed := s.closed
	s.lock.Unlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("could not upgrade host connection", err)
		return
	}

	s.lock.Lock()
	s.conns[conn] = struct{}{}
	s.lock.Unlock()

	hc := newHostConn(s, conn)
	defer func() {
		hc.unmountAll()
		<-hc.writes.Stop()
		s.lock.Lock()
		delete(s.conns, conn)
		s.lock.Unlock()
		_ = conn.Close()
	}()

	s.logger.Infow("host connected", "remote", r.RemoteAddr)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("host connection ended", "error", err)
			}
			return
		}

		if reply := hc.handlePayload(payload); reply != nil {
			hc.send(reply)
		}
	}
}

func (s *HostService) Close() {
	s.lock.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.lock.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, conn := range conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadline,
		)
		_ = conn.Close()
	}
}

// -------------------------------------------------------

// hostConn holds the surfaces one host has mounted. Every frame to the host goes through writes,
// the websocket allows a single writer.
type hostConn struct {
	service *HostService
	conn    *websocket.Conn
	writes  *utils.OpsQueue
	mounted map[types.TrackRef]struct{}
}

func newHostConn(service *HostService, conn *websocket.Conn) *hostConn {
	c := &hostConn{
		service: service,
		conn:    conn,
		mounted: make(map[types.TrackRef]struct{}),
	}
	if conn != nil {
		c.writes = utils.NewOpsQueue(utils.OpsQueueParams{
			Name:        "host-writes",
			MinSize:     16,
			FlushOnStop: true,
			Logger:      service.logger,
		})
		c.writes.Start()
	}
	return c
}

func (c *hostConn) send(msg *HostMessage) {
	if c.writes == nil {
		return
	}
	c.writes.Enqueue(func() {
		if err := c.conn.WriteJSON(msg); err != nil {
			c.service.logger.Warnw("could not write to host", err, "type", msg.Type)
			// ends the read loop
			_ = c.conn.Close()
		}
	})
}

func (c *hostConn) handlePayload(payload []byte) *HostMessage {
	msg := &HostMessage{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return errorReply(errors.Wrap(err, "invalid host message"))
	}
	reply, err := c.handleMessage(msg)
	if err != nil {
		c.service.logger.Debugw("rejected host message", "type", msg.Type, "error", err)
		return errorReply(err)
	}
	return reply
}

func (c *hostConn) handleMessage(msg *HostMessage) (*HostMessage, error) {
	switch msg.Type {
	case HostMessageMount:
		ref, err := msg.trackRef()
		if err != nil {
			return nil, err
		}
		if _, ok := c.mounted[ref]; !ok {
			if err := c.service.manager.Mount(ref); err != nil {
				return nil, err
			}
			c.mounted[ref] = struct{}{}
			c.service.registry.add(ref, c)
		}
		// a hidden surface must not subscribe on its first size
		if msg.Visible != nil {
			c.service.manager.OnVisibilityChanged(ref, types.VisibilityFromBool(*msg.Visible))
		}
		if msg.Width > 0 || msg.Height > 0 {
			c.service.manager.OnGeometryMeasured(ref, msg.Width, msg.Height)
		}

	case HostMessageUnmount:
		ref, err := msg.trackRef()
		if err != nil {
			return nil, err
		}
		c.unmount(ref)

	case HostMessageGeometry:
		ref, err := msg.trackRef()
		if err != nil {
			return nil, err
		}
		c.service.manager.OnGeometryMeasured(ref, msg.Width, msg.Height)

	case HostMessageVisibility:
		ref, err := msg.trackRef()
		if err != nil {
			return nil, err
		}
		if msg.Visible == nil {
			return nil, ErrMissingVisibility
		}
		c.service.manager.OnVisibilityChanged(ref, types.VisibilityFromBool(*msg.Visible))

	case HostMessageOverride:
		override := &session.VideoOverride{
			Disabled:  msg.Disabled,
			Dimension: types.NewDimension(msg.Width, msg.Height),
		}
		sessionIDs := make([]livekit.ParticipantID, 0, len(msg.SessionIDs))
		for _, id := range msg.SessionIDs {
			sessionIDs = append(sessionIDs, livekit.ParticipantID(id))
		}
		c.service.overrider.SetVideoOverride(override, sessionIDs...)

	case HostMessageIntent:
		ref, err := msg.trackRef()
		if err != nil {
			return nil, err
		}
		intent, ok := c.service.manager.Intent(ref)
		return &HostMessage{
			Type:      HostMessageIntent,
			SessionID: string(ref.SessionID),
			Kind:      ref.Kind.String(),
			Committed: intent.Committed,
			Pending:   intent.Pending,
			Mounted:   ok,
		}, nil

	case HostMessageSync:
		ctx, cancel := context.WithTimeout(context.Background(), hostSyncTimeout)
		defer cancel()
		if err := c.service.manager.Sync(ctx); err != nil {
			return nil, err
		}
		return &HostMessage{Type: HostMessageSynced}, nil

	default:
		return nil, errors.Wrapf(ErrUnknownMessageType, "%q", msg.Type)
	}
	return nil, nil
}

// unmount releases ref if this host mounted it. Other hosts showing it keep it mounted.
func (c *hostConn) unmount(ref types.TrackRef) {
	if _, ok := c.mounted[ref]; !ok {
		return
	}
	delete(c.mounted, ref)
	c.service.registry.remove(ref, c)
	c.service.manager.Unmount(ref)
}

func (c *hostConn) unmountAll() {
	for ref := range c.mounted {
		c.unmount(ref)
	}
}

func (m *HostMessage) trackRef() (types.TrackRef, error) {
	if m.SessionID == "" {
		return types.TrackRef{}, ErrMissingSessionID
	}
	kind, err := types.ParseTrackKind(m.Kind)
	if err != nil {
		return types.TrackRef{}, err
	}
	return types.TrackRef{SessionID: livekit.ParticipantID(m.SessionID), Kind: kind}, nil
}

func errorReply(err error) *HostMessage {
	return &HostMessage{Type: HostMessageError, Error: err.Error()}
}
