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
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
)

const (
	signalPath            = "/rtc"
	signalProtocolVersion = 9
	defaultWriteTimeout   = 5 * time.Second
)

var (
	ErrSignalClosed       = errors.New("signal connection closed")
	ErrUnexpectedResponse = errors.New("unexpected signal message type")
)

// SignalHandler receives the SFU responses the session cares about.
type SignalHandler interface {
	OnJoin(join *livekit.JoinResponse)
	OnParticipantUpdate(participants []*livekit.ParticipantInfo)
	OnLeave(leave *livekit.LeaveRequest)
}

type SignalClientParams struct {
	URL          string
	Token        string
	WriteTimeout time.Duration
	Logger       logger.Logger
}

// SignalClient speaks protobuf over a websocket to the SFU.
type SignalClient struct {
	params SignalClientParams
	conn   *websocket.Conn
	wsLock sync.Mutex
	closed core.Fuse
}

func NewSignalURL(host string) (string, error) {
	u, err := url.Parse(host + signalPath)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("protocol", fmt.Sprintf("%d", signalProtocolVersion))
	q.Set("auto_subscribe", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func SetAuthorizationToken(header http.Header, token string) {
	header.Set("Authorization", "Bearer "+token)
}

func DialSignalClient(ctx context.Context, params SignalClientParams) (*SignalClient, error) {
	connectURL, err := NewSignalURL(params.URL)
	if err != nil {
		return nil, err
	}
	requestHeader := make(http.Header)
	SetAuthorizationToken(requestHeader, params.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, requestHeader)
	if err != nil {
		return nil, err
	}
	return NewSignalClient(conn, params), nil
}

func NewSignalClient(conn *websocket.Conn, params SignalClientParams) *SignalClient {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.WriteTimeout <= 0 {
		params.WriteTimeout = defaultWriteTimeout
	}
	return &SignalClient{
		params: params,
		conn:   conn,
	}
}

// Run reads responses until the connection ends. It returns nil when the SFU asked to leave or Close was called.
func (c *SignalClient) Run(handler SignalHandler) error {
	c.conn.SetCloseHandler(func(code int, text string) error {
		c.params.Logger.Infow("signal connection closed", "code", code, "text", text)
		c.Close()
		return nil
	})

	for {
		res, err := c.ReadResponse()
		if err != nil {
			if c.closed.IsBroken() {
				return nil
			}
			return err
		}

		switch msg := res.Message.(type) {
		case *livekit.SignalResponse_Join:
			c.params.Logger.Infow("joined",
				"participant", msg.Join.GetParticipant().GetIdentity(),
				"others", len(msg.Join.GetOtherParticipants()),
			)
			handler.OnJoin(msg.Join)
		case *livekit.SignalResponse_Update:
			handler.OnParticipantUpdate(msg.Update.GetParticipants())
		case *livekit.SignalResponse_Leave:
			c.params.Logger.Infow("server requested leave", "reason", msg.Leave.GetReason())
			handler.OnLeave(msg.Leave)
			c.Close()
			return nil
		}
	}
}

func (c *SignalClient) ReadResponse() (*livekit.SignalResponse, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		msg := &livekit.SignalResponse{}
		switch messageType {
		case websocket.PingMessage:
			_ = c.writeMessage(websocket.PongMessage, nil)
			continue
		case websocket.BinaryMessage:
			err := proto.Unmarshal(payload, msg)
			return msg, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, messageType)
		}
	}
}

func (c *SignalClient) SendRequest(req *livekit.SignalRequest) error {
	if c.closed.IsBroken() {
		return ErrSignalClosed
	}

	payload, err := proto.Marshal(req)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.BinaryMessage, payload)
}

func (c *SignalClient) Close() {
	if c.closed.IsBroken() {
		return
	}
	c.closed.Break()

	c.wsLock.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.params.WriteTimeout),
	)
	c.wsLock.Unlock()
	_ = c.conn.Close()
}

func (c *SignalClient) Closed() <-chan struct{} {
	return c.closed.Watch()
}

func (c *SignalClient) writeMessage(messageType int, payload []byte) error {
	c.wsLock.Lock()
	defer c.wsLock.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, payload)
}
