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

package replay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/dynascale/pkg/dynascale/types"
)

type EventType string

const (
	EventMount      EventType = "mount"
	EventUnmount    EventType = "unmount"
	EventGeometry   EventType = "geometry"
	EventVisibility EventType = "visibility"
	EventPublish    EventType = "publish"
	EventLifecycle  EventType = "lifecycle"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a scripted sequence of host and SFU events, optionally with the requests it must produce.
type Scenario struct {
	Name    string            `yaml:"name,omitempty"`
	Initial InitialState      `yaml:"initial,omitempty"`
	Events  []Event           `yaml:"events,omitempty"`
	Expect  []ExpectedRequest `yaml:"expect,omitempty"`
}

type InitialState struct {
	Lifecycle string `yaml:"lifecycle,omitempty"`
	// Published lists TrackRefs as session/kind.
	Published []string `yaml:"published,omitempty"`
}

type Event struct {
	Type      EventType `yaml:"type"`
	Session   string    `yaml:"session,omitempty"`
	Kind      string    `yaml:"kind,omitempty"`
	Width     float64   `yaml:"width,omitempty"`
	Height    float64   `yaml:"height,omitempty"`
	Visible   *bool     `yaml:"visible,omitempty"`
	Published *bool     `yaml:"published,omitempty"`
	State     string    `yaml:"state,omitempty"`
}

type ExpectedRequest struct {
	Session   string `yaml:"session"`
	Kind      string `yaml:"kind,omitempty"`
	Dimension string `yaml:"dimension"`
}

func ParseScenario(data []byte) (*Scenario, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var scenario Scenario
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Wrap(err, "could not parse scenario")
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func (s *Scenario) Validate() error {
	if s.Initial.Lifecycle != "" {
		if _, err := types.ParseLifecycleState(s.Initial.Lifecycle); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "initial lifecycle: %v", err)
		}
	}
	for _, published := range s.Initial.Published {
		if _, err := ParseTrackRef(published); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "initial published: %v", err)
		}
	}

	for i, e := range s.Events {
		if err := e.validate(); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "event %d: %v", i+1, err)
		}
	}

	for i, r := range s.Expect {
		if _, err := (Event{Session: r.Session, Kind: r.Kind}).trackRef(); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "expectation %d: %v", i+1, err)
		}
		if _, err := ParseDimension(r.Dimension); err != nil {
			return errors.Wrapf(ErrInvalidScenario, "expectation %d: %v", i+1, err)
		}
	}
	return nil
}

func (e Event) validate() error {
	switch e.Type {
	case EventLifecycle:
		_, err := types.ParseLifecycleState(e.State)
		return err
	case EventMount, EventUnmount:
	case EventGeometry:
		if e.Width < 0 || e.Height < 0 {
			return fmt.Errorf("negative size %vx%v", e.Width, e.Height)
		}
	case EventVisibility:
		if e.Visible == nil {
			return errors.New("visibility event needs visible")
		}
	case EventPublish:
		if e.Published == nil {
			return errors.New("publish event needs published")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	_, err := e.trackRef()
	return err
}

func (e Event) trackRef() (types.TrackRef, error) {
	if e.Session == "" {
		return types.TrackRef{}, errors.New("session is required")
	}
	kind := types.TrackKindVideo
	if e.Kind != "" {
		var err error
		if kind, err = types.ParseTrackKind(e.Kind); err != nil {
			return types.TrackRef{}, err
		}
	}
	return types.TrackRef{SessionID: livekit.ParticipantID(e.Session), Kind: kind}, nil
}

func (e Event) String() string {
	switch e.Type {
	case EventLifecycle:
		return fmt.Sprintf("lifecycle %s", e.State)
	case EventGeometry:
		return fmt.Sprintf("geometry %s/%s %vx%v", e.Session, e.kindName(), e.Width, e.Height)
	case EventVisibility:
		return fmt.Sprintf("visibility %s/%s %t", e.Session, e.kindName(), *e.Visible)
	case EventPublish:
		return fmt.Sprintf("publish %s/%s %t", e.Session, e.kindName(), *e.Published)
	default:
		return fmt.Sprintf("%s %s/%s", e.Type, e.Session, e.kindName())
	}
}

func (e Event) kindName() string {
	if e.Kind == "" {
		return types.TrackKindVideo.String()
	}
	return e.Kind
}

// ParseTrackRef reads a TrackRef written as session/kind, kind defaults to video.
func ParseTrackRef(s string) (types.TrackRef, error) {
	session, kind, _ := strings.Cut(s, "/")
	return Event{Session: session, Kind: kind}.trackRef()
}

// ParseDimension reads WIDTHxHEIGHT, or none for a cleared subscription.
func ParseDimension(s string) (*types.Dimension, error) {
	if s == "none" || s == "" {
		return nil, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return nil, fmt.Errorf("invalid dimension %q", s)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid dimension %q: %v", s, err)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid dimension %q: %v", s, err)
	}
	return &types.Dimension{Width: uint32(width), Height: uint32(height)}, nil
}
