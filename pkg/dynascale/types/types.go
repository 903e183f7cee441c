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

package types

import (
	"fmt"
	"math"

	"github.com/livekit/protocol/livekit"
)

type TrackKind int

const (
	TrackKindVideo TrackKind = iota
	TrackKindScreenShare
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindVideo:
		return "video"
	case TrackKindScreenShare:
		return "screen_share"
	default:
		return fmt.Sprintf("%d", int(k))
	}
}

func ParseTrackKind(s string) (TrackKind, error) {
	switch s {
	case "video", "videoTrack", "camera":
		return TrackKindVideo, nil
	case "screen_share", "screenShare", "screenShareTrack":
		return TrackKindScreenShare, nil
	default:
		return 0, fmt.Errorf("unknown track kind: %q", s)
	}
}

// TrackRef identifies a renderable media source. It is immutable for the lifetime of a surface.
type TrackRef struct {
	SessionID livekit.ParticipantID
	Kind      TrackKind
}

func (r TrackRef) String() string {
	return fmt.Sprintf("%s/%s", r.SessionID, r.Kind)
}

// -------------------------------------------------------

// Dimension is a surface size in device pixels.
type Dimension struct {
	Width  uint32 `yaml:"width" json:"width"`
	Height uint32 `yaml:"height" json:"height"`
}

// NewDimension truncates a measured size towards zero. Negative and NaN components become 0.
func NewDimension(width, height float64) Dimension {
	return Dimension{
		Width:  truncate(width),
		Height: truncate(height),
	}
}

func truncate(v float64) uint32 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(math.Trunc(v))
}

// IsZero reports whether the surface has no renderable area.
func (d Dimension) IsZero() bool {
	return d.Width == 0 || d.Height == 0
}

func (d Dimension) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// DimensionPtr returns a pointer to a copy of d.
func DimensionPtr(d Dimension) *Dimension {
	return &d
}

// CloneDimension copies an optional dimension.
func CloneDimension(d *Dimension) *Dimension {
	if d == nil {
		return nil
	}
	return DimensionPtr(*d)
}

// EqualDimensions compares two optional dimensions. Two absent values are equal.
func EqualDimensions(a, b *Dimension) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func FormatDimension(d *Dimension) string {
	if d == nil {
		return "none"
	}
	return d.String()
}

// -------------------------------------------------------

type Visibility int

const (
	VisibilityVisible Visibility = iota
	VisibilityInvisible
)

func (v Visibility) String() string {
	if v == VisibilityInvisible {
		return "invisible"
	}
	return "visible"
}

func VisibilityFromBool(visible bool) Visibility {
	if visible {
		return VisibilityVisible
	}
	return VisibilityInvisible
}

// -------------------------------------------------------

type LifecycleState string

const (
	LifecycleUnknown            LifecycleState = "unknown"
	LifecycleIdle               LifecycleState = "idle"
	LifecycleRinging            LifecycleState = "ringing"
	LifecycleJoining            LifecycleState = "joining"
	LifecycleJoined             LifecycleState = "joined"
	LifecycleLeft               LifecycleState = "left"
	LifecycleReconnecting       LifecycleState = "reconnecting"
	LifecycleMigrating          LifecycleState = "migrating"
	LifecycleReconnectingFailed LifecycleState = "reconnecting-failed"
	LifecycleOffline            LifecycleState = "offline"
)

var lifecycleStates = map[LifecycleState]struct{}{
	LifecycleUnknown:            {},
	LifecycleIdle:               {},
	LifecycleRinging:            {},
	LifecycleJoining:            {},
	LifecycleJoined:             {},
	LifecycleLeft:               {},
	LifecycleReconnecting:       {},
	LifecycleMigrating:          {},
	LifecycleReconnectingFailed: {},
	LifecycleOffline:            {},
}

func ParseLifecycleState(s string) (LifecycleState, error) {
	state := LifecycleState(s)
	if _, ok := lifecycleStates[state]; !ok {
		return LifecycleUnknown, fmt.Errorf("unknown lifecycle state: %q", s)
	}
	return state, nil
}

func (s LifecycleState) IsJoined() bool {
	return s == LifecycleJoined
}

// -------------------------------------------------------

// Intent is the subscription bookkeeping of a single TrackRef.
// Committed is what is believed to be subscribed, Pending is remembered until preconditions hold.
type Intent struct {
	Committed *Dimension
	Pending   *Dimension
}

func (i Intent) String() string {
	return fmt.Sprintf("committed: %s, pending: %s", FormatDimension(i.Committed), FormatDimension(i.Pending))
}

// SubscriptionPatch maps a session to its desired dimension. A nil dimension clears the subscription.
// Sessions not listed are left untouched.
type SubscriptionPatch map[livekit.ParticipantID]*Dimension
