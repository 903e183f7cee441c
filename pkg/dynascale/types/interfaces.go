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

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// SessionAdapter is the calling client side of subscription management.
// RequestSubscription is fire-and-forget and must not block.
//
//counterfeiter:generate . SessionAdapter
type SessionAdapter interface {
	IsPublished(ref TrackRef) bool
	CurrentLifecycleState() LifecycleState
	RequestSubscription(kind TrackKind, patch SubscriptionPatch)
}
