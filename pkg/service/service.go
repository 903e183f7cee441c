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
	"github.com/google/wire"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/config"
	"github.com/livekit/dynascale/pkg/dynascale"
	"github.com/livekit/dynascale/pkg/session"
)

var ServiceSet = wire.NewSet(
	NewSession,
	NewHostRegistry,
	NewManager,
	NewHostService,
	wire.Bind(new(VideoOverrider), new(*session.Session)),
	NewDynascaleServer,
)

func NewSession(conf *config.Config) *session.Session {
	return session.NewSession(session.SessionParams{
		Signal: session.SignalClientParams{
			URL:          conf.Signal.URL,
			Token:        conf.Signal.Token,
			WriteTimeout: conf.Signal.WriteTimeout,
			Logger:       logger.GetLogger().WithValues("component", "signal"),
		},
		Debounce:          conf.Dispatcher,
		ReconnectAttempts: conf.Signal.ReconnectAttempts,
		ReconnectBackoff:  conf.Signal.ReconnectBackoff,
		Logger:            logger.GetLogger().WithValues("component", "session"),
	})
}

func NewManager(conf *config.Config, sess *session.Session, registry *HostRegistry) *dynascale.Manager {
	return dynascale.NewManager(dynascale.ManagerParams{
		Adapter:   sess,
		Workers:   conf.Reconciler.Workers,
		QueueSize: uint(conf.Reconciler.QueueSize),
		Measurer:  registry.RequestMeasure,
		Logger:    logger.GetLogger().WithValues("component", "dynascale"),
	})
}
