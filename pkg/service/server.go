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
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/frostbyte73/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/dynascale/pkg/config"
	"github.com/livekit/dynascale/pkg/dynascale"
	"github.com/livekit/dynascale/pkg/session"
	"github.com/livekit/dynascale/version"
)

var ErrAlreadyStarted = errors.New("server can only be started once")

type DynascaleServer struct {
	config      *config.Config
	session     *session.Session
	manager     *dynascale.Manager
	hostService *HostService
	httpServer  *http.Server
	promServer  *http.Server
	started     atomic.Bool
	running     atomic.Bool
	doneChan    chan struct{}
	closedChan  core.Fuse
	unbind      func()
}

func NewDynascaleServer(
	conf *config.Config,
	sess *session.Session,
	manager *dynascale.Manager,
	hostService *HostService,
) (*DynascaleServer, error) {
	s := &DynascaleServer{
		config:      conf,
		session:     sess,
		manager:     manager,
		hostService: hostService,
		doneChan:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/host", hostService)
	mux.HandleFunc("/healthz", s.healthCheck)
	if conf.PrometheusPort == 0 {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, defaultMiddlewares()...),
	}

	if conf.PrometheusPort > 0 {
		s.promServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", conf.PrometheusPort),
			Handler: promhttp.Handler(),
		}
	}

	s.unbind = sess.Bind(manager)
	return s, nil
}

func (s *DynascaleServer) IsRunning() bool {
	return s.running.Load()
}

func (s *DynascaleServer) Start() error {
	if s.started.Swap(true) {
		return ErrAlreadyStarted
	}
	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.doneChan)

	addresses := s.config.BindAddresses
	if len(addresses) == 0 {
		addresses = []string{""}
	}

	// ensure we could listen
	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", net.JoinHostPort(addr, strconv.Itoa(int(s.config.Port))))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
	}

	var promListener net.Listener
	if s.promServer != nil {
		ln, err := net.Listen("tcp", s.promServer.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return err
		}
		promListener = ln
	}

	logger.Infow("starting dynascale server",
		"version", version.Version,
		"addresses", addresses,
		"port", s.config.Port,
		"nodeID", s.config.NodeID,
		"signalURL", s.config.Signal.URL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		eg.Go(func() error {
			if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if promListener != nil {
		eg.Go(func() error {
			if err := s.promServer.Serve(promListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		// the server has nothing to reconcile once the session is gone
		defer s.closedChan.Break()
		return s.session.Run(egCtx)
	})
	eg.Go(func() error {
		select {
		case <-s.closedChan.Watch():
		case <-egCtx.Done():
		}
		cancel()
		s.shutdown()
		return nil
	})

	err := eg.Wait()
	if err != nil {
		logger.Errorw("dynascale server stopped", err)
		return err
	}
	logger.Infow("dynascale server stopped")
	return nil
}

// Stop shuts the server down. Unless force is set, pending subscription updates are sent first.
func (s *DynascaleServer) Stop(force bool) {
	if !s.running.Load() || s.closedChan.IsBroken() {
		return
	}
	if !force {
		if err := s.manager.Sync(context.Background()); err != nil {
			logger.Warnw("could not drain reconcilers", err)
		}
		s.session.Flush()
	}
	s.closedChan.Break()
	<-s.doneChan
}

func (s *DynascaleServer) shutdown() {
	s.hostService.Close()
	s.unbind()
	s.manager.Stop()
	s.session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
	if s.promServer != nil {
		_ = s.promServer.Shutdown(ctx)
	}
}

func (s *DynascaleServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if !s.running.Load() || s.closedChan.IsBroken() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.session.CurrentLifecycleState()))
}

func defaultMiddlewares() []negroni.Handler {
	return []negroni.Handler{
		// always the first
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowOriginFunc: func(origin string) bool {
				return true
			},
			AllowedHeaders: []string{"*"},
		}),
	}
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
