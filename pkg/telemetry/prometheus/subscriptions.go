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

package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubscriptionActionSubscribe = "subscribe"
	SubscriptionActionClear     = "clear"

	SignalStatusSuccess = "success"
	SignalStatusFailure = "failure"
	SignalStatusDupe    = "dupe"
)

var (
	promSurfaces             *prometheus.GaugeVec
	promSubscriptionRequests *prometheus.CounterVec
	promStaleEvents          *prometheus.CounterVec
	promSignalRequests       *prometheus.CounterVec
	promLifecycleChanges     *prometheus.CounterVec
)

func initSubscriptionStats(nodeID string) {
	promSurfaces = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   dynascaleNamespace,
		Subsystem:   "surface",
		Name:        "mounted",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Number of mounted video surfaces.",
	}, []string{"kind"})
	promSubscriptionRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   dynascaleNamespace,
		Subsystem:   "subscription",
		Name:        "requests",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Subscription changes issued by the reconciler.",
	}, []string{"kind", "action"})
	promStaleEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   dynascaleNamespace,
		Subsystem:   "subscription",
		Name:        "stale_events",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Events received for surfaces that are not mounted.",
	}, []string{"event"})
	promSignalRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   dynascaleNamespace,
		Subsystem:   "signal",
		Name:        "track_settings",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Track setting updates sent to the SFU.",
	}, []string{"status"})
	promLifecycleChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   dynascaleNamespace,
		Subsystem:   "call",
		Name:        "lifecycle_changes",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"state"})

	prometheus.MustRegister(promSurfaces)
	prometheus.MustRegister(promSubscriptionRequests)
	prometheus.MustRegister(promStaleEvents)
	prometheus.MustRegister(promSignalRequests)
	prometheus.MustRegister(promLifecycleChanges)
}

func AddSurface(kind string, delta float64) {
	if !initialized.Load() {
		return
	}
	promSurfaces.WithLabelValues(kind).Add(delta)
}

func RecordSubscriptionRequest(kind string, action string) {
	if !initialized.Load() {
		return
	}
	promSubscriptionRequests.WithLabelValues(kind, action).Inc()
}

func RecordStaleEvent(event string) {
	if !initialized.Load() {
		return
	}
	promStaleEvents.WithLabelValues(event).Inc()
}

func RecordSignalRequest(status string) {
	if !initialized.Load() {
		return
	}
	promSignalRequests.WithLabelValues(status).Inc()
}

func RecordLifecycleChange(state string) {
	if !initialized.Load() {
		return
	}
	promLifecycleChanges.WithLabelValues(state).Inc()
}
