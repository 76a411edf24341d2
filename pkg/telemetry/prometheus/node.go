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
	"go.uber.org/atomic"
)

const (
	namespace string = "roomcoord"
)

var (
	initialized atomic.Bool

	MessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "messages",
			Help:      "Transport messages received, by type and status.",
		},
		[]string{"type", "status"},
	)

	promConnectionsCurrent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "connections",
			Help:      "Open websocket connections, by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Init registers every collector with the default registry, labelled with nodeID.
// Collectors can be updated before Init, they are created at package load.
func Init(nodeID string) {
	if initialized.Swap(true) {
		return
	}

	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"node_id": nodeID}, prometheus.DefaultRegisterer)
	registerer.MustRegister(MessageCounter)
	registerer.MustRegister(promConnectionsCurrent)

	initRoomStats(registerer)
}

func AddConnection(endpoint string) {
	promConnectionsCurrent.WithLabelValues(endpoint).Inc()
}

func SubConnection(endpoint string) {
	promConnectionsCurrent.WithLabelValues(endpoint).Dec()
}
