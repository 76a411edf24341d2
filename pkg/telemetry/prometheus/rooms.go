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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	roomCurrent           atomic.Int32
	participantCurrent    atomic.Int32
	trackPublishedCurrent atomic.Int32
	queueOverflowTotal    atomic.Uint64
	staleEventTotal       atomic.Uint64

	promRoomCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "total",
	})
	promRoomDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "duration_seconds",
		Buckets: []float64{
			5, 10, 60, 5 * 60, 10 * 60, 30 * 60, 60 * 60, 2 * 60 * 60, 5 * 60 * 60, 10 * 60 * 60,
		},
	})
	promParticipantCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "participant",
		Name:      "total",
	})
	promTrackPublishedCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "track",
		Name:      "published_total",
	}, []string{"source"})
	promNotificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "notifications",
	}, []string{"cause"})
	promPrimarySpeakerChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "speaker",
		Name:      "primary_changes",
	})
	promQueueOverflow = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "subscriber_queue_overflow",
		Help:      "Notifications dropped because a subscriber queue was full.",
	})
	promStaleEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "stale_events_dropped",
		Help:      "Transport events dropped because their participant already left.",
	}, []string{"event"})
)

func initRoomStats(registerer prometheus.Registerer) {
	registerer.MustRegister(promRoomCurrent)
	registerer.MustRegister(promRoomDuration)
	registerer.MustRegister(promParticipantCurrent)
	registerer.MustRegister(promTrackPublishedCurrent)
	registerer.MustRegister(promNotificationCounter)
	registerer.MustRegister(promPrimarySpeakerChanges)
	registerer.MustRegister(promQueueOverflow)
	registerer.MustRegister(promStaleEvents)
}

func RoomStarted() {
	promRoomCurrent.Add(1)
	roomCurrent.Inc()
}

func RoomEnded(startedAt time.Time) {
	if !startedAt.IsZero() {
		promRoomDuration.Observe(float64(time.Since(startedAt)) / float64(time.Second))
	}
	promRoomCurrent.Sub(1)
	roomCurrent.Dec()
}

func AddParticipant() {
	promParticipantCurrent.Add(1)
	participantCurrent.Inc()
}

func SubParticipant() {
	promParticipantCurrent.Sub(1)
	participantCurrent.Dec()
}

func AddPublishedTrack(source string) {
	promTrackPublishedCurrent.WithLabelValues(source).Add(1)
	trackPublishedCurrent.Inc()
}

func SubPublishedTrack(source string) {
	promTrackPublishedCurrent.WithLabelValues(source).Sub(1)
	trackPublishedCurrent.Dec()
}

func NotificationPublished(cause string) {
	promNotificationCounter.WithLabelValues(cause).Inc()
}

func PrimarySpeakerChanged() {
	promPrimarySpeakerChanges.Inc()
}

func SubscriberQueueOverflow() {
	promQueueOverflow.Inc()
	queueOverflowTotal.Inc()
}

func StaleEventDropped(event string) {
	promStaleEvents.WithLabelValues(event).Inc()
	staleEventTotal.Inc()
}

type RoomStats struct {
	Rooms               int32
	Participants        int32
	PublishedTracks     int32
	SubscriberOverflows uint64
	StaleEventsDropped  uint64
}

// GetRoomStats returns process-wide counters without going through the registry
func GetRoomStats() RoomStats {
	return RoomStats{
		Rooms:               roomCurrent.Load(),
		Participants:        participantCurrent.Load(),
		PublishedTracks:     trackPublishedCurrent.Load(),
		SubscriberOverflows: queueOverflowTotal.Load(),
		StaleEventsDropped:  staleEventTotal.Load(),
	}
}
