package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/testutils"
)

type webhookRecorder struct {
	lock   sync.Mutex
	events []WebhookEvent
}

func (r *webhookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var event WebhookEvent
	if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.lock.Lock()
	r.events = append(r.events, event)
	r.lock.Unlock()
}

func (r *webhookRecorder) get() []WebhookEvent {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]WebhookEvent(nil), r.events...)
}

func TestWebhookNotifier(t *testing.T) {
	t.Run("posts primary speaker changes", func(t *testing.T) {
		recorder := &webhookRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		notifier := NewWebhookNotifier(config.WebHookConfig{URLs: []string{server.URL}})
		defer notifier.Stop()

		room := rtc.NewRoom(rtc.RoomParams{
			Name:  "webhook",
			Audio: config.AudioConfig{ActiveThreshold: 0.1},
			Room:  config.RoomConfig{SubscriberQueueSize: 16},
		})
		notifier.Watch(room)

		require.NoError(t, room.OnParticipantJoined(&types.Participant{ID: "L", IsLocal: true}))
		require.NoError(t, room.OnParticipantJoined(&types.Participant{ID: "A"}))
		require.NoError(t, room.OnParticipantJoined(&types.Participant{ID: "B"}))
		room.OnAudioLevel("B", 0.5, time.Now())
		require.NoError(t, room.Sync(testutils.Context(t)))

		testutils.WithTimeout(t, func() string {
			if len(recorder.get()) < 3 {
				return "webhooks not received"
			}
			return ""
		})
		events := recorder.get()
		// L, then A as first remote, then B speaking
		require.Equal(t, types.ParticipantID("L"), events[0].PrimarySpeaker)
		require.Equal(t, types.ParticipantID("A"), events[1].PrimarySpeaker)
		require.Equal(t, types.ParticipantID("B"), events[2].PrimarySpeaker)
		require.Equal(t, EventPrimarySpeakerChanged, events[2].Event)
		require.Equal(t, "webhook", events[2].Room)

		room.Close()
		testutils.WithTimeout(t, func() string {
			events := recorder.get()
			if events[len(events)-1].Event != EventRoomFinished {
				return "room finished not received"
			}
			return ""
		})
	})

	t.Run("disabled without urls", func(t *testing.T) {
		notifier := NewWebhookNotifier(config.WebHookConfig{})
		defer notifier.Stop()

		room := rtc.NewRoom(rtc.RoomParams{Name: "quiet"})
		defer room.Close()
		notifier.Watch(room)
		require.False(t, notifier.Enabled())
		require.Zero(t, room.NumSubscribers())
	})

	t.Run("failed requests do not block", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		notifier := NewWebhookNotifier(config.WebHookConfig{URLs: []string{server.URL}, Timeout: time.Second})
		for i := 0; i < 3; i++ {
			notifier.Notify(&WebhookEvent{Event: EventRoomFinished, Room: "r"})
		}
		notifier.Stop()
	})

	t.Run("rooms closing during stop", func(t *testing.T) {
		recorder := &webhookRecorder{}
		server := httptest.NewServer(recorder)
		defer server.Close()

		notifier := NewWebhookNotifier(config.WebHookConfig{URLs: []string{server.URL}})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			room := rtc.NewRoom(rtc.RoomParams{Name: "closing"})
			notifier.Watch(room)
			wg.Add(1)
			go func() {
				defer wg.Done()
				room.Close()
			}()
		}
		notifier.Stop()
		wg.Wait()

		// late events are dropped
		sent := len(recorder.get())
		notifier.Notify(&WebhookEvent{Event: EventRoomFinished, Room: "late"})
		require.LessOrEqual(t, sent, 8)
		require.Len(t, recorder.get(), sent)
	})
}
