package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

const (
	EventPrimarySpeakerChanged = "primary_speaker_changed"
	EventRoomFinished          = "room_finished"

	defaultWebhookTimeout = 5 * time.Second
)

type WebhookEvent struct {
	Event          string                `json:"event"`
	Room           string                `json:"room"`
	Seq            uint64                `json:"seq,omitempty"`
	PrimarySpeaker types.ParticipantID   `json:"primary_speaker,omitempty"`
	ActiveSpeakers []types.ParticipantID `json:"active_speakers,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// WebhookNotifier posts room events to the configured URLs. Events are sent one at a time in
// the order they happened, off the room's delivery path.
type WebhookNotifier struct {
	urls   []string
	client *http.Client

	// guards pool submissions against Stop
	lock    sync.Mutex
	pool    *workerpool.WorkerPool
	stopped core.Fuse
}

func NewWebhookNotifier(conf config.WebHookConfig) *WebhookNotifier {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		urls:   conf.URLs,
		client: &http.Client{Timeout: timeout},
		pool:   workerpool.New(1),
	}
}

func (w *WebhookNotifier) Enabled() bool {
	return len(w.urls) > 0
}

// Watch subscribes to room, the subscription ends with the room
func (w *WebhookNotifier) Watch(room *rtc.Room) {
	if !w.Enabled() {
		return
	}

	name := room.Name()
	room.Subscribe(func(n types.Notification) {
		if !n.PrimarySpeakerChanged {
			return
		}
		w.Notify(&WebhookEvent{
			Event:          EventPrimarySpeakerChanged,
			Room:           name,
			Seq:            n.Seq,
			PrimarySpeaker: n.PrimarySpeaker,
			ActiveSpeakers: n.ActiveSpeakers,
			CreatedAt:      n.Time,
		})
	})
	room.OnClose(func(r *rtc.Room) {
		w.Notify(&WebhookEvent{
			Event:     EventRoomFinished,
			Room:      name,
			CreatedAt: time.Now(),
		})
	})
}

// Notify queues event for every URL
func (w *WebhookNotifier) Notify(event *WebhookEvent) {
	if !w.Enabled() {
		return
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	if w.stopped.IsBroken() {
		return
	}
	w.pool.Submit(func() {
		for _, url := range w.urls {
			if err := w.send(url, event); err != nil {
				logger.Warnw("could not send webhook", err, "url", url, "event", event.Event, "room", event.Room)
			}
		}
	})
}

func (w *WebhookNotifier) send(url string, event *WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", res.Status)
	}
	return nil
}

// Stop sends queued events, then stops. Events notified afterwards are dropped.
func (w *WebhookNotifier) Stop() {
	w.lock.Lock()
	w.stopped.Break()
	w.lock.Unlock()

	w.pool.StopWait()
}
