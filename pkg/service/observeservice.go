package service

import (
	"net/http"
	"time"

	"github.com/bep/debounce"
	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
)

const snapshotDebounce = 250 * time.Millisecond

// ObserveService streams room notifications to UI clients. A client gets the current snapshot
// on connect, every notification after that, and a fresh snapshot once a burst settles.
type ObserveService struct {
	roomManager *RoomManager
	upgrader    websocket.Upgrader
}

func NewObserveService(roomManager *RoomManager) *ObserveService {
	s := &ObserveService{
		roomManager: roomManager,
		upgrader:    websocket.Upgrader{},
	}
	// cors is handled by the middleware
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	return s
}

func (s *ObserveService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := r.FormValue("room")
	if roomName == "" {
		handleError(w, r, http.StatusBadRequest, ErrNoRoomName)
		return
	}
	room := s.roomManager.GetRoom(roomName)
	if room == nil {
		handleError(w, r, http.StatusNotFound, ErrRoomNotFound, "room", roomName)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("could not upgrade to WS", err, "room", roomName)
		return
	}
	wsConn := NewWSConnection(conn)
	prometheus.AddConnection("observe")
	lgr := room.Logger().WithValues("remote", r.RemoteAddr)
	lgr.Debugw("observer connected")

	if _, err := wsConn.WriteMessage(&ServerMessage{Type: MessageSnapshot, Snapshot: room.Snapshot()}); err != nil {
		lgr.Warnw("could not send snapshot", err)
		_ = wsConn.Close()
		prometheus.SubConnection("observe")
		return
	}

	debounced := debounce.New(snapshotDebounce)
	sub := room.Subscribe(func(n types.Notification) {
		if _, err := wsConn.WriteMessage(&ServerMessage{Type: MessageNotification, Notification: &n}); err != nil {
			lgr.Debugw("could not send notification", "error", err)
			return
		}
		debounced(func() {
			if room.IsClosed() {
				return
			}
			if _, err := wsConn.WriteMessage(&ServerMessage{Type: MessageSnapshot, Snapshot: room.Snapshot()}); err != nil {
				lgr.Debugw("could not send snapshot", "error", err)
			}
		})
	})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		// observers only send control frames, a read error means they left
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-readDone:
	case <-room.Done():
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"),
			time.Now().Add(pingTimeout),
		)
	}

	room.Unsubscribe(sub)
	debounced(func() {})
	_ = wsConn.Close()
	prometheus.SubConnection("observe")
	lgr.Debugw("observer disconnected")
}
