package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
)

// TransportService accepts the event stream of a transport SDK adapter for one room.
// The room is closed when the connection ends.
type TransportService struct {
	audio       config.AudioConfig
	roomManager *RoomManager
	upgrader    websocket.Upgrader
}

func NewTransportService(conf *config.Config, roomManager *RoomManager) *TransportService {
	s := &TransportService{
		audio:       conf.Audio,
		roomManager: roomManager,
		upgrader:    websocket.Upgrader{},
	}

	// adapters run next to the media SDK, not in browsers
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	return s
}

func (s *TransportService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := r.FormValue("room")
	room, err := s.roomManager.StartSession(roomName)
	switch {
	case errors.Is(err, ErrNoRoomName):
		handleError(w, r, http.StatusBadRequest, err)
		return
	case errors.Is(err, ErrRoomNotFound):
		handleError(w, r, http.StatusNotFound, err, "room", roomName)
		return
	case errors.Is(err, ErrSessionAlreadyActive):
		handleError(w, r, http.StatusConflict, err, "room", roomName)
		return
	case err != nil:
		handleError(w, r, http.StatusInternalServerError, err, "room", roomName)
		return
	}

	// upgrade only once the room is ready
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("could not upgrade to WS", err, "room", roomName)
		s.roomManager.EndSession(room)
		return
	}
	wsConn := NewWSConnection(conn)
	prometheus.AddConnection("transport")

	lgr := room.Logger()
	lgr.Infow("transport connected", "remote", r.RemoteAddr)
	defer func() {
		_ = wsConn.Close()
		prometheus.SubConnection("transport")
		s.roomManager.EndSession(room)
		lgr.Infow("transport disconnected")
	}()

	session := NewTransportSession(room, s.audio)
	for {
		msg, _, err := wsConn.ReadMessage()
		if err != nil {
			if IsWebSocketCloseError(err) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				// malformed JSON, keep the session going
				s.writeError(wsConn, err)
				continue
			}
			lgr.Warnw("error reading from websocket", err)
			return
		}
		if msg == nil {
			continue
		}

		if err := session.Handle(msg); err != nil {
			lgr.Debugw("transport message rejected", "error", err, "type", msg.Type)
			s.writeError(wsConn, err)
			continue
		}
		if msg.Type == MessageParticipantJoined {
			if _, err := wsConn.WriteMessage(&ServerMessage{Type: MessageAck}); err != nil {
				lgr.Warnw("error writing to websocket", err)
				return
			}
		}
	}
}

func (s *TransportService) writeError(conn *WSConnection, err error) {
	if _, werr := conn.WriteMessage(&ServerMessage{Type: MessageError, Error: err.Error()}); werr != nil {
		logger.Debugw("could not write error", "error", werr)
	}
}
