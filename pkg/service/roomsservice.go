package service

import (
	"net/http"
	"strings"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

type RoomInfo struct {
	Name            string              `json:"name"`
	NumParticipants int                 `json:"num_participants"`
	PrimarySpeaker  types.ParticipantID `json:"primary_speaker,omitempty"`
	Seq             uint64              `json:"seq"`
}

// RoomsService serves read-only room state, GET /rooms and GET /rooms/{name}
type RoomsService struct {
	roomManager *RoomManager
}

func NewRoomsService(roomManager *RoomManager) *RoomsService {
	return &RoomsService{roomManager: roomManager}
}

func (s *RoomsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rooms"), "/")
	if name == "" {
		s.listRooms(w)
		return
	}

	room := s.roomManager.GetRoom(name)
	if room == nil {
		handleError(w, r, http.StatusNotFound, ErrRoomNotFound, "room", name)
		return
	}
	writeJSON(w, room.Snapshot())
}

func (s *RoomsService) listRooms(w http.ResponseWriter) {
	rooms := s.roomManager.ListRooms()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		snapshot := room.Snapshot()
		infos = append(infos, RoomInfo{
			Name:            room.Name(),
			NumParticipants: len(snapshot.Participants),
			PrimarySpeaker:  snapshot.PrimarySpeaker,
			Seq:             snapshot.Seq,
		})
	}
	writeJSON(w, infos)
}
