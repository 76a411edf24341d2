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
	"sort"
	"sync"

	"github.com/thoas/go-funk"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc"
	"github.com/livekit/room-coordinator/pkg/telemetry"
)

// RoomManager keeps the rooms hosted by this process. A room lives as long as its transport session.
type RoomManager struct {
	config   *config.Config
	webhooks *telemetry.WebhookNotifier

	lock  sync.RWMutex
	rooms map[string]*rtc.Room
	// room name to the room its transport session is bound to
	sessions map[string]*rtc.Room
}

func NewRoomManager(conf *config.Config, webhooks *telemetry.WebhookNotifier) *RoomManager {
	return &RoomManager{
		config:   conf,
		webhooks: webhooks,
		rooms:    make(map[string]*rtc.Room),
		sessions: make(map[string]*rtc.Room),
	}
}

func (r *RoomManager) GetRoom(name string) *rtc.Room {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.rooms[name]
}

// ListRooms returns open rooms sorted by name
func (r *RoomManager) ListRooms() []*rtc.Room {
	r.lock.RLock()
	rooms := funk.Values(r.rooms).([]*rtc.Room)
	r.lock.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name() < rooms[j].Name() })
	return rooms
}

// GetOrCreateRoom returns the named room, creating it when auto_create is enabled
func (r *RoomManager) GetOrCreateRoom(name string) (*rtc.Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.getOrCreateRoomLocked(name)
}

func (r *RoomManager) getOrCreateRoomLocked(name string) (*rtc.Room, error) {
	if name == "" {
		return nil, ErrNoRoomName
	}
	// a closing room is replaced, its close callback leaves the new one alone
	if room := r.rooms[name]; room != nil && !room.IsClosed() {
		return room, nil
	}
	if !r.config.Room.AutoCreate {
		return nil, ErrRoomNotFound
	}

	room := rtc.NewRoom(rtc.RoomParams{
		Name:   name,
		Audio:  r.config.Audio,
		Room:   r.config.Room,
		Logger: logger.GetLogger(),
	})
	room.OnClose(r.onRoomClosed)
	r.rooms[name] = room
	if r.webhooks != nil {
		r.webhooks.Watch(room)
	}
	return room, nil
}

// StartSession claims the transport session of the named room
func (r *RoomManager) StartSession(name string) (*rtc.Room, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, err := r.getOrCreateRoomLocked(name)
	if err != nil {
		return nil, err
	}
	if r.sessions[name] == room {
		return nil, ErrSessionAlreadyActive
	}
	r.sessions[name] = room
	return room, nil
}

// EndSession releases the session claimed on room and closes it
func (r *RoomManager) EndSession(room *rtc.Room) {
	if room == nil {
		return
	}
	r.lock.Lock()
	if r.sessions[room.Name()] == room {
		delete(r.sessions, room.Name())
	}
	r.lock.Unlock()

	room.Close()
}

func (r *RoomManager) onRoomClosed(room *rtc.Room) {
	r.lock.Lock()
	if r.rooms[room.Name()] == room {
		delete(r.rooms, room.Name())
	}
	if r.sessions[room.Name()] == room {
		delete(r.sessions, room.Name())
	}
	r.lock.Unlock()
}

// Stop closes every room
func (r *RoomManager) Stop() {
	for _, room := range r.ListRooms() {
		room.Close()
	}
}
