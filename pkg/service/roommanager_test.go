package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/telemetry"
)

func init() {
	logger.InitFromConfig(logger.Config{Level: "debug"}, "roomcoord")
}

func newTestRoomManager(autoCreate bool) *RoomManager {
	conf := config.DefaultConfig
	conf.Room.AutoCreate = autoCreate
	conf.Audio.ActiveThreshold = 0.1
	conf.Audio.SilenceTimeout = 0
	return NewRoomManager(&conf, telemetry.NewWebhookNotifier(conf.WebHook))
}

func TestRoomManager(t *testing.T) {
	t.Run("creates rooms on demand", func(t *testing.T) {
		rm := newTestRoomManager(true)
		defer rm.Stop()

		_, err := rm.GetOrCreateRoom("")
		require.ErrorIs(t, err, ErrNoRoomName)

		room, err := rm.GetOrCreateRoom("b")
		require.NoError(t, err)
		again, err := rm.GetOrCreateRoom("b")
		require.NoError(t, err)
		require.Same(t, room, again)

		_, err = rm.GetOrCreateRoom("a")
		require.NoError(t, err)

		rooms := rm.ListRooms()
		require.Len(t, rooms, 2)
		require.Equal(t, "a", rooms[0].Name())
		require.Equal(t, "b", rooms[1].Name())
	})

	t.Run("does not create without auto_create", func(t *testing.T) {
		rm := newTestRoomManager(false)
		defer rm.Stop()

		_, err := rm.GetOrCreateRoom("a")
		require.ErrorIs(t, err, ErrRoomNotFound)
		require.Nil(t, rm.GetRoom("a"))
	})

	t.Run("one transport session per room", func(t *testing.T) {
		rm := newTestRoomManager(true)
		defer rm.Stop()

		room, err := rm.StartSession("a")
		require.NoError(t, err)

		_, err = rm.StartSession("a")
		require.ErrorIs(t, err, ErrSessionAlreadyActive)

		rm.EndSession(room)
		require.True(t, room.IsClosed())
		require.Nil(t, rm.GetRoom("a"))
		require.Empty(t, rm.ListRooms())

		// a new session gets a fresh room
		next, err := rm.StartSession("a")
		require.NoError(t, err)
		require.NotSame(t, room, next)
		require.False(t, next.IsClosed())

		// ending the old session again leaves the new one alone
		rm.EndSession(room)
		require.False(t, next.IsClosed())
		require.Same(t, next, rm.GetRoom("a"))
		_, err = rm.StartSession("a")
		require.ErrorIs(t, err, ErrSessionAlreadyActive)
	})

	t.Run("closing a room releases its session", func(t *testing.T) {
		rm := newTestRoomManager(true)
		defer rm.Stop()

		room, err := rm.StartSession("a")
		require.NoError(t, err)
		room.Close()

		next, err := rm.StartSession("a")
		require.NoError(t, err)
		require.NotSame(t, room, next)

		// the closed room's session ending late does not block the name
		rm.EndSession(room)
		rm.EndSession(next)
		_, err = rm.StartSession("a")
		require.NoError(t, err)
	})

	t.Run("sessions never leak under concurrent start and end", func(t *testing.T) {
		rm := newTestRoomManager(true)
		defer rm.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					room, err := rm.StartSession("a")
					if err != nil {
						assert.ErrorIs(t, err, ErrSessionAlreadyActive)
						continue
					}
					rm.EndSession(room)
				}
			}()
		}
		wg.Wait()

		room, err := rm.StartSession("a")
		require.NoError(t, err)
		rm.EndSession(room)
	})

	t.Run("stop closes every room", func(t *testing.T) {
		rm := newTestRoomManager(true)
		a, err := rm.GetOrCreateRoom("a")
		require.NoError(t, err)
		b, err := rm.GetOrCreateRoom("b")
		require.NoError(t, err)

		rm.Stop()
		require.True(t, a.IsClosed())
		require.True(t, b.IsClosed())
		require.Empty(t, rm.ListRooms())
	})
}
