package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/service"
)

const speakerScript = `
- type: participant_joined
  participant: {id: L, is_local: true}
- type: participant_joined
  participant: {id: A}
- type: participant_joined
  participant: {id: B}
- type: track_published
  participant_id: B
  source: camera
- type: audio_level
  participant_id: B
  level: 0.6
- type: audio_level
  participant_id: A
  level: 0.8
- type: audio_level
  participant_id: B
  level: 0
- type: participant_left
  participant_id: A
`

func writeScript(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func replayConfig() *config.Config {
	conf := config.DefaultConfig
	conf.Audio.ActiveThreshold = 0.1
	conf.Audio.SilenceTimeout = 0
	return &conf
}

func TestLoadScript(t *testing.T) {
	messages, err := loadScript(writeScript(t, speakerScript))
	require.NoError(t, err)
	require.Len(t, messages, 8)

	require.Equal(t, service.MessageParticipantJoined, messages[0].Type)
	require.True(t, messages[0].Participant.IsLocal)
	require.Equal(t, types.TrackSourceCamera, messages[3].Source)
	require.NotNil(t, messages[4].Level)
	require.InDelta(t, 0.6, *messages[4].Level, 1e-9)

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := loadScript(writeScript(t, "- type: audio_level\n  volume: 3\n"))
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadScript(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestReplay(t *testing.T) {
	messages, err := loadScript(writeScript(t, speakerScript))
	require.NoError(t, err)

	notifications, err := runReplay(context.Background(), replayConfig(), messages)
	require.NoError(t, err)
	require.NotEmpty(t, notifications)

	for i := 1; i < len(notifications); i++ {
		require.Greater(t, notifications[i].Seq, notifications[i-1].Seq)
	}

	var primaries []types.ParticipantID
	for _, n := range notifications {
		if n.PrimarySpeakerChanged {
			primaries = append(primaries, n.PrimarySpeaker)
		}
	}
	// L alone, A as first remote, B speaking and sticky over A, A once B goes quiet, B once A leaves
	require.Equal(t, []types.ParticipantID{"L", "A", "B", "A", "B"}, primaries)

	last := notifications[len(notifications)-1]
	require.Equal(t, types.CauseParticipantLeft, last.Cause)
	require.Equal(t, types.ParticipantID("B"), last.PrimarySpeaker)

	var out bytes.Buffer
	printNotifications(&out, time.Now(), notifications)
	require.Contains(t, out.String(), "participant_left")
}
