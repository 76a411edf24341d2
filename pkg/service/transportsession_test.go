package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/utils"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

type levelCall struct {
	id    types.ParticipantID
	level float64
	at    time.Time
}

type recordingListener struct {
	joined      []*types.Participant
	updated     []*types.Participant
	left        []types.ParticipantID
	published   []*types.TrackPublication
	unpublished []types.TrackSource
	muted       []bool
	subscribed  []types.SubscriptionState
	levels      []levelCall
	joinErr     error
}

func (l *recordingListener) OnParticipantJoined(p *types.Participant) error {
	l.joined = append(l.joined, p)
	return l.joinErr
}

func (l *recordingListener) OnParticipantUpdated(p *types.Participant) {
	l.updated = append(l.updated, p)
}

func (l *recordingListener) OnParticipantLeft(id types.ParticipantID) {
	l.left = append(l.left, id)
}

func (l *recordingListener) OnTrackPublished(_ types.ParticipantID, _ types.TrackSource, pub *types.TrackPublication) {
	l.published = append(l.published, pub)
}

func (l *recordingListener) OnTrackUnpublished(_ types.ParticipantID, source types.TrackSource) {
	l.unpublished = append(l.unpublished, source)
}

func (l *recordingListener) OnTrackMuted(_ types.ParticipantID, _ types.TrackSource, muted bool) {
	l.muted = append(l.muted, muted)
}

func (l *recordingListener) OnTrackSubscriptionChanged(_ types.ParticipantID, _ types.TrackSource, state types.SubscriptionState) {
	l.subscribed = append(l.subscribed, state)
}

func (l *recordingListener) OnAudioLevel(id types.ParticipantID, level float64, at time.Time) {
	l.levels = append(l.levels, levelCall{id: id, level: level, at: at})
}

func level(v float64) *float64 {
	return &v
}

func dbov(v uint8) *uint8 {
	return &v
}

func TestTransportSession(t *testing.T) {
	t.Run("dispatches participant and track events", func(t *testing.T) {
		listener := &recordingListener{}
		session := NewTransportSession(listener, config.DefaultConfig.Audio)

		require.NoError(t, session.Handle(&TransportMessage{Type: MessageParticipantJoined, Participant: &types.Participant{ID: "A"}}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageParticipantUpdated, Participant: &types.Participant{ID: "A", Name: "alice"}}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageTrackPublished, ParticipantID: "A", Source: types.TrackSourceCamera}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageTrackMuted, ParticipantID: "A", Source: types.TrackSourceCamera, Muted: true}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageTrackSubscription, ParticipantID: "A", Source: types.TrackSourceCamera, Subscription: types.SubscriptionStateSubscribed}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageTrackUnpublished, ParticipantID: "A", Source: types.TrackSourceCamera}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageParticipantLeft, ParticipantID: "A"}))

		require.Len(t, listener.joined, 1)
		require.Equal(t, "alice", listener.updated[0].Name)
		require.Len(t, listener.published, 1)
		require.True(t, strings.HasPrefix(listener.published[0].SID, utils.TrackPrefix))
		require.Equal(t, []bool{true}, listener.muted)
		require.Equal(t, []types.SubscriptionState{types.SubscriptionStateSubscribed}, listener.subscribed)
		require.Equal(t, []types.TrackSource{types.TrackSourceCamera}, listener.unpublished)
		require.Equal(t, []types.ParticipantID{"A"}, listener.left)
	})

	t.Run("keeps publisher track sid", func(t *testing.T) {
		listener := &recordingListener{}
		session := NewTransportSession(listener, config.DefaultConfig.Audio)

		require.NoError(t, session.Handle(&TransportMessage{
			Type:          MessageTrackPublished,
			ParticipantID: "A",
			Source:        types.TrackSourceMicrophone,
			Publication:   &types.TrackPublication{SID: "TR_mic"},
		}))
		require.Equal(t, "TR_mic", listener.published[0].SID)
	})

	t.Run("rejects malformed messages", func(t *testing.T) {
		listener := &recordingListener{}
		session := NewTransportSession(listener, config.DefaultConfig.Audio)

		require.ErrorIs(t, session.Handle(&TransportMessage{Type: MessageParticipantJoined}), ErrInvalidMessageType)
		require.ErrorIs(t, session.Handle(&TransportMessage{Type: MessageParticipantUpdated}), ErrInvalidMessageType)
		require.ErrorIs(t, session.Handle(&TransportMessage{Type: "bogus"}), ErrInvalidMessageType)
		require.ErrorIs(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A"}), ErrMissingAudioLevel)
		require.Empty(t, listener.joined)
		require.Empty(t, listener.levels)
	})

	t.Run("returns join errors", func(t *testing.T) {
		listener := &recordingListener{joinErr: rtc.ErrConflictingLocalParticipant}
		session := NewTransportSession(listener, config.DefaultConfig.Audio)

		err := session.Handle(&TransportMessage{Type: MessageParticipantJoined, Participant: &types.Participant{ID: "L2", IsLocal: true}})
		require.ErrorIs(t, err, rtc.ErrConflictingLocalParticipant)
	})

	t.Run("linear levels pass through", func(t *testing.T) {
		listener := &recordingListener{}
		session := NewTransportSession(listener, config.DefaultConfig.Audio)

		at := time.Unix(100, 0)
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", Level: level(0.4), Timestamp: at}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "B", Level: level(0.2)}))

		require.Len(t, listener.levels, 2)
		require.Equal(t, levelCall{id: "A", level: 0.4, at: at}, listener.levels[0])
		require.False(t, listener.levels[1].at.IsZero())
	})

	t.Run("dbov levels are folded per window", func(t *testing.T) {
		listener := &recordingListener{}
		session := NewTransportSession(listener, config.AudioConfig{
			ActiveLevel:     35,
			MinPercentile:   40,
			ObserveDuration: 500,
		})

		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", DBov: dbov(20), DurationMs: 250}))
		require.Empty(t, listener.levels)
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", DBov: dbov(20), DurationMs: 250}))
		require.Len(t, listener.levels, 1)
		require.InDelta(t, 0.1, listener.levels[0].level, 1e-9)

		// a quiet window reports silence
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", DBov: dbov(90), DurationMs: 500}))
		require.Len(t, listener.levels, 2)
		require.Zero(t, listener.levels[1].level)

		// leaving drops the window
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", DBov: dbov(20), DurationMs: 250}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageParticipantLeft, ParticipantID: "A"}))
		require.NoError(t, session.Handle(&TransportMessage{Type: MessageAudioLevel, ParticipantID: "A", DBov: dbov(20), DurationMs: 250}))
		require.Len(t, listener.levels, 2)
	})
}
