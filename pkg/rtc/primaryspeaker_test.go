package rtc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

func TestSelectPrimarySpeaker(t *testing.T) {
	local := &types.Participant{ID: "l", IsLocal: true}

	t.Run("fallback to local", func(t *testing.T) {
		require.Same(t, local, SelectPrimarySpeaker(nil, nil, nil, local))
		require.Nil(t, SelectPrimarySpeaker(nil, nil, nil, nil))
	})

	t.Run("fallback to first participant", func(t *testing.T) {
		a := &types.Participant{ID: "a"}
		b := &types.Participant{ID: "b"}
		require.Same(t, a, SelectPrimarySpeaker(nil, nil, []*types.Participant{a, b, local}, local))
	})

	t.Run("top ranked speaker", func(t *testing.T) {
		a := &types.Participant{ID: "a"}
		b := &types.Participant{ID: "b", IsSpeaking: true}
		ranked := []types.SpeakerInfo{{ParticipantID: "b", Level: 0.4}}
		require.Same(t, b, SelectPrimarySpeaker(nil, ranked, []*types.Participant{a, b, local}, local))
	})

	t.Run("ranked speakers missing from participants are skipped", func(t *testing.T) {
		a := &types.Participant{ID: "a", IsSpeaking: true}
		ranked := []types.SpeakerInfo{{ParticipantID: "gone", Level: 0.9}, {ParticipantID: "a", Level: 0.4}}
		require.Same(t, a, SelectPrimarySpeaker(nil, ranked, []*types.Participant{a, local}, local))
	})

	t.Run("sticky while previous speaks", func(t *testing.T) {
		a := &types.Participant{ID: "a", IsSpeaking: true}
		b := &types.Participant{ID: "b", IsSpeaking: true}
		ranked := []types.SpeakerInfo{{ParticipantID: "b", Level: 1}, {ParticipantID: "a", Level: 0.2}}
		previous := &types.Participant{ID: "a"}
		require.Same(t, a, SelectPrimarySpeaker(previous, ranked, []*types.Participant{a, b, local}, local))
	})

	t.Run("previous is dropped once silent", func(t *testing.T) {
		a := &types.Participant{ID: "a"}
		b := &types.Participant{ID: "b", IsSpeaking: true}
		ranked := []types.SpeakerInfo{{ParticipantID: "b", Level: 0.3}}
		require.Same(t, b, SelectPrimarySpeaker(&types.Participant{ID: "a", IsSpeaking: true}, ranked, []*types.Participant{a, b, local}, local))
	})

	t.Run("previous is dropped once gone", func(t *testing.T) {
		a := &types.Participant{ID: "a"}
		previous := &types.Participant{ID: "b", IsSpeaking: true}
		require.Same(t, a, SelectPrimarySpeaker(previous, nil, []*types.Participant{a, local}, local))
	})

	t.Run("idempotent", func(t *testing.T) {
		a := &types.Participant{ID: "a", IsSpeaking: true}
		b := &types.Participant{ID: "b", IsSpeaking: true}
		participants := []*types.Participant{a, b, local}
		ranked := []types.SpeakerInfo{{ParticipantID: "b", Level: 0.5}, {ParticipantID: "a", Level: 0.4}}

		first := SelectPrimarySpeaker(nil, ranked, participants, local)
		second := SelectPrimarySpeaker(nil, ranked, participants, local)
		require.Same(t, first, second)

		third := SelectPrimarySpeaker(first, ranked, participants, local)
		require.Same(t, first, third)
	})
}

func TestPrimarySpeakerSelector(t *testing.T) {
	now := time.Now()
	local := &types.Participant{ID: "l", IsLocal: true}
	tracker := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
	tracker.SetLocal(local.ID)

	participants := func() []*types.Participant {
		out := []*types.Participant{{ID: "a"}, {ID: "b"}}
		for _, p := range out {
			p.IsSpeaking = tracker.IsSpeaking(p.ID)
		}
		return append(out, local)
	}
	observe := func(id types.ParticipantID, level float64) {
		now = now.Add(time.Millisecond)
		_, err := tracker.Observe(id, level, now)
		require.NoError(t, err)
	}

	var s PrimarySpeakerSelector
	p, changed := s.Select(tracker.RankedActiveSpeakers(), participants(), local)
	require.Equal(t, types.ParticipantID("a"), p.ID)
	require.True(t, changed)

	p, changed = s.Select(tracker.RankedActiveSpeakers(), participants(), local)
	require.Equal(t, types.ParticipantID("a"), p.ID)
	require.False(t, changed)

	observe("b", 0.3)
	p, changed = s.Select(tracker.RankedActiveSpeakers(), participants(), local)
	require.Equal(t, types.ParticipantID("b"), p.ID)
	require.True(t, changed)

	// louder speaker cannot displace a speaking selection
	observe("a", 0.9)
	p, changed = s.Select(tracker.RankedActiveSpeakers(), participants(), local)
	require.Equal(t, types.ParticipantID("b"), p.ID)
	require.False(t, changed)

	observe("b", 0)
	p, changed = s.Select(tracker.RankedActiveSpeakers(), participants(), local)
	require.Equal(t, types.ParticipantID("a"), p.ID)
	require.True(t, changed)
	require.Equal(t, p, s.Current())

	s.Reset()
	require.Nil(t, s.Current())
}
