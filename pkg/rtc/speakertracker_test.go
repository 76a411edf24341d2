package rtc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

func TestSpeakerTracker(t *testing.T) {
	now := time.Now()

	t.Run("threshold is exclusive", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		changed, err := tr.Observe("a", 0.1, now)
		require.NoError(t, err)
		require.False(t, changed)
		require.False(t, tr.IsSpeaking("a"))

		changed, err = tr.Observe("a", 0.11, now.Add(time.Millisecond))
		require.NoError(t, err)
		require.True(t, changed)
		require.True(t, tr.IsSpeaking("a"))

		changed, err = tr.Observe("a", 0.5, now.Add(2*time.Millisecond))
		require.NoError(t, err)
		require.False(t, changed)

		changed, err = tr.Observe("a", 0, now.Add(3*time.Millisecond))
		require.NoError(t, err)
		require.True(t, changed)
		require.False(t, tr.IsSpeaking("a"))
	})

	t.Run("rejects invalid levels", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		for _, level := range []float64{-0.1, 1.1, math.NaN()} {
			_, err := tr.Observe("a", level, now)
			require.ErrorIs(t, err, ErrInvalidAudioLevel)
		}
	})

	t.Run("rejects samples older than the latest", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		_, err := tr.Observe("a", 0.5, now)
		require.NoError(t, err)
		_, err = tr.Observe("a", 0, now.Add(-time.Second))
		require.ErrorIs(t, err, ErrOutOfOrderSample)
		require.True(t, tr.IsSpeaking("a"))
	})

	t.Run("ranking order", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		observe := func(id types.ParticipantID, level float64, ts time.Time) {
			_, err := tr.Observe(id, level, ts)
			require.NoError(t, err)
		}
		observe("quiet", 0.05, now)
		observe("loud", 0.9, now)
		observe("older", 0.5, now)
		observe("newer", 0.5, now.Add(time.Second))
		observe("b-tied", 0.3, now)
		observe("a-tied", 0.3, now)

		var ranked []types.ParticipantID
		for _, s := range tr.RankedActiveSpeakers() {
			ranked = append(ranked, s.ParticipantID)
		}
		require.Equal(t, []types.ParticipantID{"loud", "newer", "older", "a-tied", "b-tied"}, ranked)
	})

	t.Run("local participant is not ranked", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		tr.SetLocal("l")
		_, err := tr.Observe("l", 1, now)
		require.NoError(t, err)
		_, err = tr.Observe("a", 0.2, now)
		require.NoError(t, err)

		require.True(t, tr.IsSpeaking("l"))
		ranked := tr.RankedActiveSpeakers()
		require.Len(t, ranked, 1)
		require.Equal(t, types.ParticipantID("a"), ranked[0].ParticipantID)
	})

	t.Run("expire silences stale samples", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		_, err := tr.Observe("a", 0.5, now)
		require.NoError(t, err)
		_, err = tr.Observe("b", 0.5, now.Add(time.Second))
		require.NoError(t, err)

		stopped := tr.ExpireBefore(now.Add(500 * time.Millisecond))
		require.Equal(t, []types.ParticipantID{"a"}, stopped)
		require.False(t, tr.IsSpeaking("a"))
		require.Zero(t, tr.Level("a"))
		require.True(t, tr.IsSpeaking("b"))

		require.Empty(t, tr.ExpireBefore(now.Add(500*time.Millisecond)))
	})

	t.Run("smoothing delays speaking", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.6, SmoothIntervals: 3})
		changed, err := tr.Observe("a", 1, now)
		require.NoError(t, err)
		require.False(t, changed)
		require.InDelta(t, 0.5, tr.Level("a"), 1e-9)

		changed, err = tr.Observe("a", 1, now.Add(time.Millisecond))
		require.NoError(t, err)
		require.True(t, changed)
	})

	t.Run("remove", func(t *testing.T) {
		tr := NewSpeakerTracker(SpeakerTrackerParams{Threshold: 0.1})
		_, err := tr.Observe("a", 0.5, now)
		require.NoError(t, err)
		tr.Remove("a")
		require.False(t, tr.IsSpeaking("a"))
		require.Empty(t, tr.RankedActiveSpeakers())
	})
}
