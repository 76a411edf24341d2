package rtc

import (
	"math"
	"sort"
	"time"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/sfu/audio"
)

type SpeakerTrackerParams struct {
	// a participant is speaking while its level is strictly above Threshold
	Threshold       float64
	SmoothIntervals uint32
}

type speakerSample struct {
	level     float64
	timestamp time.Time
	speaking  bool
	smoother  *audio.Smoother
}

// SpeakerTracker keeps the latest audio level per participant and ranks active speakers.
// It is owned by the room's ops queue and is not safe for concurrent use.
type SpeakerTracker struct {
	params  SpeakerTrackerParams
	localID types.ParticipantID
	samples map[types.ParticipantID]*speakerSample
}

func NewSpeakerTracker(params SpeakerTrackerParams) *SpeakerTracker {
	return &SpeakerTracker{
		params:  params,
		samples: make(map[types.ParticipantID]*speakerSample),
	}
}

// SetLocal marks the participant excluded from the ranking
func (t *SpeakerTracker) SetLocal(id types.ParticipantID) {
	t.localID = id
}

// Observe records a sample for id, reporting whether its speaking state flipped.
// Samples older than the latest one for id are rejected.
func (t *SpeakerTracker) Observe(id types.ParticipantID, level float64, ts time.Time) (bool, error) {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return false, ErrInvalidAudioLevel
	}

	s, ok := t.samples[id]
	if !ok {
		s = &speakerSample{smoother: audio.NewSmoother(t.params.SmoothIntervals)}
		t.samples[id] = s
	} else if ts.Before(s.timestamp) {
		return false, ErrOutOfOrderSample
	}

	wasSpeaking := s.speaking
	s.level = s.smoother.Observe(level)
	if level == 0 {
		s.smoother.Reset()
		s.level = 0
	}
	s.timestamp = ts
	s.speaking = s.level > t.params.Threshold
	return s.speaking != wasSpeaking, nil
}

// ExpireBefore silences every participant whose latest sample is older than cutoff,
// returning the ones that stopped speaking.
func (t *SpeakerTracker) ExpireBefore(cutoff time.Time) []types.ParticipantID {
	var stopped []types.ParticipantID
	for id, s := range t.samples {
		if s.level == 0 || !s.timestamp.Before(cutoff) {
			continue
		}
		s.level = 0
		s.smoother.Reset()
		if s.speaking {
			s.speaking = false
			stopped = append(stopped, id)
		}
	}
	sort.Slice(stopped, func(i, j int) bool { return stopped[i] < stopped[j] })
	return stopped
}

func (t *SpeakerTracker) Remove(id types.ParticipantID) {
	delete(t.samples, id)
}

func (t *SpeakerTracker) IsSpeaking(id types.ParticipantID) bool {
	s, ok := t.samples[id]
	return ok && s.speaking
}

func (t *SpeakerTracker) Level(id types.ParticipantID) float64 {
	if s, ok := t.samples[id]; ok {
		return s.level
	}
	return 0
}

// RankedActiveSpeakers returns speaking remote participants, loudest first.
// Ties go to the most recent sample, then to the lower participant ID.
func (t *SpeakerTracker) RankedActiveSpeakers() []types.SpeakerInfo {
	ranked := make([]types.SpeakerInfo, 0, len(t.samples))
	for id, s := range t.samples {
		if !s.speaking || id == t.localID {
			continue
		}
		ranked = append(ranked, types.SpeakerInfo{
			ParticipantID: id,
			Level:         s.level,
			Timestamp:     s.timestamp,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ParticipantID < b.ParticipantID
	})
	return ranked
}
