package types

import (
	"fmt"
	"time"
)

type SpeakerInfo struct {
	ParticipantID ParticipantID `json:"participant_id"`
	Level         float64       `json:"level"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NotificationCause is the mutation that produced a notification
type NotificationCause int

const (
	CauseParticipantJoined NotificationCause = iota
	CauseParticipantUpdated
	CauseParticipantLeft
	CauseTrackPublished
	CauseTrackUnpublished
	CauseTrackUpdated
	CauseAudioLevel
	CauseSilenceSweep
)

func (c NotificationCause) String() string {
	switch c {
	case CauseParticipantJoined:
		return "participant_joined"
	case CauseParticipantUpdated:
		return "participant_updated"
	case CauseParticipantLeft:
		return "participant_left"
	case CauseTrackPublished:
		return "track_published"
	case CauseTrackUnpublished:
		return "track_unpublished"
	case CauseTrackUpdated:
		return "track_updated"
	case CauseAudioLevel:
		return "audio_level"
	case CauseSilenceSweep:
		return "silence_sweep"
	default:
		return "unknown"
	}
}

func (c NotificationCause) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *NotificationCause) UnmarshalText(text []byte) error {
	for cause := CauseParticipantJoined; cause <= CauseSilenceSweep; cause++ {
		if cause.String() == string(text) {
			*c = cause
			return nil
		}
	}
	return fmt.Errorf("unknown notification cause %q", string(text))
}

// Notification is delivered to subscribers after each mutation batch that changed room state.
// Seq is strictly increasing per room.
type Notification struct {
	Seq           uint64            `json:"seq"`
	Cause         NotificationCause `json:"cause"`
	ParticipantID ParticipantID     `json:"participant_id,omitempty"`
	// set for track causes
	Source TrackSource `json:"source,omitempty"`

	PrimarySpeaker        ParticipantID   `json:"primary_speaker,omitempty"`
	PrimarySpeakerChanged bool            `json:"primary_speaker_changed"`
	ActiveSpeakers        []ParticipantID `json:"active_speakers"`
	// participants whose speaking state flipped in this batch
	SpeakingChanged []ParticipantID `json:"speaking_changed,omitempty"`
	Time            time.Time       `json:"time"`
}

// RoomSnapshot is an immutable copy of room state. Callers must not modify it.
type RoomSnapshot struct {
	Seq            uint64                                `json:"seq"`
	Participants   []*Participant                        `json:"participants"`
	Tracks         map[ParticipantID][]*TrackPublication `json:"tracks"`
	ActiveSpeakers []SpeakerInfo                         `json:"active_speakers"`
	PrimarySpeaker ParticipantID                         `json:"primary_speaker,omitempty"`
}

func (s *RoomSnapshot) Participant(id ParticipantID) (*Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}
