package rtc

import (
	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

// SelectPrimarySpeaker picks the participant to focus on.
//
// The previous selection is kept while it is still present and speaking. Otherwise the
// highest ranked active speaker wins, then the first participant, then local.
// participants should list remote participants in join order followed by the local one.
// The result is always an element of participants, or local, so repeated calls with the
// same inputs return the same pointer.
func SelectPrimarySpeaker(
	previous *types.Participant,
	ranked []types.SpeakerInfo,
	participants []*types.Participant,
	local *types.Participant,
) *types.Participant {
	if previous != nil {
		if p := findParticipant(participants, previous.ID); p != nil && p.IsSpeaking {
			return p
		}
	}

	for _, speaker := range ranked {
		if p := findParticipant(participants, speaker.ParticipantID); p != nil {
			return p
		}
	}

	if len(participants) > 0 {
		return participants[0]
	}
	return local
}

func findParticipant(participants []*types.Participant, id types.ParticipantID) *types.Participant {
	for _, p := range participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// -----------------------------------

// PrimarySpeakerSelector remembers the last selection so it can be kept sticky
type PrimarySpeakerSelector struct {
	previous *types.Participant
}

// Select re-evaluates the primary speaker, reporting whether the selected ID changed
func (s *PrimarySpeakerSelector) Select(
	ranked []types.SpeakerInfo,
	participants []*types.Participant,
	local *types.Participant,
) (*types.Participant, bool) {
	selected := SelectPrimarySpeaker(s.previous, ranked, participants, local)
	changed := selectedID(selected) != selectedID(s.previous)
	s.previous = selected
	return selected, changed
}

func (s *PrimarySpeakerSelector) Current() *types.Participant {
	return s.previous
}

func (s *PrimarySpeakerSelector) Reset() {
	s.previous = nil
}

func selectedID(p *types.Participant) types.ParticipantID {
	if p == nil {
		return ""
	}
	return p.ID
}
