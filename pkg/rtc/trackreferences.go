package rtc

import (
	"github.com/thoas/go-funk"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

type TrackQuery struct {
	// sources to return, in this order for each participant
	Sources []types.TrackSource
	// sources that get a placeholder reference when the participant has no publication
	Placeholders []types.TrackSource
	// skip remote publications that are not subscribed
	OnlySubscribed bool
}

// QueryTracks lists one reference per participant and source, participants in join order
func QueryTracks(snapshot *types.RoomSnapshot, q TrackQuery) []types.TrackReference {
	if snapshot == nil {
		return nil
	}

	var refs []types.TrackReference
	for _, p := range snapshot.Participants {
		pubs := snapshot.Tracks[p.ID]
		for _, source := range q.Sources {
			pub := findPublication(pubs, source)
			if pub != nil && q.OnlySubscribed && !p.IsLocal && pub.Subscription != types.SubscriptionStateSubscribed {
				pub = nil
			}

			switch {
			case pub != nil:
				refs = append(refs, types.TrackReference{
					ParticipantID: p.ID,
					Source:        source,
					Publication:   pub.Clone(),
				})
			case funk.Contains(q.Placeholders, source):
				refs = append(refs, types.TrackReference{
					ParticipantID: p.ID,
					Source:        source,
				})
			}
		}
	}
	return refs
}

// PrimaryTrack picks the video to show for a participant: its screen share, else its camera.
// A participant without either gets a camera placeholder.
func PrimaryTrack(snapshot *types.RoomSnapshot, id types.ParticipantID) (types.TrackReference, bool) {
	if snapshot == nil {
		return types.TrackReference{}, false
	}
	if _, ok := snapshot.Participant(id); !ok {
		return types.TrackReference{}, false
	}

	pubs := snapshot.Tracks[id]
	for _, source := range []types.TrackSource{types.TrackSourceScreenShare, types.TrackSourceCamera} {
		if pub := findPublication(pubs, source); pub != nil {
			return types.TrackReference{ParticipantID: id, Source: source, Publication: pub.Clone()}, true
		}
	}
	return types.TrackReference{ParticipantID: id, Source: types.TrackSourceCamera}, true
}

func findPublication(pubs []*types.TrackPublication, source types.TrackSource) *types.TrackPublication {
	for _, pub := range pubs {
		if pub.Source == source {
			return pub
		}
	}
	return nil
}
