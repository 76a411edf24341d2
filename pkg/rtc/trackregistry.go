package rtc

import (
	"time"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

// TrackRegistry holds at most one publication per (participant, source).
// It is owned by the room's ops queue and is not safe for concurrent use.
type TrackRegistry struct {
	tracks map[types.ParticipantID]map[types.TrackSource]*types.TrackPublication
	count  int
}

func NewTrackRegistry() *TrackRegistry {
	return &TrackRegistry{
		tracks: make(map[types.ParticipantID]map[types.TrackSource]*types.TrackPublication),
	}
}

// Publish stores pub for (id, source), replacing any previous publication.
// Returns the replaced publication, if any.
func (r *TrackRegistry) Publish(id types.ParticipantID, source types.TrackSource, pub *types.TrackPublication) (*types.TrackPublication, error) {
	if !source.IsValid() {
		return nil, ErrInvalidTrackSource
	}

	stored := pub.Clone()
	if stored == nil {
		stored = &types.TrackPublication{}
	}
	stored.ParticipantID = id
	stored.Source = source
	if stored.PublishedAt.IsZero() {
		stored.PublishedAt = time.Now()
	}

	bySource := r.tracks[id]
	if bySource == nil {
		bySource = make(map[types.TrackSource]*types.TrackPublication)
		r.tracks[id] = bySource
	}
	replaced := bySource[source]
	if replaced == nil {
		r.count++
	}
	bySource[source] = stored
	return replaced, nil
}

// Unpublish removes the publication for (id, source). Unknown pairs are a no-op.
func (r *TrackRegistry) Unpublish(id types.ParticipantID, source types.TrackSource) (*types.TrackPublication, bool) {
	bySource := r.tracks[id]
	pub, ok := bySource[source]
	if !ok {
		return nil, false
	}
	delete(bySource, source)
	if len(bySource) == 0 {
		delete(r.tracks, id)
	}
	r.count--
	return pub, true
}

// Update applies fn to the stored publication for (id, source). Unknown pairs are a no-op.
func (r *TrackRegistry) Update(id types.ParticipantID, source types.TrackSource, fn func(pub *types.TrackPublication)) bool {
	pub, ok := r.tracks[id][source]
	if !ok {
		return false
	}
	fn(pub)
	return true
}

func (r *TrackRegistry) Get(id types.ParticipantID, source types.TrackSource) (*types.TrackPublication, bool) {
	pub, ok := r.tracks[id][source]
	if !ok {
		return nil, false
	}
	return pub.Clone(), true
}

// TracksFor returns copies of the participant's publications, ordered by source
func (r *TrackRegistry) TracksFor(id types.ParticipantID) []*types.TrackPublication {
	bySource := r.tracks[id]
	if len(bySource) == 0 {
		return nil
	}
	out := make([]*types.TrackPublication, 0, len(bySource))
	for _, source := range types.AllTrackSources {
		if pub, ok := bySource[source]; ok {
			out = append(out, pub.Clone())
		}
	}
	return out
}

// RemoveParticipant drops every publication of id, returning the removed publications
func (r *TrackRegistry) RemoveParticipant(id types.ParticipantID) []*types.TrackPublication {
	bySource := r.tracks[id]
	if len(bySource) == 0 {
		return nil
	}
	removed := make([]*types.TrackPublication, 0, len(bySource))
	for _, source := range types.AllTrackSources {
		if pub, ok := bySource[source]; ok {
			removed = append(removed, pub)
		}
	}
	delete(r.tracks, id)
	r.count -= len(removed)
	return removed
}

func (r *TrackRegistry) Participants() []types.ParticipantID {
	ids := make([]types.ParticipantID, 0, len(r.tracks))
	for id := range r.tracks {
		ids = append(ids, id)
	}
	return ids
}

func (r *TrackRegistry) Len() int {
	return r.count
}
