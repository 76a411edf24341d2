package rtc

import (
	"time"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

// ParticipantRegistry holds the participants of a room in join order.
// It is owned by the room's ops queue and is not safe for concurrent use.
type ParticipantRegistry struct {
	participants *orderedmap.OrderedMap[types.ParticipantID, *types.Participant]
	localID      types.ParticipantID
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: orderedmap.NewOrderedMap[types.ParticipantID, *types.Participant](),
	}
}

// Upsert adds p, or replaces the attributes of an existing participant with the same ID
// keeping its position. A participant becomes Active on its first successful upsert.
// Once local, a participant stays local until it is removed.
func (r *ParticipantRegistry) Upsert(p *types.Participant) error {
	if p == nil || p.ID == "" {
		return ErrInvalidParticipant
	}
	if p.IsLocal && r.localID != "" && r.localID != p.ID {
		return ErrConflictingLocalParticipant
	}

	stored := p.Clone()
	stored.State = types.ParticipantStateActive
	// speaking state belongs to the speaker tracker
	stored.IsSpeaking = false
	stored.AudioLevel = 0

	if existing, ok := r.participants.Get(p.ID); ok {
		stored.JoinedAt = existing.JoinedAt
		// local status is never revoked by an update
		stored.IsLocal = stored.IsLocal || existing.IsLocal
	} else if stored.JoinedAt.IsZero() {
		stored.JoinedAt = time.Now()
	}

	if stored.IsLocal {
		r.localID = stored.ID
	}

	r.participants.Set(stored.ID, stored)
	return nil
}

// Remove deletes the participant, returning it marked Left. Unknown IDs are a no-op.
func (r *ParticipantRegistry) Remove(id types.ParticipantID) (*types.Participant, bool) {
	p, ok := r.participants.Get(id)
	if !ok {
		return nil, false
	}
	r.participants.Delete(id)
	if r.localID == id {
		r.localID = ""
	}

	left := p.Clone()
	left.State = types.ParticipantStateLeft
	return left, true
}

func (r *ParticipantRegistry) Get(id types.ParticipantID) (*types.Participant, bool) {
	p, ok := r.participants.Get(id)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (r *ParticipantRegistry) Contains(id types.ParticipantID) bool {
	_, ok := r.participants.Get(id)
	return ok
}

// List returns copies of all participants in join order
func (r *ParticipantRegistry) List() []*types.Participant {
	out := make([]*types.Participant, 0, r.participants.Len())
	for el := r.participants.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.Clone())
	}
	return out
}

func (r *ParticipantRegistry) Local() (*types.Participant, bool) {
	if r.localID == "" {
		return nil, false
	}
	return r.Get(r.localID)
}

func (r *ParticipantRegistry) LocalID() types.ParticipantID {
	return r.localID
}

func (r *ParticipantRegistry) Len() int {
	return r.participants.Len()
}
