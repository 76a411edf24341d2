package types

import (
	"time"
)

type NotificationHandler func(n Notification)

// TransportListener receives callbacks from the media transport layer. Implementations must
// accept calls from any goroutine.
type TransportListener interface {
	OnParticipantJoined(p *Participant) error
	OnParticipantUpdated(p *Participant)
	OnParticipantLeft(id ParticipantID)
	OnTrackPublished(id ParticipantID, source TrackSource, pub *TrackPublication)
	OnTrackUnpublished(id ParticipantID, source TrackSource)
	OnTrackMuted(id ParticipantID, source TrackSource, muted bool)
	OnTrackSubscriptionChanged(id ParticipantID, source TrackSource, state SubscriptionState)
	OnAudioLevel(id ParticipantID, level float64, at time.Time)
}
