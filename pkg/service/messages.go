package service

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
)

type TransportMessageType string

const (
	MessageParticipantJoined  TransportMessageType = "participant_joined"
	MessageParticipantUpdated TransportMessageType = "participant_updated"
	MessageParticipantLeft    TransportMessageType = "participant_left"
	MessageTrackPublished     TransportMessageType = "track_published"
	MessageTrackUnpublished   TransportMessageType = "track_unpublished"
	MessageTrackMuted         TransportMessageType = "track_muted"
	MessageTrackSubscription  TransportMessageType = "track_subscription"
	MessageAudioLevel         TransportMessageType = "audio_level"
	MessageError              TransportMessageType = "error"
	MessageAck                TransportMessageType = "ack"
	MessageSnapshot           TransportMessageType = "snapshot"
	MessageNotification       TransportMessageType = "notification"
)

// TransportMessage is one event reported by the transport SDK adapter
type TransportMessage struct {
	Type          TransportMessageType    `json:"type" yaml:"type"`
	Participant   *types.Participant      `json:"participant,omitempty" yaml:"participant,omitempty"`
	ParticipantID types.ParticipantID     `json:"participant_id,omitempty" yaml:"participant_id,omitempty"`
	Source        types.TrackSource       `json:"source,omitempty" yaml:"source,omitempty"`
	Publication   *types.TrackPublication `json:"publication,omitempty" yaml:"publication,omitempty"`
	Muted         bool                    `json:"muted,omitempty" yaml:"muted,omitempty"`
	Subscription  types.SubscriptionState `json:"subscription,omitempty" yaml:"subscription,omitempty"`
	// linear level, 0..1
	Level *float64 `json:"level,omitempty" yaml:"level,omitempty"`
	// RFC 6464 level, 0 loudest to 127 silent, folded into windows before use
	DBov       *uint8    `json:"dbov,omitempty" yaml:"dbov,omitempty"`
	DurationMs uint32    `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// ServerMessage is written back to transport and observer connections
type ServerMessage struct {
	Type         TransportMessageType `json:"type"`
	Error        string               `json:"error,omitempty"`
	Notification *types.Notification  `json:"notification,omitempty"`
	Snapshot     *types.RoomSnapshot  `json:"snapshot,omitempty"`
}

// ReadTransportScript decodes a YAML list of transport messages. Unknown fields are rejected.
func ReadTransportScript(r io.Reader) ([]*TransportMessage, error) {
	var messages []*TransportMessage
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&messages); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "could not parse script")
	}
	return messages, nil
}
