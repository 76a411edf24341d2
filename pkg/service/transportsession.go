package service

import (
	"time"

	"github.com/livekit/protocol/utils"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/sfu/audio"
	"github.com/livekit/room-coordinator/pkg/telemetry/prometheus"
)

// TransportSession applies transport messages to a room, in the order they are handled.
// Not safe for concurrent use, a session belongs to one connection.
type TransportSession struct {
	listener    types.TransportListener
	levelParams audio.AudioLevelParams
	levels      map[types.ParticipantID]*audio.AudioLevel
}

func NewTransportSession(listener types.TransportListener, conf config.AudioConfig) *TransportSession {
	return &TransportSession{
		listener: listener,
		levelParams: audio.AudioLevelParams{
			ActiveLevel:     conf.ActiveLevel,
			MinPercentile:   conf.MinPercentile,
			ObserveDuration: conf.ObserveDuration,
		},
		levels: make(map[types.ParticipantID]*audio.AudioLevel),
	}
}

// Handle applies msg. Only joins and malformed messages return errors.
func (s *TransportSession) Handle(msg *TransportMessage) error {
	err := s.handle(msg)
	status := "success"
	if err != nil {
		status = "failure"
	}
	prometheus.MessageCounter.WithLabelValues(string(msg.Type), status).Inc()
	return err
}

func (s *TransportSession) handle(msg *TransportMessage) error {
	switch msg.Type {
	case MessageParticipantJoined:
		if msg.Participant == nil {
			return ErrInvalidMessageType
		}
		return s.listener.OnParticipantJoined(msg.Participant)

	case MessageParticipantUpdated:
		if msg.Participant == nil {
			return ErrInvalidMessageType
		}
		s.listener.OnParticipantUpdated(msg.Participant)

	case MessageParticipantLeft:
		delete(s.levels, msg.ParticipantID)
		s.listener.OnParticipantLeft(msg.ParticipantID)

	case MessageTrackPublished:
		pub := msg.Publication
		if pub == nil {
			pub = &types.TrackPublication{}
		}
		if pub.SID == "" {
			pub.SID = utils.NewGuid(utils.TrackPrefix)
		}
		s.listener.OnTrackPublished(msg.ParticipantID, msg.Source, pub)

	case MessageTrackUnpublished:
		s.listener.OnTrackUnpublished(msg.ParticipantID, msg.Source)

	case MessageTrackMuted:
		s.listener.OnTrackMuted(msg.ParticipantID, msg.Source, msg.Muted)

	case MessageTrackSubscription:
		s.listener.OnTrackSubscriptionChanged(msg.ParticipantID, msg.Source, msg.Subscription)

	case MessageAudioLevel:
		return s.handleAudioLevel(msg)

	default:
		return ErrInvalidMessageType
	}
	return nil
}

func (s *TransportSession) handleAudioLevel(msg *TransportMessage) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch {
	case msg.Level != nil:
		s.listener.OnAudioLevel(msg.ParticipantID, *msg.Level, ts)

	case msg.DBov != nil:
		level, ok := s.audioLevel(msg.ParticipantID).Observe(*msg.DBov, msg.DurationMs)
		if ok {
			s.listener.OnAudioLevel(msg.ParticipantID, level, ts)
		}

	default:
		return ErrMissingAudioLevel
	}
	return nil
}

func (s *TransportSession) audioLevel(id types.ParticipantID) *audio.AudioLevel {
	l, ok := s.levels[id]
	if !ok {
		l = audio.NewAudioLevel(s.levelParams)
		s.levels[id] = l
	}
	return l
}
