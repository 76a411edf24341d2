package types

import (
	"fmt"
	"strings"
	"time"
)

type TrackSource int

const (
	TrackSourceUnknown TrackSource = iota
	TrackSourceCamera
	TrackSourceScreenShare
	TrackSourceMicrophone
)

var AllTrackSources = []TrackSource{
	TrackSourceCamera,
	TrackSourceScreenShare,
	TrackSourceMicrophone,
}

func (s TrackSource) String() string {
	switch s {
	case TrackSourceCamera:
		return "camera"
	case TrackSourceScreenShare:
		return "screen_share"
	case TrackSourceMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

func (s TrackSource) IsValid() bool {
	return s >= TrackSourceCamera && s <= TrackSourceMicrophone
}

func (s TrackSource) IsVideo() bool {
	return s == TrackSourceCamera || s == TrackSourceScreenShare
}

func (s TrackSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TrackSource) UnmarshalText(text []byte) error {
	source, err := ParseTrackSource(string(text))
	if err != nil {
		return err
	}
	*s = source
	return nil
}

func ParseTrackSource(s string) (TrackSource, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "camera":
		return TrackSourceCamera, nil
	case "screen_share", "screenshare":
		return TrackSourceScreenShare, nil
	case "microphone", "mic":
		return TrackSourceMicrophone, nil
	default:
		return TrackSourceUnknown, fmt.Errorf("unknown track source %q", s)
	}
}

type SubscriptionState int

const (
	// not yet available to subscribe
	SubscriptionStateUnavailable SubscriptionState = iota
	SubscriptionStateSubscribed
	SubscriptionStateUnsubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateSubscribed:
		return "subscribed"
	case SubscriptionStateUnsubscribed:
		return "unsubscribed"
	default:
		return "unavailable"
	}
}

func (s SubscriptionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SubscriptionState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "subscribed":
		*s = SubscriptionStateSubscribed
	case "unsubscribed":
		*s = SubscriptionStateUnsubscribed
	case "unavailable", "":
		*s = SubscriptionStateUnavailable
	default:
		return fmt.Errorf("unknown subscription state %q", text)
	}
	return nil
}

type TrackPublication struct {
	SID           string            `json:"sid,omitempty" yaml:"sid,omitempty"`
	ParticipantID ParticipantID     `json:"participant_id" yaml:"-"`
	Source        TrackSource       `json:"source" yaml:"-"`
	Name          string            `json:"name,omitempty" yaml:"name,omitempty"`
	Subscription  SubscriptionState `json:"subscription" yaml:"subscription,omitempty"`
	Muted         bool              `json:"muted" yaml:"muted,omitempty"`
	PublishedAt   time.Time         `json:"published_at" yaml:"-"`
}

func (t *TrackPublication) Clone() *TrackPublication {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TrackReference points at a participant's track for a source. A nil Publication is a
// placeholder for a source the participant has not published.
type TrackReference struct {
	ParticipantID ParticipantID     `json:"participant_id"`
	Source        TrackSource       `json:"source"`
	Publication   *TrackPublication `json:"publication,omitempty"`
}

func (r TrackReference) IsPlaceholder() bool {
	return r.Publication == nil
}

// Key is unique per (participant, source), suitable for keying rendered items
func (r TrackReference) Key() string {
	return string(r.ParticipantID) + "/" + r.Source.String()
}
