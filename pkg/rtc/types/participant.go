package types

import (
	"fmt"
	"strings"
	"time"
)

type ParticipantID string

type ParticipantState int

const (
	// not yet accepted by the registry
	ParticipantStateJoining ParticipantState = iota
	ParticipantStateActive
	// terminal
	ParticipantStateLeft
)

func (s ParticipantState) String() string {
	switch s {
	case ParticipantStateJoining:
		return "joining"
	case ParticipantStateActive:
		return "active"
	case ParticipantStateLeft:
		return "left"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

func (s ParticipantState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ParticipantState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "joining", "":
		*s = ParticipantStateJoining
	case "active":
		*s = ParticipantStateActive
	case "left":
		*s = ParticipantStateLeft
	default:
		return fmt.Errorf("unknown participant state %q", text)
	}
	return nil
}

type Participant struct {
	ID      ParticipantID    `json:"id" yaml:"id"`
	Name    string           `json:"name,omitempty" yaml:"name,omitempty"`
	IsLocal bool             `json:"is_local,omitempty" yaml:"is_local,omitempty"`
	State   ParticipantState `json:"state" yaml:"state,omitempty"`
	// maintained by the speaker tracker
	IsSpeaking bool `json:"is_speaking" yaml:"-"`
	// linear, 0..1
	AudioLevel float64   `json:"audio_level" yaml:"-"`
	JoinedAt   time.Time `json:"joined_at" yaml:"-"`
}

func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (p *Participant) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.IsLocal {
		return fmt.Sprintf("%s(local)", p.ID)
	}
	return string(p.ID)
}
