package rtc

import "errors"

var (
	ErrRoomClosed                  = errors.New("room has already closed")
	ErrMaxParticipantsExceeded     = errors.New("room has exceeded its max participants")
	ErrConflictingLocalParticipant = errors.New("another participant is already marked local")
	ErrUnknownParticipant          = errors.New("participant is not in the room")
	ErrStaleEvent                  = errors.New("event for a participant that has left")
	ErrLocalParticipantRemoval     = errors.New("local participant cannot leave an active session")
	ErrInvalidParticipant          = errors.New("participant has no id")
	ErrInvalidTrackSource          = errors.New("invalid track source")
	ErrInvalidAudioLevel           = errors.New("audio level must be within 0..1")
	ErrOutOfOrderSample            = errors.New("audio sample is older than the latest observed")
)
