package meetings

import "errors"

var (
	// ErrInvalidParams means the creation parameters failed validation.
	ErrInvalidParams = errors.New("invalid meeting parameters")
	// ErrNotFound means no meeting exists for the given id or booking id.
	ErrNotFound = errors.New("meeting not found")
	// ErrInvalidTransition means the requested status change is not allowed
	// from the meeting's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrParticipantNotFound means the user is not one of the meeting's two participants.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrConflict means a conditional update lost a race (e.g. the meeting was
	// swept away mid-call). Callers retry by re-reading.
	ErrConflict = errors.New("concurrent update conflict")
)
