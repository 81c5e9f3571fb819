package history

import "slices"

// Status is the global loading status.
type Status int

const (
	// StatusIdle means no extraction or synthesis is running.
	StatusIdle Status = iota
	// StatusExtractingText means an image transcription is in flight.
	StatusExtractingText
	// StatusGeneratingAudio means a speech synthesis is in flight.
	StatusGeneratingAudio
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusExtractingText:
		return "extracting text"
	case StatusGeneratingAudio:
		return "generating audio"
	default:
		return "unknown"
	}
}

// stateMachine validates status transitions. Both busy states return to
// idle on success and on failure.
type stateMachine struct {
	current     Status
	transitions map[Status][]Status
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current: StatusIdle,
		transitions: map[Status][]Status{
			StatusIdle:            {StatusExtractingText, StatusGeneratingAudio},
			StatusExtractingText:  {StatusIdle},
			StatusGeneratingAudio: {StatusIdle},
		},
	}
}

// Transition moves to the given status if allowed.
func (sm *stateMachine) Transition(to Status) bool {
	if !slices.Contains(sm.transitions[sm.current], to) {
		return false
	}
	sm.current = to
	return true
}

// Current returns the current status.
func (sm *stateMachine) Current() Status {
	return sm.current
}
