package engine

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidTransition is returned by control methods called in a state
// that does not allow them. The state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// RunState is the lifecycle state of an engine.
type RunState int

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateStopped
	StateCompleted
	StateError
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s RunState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *RunState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRunState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseRunState is the inverse of RunState.String.
func ParseRunState(name string) (RunState, error) {
	for s := StateIdle; s <= StateError; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return StateIdle, errors.Errorf("unknown run state %q", name)
}

// Terminal reports whether a run in this state has ended.
func (s RunState) Terminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateError
}

// Settled reports whether Wait returns in this state.
func (s RunState) Settled() bool {
	return s != StateRunning
}

type action string

const (
	actionPlay     action = "play"
	actionPause    action = "pause"
	actionResume   action = "resume"
	actionStop     action = "stop"
	actionComplete action = "complete"
	actionFail     action = "fail"
)

var transitions = map[RunState]map[action]RunState{
	StateIdle:      {actionPlay: StateRunning},
	StateRunning:   {actionPause: StatePaused, actionStop: StateStopped, actionComplete: StateCompleted, actionFail: StateError},
	StatePaused:    {actionResume: StateRunning, actionStop: StateStopped, actionFail: StateError},
	StateStopped:   {actionPlay: StateRunning},
	StateCompleted: {actionPlay: StateRunning},
	StateError:     {actionPlay: StateRunning},
}

// next returns the state reached from s by a, or ErrInvalidTransition.
func next(s RunState, a action) (RunState, error) {
	if to, ok := transitions[s][a]; ok {
		return to, nil
	}
	return s, errors.Wrapf(ErrInvalidTransition, "cannot %s while %s", a, s)
}
