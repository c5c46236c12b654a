// Package calibration is the stride-length walkthrough that puts a PDR
// session into tracking.
//
// The user taps where they stand, walks a fixed number of steps, taps where
// they ended up, and the stride is the tapped distance over the steps taken.
// Apply is a pure function of (model, event); the caller performs the
// returned effects.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/indoor_pdr/internal/position"
)

// DefaultSteps is how many steps the walkthrough measures.
const DefaultSteps = 5

var (
	// ErrDegenerateCalibration means the end tap arrived with no usable
	// step count or stride. The model goes back to SelectingStart.
	ErrDegenerateCalibration = errors.New("calibration: no stride could be measured")
	// ErrInvalidTap is returned for taps with non-finite coordinates.
	ErrInvalidTap = errors.New("calibration: tap is not a finite point")
)

// State is the walkthrough mode. Exactly one is live at a time.
type State int

const (
	Idle State = iota
	SelectingStart
	Walking
	SelectingEnd
	Tracking
)

var stateNames = [...]string{
	Idle:           "Idle",
	SelectingStart: "SelectingStart",
	Walking:        "Walking",
	SelectingEnd:   "SelectingEnd",
	Tracking:       "Tracking",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("calibration: unknown state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("calibration: unknown state %q", b)
}

// SensorsActive reports whether sensors must be registered in this state.
func (s State) SensorsActive() bool {
	return s == Walking || s == Tracking
}

// AcceptsTaps reports whether a floor-plan tap means anything in this state.
func (s State) AcceptsTaps() bool {
	return s == SelectingStart || s == SelectingEnd
}

// Model is the whole walkthrough state.
type Model struct {
	State       State
	TargetSteps int
	// StepsTaken counts calibration steps while Walking.
	StepsTaken int
	// TrackedSteps counts steps integrated while Tracking.
	TrackedSteps int

	Start   position.Point
	End     position.Point
	Current position.Point
	Stride  float64
}

// NewModel returns an Idle model. A target below 1 selects DefaultSteps.
func NewModel(targetSteps int) Model {
	if targetSteps < 1 {
		targetSteps = DefaultSteps
	}
	return Model{State: Idle, TargetSteps: targetSteps}
}

// Event is something that can move the walkthrough.
type Event interface {
	event()
}

// StartRequested is the user asking to (re)calibrate.
type StartRequested struct{}

// Tapped is a tap on the floor plan.
type Tapped struct {
	Point position.Point
}

// StepDetected is one logical step, with the heading current at the time.
type StepDetected struct {
	Heading float64
}

// ResetRequested abandons everything and returns to Idle.
type ResetRequested struct{}

func (StartRequested) event() {}
func (Tapped) event()         {}
func (StepDetected) event()   {}
func (ResetRequested) event() {}

// Effect is work the caller must do after a transition.
type Effect int

const (
	// AcquireSensors: register sensor listeners.
	AcquireSensors Effect = iota + 1
	// ReleaseSensors: unregister listeners and clear the counter baseline.
	ReleaseSensors
	// PositionChanged: Current moved; re-render.
	PositionChanged
	// Calibrated: a stride was measured.
	Calibrated
)

func (e Effect) String() string {
	switch e {
	case AcquireSensors:
		return "AcquireSensors"
	case ReleaseSensors:
		return "ReleaseSensors"
	case PositionChanged:
		return "PositionChanged"
	case Calibrated:
		return "Calibrated"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// Apply computes the next model. Events that mean nothing in the current
// state return the model unchanged with no effects. A returned error leaves
// a valid model, possibly with effects to perform.
func Apply(m Model, ev Event) (Model, []Effect, error) {
	switch ev := ev.(type) {
	case StartRequested:
		if m.State != Idle && m.State != Tracking {
			return m, nil, nil
		}
		next := restart(m)
		return next, lifecycle(m, next), nil

	case Tapped:
		if !m.State.AcceptsTaps() {
			return m, nil, nil
		}
		if !ev.Point.Finite() {
			return m, nil, ErrInvalidTap
		}
		if m.State == SelectingStart {
			return beginWalking(m, ev.Point)
		}
		return finishCalibration(m, ev.Point)

	case StepDetected:
		switch m.State {
		case Walking:
			next := m
			next.StepsTaken++
			if next.StepsTaken >= next.TargetSteps {
				next.State = SelectingEnd
			}
			return next, lifecycle(m, next), nil
		case Tracking:
			if math.IsNaN(ev.Heading) || math.IsInf(ev.Heading, 0) {
				return m, nil, nil
			}
			p := position.Advance(m.Current, m.Stride, ev.Heading)
			if !p.Finite() {
				return m, nil, nil
			}
			next := m
			next.Current = p
			next.TrackedSteps++
			return next, []Effect{PositionChanged}, nil
		}
		return m, nil, nil

	case ResetRequested:
		next := NewModel(m.TargetSteps)
		return next, lifecycle(m, next), nil
	}
	return m, nil, fmt.Errorf("calibration: unknown event %T", ev)
}

// restart clears everything measured and waits for a start tap.
func restart(m Model) Model {
	next := NewModel(m.TargetSteps)
	next.State = SelectingStart
	return next
}

func beginWalking(m Model, p position.Point) (Model, []Effect, error) {
	next := m
	next.Start = p
	next.Current = p
	next.StepsTaken = 0
	next.State = Walking
	return next, lifecycle(m, next), nil
}

func finishCalibration(m Model, p position.Point) (Model, []Effect, error) {
	if m.StepsTaken <= 0 {
		next := restart(m)
		return next, lifecycle(m, next), ErrDegenerateCalibration
	}
	stride := position.Distance(m.Start, p) / float64(m.StepsTaken)
	if math.IsNaN(stride) || math.IsInf(stride, 0) {
		next := restart(m)
		return next, lifecycle(m, next), ErrDegenerateCalibration
	}

	next := m
	next.End = p
	next.Stride = stride
	next.Current = p
	next.TrackedSteps = 0
	next.State = Tracking
	effects := lifecycle(m, next)
	effects = append(effects, Calibrated)
	return next, effects, nil
}

// lifecycle derives sensor and render effects from a transition.
func lifecycle(prev, next Model) []Effect {
	var effects []Effect
	wasActive := prev.State.SensorsActive()
	isActive := next.State.SensorsActive()
	switch {
	case wasActive && !isActive:
		effects = append(effects, ReleaseSensors)
	case !wasActive && isActive:
		effects = append(effects, AcquireSensors)
	case wasActive && isActive && prev.State != next.State:
		effects = append(effects, ReleaseSensors, AcquireSensors)
	}
	if prev.Current != next.Current {
		effects = append(effects, PositionChanged)
	}
	return effects
}
