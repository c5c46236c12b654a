// Package sensorstream carries raw sensor readings from producers to the PDR
// session: the sample type, its JSON wire form, and the adapters that
// deliver samples (MQTT topics, NMEA-framed serial lines).
package sensorstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidSample is returned for samples with an unknown kind, the wrong
// number of values, or non-finite values.
var ErrInvalidSample = errors.New("invalid sensor sample")

// Kind identifies the sensor channel a sample came from.
type Kind string

const (
	KindStepPulse   Kind = "step_pulse"
	KindStepCounter Kind = "step_counter"
	KindAccel       Kind = "accel"
	KindRotation    Kind = "rotation"
)

// Kinds lists every channel in a stable order.
var Kinds = []Kind{KindStepPulse, KindStepCounter, KindAccel, KindRotation}

// IsStepSource reports whether the channel can produce step events.
func (k Kind) IsStepSource() bool {
	return k == KindStepPulse || k == KindStepCounter || k == KindAccel
}

// Sample is a single sensor callback. Values depend on Kind:
//
//	step_pulse    none
//	step_counter  cumulative total
//	accel         x, y, z in m/s²
//	rotation      3 to 5 rotation vector components
type Sample struct {
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"time"`
	Values []float64 `json:"values,omitempty"`
}

// StepPulse builds a step-detector pulse.
func StepPulse(t time.Time) Sample {
	return Sample{Kind: KindStepPulse, Time: t}
}

// StepCounterTotal builds a cumulative step-counter reading.
func StepCounterTotal(t time.Time, total float64) Sample {
	return Sample{Kind: KindStepCounter, Time: t, Values: []float64{total}}
}

// Acceleration builds an accelerometer reading in m/s².
func Acceleration(t time.Time, x, y, z float64) Sample {
	return Sample{Kind: KindAccel, Time: t, Values: []float64{x, y, z}}
}

// RotationVector builds a rotation-vector reading. The components are copied.
func RotationVector(t time.Time, v ...float64) Sample {
	return Sample{Kind: KindRotation, Time: t, Values: append([]float64(nil), v...)}
}

// Total returns the cumulative count of a step_counter sample.
func (s Sample) Total() float64 {
	if len(s.Values) < 1 {
		return 0
	}
	return s.Values[0]
}

// Accel returns the three axes of an accel sample.
func (s Sample) Accel() (x, y, z float64) {
	if len(s.Values) < 3 {
		return 0, 0, 0
	}
	return s.Values[0], s.Values[1], s.Values[2]
}

// Rotation returns a copy of the rotation vector components.
func (s Sample) Rotation() []float64 {
	return append([]float64(nil), s.Values...)
}

// Validate checks kind, arity and finiteness.
func (s Sample) Validate() error {
	var lo, hi int
	switch s.Kind {
	case KindStepPulse:
		lo, hi = 0, 0
	case KindStepCounter:
		lo, hi = 1, 1
	case KindAccel:
		lo, hi = 3, 3
	case KindRotation:
		lo, hi = 3, 5
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSample, s.Kind)
	}
	if n := len(s.Values); n < lo || n > hi {
		return fmt.Errorf("%w: %s carries %d values", ErrInvalidSample, s.Kind, n)
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s value %d is not finite", ErrInvalidSample, s.Kind, i)
		}
	}
	return nil
}

// Encode marshals a sample for publishing.
func Encode(s Sample) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Decode unmarshals and validates a published sample.
func Decode(payload []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if err := s.Validate(); err != nil {
		return Sample{}, err
	}
	return s, nil
}
