// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package walksim generates a synthetic walk so the PDR service can be
// exercised without a phone: a steady cadence of steps while the walker
// slowly turns.
package walksim

import (
	"math"
	"time"

	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
	"github.com/relabs-tech/indoor_pdr/internal/step"
)

// Peak acceleration above gravity at mid-step, in m/s².
const stepAmplitude = 2.5

// Walker produces one batch of samples per tick.
type Walker struct {
	start    time.Time
	cadence  time.Duration
	turnRate float64 // rad/s about device Z
	steps    int
}

// New returns a walker that starts at start, takes one step per cadence and
// turns at turnRate radians per second.
func New(start time.Time, cadence time.Duration, turnRate float64) *Walker {
	if cadence <= 0 {
		cadence = 500 * time.Millisecond
	}
	return &Walker{start: start, cadence: cadence, turnRate: turnRate}
}

// Steps returns how many steps have been taken so far.
func (w *Walker) Steps() int {
	return w.steps
}

// Next returns the samples for time t: rotation and acceleration always,
// plus a pulse and a counter total when a step lands. Steps land at the
// acceleration peak of each cycle.
func (w *Walker) Next(t time.Time) []sensorstream.Sample {
	elapsed := t.Sub(w.start)
	phase := elapsed.Seconds() / w.cadence.Seconds()

	yaw := w.turnRate * elapsed.Seconds()
	az := step.StandardGravity + stepAmplitude*math.Sin(2*math.Pi*phase)

	out := []sensorstream.Sample{
		sensorstream.RotationVector(t, 0, 0, math.Sin(yaw/2), math.Cos(yaw/2)),
		sensorstream.Acceleration(t, 0, 0, az),
	}

	landed := int(math.Floor(phase + 0.75))
	if landed > w.steps {
		w.steps = landed
		out = append(out,
			sensorstream.StepPulse(t),
			sensorstream.StepCounterTotal(t, float64(w.steps)),
		)
	}
	return out
}
