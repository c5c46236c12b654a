package sensorstream

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		wantErr bool
	}{
		{"pulse", StepPulse(t0), false},
		{"counter", StepCounterTotal(t0, 100), false},
		{"accel", Acceleration(t0, 0, 0, 9.8), false},
		{"rotation quaternion", RotationVector(t0, 0, 0, 0, 1), false},
		{"rotation with accuracy", RotationVector(t0, 0, 0, 0, 1, 0.1), false},
		{"rotation three", RotationVector(t0, 0, 0, 0.1), false},
		{"unknown kind", Sample{Kind: "gyro", Time: t0}, true},
		{"short accel", Sample{Kind: KindAccel, Values: []float64{1, 2}}, true},
		{"pulse with payload", Sample{Kind: KindStepPulse, Values: []float64{1}}, true},
		{"rotation too long", RotationVector(t0, 1, 2, 3, 4, 5, 6), true},
		{"nan accel", Acceleration(t0, math.NaN(), 0, 0), true},
		{"inf counter", StepCounterTotal(t0, math.Inf(1)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sample.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSample)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRotationVectorCopies(t *testing.T) {
	v := []float64{0.1, 0.2, 0.3, 0.9}
	s := RotationVector(t0, v...)
	v[0] = 42
	assert.InDelta(t, 0.1, s.Values[0], 1e-12)

	r := s.Rotation()
	r[1] = 42
	assert.InDelta(t, 0.2, s.Values[1], 1e-12)
}

func TestEncodeDecode(t *testing.T) {
	in := Acceleration(t0, 0.5, -0.25, 11.5)
	payload, err := Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"accel","time":"2026-03-02T08:00:00Z","values":[0.5,-0.25,11.5]}`, string(payload))

	out, err := Decode(payload)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("decoded sample mismatch (-want +got):\n%s", diff)
	}

	x, y, z := out.Accel()
	assert.Equal(t, []float64{0.5, -0.25, 11.5}, []float64{x, y, z})
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"kind":"accel","values":[1]}`))
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidSample)

	_, err = Encode(Sample{Kind: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidSample)
}
