// Package pdr runs one pedestrian dead-reckoning session: it routes sensor
// samples to the step detector and heading estimator, feeds step events and
// floor-plan taps to the calibration machine, keeps sensors registered only
// while the machine needs them, and publishes snapshots for rendering.
package pdr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/indoor_pdr/internal/calibration"
	"github.com/relabs-tech/indoor_pdr/internal/heading"
	"github.com/relabs-tech/indoor_pdr/internal/monitoring"
	"github.com/relabs-tech/indoor_pdr/internal/position"
	"github.com/relabs-tech/indoor_pdr/internal/sensorstream"
	"github.com/relabs-tech/indoor_pdr/internal/step"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("pdr: session closed")

// Warnings surfaced in snapshots.
const (
	WarnNoStepSensors     = "no step sensor available; only simulated steps will count"
	WarnRegisterFailed    = "sensor registration failed"
	WarnCalibrationFailed = "calibration failed: no steps were recorded, tap the start point again"
)

// Sensors is the platform sensor registry a session draws samples from.
//
// Register is called with the session lock held: it must not invoke the
// listener before returning, and Unregister must not wait for in-flight
// deliveries. Listeners may be called from any goroutine.
type Sensors interface {
	Register(listener func(sensorstream.Sample)) ([]sensorstream.Kind, error)
	Unregister() error
}

// Options configures a Session. Zero values select defaults.
type Options struct {
	CalibrationSteps int
	Step             step.Options
	// Now stamps manual steps and snapshots. Defaults to time.Now.
	Now func() time.Time
}

// Snapshot is everything a renderer needs, copied out of the session.
type Snapshot struct {
	SessionID     string              `json:"session_id"`
	State         calibration.State   `json:"state"`
	StepsTaken    int                 `json:"steps_taken"`
	TargetSteps   int                 `json:"target_steps"`
	TrackedSteps  int                 `json:"tracked_steps"`
	Start         position.Point      `json:"start"`
	End           position.Point      `json:"end"`
	Current       position.Point      `json:"current"`
	Stride        float64             `json:"stride"`
	Heading       float64             `json:"heading"`
	HeadingValid  bool                `json:"heading_valid"`
	SensorsActive bool                `json:"sensors_active"`
	Channels      []sensorstream.Kind `json:"channels,omitempty"`
	Warning       string              `json:"warning,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// lease is one sensor registration. Samples delivered through a released
// lease are dropped, which covers deliveries racing an Unregister.
//
// The transport may hand samples over out of order. For channels whose
// samples are readings rather than events (counter totals, accelerometer,
// rotation) a sample older than the last accepted one on the same channel is
// dropped, so edge detection and the latest heading see a monotonic stream.
//
// offset maps the host clock onto the producer's sample clock so manual
// steps are stamped on the same timeline the debounce window compares.
type lease struct {
	released bool
	latest   map[sensorstream.Kind]time.Time
	offset   time.Duration
	synced   bool
}

// inOrder reports whether a reading at t may be used and records it.
func (l *lease) inOrder(k sensorstream.Kind, t time.Time) bool {
	if k == sensorstream.KindStepPulse {
		return true
	}
	if last, ok := l.latest[k]; ok && t.Before(last) {
		return false
	}
	l.latest[k] = t
	return true
}

// Session is a single calibration-and-tracking session. All methods are safe
// for concurrent use; state changes are serialized by one mutex.
type Session struct {
	mu sync.Mutex

	id       string
	now      func() time.Time
	model    calibration.Model
	detector *step.Detector
	heading  *heading.Estimator
	sensors  Sensors

	lease    *lease
	channels []sensorstream.Kind
	warning  string
	updated  time.Time
	closed   bool

	subscribers map[string]chan Snapshot
}

// NewSession returns an Idle session. No sensors are registered until the
// first start tap.
func NewSession(sensors Sensors, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		id:          uuid.NewString(),
		now:         now,
		model:       calibration.NewModel(opts.CalibrationSteps),
		detector:    step.NewDetector(opts.Step),
		heading:     heading.NewEstimator(),
		sensors:     sensors,
		subscribers: make(map[string]chan Snapshot),
	}
	s.updated = now()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// StartCalibration moves Idle or Tracking to SelectingStart.
func (s *Session) StartCalibration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.apply(calibration.StartRequested{})
}

// Tap delivers a floor-plan tap. Taps outside SelectingStart and
// SelectingEnd are ignored. ErrDegenerateCalibration is returned when the
// end tap could not produce a stride; the session is then waiting for a new
// start tap.
func (s *Session) Tap(p position.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.apply(calibration.Tapped{Point: p})
}

// SimulateStep injects one step as if a sensor had detected it. Once sensor
// samples have arrived the step is stamped on their clock.
func (s *Session) SimulateStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.steps(s.detector.Manual(s.sampleClock()))
}

// sampleClock is the current time on the clock sensor samples carry.
func (s *Session) sampleClock() time.Time {
	now := s.now()
	if s.lease != nil && s.lease.synced {
		return now.Add(s.lease.offset)
	}
	return now
}

// Reset abandons the session state and returns to Idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.apply(calibration.ResetRequested{})
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Subscribe returns a channel that receives a snapshot after every update,
// starting with the current one. Slow readers only see the latest snapshot.
// The channel is closed by Unsubscribe or Close.
func (s *Session) Subscribe() (string, <-chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Snapshot, 1)
	if s.closed {
		close(ch)
		return id, ch
	}
	ch <- s.snapshot()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe stops delivery to a subscriber and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Close releases sensors and closes all subscriber channels. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.release()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	monitoring.Logf("pdr: session %s closed in state %s", s.id, s.model.State)
	return err
}

// deliver is the listener body for one lease.
func (s *Session) deliver(l *lease, smp sensorstream.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || l.released || l != s.lease {
		return
	}
	if err := smp.Validate(); err != nil {
		monitoring.Logf("pdr: dropping sample: %v", err)
		return
	}

	t := smp.Time
	if t.IsZero() {
		t = s.now()
	} else {
		l.offset = t.Sub(s.now())
		l.synced = true
	}
	if !l.inOrder(smp.Kind, t) {
		monitoring.Logf("pdr: dropping late %s sample from %s", smp.Kind, t.Format(time.RFC3339Nano))
		return
	}

	var n int
	switch smp.Kind {
	case sensorstream.KindStepPulse:
		n = s.detector.Pulse(t)
	case sensorstream.KindStepCounter:
		n = s.detector.Counter(t, smp.Total())
	case sensorstream.KindAccel:
		x, y, z := smp.Accel()
		n = s.detector.Accel(t, x, y, z)
	case sensorstream.KindRotation:
		if _, ok := s.heading.Update(smp.Values); ok {
			s.touch()
		}
		return
	}

	if err := s.steps(n); err != nil {
		monitoring.Logf("pdr: step handling: %v", err)
	}
}

// steps routes n step events to the machine with the current heading.
func (s *Session) steps(n int) error {
	for i := 0; i < n; i++ {
		if err := s.apply(calibration.StepDetected{Heading: s.heading.Heading()}); err != nil {
			return err
		}
	}
	return nil
}

// apply runs one machine transition and performs its effects.
func (s *Session) apply(ev calibration.Event) error {
	prev := s.model.State
	next, effects, err := calibration.Apply(s.model, ev)
	s.model = next

	var effectErr error
	for _, e := range effects {
		switch e {
		case calibration.AcquireSensors:
			s.acquire()
		case calibration.ReleaseSensors:
			if rerr := s.release(); rerr != nil {
				effectErr = rerr
			}
		case calibration.Calibrated:
			monitoring.Logf("pdr: session %s calibrated: stride %.2f px over %d steps", s.id, next.Stride, next.StepsTaken)
		}
	}

	if errors.Is(err, calibration.ErrDegenerateCalibration) {
		s.warning = WarnCalibrationFailed
		monitoring.Logf("pdr: session %s: %v", s.id, err)
	}
	if prev != next.State {
		monitoring.Logf("pdr: session %s: %s -> %s", s.id, prev, next.State)
	}
	if len(effects) > 0 || prev != next.State || err != nil {
		s.touch()
	}

	if err != nil {
		return err
	}
	return effectErr
}

// acquire registers sensors under a fresh lease.
func (s *Session) acquire() {
	if s.lease != nil {
		return
	}
	l := &lease{latest: make(map[sensorstream.Kind]time.Time)}
	s.lease = l
	s.warning = ""

	kinds, err := s.sensors.Register(func(smp sensorstream.Sample) {
		s.deliver(l, smp)
	})
	if err != nil {
		l.released = true
		s.lease = nil
		s.warning = fmt.Sprintf("%s: %v", WarnRegisterFailed, err)
		monitoring.Logf("pdr: session %s: register sensors: %v", s.id, err)
		return
	}
	s.channels = kinds

	hasStepSource := false
	for _, k := range kinds {
		if k.IsStepSource() {
			hasStepSource = true
		}
	}
	if !hasStepSource {
		s.warning = WarnNoStepSensors
		monitoring.Logf("pdr: session %s: %s (channels %v)", s.id, WarnNoStepSensors, kinds)
	}
}

// release unregisters sensors and forgets the counter baseline.
func (s *Session) release() error {
	s.detector.ResetCounter()
	s.channels = nil
	if s.warning != WarnCalibrationFailed {
		s.warning = ""
	}
	if s.lease == nil {
		return nil
	}
	s.lease.released = true
	s.lease = nil
	if err := s.sensors.Unregister(); err != nil {
		monitoring.Logf("pdr: session %s: unregister sensors: %v", s.id, err)
		return fmt.Errorf("pdr: unregister sensors: %w", err)
	}
	return nil
}

// touch records an update and fans the new snapshot out.
func (s *Session) touch() {
	s.updated = s.now()
	snap := s.snapshot()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// drop the stale snapshot so the reader sees the latest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) snapshot() Snapshot {
	m := s.model
	return Snapshot{
		SessionID:     s.id,
		State:         m.State,
		StepsTaken:    m.StepsTaken,
		TargetSteps:   m.TargetSteps,
		TrackedSteps:  m.TrackedSteps,
		Start:         m.Start,
		End:           m.End,
		Current:       m.Current,
		Stride:        m.Stride,
		Heading:       s.heading.Heading(),
		HeadingValid:  s.heading.Valid(),
		SensorsActive: s.lease != nil,
		Channels:      append([]sensorstream.Kind(nil), s.channels...),
		Warning:       s.warning,
		UpdatedAt:     s.updated,
	}
}
