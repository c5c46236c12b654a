// Package step turns raw step-related sensor channels into step events.
//
// Three channels run side by side: a dedicated step-detector pulse, a
// cumulative step counter used as catch-up, and a rising-edge detector on
// accelerometer magnitude. A manual channel lets the UI inject steps.
// Nothing deduplicates across channels unless a debounce window is set, so a
// single footstep can be reported by more than one channel.
package step

import (
	"math"
	"time"
)

const (
	// StandardGravity is subtracted from the accelerometer magnitude.
	StandardGravity = 9.80665
	// DefaultThreshold is the net acceleration, in m/s², that counts as a step.
	DefaultThreshold = 1.2
)

// Channel names where a step event came from.
type Channel int

const (
	ChannelPulse Channel = iota + 1
	ChannelCounter
	ChannelAccel
	ChannelManual
)

func (c Channel) String() string {
	switch c {
	case ChannelPulse:
		return "pulse"
	case ChannelCounter:
		return "counter"
	case ChannelAccel:
		return "accel"
	case ChannelManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Options tunes a Detector. Zero values select the defaults.
type Options struct {
	Threshold float64
	Gravity   float64
	// Debounce suppresses pulse, accel and manual events stamped within this
	// window of the previous event. All timestamps must come from one clock.
	// Counter catch-up is never debounced, so the window does not remove a
	// step reported by both the counter and another channel. Zero disables
	// it.
	Debounce time.Duration
}

// Detector holds the per-channel state. It is not safe for concurrent use;
// the owning session serializes calls.
type Detector struct {
	threshold float64
	gravity   float64
	debounce  time.Duration

	lastMag float64

	haveBaseline   bool
	baseline       float64
	counterEmitted int

	lastEmit time.Time
	emitted  map[Channel]int
}

// NewDetector returns a detector with no counter baseline.
func NewDetector(opts Options) *Detector {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Gravity <= 0 {
		opts.Gravity = StandardGravity
	}
	return &Detector{
		threshold: opts.Threshold,
		gravity:   opts.Gravity,
		debounce:  opts.Debounce,
		emitted:   make(map[Channel]int),
	}
}

// Pulse handles one step-detector pulse. Each pulse is one step.
func (d *Detector) Pulse(t time.Time) int {
	return d.live(ChannelPulse, t)
}

// Manual handles a step injected by the user.
func (d *Detector) Manual(t time.Time) int {
	return d.live(ChannelManual, t)
}

// Counter handles a cumulative step-counter total. The first total becomes
// the baseline. Later totals emit however many steps the channel has not
// yet reported since the baseline. A total below the baseline means the
// platform counter restarted, so it becomes the new baseline.
func (d *Detector) Counter(t time.Time, total float64) int {
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return 0
	}
	if !d.haveBaseline || total < d.baseline {
		d.haveBaseline = true
		d.baseline = total
		d.counterEmitted = 0
		return 0
	}

	delta := int(total - d.baseline)
	if delta <= d.counterEmitted {
		return 0
	}
	n := delta - d.counterEmitted
	d.counterEmitted = delta
	d.emitted[ChannelCounter] += n
	d.lastEmit = t
	return n
}

// Accel handles one accelerometer reading in m/s². A step is the sample
// where net acceleration first rises above the threshold.
func (d *Detector) Accel(t time.Time, x, y, z float64) int {
	mag := math.Sqrt(x*x + y*y + z*z)
	if math.IsNaN(mag) || math.IsInf(mag, 0) {
		return 0
	}
	delta := mag - d.gravity

	n := 0
	if delta > d.threshold && d.lastMag <= d.threshold {
		n = d.live(ChannelAccel, t)
	}
	d.lastMag = delta
	return n
}

// ResetCounter forgets the counter baseline so the next total starts a
// fresh reconciliation.
func (d *Detector) ResetCounter() {
	d.haveBaseline = false
	d.baseline = 0
	d.counterEmitted = 0
}

// Emitted returns how many events a channel has produced.
func (d *Detector) Emitted(c Channel) int {
	return d.emitted[c]
}

func (d *Detector) live(c Channel, t time.Time) int {
	if d.debounce > 0 && !d.lastEmit.IsZero() {
		gap := t.Sub(d.lastEmit)
		if gap < 0 {
			gap = -gap
		}
		if gap < d.debounce {
			return 0
		}
	}
	d.lastEmit = t
	d.emitted[c]++
	return 1
}
