package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 50.0, Distance(Point{0, 0}, Point{30, 40}), 1e-12)
	assert.InDelta(t, 50.0, Distance(Point{30, 40}, Point{0, 0}), 1e-12)
	assert.Equal(t, 0.0, Distance(Point{7, 7}, Point{7, 7}))
}

func TestAdvance(t *testing.T) {
	for _, stride := range []float64{0, 1, 10, 37.5} {
		for _, heading := range []float64{-math.Pi + 1e-9, -2, -math.Pi / 2, 0, 0.4, math.Pi / 2, 3, math.Pi} {
			for _, p := range []Point{{0, 0}, {120, 480}, {-3.5, 9}} {
				got := Advance(p, stride, heading)
				assert.InDelta(t, p.X+stride*math.Sin(heading), got.X, 1e-9)
				assert.InDelta(t, p.Y-stride*math.Cos(heading), got.Y, 1e-9)
				assert.InDelta(t, stride, Distance(p, got), 1e-9)
			}
		}
	}
}

func TestAdvanceCardinal(t *testing.T) {
	p := Point{100, 100}
	up := Advance(p, 10, 0)
	assert.InDelta(t, 100, up.X, 1e-9)
	assert.InDelta(t, 90, up.Y, 1e-9)

	right := Advance(p, 10, math.Pi/2)
	assert.InDelta(t, 110, right.X, 1e-9)
	assert.InDelta(t, 100, right.Y, 1e-9)
}

func TestFinite(t *testing.T) {
	assert.True(t, Point{1, 2}.Finite())
	assert.False(t, Point{math.NaN(), 2}.Finite())
	assert.False(t, Point{1, math.Inf(-1)}.Finite())
}
