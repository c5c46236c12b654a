// Package position holds the floor-plan geometry used by dead reckoning.
//
// Coordinates are floor-plan pixels with y growing downwards, so a heading
// of 0 moves the walker towards the top of the image. Position is pure
// integration of stride and heading; error grows with distance walked and
// nothing corrects it.
package position

import "math"

// Point is a floor-plan coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p shifted by (dx, dy).
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Finite reports whether both coordinates are usable numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Distance is the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Displacement is the move produced by one step of the given stride along
// heading (radians, 0 = up on the floor plan).
func Displacement(stride, heading float64) (dx, dy float64) {
	return stride * math.Sin(heading), -stride * math.Cos(heading)
}

// Advance applies one step to p.
func Advance(p Point, stride, heading float64) Point {
	dx, dy := Displacement(stride, heading)
	return p.Add(dx, dy)
}
