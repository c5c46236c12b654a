// Package render draws a PDR snapshot onto the floor plan: a red marker at
// the current position, a blue arrow along the heading and a status line.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/relabs-tech/indoor_pdr/internal/calibration"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
)

// Marker geometry in floor-plan pixels.
const (
	MarkerRadius = 12
	ArrowLength  = 50
	ArrowWidth   = 4
	statusHeight = 20
)

var (
	MarkerColor = color.RGBA{R: 0xff, A: 0xff}
	ArrowColor  = color.RGBA{B: 0xff, A: 0xff}
	background  = color.White
	statusBG    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xd0}
	textColor   = color.Black
)

// LoadFloorPlan decodes a PNG or JPEG floor plan.
func LoadFloorPlan(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open floor plan: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode floor plan %s: %w", path, err)
	}
	return img, nil
}

// Renderer owns the scaled floor plan. It is safe for concurrent use since
// every Render works on a fresh canvas.
type Renderer struct {
	plan *image.RGBA
}

// NewRenderer scales plan to width x height. A nil plan gives a blank canvas.
func NewRenderer(plan image.Image, width, height int) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render: invalid canvas %dx%d", width, height)
	}
	bg := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(bg, bg.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	if plan != nil {
		xdraw.ApproxBiLinear.Scale(bg, bg.Bounds(), plan, plan.Bounds(), xdraw.Over, nil)
	}
	return &Renderer{plan: bg}, nil
}

// Bounds returns the canvas rectangle.
func (r *Renderer) Bounds() image.Rectangle {
	return r.plan.Bounds()
}

// Render draws snap over a copy of the floor plan.
func (r *Renderer) Render(snap pdr.Snapshot) *image.RGBA {
	b := r.plan.Bounds()
	img := image.NewRGBA(b)
	copy(img.Pix, r.plan.Pix)

	cx, cy := float32(snap.Current.X), float32(snap.Current.Y)
	fillCircle(img, cx, cy, MarkerRadius, MarkerColor)

	ex := cx + ArrowLength*float32(math.Sin(snap.Heading))
	ey := cy - ArrowLength*float32(math.Cos(snap.Heading))
	strokeLine(img, cx, cy, ex, ey, ArrowWidth, ArrowColor)

	drawStatus(img, Status(snap))
	return img
}

// WritePNG renders snap and encodes it as PNG.
func (r *Renderer) WritePNG(w io.Writer, snap pdr.Snapshot) error {
	if err := png.Encode(w, r.Render(snap)); err != nil {
		return fmt.Errorf("render: encode png: %w", err)
	}
	return nil
}

// Status is the one-line prompt for the user in each state.
func Status(snap pdr.Snapshot) string {
	var s string
	switch snap.State {
	case calibration.Idle:
		s = "Press start to calibrate"
	case calibration.SelectingStart:
		s = "Tap the map where you are standing"
	case calibration.Walking:
		s = fmt.Sprintf("Walk %d steps: %d / %d", snap.TargetSteps, snap.StepsTaken, snap.TargetSteps)
	case calibration.SelectingEnd:
		s = fmt.Sprintf("Tap where you stopped after %d steps", snap.TargetSteps)
	case calibration.Tracking:
		s = fmt.Sprintf("Navigation active: %d steps, stride %.1f px", snap.TrackedSteps, snap.Stride)
	default:
		s = snap.State.String()
	}
	if snap.Warning != "" {
		s += " [" + snap.Warning + "]"
	}
	return s
}

func fillCircle(dst draw.Image, cx, cy, radius float32, c color.Color) {
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	// four cubic arcs
	const k = 0.5522847498
	kr := k * radius
	z.MoveTo(cx+radius, cy)
	z.CubeTo(cx+radius, cy+kr, cx+kr, cy+radius, cx, cy+radius)
	z.CubeTo(cx-kr, cy+radius, cx-radius, cy+kr, cx-radius, cy)
	z.CubeTo(cx-radius, cy-kr, cx-kr, cy-radius, cx, cy-radius)
	z.CubeTo(cx+kr, cy-radius, cx+radius, cy-kr, cx+radius, cy)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

func strokeLine(dst draw.Image, x0, y0, x1, y1, width float32, c color.Color) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	// half-width normal
	nx, ny := -dy/l*width/2, dx/l*width/2

	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

func drawStatus(dst draw.Image, text string) {
	b := dst.Bounds()
	band := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+statusHeight)
	draw.Draw(dst, band, image.NewUniform(statusBG), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(b.Min.X+4, b.Min.Y+14),
	}
	d.DrawString(text)
}
