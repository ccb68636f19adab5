package recording

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/v0xg/screenpilot/internal/driver"
)

var (
	markerOutline = color.RGBA{0, 0, 0, 255}
	markerFill    = color.RGBA{255, 255, 255, 255}
	markerRipple  = color.RGBA{66, 133, 244, 255}
)

const rippleRadius = 15

// markAction copies frame and draws a ripple and a pointer at p. A nil
// point returns the frame unchanged.
func markAction(frame image.Image, p *driver.Point) image.Image {
	if p == nil {
		return frame
	}
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)

	x, y := b.Min.X+int(math.Round(p.X)), b.Min.Y+int(math.Round(p.Y))
	drawRipple(out, x, y)
	drawPointer(out, x, y)
	return out
}

func drawRipple(img *image.RGBA, cx, cy int) {
	for deg := 0; deg < 360; deg++ {
		rad := float64(deg) * math.Pi / 180
		x := cx + int(float64(rippleRadius)*math.Cos(rad))
		y := cy + int(float64(rippleRadius)*math.Sin(rad))
		set(img, x, y, markerRipple)
		set(img, x+1, y, markerRipple)
		set(img, x, y+1, markerRipple)
	}
}

// drawPointer draws an arrow with its tip at (x, y)
func drawPointer(img *image.RGBA, x, y int) {
	for dy := 0; dy <= 16; dy++ {
		for dx := 0; dx <= 12; dx++ {
			if insidePointer(dx, dy) {
				set(img, x+dx, y+dy, markerFill)
			}
		}
	}
	outline := []image.Point{{0, 0}, {0, 16}, {4, 12}, {7, 18}, {10, 17}, {7, 11}, {12, 11}}
	for i, a := range outline {
		b := outline[(i+1)%len(outline)]
		line(img, x+a.X, y+a.Y, x+b.X, y+b.Y, markerOutline)
	}
}

func insidePointer(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

// line is Bresenham's algorithm
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		set(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
