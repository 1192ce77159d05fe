package visualizer

import (
	"math"
	"strings"
)

// braille dot bits, indexed [x][y] within a 2x4 cell
var brailleBits = [2][4]rune{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// Canvas is a braille dot surface. Each terminal cell holds 2x4 dots.
// Present hands the rendered frame to onPresent so the view never reads the
// canvas directly.
type Canvas struct {
	cols, rows int
	cells      []rune
	onPresent  func(frame string)
}

func NewCanvas(cols, rows int, onPresent func(frame string)) *Canvas {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &Canvas{
		cols:      cols,
		rows:      rows,
		cells:     make([]rune, cols*rows),
		onPresent: onPresent,
	}
}

// Size is the canvas size in dots.
func (c *Canvas) Size() (w, h float64) {
	return float64(c.cols * 2), float64(c.rows * 4)
}

func (c *Canvas) Clear() {
	clear(c.cells)
}

// Set lights the dot at (x, y); out-of-range dots are ignored.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= c.cols*2 || y >= c.rows*4 {
		return
	}
	c.cells[(y/4)*c.cols+x/2] |= brailleBits[x%2][y%4]
}

// Line draws with Bresenham's algorithm.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.Set(x0, y0)
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

// StrokeClosed draws the polyline through pts and back to the first point.
func (c *Canvas) StrokeClosed(pts []Point) {
	if len(pts) == 0 {
		return
	}
	for i := range pts {
		a, b := pts[i], pts[(i+1)%len(pts)]
		c.Line(round(a.X), round(a.Y), round(b.X), round(b.Y))
	}
}

func (c *Canvas) Present() {
	if c.onPresent != nil {
		c.onPresent(c.String())
	}
}

// String renders the canvas; empty cells are spaces.
func (c *Canvas) String() string {
	var b strings.Builder
	for r := 0; r < c.rows; r++ {
		if r > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < c.cols; col++ {
			if v := c.cells[r*c.cols+col]; v != 0 {
				b.WriteRune(0x2800 + v)
			} else {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round(f float64) int { return int(math.Round(f)) }
