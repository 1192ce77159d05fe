package main

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// The "ai core": concentric rings drawn with half blocks, two pixels per
// cell vertically.
const (
	eyeCols = 44
	eyeRows = 15
)

type eyeState int

const (
	eyeIdle eyeState = iota
	eyeListening
	eyeThinking
	eyeAlert
)

// palettes are indexed by ring colour; 0 is empty, 14 and 15 are glints.
var palettes = [...][16]string{
	eyeIdle:      {"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"},
	eyeListening: {"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"},
	eyeThinking:  {"", "195", "159", "123", "87", "45", "39", "33", "27", "236", "236", "236", "236", "236", "255", "249"},
	eyeAlert:     {"", "231", "196", "196", "160", "160", "124", "124", "88", "52", "52", "52", "236", "236", "255", "249"},
}

var (
	eyeFg [len(palettes)][16]lipgloss.Style
	eyeBg [len(palettes)][16][16]lipgloss.Style
)

func init() {
	for s, pal := range palettes {
		for i, fg := range pal {
			if fg == "" {
				continue
			}
			eyeFg[s][i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
			for j, bg := range pal {
				if bg != "" {
					eyeBg[s][i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
				}
			}
		}
	}
}

type ring struct {
	radius   float64
	react    float64
	colorIdx int
}

var rings = []ring{
	{0.6, 0.10, 1},
	{1.3, 0.12, 2},
	{2.0, 0.15, 3},
	{2.8, 0.35, 4},
	{3.5, 0.40, 5},
	{4.2, 0.38, 6},
	{5.0, 0.30, 7},
	{5.8, 0.15, 8},
	{6.5, 0.03, 9},
	{7.2, 0.0, 10},
	{8.0, 0.0, 11},
	{10.0, 0.0, 12},
	{12.0, 0.0, 13},
}

type glint struct {
	ox, oy, radius float64
	color          int
}

var glints = func() []glint {
	const side, side2, top, top2 = 9.0, 7.2, 10.0, 8.2
	return []glint{
		{-side * 0.707, -side * 0.707, 0.7, 14},
		{-side2 * 0.707, -side2 * 0.707, 0.4, 15},
		{0, -top, 0.8, 14},
		{0, -top2, 0.6, 15},
		{side * 0.707, -side * 0.707, 0.7, 14},
		{side2 * 0.707, -side2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
}()

// breathing is the ring swell for a frame.
func breathing(frame int, state eyeState) float64 {
	f := float64(frame)
	switch state {
	case eyeListening:
		return math.Sin(f*0.10)*0.03 + 0.02
	case eyeThinking:
		return math.Sin(f*0.25)*0.05 - 0.02
	case eyeAlert:
		// hard pulse
		if frame%8 < 4 {
			return 0.08
		}
		return -0.05
	}
	return math.Sin(f*0.08)*0.02 - 0.05
}

func renderEye(frame int, state eyeState) string {
	const pixW, pixH = eyeCols, eyeRows * 2
	cx, cy := float64(pixW)/2, float64(pixH)/2
	swell := breathing(frame, state)

	var pixels [pixH][pixW]int
	for y := range pixH {
		for x := range pixW {
			dx, dy := float64(x)-cx, float64(y)-cy
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				if dist < min(r.radius+swell*r.react*20, 10.0) {
					pixels[y][x] = r.colorIdx
					break
				}
			}
			for _, g := range glints {
				gx, gy := dx-g.ox, dy-g.oy
				rLen := math.Hypot(g.ox, g.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -g.oy/rLen, g.ox/rLen
				along := gx*tx + gy*ty
				across := gx*(-ty) + gy*tx
				if along*along/9.0+across*across < g.radius*g.radius {
					pixels[y][x] = g.color
				}
			}
		}
	}

	fg, bg := &eyeFg[state], &eyeBg[state]
	var b strings.Builder
	for row := range eyeRows {
		for col := range eyeCols {
			top, bot := pixels[row*2][col], pixels[row*2+1][col]
			switch {
			case top == 0 && bot == 0:
				b.WriteByte(' ')
			case top == bot:
				b.WriteString(fg[top].Render("█"))
			case bot == 0:
				b.WriteString(fg[top].Render("▀"))
			case top == 0:
				b.WriteString(fg[bot].Render("▄"))
			default:
				b.WriteString(bg[top][bot].Render("▀"))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
