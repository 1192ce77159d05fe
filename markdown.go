package main

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"twin/log"
)

// markdown renders assistant bodies, caching per entry because the view is
// redrawn on every tick.
type markdown struct {
	width    int
	renderer *glamour.TermRenderer
	cache    map[int]string
	// failed remembers entries already logged as unrenderable.
	failed map[int]bool
}

func newMarkdown() *markdown {
	return &markdown{cache: map[int]string{}, failed: map[int]bool{}}
}

func (m *markdown) resize(width int) {
	if width == m.width && m.renderer != nil {
		return
	}
	m.width = width
	clear(m.cache)
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warnf("markdown renderer: %v", err)
		m.renderer = nil
		return
	}
	m.renderer = r
}

// render returns body as terminal markdown, or wrapped raw text when the
// renderer is unavailable or rejects the body.
func (m *markdown) render(id int, body string) string {
	if out, ok := m.cache[id]; ok {
		return out
	}
	out := m.renderRaw(body)
	if m.renderer != nil {
		rendered, err := m.renderer.Render(body)
		if err == nil {
			out = strings.Trim(rendered, "\n")
		} else if !m.failed[id] {
			m.failed[id] = true
			log.Warnf("markdown render of entry %d: %v", id, err)
		}
	}
	m.cache[id] = out
	return out
}

func (m *markdown) renderRaw(body string) string {
	if m.width <= 0 {
		return body
	}
	var lines []string
	for _, para := range strings.Split(body, "\n") {
		lines = append(lines, wrapText(para, m.width)...)
	}
	return strings.Join(lines, "\n")
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
