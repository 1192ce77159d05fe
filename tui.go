package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"twin/audio"
	"twin/chat"
	"twin/config"
	"twin/playback"
	"twin/session"
	"twin/transcriber"
	"twin/visualizer"
)

// TUI message types
type snapshotMsg session.Snapshot
type noticeMsg string
type spectrumMsg string
type inputMsg string // dictated text for the input line
type tickMsg time.Time

const (
	leftWidth    = eyeCols + 2
	spectrumCols = 22
	spectrumRows = 6
	noticeTTL    = 4 * time.Second
)

// teaSink forwards controller output to the program. Send blocks until the
// program takes the message and returns once it has quit, so the loop never
// waits on a dead view.
type teaSink struct {
	p *tea.Program
}

func (s *teaSink) send(msg tea.Msg) {
	if s.p != nil {
		s.p.Send(msg)
	}
}

func (s *teaSink) Render(snap session.Snapshot) { s.send(snapshotMsg(snap)) }
func (s *teaSink) Notice(text string)          { s.send(noticeMsg(text)) }

type tuiModel struct {
	app      *app
	provider string
	input    textinput.Model
	md       *markdown

	snap     session.Snapshot
	spectrum string
	notice   string
	noticeAt time.Time
	scroll   int

	frame         int
	width, height int
	now           time.Time
}

func newTUIModel(a *app, provider string) tuiModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask the twin about their experience..."
	ti.CharLimit = 4096
	ti.Focus()
	return tuiModel{app: a, provider: provider, input: ti, md: newMarkdown(), now: time.Now()}
}

func runTUI(ctx context.Context, cfg *config.Config, actx audio.Context, tr transcriber.Transcriber) error {
	sink := &teaSink{}
	canvas := visualizer.NewCanvas(spectrumCols, spectrumRows, func(frame string) {
		sink.send(spectrumMsg(frame))
	})
	a, err := newApp(ctx, appOptions{
		cfg:     cfg,
		audio:   actx,
		tr:      tr,
		sink:    sink,
		canvas:  canvas,
		onInput: func(text string) { sink.send(inputMsg(text)) },
	})
	if err != nil {
		return err
	}

	provider := config.ProviderNone
	if tr != nil {
		provider = tr.Name()
	}
	p := tea.NewProgram(newTUIModel(a, provider), tea.WithAltScreen(), tea.WithContext(ctx))
	sink.p = p
	a.start()
	a.lp.Post(func() { sink.Render(a.ctl.Snapshot()) })

	_, err = p.Run()
	a.close()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), textinput.Blink)
}

// post runs fn against the controllers. Update never waits on the loop.
func (m tuiModel) post(fn func(a *app)) {
	a := m.app
	a.lp.Post(func() { fn(a) })
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(m.rightWidth()-4, 10)
		m.md.resize(max(m.rightWidth()-4, 20))
		return m, nil

	case tickMsg:
		m.frame++
		m.now = time.Time(msg)
		if m.notice != "" && m.now.Sub(m.noticeAt) > noticeTTL {
			m.notice = ""
		}
		return m, tuiTick()

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		m.noticeAt = m.now
		return m, nil

	case spectrumMsg:
		m.spectrum = string(msg)
		return m, nil

	case inputMsg:
		m.input.SetValue(string(msg))
		m.input.CursorEnd()
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if text := m.input.Value(); text != before {
		m.post(func(a *app) { a.ctl.SetInput(text) })
	}
	return m, cmd
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "enter":
		text := m.input.Value()
		m.input.SetValue("")
		m.scroll = 0
		m.post(func(a *app) {
			a.ctl.SetInput(text)
			a.ctl.Submit()
		})
	case "ctrl+r":
		m.post(func(a *app) { a.speech.Toggle() })
	case "ctrl+p":
		m.post(func(a *app) { a.ctl.PlayLatest() })
	case "esc":
		m.post(func(a *app) { a.ctl.StopPlayback() })
	case "tab":
		m.post(func(a *app) { a.ctl.ToggleMode() })
	case "ctrl+l":
		m.post(func(a *app) { a.ctl.CycleLevel() })
	case "ctrl+e":
		m.post(func(a *app) { a.ctl.ExportReport() })
	case "ctrl+y":
		m.post(func(a *app) { a.copyLatest() })
	case "pgup", "ctrl+u":
		m.scroll += 5
	case "pgdown", "ctrl+d":
		m.scroll = max(m.scroll-5, 0)
	default:
		return nil, false
	}
	return nil, true
}

func (m tuiModel) rightWidth() int {
	return max(m.width-leftWidth-1, 20)
}

func (m tuiModel) eyeState() eyeState {
	switch {
	case m.snap.Alert:
		return eyeAlert
	case m.snap.Listening:
		return eyeListening
	case m.snap.InFlight > 0:
		return eyeThinking
	}
	return eyeIdle
}

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	thinkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Italic(true)
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Bold(true)
	previewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Italic(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	left := lipgloss.NewStyle().Width(leftWidth).Height(m.height).Render(m.leftPanel())
	right := lipgloss.NewStyle().Width(m.rightWidth()).Height(m.height).PaddingLeft(1).Render(m.rightPanel())
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m tuiModel) leftPanel() string {
	var lines []string
	lines = append(lines, strings.Split(strings.TrimRight(renderEye(m.frame, m.eyeState()), "\n"), "\n")...)

	switch m.eyeState() {
	case eyeAlert:
		lines = append(lines, alertStyle.Render(" ⚠ SECURITY BREACH "))
	case eyeListening:
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("● LISTENING"))
	case eyeThinking:
		lines = append(lines, thinkStyle.Render("◌ PROCESSING"))
	default:
		lines = append(lines, dimStyle.Render("○ STANDBY"))
	}
	lines = append(lines,
		dimStyle.Render(fmt.Sprintf("[%s | %s | stt: %s]", m.snap.Mode.Label(), m.snap.Level, m.provider)),
		dimStyle.Render(m.gauges()),
		"",
	)
	for _, row := range strings.Split(m.spectrum, "\n") {
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(row))
	}
	lines = append(lines, "",
		helpLine("enter", "send", "ctrl+r", "dictate"),
		helpLine("ctrl+p", "speak reply", "esc", "stop"),
		helpLine("tab", "mode", "ctrl+l", "level"),
		helpLine("ctrl+e", "report", "ctrl+y", "copy"),
		helpStyle.Render("twin "+version),
	)
	return strings.Join(lines, "\n")
}

// gauges is the cosmetic clock and load readout.
func (m tuiModel) gauges() string {
	cpu := 35 + 20*math.Sin(float64(m.frame)*0.05)
	mem := 60 + 8*math.Sin(float64(m.frame)*0.013+1)
	if m.snap.InFlight > 0 {
		cpu = min(cpu+30, 99)
	}
	return fmt.Sprintf("%s  CPU %2.0f%%  MEM %2.0f%%", m.now.Format("15:04:05"), cpu, mem)
}

func helpLine(k1, d1, k2, d2 string) string {
	return helpKeyStyle.Render(k1) + helpStyle.Render(" "+d1+"  ") + helpKeyStyle.Render(k2) + helpStyle.Render(" "+d2)
}

func (m tuiModel) rightPanel() string {
	width := m.rightWidth() - 2
	var footer []string
	if m.snap.Preview != "" {
		footer = append(footer, previewStyle.Render(truncate.StringWithTail("… "+m.snap.Preview, uint(width), "…")))
	}
	if m.notice != "" {
		footer = append(footer, noticeStyle.Render(truncate.StringWithTail(m.notice, uint(width), "…")))
	}
	footer = append(footer, m.input.View())

	var header []string
	if m.snap.Alert {
		banner := " ⚠ SECURITY TAKEOVER · ACCESS DENIED ⚠ "
		header = append(header, alertStyle.Width(width).Align(lipgloss.Center).Render(banner), "")
	}

	body := m.transcriptLines(width)
	avail := max(m.height-len(header)-len(footer)-1, 1)
	end := max(len(body)-m.scroll, 0)
	start := max(end-avail, 0)
	visible := body[start:end]
	for len(visible) < avail {
		visible = append([]string{""}, visible...)
	}

	out := append(header, visible...)
	out = append(out, "")
	return strings.Join(append(out, footer...), "\n")
}

func (m tuiModel) transcriptLines(width int) []string {
	if len(m.snap.Entries) == 0 {
		return []string{dimStyle.Render("Say hello to the twin. The interview starts whenever you do.")}
	}
	var lines []string
	for _, e := range m.snap.Entries {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		if e.Placeholder {
			lines = append(lines, thinkStyle.Render("◌ "+e.Caption))
			continue
		}
		switch e.Message.Role {
		case session.RoleUser:
			for _, l := range wrapText("you: "+e.Message.Body, width) {
				lines = append(lines, userStyle.Render(l))
			}
		case session.RoleSystem:
			lines = append(lines, systemStyle.Render(e.Message.Body))
		default:
			lines = append(lines, m.assistantLines(e)...)
		}
	}
	return lines
}

func (m tuiModel) assistantLines(e session.Entry) []string {
	head := dimStyle.Render("twin")
	if e.Playable {
		icon := "▶"
		if e.Playback == playback.Active {
			icon = "■"
		}
		head += " " + dimStyle.Render(icon)
	}
	lines := []string{head}

	body := e.Message.Body
	if e.Takeover {
		before, after, _ := strings.Cut(body, chat.TakeoverElement)
		lines = append(lines, alertStyle.Render(" SECURITY TAKEOVER "))
		body = strings.TrimSpace(before + " " + after)
	}
	if body != "" {
		lines = append(lines, strings.Split(m.md.render(e.ID, body), "\n")...)
	}
	return lines
}
