// Package status shows a placeholder transcript entry while a chat request is
// in flight, cycling through progress captions.
package status

import (
	"time"

	"twin/loop"
)

var DefaultCaptions = []string{
	"ANALYZING QUERY...",
	"ACCESSING GITHUB DATABANKS...",
	"CROSS-REFERENCING RESUME...",
	"SYNTHESIZING RESPONSE...",
}

const DefaultInterval = 1200 * time.Millisecond

// Board is the transcript surface the placeholder lives on. All calls happen
// on the loop goroutine.
type Board interface {
	InsertPlaceholder(caption string) int
	UpdatePlaceholder(id int, caption string)
	RemovePlaceholder(id int)
}

// Presenter owns one placeholder. Start, Stop and the ticker all run on the
// loop, so a tick can never land after Stop.
type Presenter struct {
	lp       *loop.Loop
	board    Board
	captions []string
	interval time.Duration

	id      int
	index   int
	ticker  *loop.Ticker
	started bool
	stopped bool
}

func New(lp *loop.Loop, board Board, captions []string, interval time.Duration) *Presenter {
	if len(captions) == 0 {
		captions = DefaultCaptions
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Presenter{lp: lp, board: board, captions: captions, interval: interval}
}

// Start inserts the placeholder showing the first caption. A presenter starts
// once; later calls are ignored.
func (p *Presenter) Start() {
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.id = p.board.InsertPlaceholder(p.captions[0])
	if len(p.captions) > 1 {
		p.ticker = p.lp.Every(p.interval, p.advance)
	}
}

func (p *Presenter) advance() {
	if p.stopped {
		return
	}
	p.index++
	p.board.UpdatePlaceholder(p.id, p.captions[p.index])
	// last caption stays up until Stop
	if p.index >= len(p.captions)-1 {
		p.ticker.Stop()
		p.ticker = nil
	}
}

// Stop cancels the caption ticker and removes the placeholder. Idempotent,
// and safe before Start.
func (p *Presenter) Stop() {
	if p == nil || p.stopped {
		return
	}
	p.stopped = true
	p.ticker.Stop()
	p.ticker = nil
	if p.started {
		p.board.RemovePlaceholder(p.id)
	}
}

// Active reports whether the placeholder is on the board.
func (p *Presenter) Active() bool {
	return p != nil && p.started && !p.stopped
}

func (p *Presenter) Caption() string {
	if !p.Active() {
		return ""
	}
	return p.captions[p.index]
}
