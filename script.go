package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"twin/audio"
	"twin/chat"
	"twin/config"
	"twin/log"
	"twin/session"
	"twin/transcriber"
)

// scriptSink prints each transcript message once, in order, and every
// notice prefixed with "* ".
type scriptSink struct {
	mu      sync.Mutex
	out     io.Writer
	printed int // highest message entry ID written
	notices chan string
}

func newScriptSink(out io.Writer) *scriptSink {
	return &scriptSink{out: out, notices: make(chan string, 16)}
}

func (s *scriptSink) Render(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range snap.Entries {
		if e.Placeholder || e.ID <= s.printed {
			continue
		}
		s.printed = e.ID
		fmt.Fprintf(s.out, "[%s] %s\n", e.Message.Role, e.Message.Body)
	}
}

func (s *scriptSink) Notice(text string) {
	s.mu.Lock()
	fmt.Fprintf(s.out, "* %s\n", text)
	s.mu.Unlock()
	select {
	case s.notices <- text:
	default:
	}
}

func (s *scriptSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// runScript drives a session from stdin without a terminal. Each line is a
// message to send, or one of the commands:
//
//	WAIT          block until no request is in flight
//	MODE <mode>   hr or tech_lead
//	LEVEL <n>     0 Junior .. 3 CTO
//	PLAY          speak the latest reply and wait for it to finish
//	STOP          stop playback
//	DICTATE       run one dictation session to completion
//	REPORT        export the hiring report and wait for the outcome
//	SLEEP <ms>
//	QUIT
//
// Blank lines and lines starting with # are skipped. At end of input the
// script waits for outstanding requests before returning.
func runScript(ctx context.Context, cfg *config.Config, actx audio.Context, tr transcriber.Transcriber, in io.Reader, out io.Writer) int {
	sink := newScriptSink(out)
	a, err := newApp(ctx, appOptions{cfg: cfg, audio: actx, tr: tr, sink: sink})
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	a.start()
	defer a.close()

	r := &scriptRunner{ctx: ctx, app: a, sink: sink}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "QUIT" {
			break
		}
		if err := r.exec(line); err != nil {
			sink.printf("Error: %v\n", err)
			log.Errorf("script: %v", err)
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		sink.printf("Error: reading script: %v\n", err)
		return 1
	}
	if err := r.waitIdle(); err != nil {
		sink.printf("Error: %v\n", err)
		return 1
	}
	return 0
}

type scriptRunner struct {
	ctx  context.Context
	app  *app
	sink *scriptSink
}

func (r *scriptRunner) exec(line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	a := r.app
	switch cmd {
	case "WAIT":
		return r.waitIdle()
	case "MODE":
		mode, err := chat.ParseMode(arg)
		if err != nil {
			return err
		}
		a.lp.Sync(func() { a.ctl.SetMode(mode) })
	case "LEVEL":
		n, err := strconv.Atoi(arg)
		if err != nil || !chat.Level(n).Valid() {
			return fmt.Errorf("invalid level %q", arg)
		}
		a.lp.Sync(func() { a.ctl.SetLevel(chat.Level(n)) })
	case "PLAY":
		a.lp.Sync(a.ctl.PlayLatest)
		return r.until(func() bool { return !a.player.Active() && !a.player.Pending() })
	case "STOP":
		a.lp.Sync(a.ctl.StopPlayback)
	case "DICTATE":
		var err error
		a.lp.Sync(func() { err = a.speech.Start() })
		if err != nil {
			r.sink.Notice(err.Error())
			return nil
		}
		return r.until(func() bool { return !a.speech.Active() })
	case "REPORT":
		return r.report()
	case "SLEEP":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid sleep %q", arg)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	default:
		a.lp.Sync(func() {
			a.ctl.SetInput(line)
			a.ctl.Submit()
		})
	}
	return nil
}

func (r *scriptRunner) waitIdle() error {
	return r.until(func() bool { return r.app.ctl.InFlight() == 0 })
}

// until polls cond on the loop.
func (r *scriptRunner) until(cond func() bool) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		var ok bool
		if !r.app.lp.Sync(func() { ok = cond() }) {
			return fmt.Errorf("session closed")
		}
		if ok {
			return nil
		}
		select {
		case <-t.C:
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
}

func (r *scriptRunner) report() error {
	for len(r.sink.notices) > 0 {
		<-r.sink.notices
	}
	r.app.lp.Sync(r.app.ctl.ExportReport)
	for {
		select {
		case n := <-r.sink.notices:
			if strings.HasPrefix(n, "Report ") || strings.HasPrefix(n, "Nothing") {
				return nil
			}
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
	}
}
