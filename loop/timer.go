package loop

import "time"

// Timer is a one-shot callback scheduled onto the loop. Its state is owned
// by the loop goroutine: Stop must be called there, and once Stop returns the
// callback will not run even if its deadline already passed.
type Timer struct {
	t       *time.Timer
	stopped bool
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped {
				return
			}
			tm.stopped = true
			fn()
		})
	})
	return tm
}

// Stop cancels the timer and reports whether it prevented fn from running.
// Safe on a nil or already fired timer.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// RequestFrame schedules fn for the next frame tick.
func (l *Loop) RequestFrame(fn func(now time.Time)) *Timer {
	return l.AfterFunc(l.frameInterval, func() { fn(time.Now()) })
}

// Ticker repeats a callback on the loop until stopped. Like Timer, Stop is
// called on the loop and no tick runs after it.
type Ticker struct {
	stop    chan struct{}
	stopped bool
}

// Every runs fn on the loop every d.
func (l *Loop) Every(d time.Duration, fn func()) *Ticker {
	tk := &Ticker{stop: make(chan struct{})}
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-tk.stop:
				return
			case <-l.done:
				return
			case <-t.C:
				l.Post(func() {
					if !tk.stopped {
						fn()
					}
				})
			}
		}
	}()
	return tk
}

// Stop is idempotent and nil-safe.
func (tk *Ticker) Stop() {
	if tk == nil || tk.stopped {
		return
	}
	tk.stopped = true
	close(tk.stop)
}
