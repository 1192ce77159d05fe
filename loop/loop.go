// Package loop runs closures on one goroutine.
//
// Every controller in twin owns its state on the loop goroutine. Network
// calls, audio callbacks and transcriber readers run elsewhere and hand their
// results back with Post, so controller state never needs a lock.
package loop

import (
	"context"
	"sync"
	"time"
)

// DefaultFrameInterval paces RequestFrame callbacks (~30 fps).
const DefaultFrameInterval = 33 * time.Millisecond

type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	frameInterval time.Duration
}

func New() *Loop {
	return &Loop{
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		frameInterval: DefaultFrameInterval,
	}
}

// SetFrameInterval changes the pacing of frame callbacks requested afterwards.
func (l *Loop) SetFrameInterval(d time.Duration) {
	if d > 0 {
		l.frameInterval = d
	}
}

// Post queues fn to run on the loop goroutine. It never blocks and is safe
// to call from any goroutine, including the loop itself. It reports false
// once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync runs fn on the loop and waits for it. Must not be called from the loop.
func (l *Loop) Sync(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			select {
			case <-l.done:
				return nil
			default:
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Close stops the loop. Pending closures are dropped. Idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }
