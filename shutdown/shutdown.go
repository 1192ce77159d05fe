// Package shutdown ties the process lifetime to the platform's termination
// signals.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is cancelled on the first termination signal. stop restores the
// default handling.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
