// Package notify defines the push-notification sink the engine calls
// into on noteworthy partner events.
package notify

import "go.uber.org/zap"

// Notifier is a fire-and-forget side channel. Implementations must be
// safe to call when the underlying capability is unavailable.
type Notifier interface {
	Notify(title, body, tag string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Notify(string, string, string) {}

// Logger writes notifications to a zap logger; used by headless peers.
type Logger struct{ Log *zap.Logger }

func (l Logger) Notify(title, body, tag string) {
	if l.Log == nil {
		return
	}
	l.Log.Info("notification",
		zap.String("title", title),
		zap.String("body", body),
		zap.String("tag", tag),
	)
}
