// Package notify implements the async notification pipeline: a bounded queue,
// a small worker pool, and a token-bucket rate limit. Sends are best-effort;
// failures are logged, never retried.
package notify

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the async notification pipeline.
// If the whole section is omitted from the app config, the notifier defaults
// to enabled with the zero-value defaults below.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int
}

// HistoryItem is a sent notification kept for /status introspection.
type HistoryItem struct {
	At   time.Time
	Text string
}
