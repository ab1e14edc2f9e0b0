package pin

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Log          *zap.Logger
}

// An Option configures a Coordinator.
type Option func(*options)

// WithPollInterval sets the delay between status checks. Non-positive
// values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithTimeout sets the maximum time to wait for a pin request to reach a
// terminal status. Zero waits until the context is cancelled.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.Timeout = d
	}
}

// WithLog sets the logger.
func WithLog(l *zap.Logger) Option {
	return func(o *options) {
		o.Log = l
	}
}
