package shmringbuf

import "go.uber.org/zap"

type options struct {
	log      *zap.SugaredLogger
	logLevel *zap.AtomicLevel
}

func newOptions() *options {
	return &options{
		log: zap.NewNop().Sugar(),
	}
}

// Option configures a Producer or Consumer.
type Option func(*options)

// WithLogger sets the logger used for session and control-channel
// diagnostics. Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithAtomicLogLevel records the AtomicLevel that controls the logger's
// level. Producer and Consumer keep it but never read or change it; the
// caller adjusts the level through its own handle.
func WithAtomicLogLevel(level *zap.AtomicLevel) Option {
	return func(o *options) {
		o.logLevel = level
	}
}
