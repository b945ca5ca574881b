package store

import (
	"miping/internal/platform/clock"
	"miping/internal/platform/logger"
)

type openOpts struct {
	clock clock.Clock
}

// Option mutates Store during Open
type Option func(*Store, *openOpts)

// WithLogger sets the logger used by subclients
func WithLogger(log logger.Logger) Option {
	return func(s *Store, _ *openOpts) { s.Log = log }
}

// WithClock replaces the clock used for connect backoff
func WithClock(c clock.Clock) Option {
	return func(_ *Store, o *openOpts) { o.clock = c }
}
