// Package store provides the Postgres seam used by corpus exports
package store

import (
	"context"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
)

// Store owns the optional database handle. The zero value is disabled
type Store struct {
	Log logger.Logger

	// PG is nil when postgres is not configured
	PG TxRunner
}

// Row is a single result row
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result set cursor
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// CommandTag reports the outcome of a write
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier runs statements
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner runs fn inside one transaction; fn's error rolls it back
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Pinger reports readiness
type Pinger interface{ Ping(context.Context) error }

// Open connects the configured backends
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	o := openOpts{}
	for _, fn := range opts {
		fn(s, &o)
	}
	s.Log = s.Log.With().Str("component", "store").Logger()

	if !cfg.PG.Enabled {
		return s, nil
	}
	pgc, err := openPG(ctx, cfg, s.Log, o)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "open postgres")
	}
	s.PG = pgc
	return s, nil
}

// Enabled reports whether postgres is configured
func (s *Store) Enabled() bool { return s != nil && s.PG != nil }

// Guard pings every configured backend
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return perr.Configf("nil store")
	}
	if p, ok := s.PG.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return perr.Wrap(err, perr.ErrorCodeUnavailable, "pg ping")
		}
	}
	return nil
}

// Close releases the pool; safe on a disabled store
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if c, ok := s.PG.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
