// Package pg opens a pgx pool with optional query tracing
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures the pool
type Config struct {
	URL       string
	MaxConns  int32
	SlowQuery time.Duration
	// AppName is reported to the server as application_name
	AppName string
}

// PG is a pool plus the tracer its adapters report to
type PG struct {
	Pool      *pgxpool.Pool
	Tracer    QueryTracer
	SlowQuery time.Duration
}

var newPool = pgxpool.NewWithConfig

// Open parses cfg.URL, applies overrides then mut, and creates the pool.
// The pool connects lazily; callers ping before use
func Open(ctx context.Context, cfg Config, tracer QueryTracer, mut func(*pgxpool.Config)) (*PG, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.AppName != "" {
		pcfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName
	}
	if mut != nil {
		mut(pcfg)
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	return &PG{Pool: pool, Tracer: tracer, SlowQuery: cfg.SlowQuery}, nil
}

// Close closes the pool; nil safe
func (p *PG) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}
