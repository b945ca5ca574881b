package store

import (
	"context"
	"time"

	"miping/internal/platform/clock"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/store/pg"
)

const (
	pingTimeout    = 3 * time.Second
	backoffStart   = 150 * time.Millisecond
	backoffCeiling = 2 * time.Second
)

// openPG opens the pool and waits for the server to answer before publishing the adapter
func openPG(ctx context.Context, cfg Config, log logger.Logger, o openOpts) (*pgAdapter, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(log)
	}
	p, err := pg.Open(ctx, pg.Config{
		URL:       cfg.PG.URL,
		MaxConns:  cfg.PG.MaxConns,
		SlowQuery: cfg.PG.SlowQuery,
		AppName:   cfg.AppName,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	clk := o.clock
	if clk == nil {
		clk = clock.Real{}
	}
	attempts := cfg.PG.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if err := waitReady(ctx, clk, attempts, p.Pool.Ping); err != nil {
		p.Close()
		return nil, err
	}
	return newPGAdapter(p), nil
}

// waitReady calls ping until it succeeds, doubling the pause up to a ceiling
func waitReady(ctx context.Context, clk clock.Clock, attempts int, ping func(context.Context) error) error {
	var last error
	pause := backoffStart
	for i := range attempts {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		last = ping(pctx)
		cancel()
		if last == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := clk.Sleep(ctx, pause); err != nil {
			return err
		}
		pause = min(pause*2, backoffCeiling)
	}
	return perr.Wrapf(last, perr.ErrorCodeUnavailable, "postgres not ready after %d attempts", attempts)
}
