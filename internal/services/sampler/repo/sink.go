package repo

import (
	"context"
	"time"

	"miping/internal/modkit/repokit"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"

	"github.com/google/uuid"
)

// Sink exports corpora through Storage, one transaction per region
type Sink struct {
	tx      repokit.TxRunner
	binder  repokit.Binder[Storage]
	extras  []domain.ExtraAttr
	ensured bool

	attempts int
	backoff  time.Duration
}

// NewSink returns a CorpusSink on tx. Statements time out after stmtTimeout when > 0
func NewSink(tx repokit.TxRunner, b repokit.Binder[Storage], extras []domain.ExtraAttr, stmtTimeout time.Duration) *Sink {
	if tx == nil {
		panic("repo.Sink requires a non nil TxRunner")
	}
	if b == nil {
		b = NewPG()
	}
	if stmtTimeout > 0 {
		tx = repokit.WithBeginHooks(tx, repokit.StatementTimeout(stmtTimeout))
	}
	return &Sink{tx: tx, binder: b, extras: extras, attempts: 3, backoff: 250 * time.Millisecond}
}

// SaveCorpus replaces the rows of runID and the corpus region. Serialization
// failures, deadlocks and lock timeouts rerun the whole transaction
func (s *Sink) SaveCorpus(ctx context.Context, runID string, c domain.Corpus) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "run id %q", runID)
	}

	for attempt := 1; ; attempt++ {
		err = s.save(ctx, id, c)
		if err == nil || attempt >= s.attempts || !perr.Retryable(err) {
			break
		}
		logger.C(ctx).Warn().Err(err).Int("attempt", attempt).Msg("corpus export conflicted, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	if err != nil {
		return err
	}
	s.ensured = true
	logger.C(ctx).Info().
		Str("sink", "postgres").
		Int("users", len(c.Users)).
		Int("posts", len(c.Posts)).
		Msg("corpus saved")
	return nil
}

func (s *Sink) save(ctx context.Context, id uuid.UUID, c domain.Corpus) error {
	region := c.Region.Slug()
	return repokit.InTx(ctx, s.tx, s.binder, func(st Storage) error {
		if !s.ensured {
			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		if err := st.ReplaceRun(ctx, RunRow{
			RunID:        id,
			Region:       region,
			Country:      c.Region.Country,
			Lang:         c.Region.Lang,
			SeedQuota:    c.Seed.Quota,
			SeedVerified: c.Seed.Verified,
			ExpQuota:     c.Expanded.Quota,
			ExpVerified:  c.Expanded.Verified,
			Shortfall:    c.Seed.Shortfall || c.Expanded.Shortfall,
		}); err != nil {
			return err
		}
		if err := st.InsertUsers(ctx, id, region, c.Users); err != nil {
			return err
		}
		return st.InsertPosts(ctx, id, region, c.Posts, s.extras)
	})
}
