// Package repo persists finished corpora to Postgres
package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"time"

	"miping/internal/modkit/repokit"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/store"
	"miping/internal/services/sampler/domain"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// rows per multi-value INSERT, well below the 65535 parameter cap
const batchRows = 500

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs the Postgres binder
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// RunRow is the per region summary of one run
type RunRow struct {
	RunID        uuid.UUID
	Region       string
	Country      string
	Lang         string
	SeedQuota    int
	SeedVerified int
	ExpQuota     int
	ExpVerified  int
	Shortfall    bool
}

// Storage is the corpus repository
type Storage interface {
	EnsureSchema(ctx context.Context) error
	// ReplaceRun deletes any earlier rows of the run and region and writes the summary
	ReplaceRun(ctx context.Context, r RunRow) error
	InsertUsers(ctx context.Context, runID uuid.UUID, region string, users []domain.Candidate) error
	InsertPosts(ctx context.Context, runID uuid.UUID, region string, posts []domain.Post, extras []domain.ExtraAttr) error
	CountUsers(ctx context.Context, runID uuid.UUID, region string) (int, error)
}

func (s *pg) EnsureSchema(ctx context.Context) error {
	for stmt := range strings.SplitSeq(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			return perr.WithOp(err, "repo.ensure_schema")
		}
	}
	return nil
}

func (s *pg) ReplaceRun(ctx context.Context, r RunRow) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM miping_runs WHERE run_id = $1 AND region = $2`, r.RunID, r.Region); err != nil {
		return perr.WithOp(err, "repo.replace_run")
	}
	return store.ExecOne(ctx, s.q, `
		INSERT INTO miping_runs
			(run_id, region, country, lang, seed_quota, seed_verified, exp_quota, exp_verified, shortfall)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.RunID, r.Region, r.Country, r.Lang,
		r.SeedQuota, r.SeedVerified, r.ExpQuota, r.ExpVerified, r.Shortfall,
	)
}

func (s *pg) InsertUsers(ctx context.Context, runID uuid.UUID, region string, users []domain.Candidate) error {
	const width = 7
	for part := range batches(users) {
		args := make([]any, 0, len(part)*width)
		for _, u := range part {
			args = append(args, runID, region, u.ID, u.ScreenName, u.Followers, u.Statuses, u.Location)
		}
		sql := `INSERT INTO miping_users
			(run_id, region, user_id, screen_name, followers, statuses, location) VALUES ` +
			store.Placeholders(len(part), width) +
			` ON CONFLICT (run_id, region, user_id) DO NOTHING`
		if _, err := s.q.Exec(ctx, sql, args...); err != nil {
			return perr.WithOp(err, "repo.insert_users")
		}
	}
	return nil
}

func (s *pg) InsertPosts(ctx context.Context, runID uuid.UUID, region string, posts []domain.Post, extras []domain.ExtraAttr) error {
	const width = 8
	for part := range batches(posts) {
		args := make([]any, 0, len(part)*width)
		for _, p := range part {
			extra, err := extraJSON(p, extras)
			if err != nil {
				return err
			}
			var created *time.Time
			if !p.CreatedAt.IsZero() {
				created = &p.CreatedAt
			}
			args = append(args, runID, region, p.ID, p.AuthorID, created, p.Lang, p.Text, extra)
		}
		sql := `INSERT INTO miping_posts
			(run_id, region, post_id, user_id, created_at, lang, body, extra) VALUES ` +
			store.Placeholders(len(part), width) +
			` ON CONFLICT (run_id, region, post_id) DO NOTHING`
		if _, err := s.q.Exec(ctx, sql, args...); err != nil {
			return perr.WithOp(err, "repo.insert_posts")
		}
	}
	return nil
}

func (s *pg) CountUsers(ctx context.Context, runID uuid.UUID, region string) (int, error) {
	return store.Scalar[int](ctx, s.q, `SELECT count(*) FROM miping_users WHERE run_id = $1 AND region = $2`, runID, region)
}

// extraJSON renders the configured extras as a JSON object
func extraJSON(p domain.Post, extras []domain.ExtraAttr) (string, error) {
	m := make(map[string]string, len(extras))
	for _, a := range extras {
		m[a.Name] = a.Get(p)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeInvalidArgument, "encode extras")
	}
	return string(b), nil
}

// batches yields consecutive slices of at most batchRows items
func batches[T any](xs []T) func(yield func([]T) bool) {
	return func(yield func([]T) bool) {
		for len(xs) > 0 {
			n := min(batchRows, len(xs))
			if !yield(xs[:n]) {
				return
			}
			xs = xs[n:]
		}
	}
}
