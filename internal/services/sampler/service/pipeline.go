package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
)

// StepName identifies a pipeline step on the command line
type StepName string

// Pipeline steps in execution order
const (
	StepStream   StepName = "stream"
	StepExpand   StepName = "expand"
	StepVerify   StepName = "verify"
	StepCondense StepName = "condense"
)

// Steps lists every step in execution order
var Steps = []StepName{StepStream, StepExpand, StepVerify, StepCondense}

// ParseStep accepts a step name case-insensitively
func ParseStep(s string) (StepName, error) {
	n := StepName(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Steps, n) {
		return n, nil
	}
	return "", perr.Configf("unknown step %q", s)
}

// StepIO says whether a step loads its output from a checkpoint or writes one
type StepIO struct {
	Read    bool
	Write   bool
	IDsOnly bool
}

// Plan selects the steps to run for a region and their checkpoint handling.
// The input of the first step is always read from the previous step's checkpoint
type Plan struct {
	Steps []StepName
	IO    map[StepName]StepIO
}

// Validate rejects plans that read and write the same checkpoint
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return perr.Configf("no pipeline step selected")
	}
	for _, st := range p.Steps {
		if !slices.Contains(Steps, st) {
			return perr.Configf("unknown step %q", st)
		}
	}
	for st, io := range p.IO {
		if io.Read && io.Write {
			return perr.WithField(
				perr.Configf("step %s: read and write checkpoint flags are mutually exclusive", st),
				string(st))
		}
	}
	return nil
}

func (p Plan) has(st StepName) bool { return slices.Contains(p.Steps, st) }

// Result is everything a region run produced
type Result struct {
	Posts    []domain.Post
	Collect  domain.CollectReport
	Seed     domain.Pool
	Expanded domain.Pool
	Expand   domain.ExpandReport
	Corpus   domain.Corpus
	Profiles []domain.Profile
}

// RunRegion executes the planned steps for one region
func (s *Svc) RunRegion(ctx context.Context, region domain.Region, sp domain.Sampling, plan Plan) (Result, error) {
	var res Result
	if err := plan.Validate(); err != nil {
		return res, err
	}
	needsStore := slices.ContainsFunc(plan.Steps, func(st StepName) bool {
		io := plan.IO[st]
		return io.Read || io.Write
	}) || plan.Steps[0] != StepStream
	if needsStore && s.checkpoints == nil {
		return res, perr.Configf("checkpoint store required by plan")
	}

	ctx = logger.WithRun(ctx, s.runID, region.Slug())
	started := false
	var err error

	if plan.has(StepStream) {
		started = true
		if res.Posts, res.Collect, err = s.streamStep(logger.WithStage(ctx, string(StepStream)), region, sp, plan.IO[StepStream]); err != nil {
			return res, err
		}
	}

	if plan.has(StepExpand) {
		sctx := logger.WithStage(ctx, string(StepExpand))
		if !started {
			if res.Posts, err = s.loadPosts(sctx, region, domain.StageStreamed); err != nil {
				return res, err
			}
		}
		started = true
		if res.Seed, res.Expanded, res.Expand, err = s.expandStep(sctx, region, sp, plan.IO[StepExpand], res.Posts); err != nil {
			return res, err
		}
	}

	if plan.has(StepVerify) {
		sctx := logger.WithStage(ctx, string(StepVerify))
		if !started {
			if res.Seed, err = s.loadPool(sctx, region, domain.StageSeed, domain.PoolSeed); err != nil {
				return res, err
			}
			if res.Expanded, err = s.loadPool(sctx, region, domain.StageExpanded, domain.PoolExpanded); err != nil {
				return res, err
			}
		}
		started = true
		if res.Corpus, err = s.verifyStep(sctx, region, sp, plan.IO[StepVerify], res.Seed, res.Expanded); err != nil {
			return res, err
		}
	}

	if plan.has(StepCondense) {
		sctx := logger.WithStage(ctx, string(StepCondense))
		if !started {
			if res.Corpus, err = s.loadCorpus(sctx, region); err != nil {
				return res, err
			}
		}
		if res.Profiles, err = s.condenseStep(sctx, region, plan.IO[StepCondense], res.Corpus); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Svc) streamStep(ctx context.Context, region domain.Region, sp domain.Sampling, io StepIO) ([]domain.Post, domain.CollectReport, error) {
	if io.Read {
		posts, err := s.loadPosts(ctx, region, domain.StageStreamed)
		return posts, domain.CollectReport{}, err
	}
	posts, rep, err := s.Collect(ctx, region, sp)
	if err != nil {
		return posts, rep, err
	}
	if io.Write {
		if err := s.checkpoints.WritePosts(ctx, region, domain.StageStreamed, posts, io.IDsOnly); err != nil {
			return posts, rep, err
		}
	}
	return posts, rep, nil
}

func (s *Svc) expandStep(ctx context.Context, region domain.Region, sp domain.Sampling, io StepIO, posts []domain.Post) (domain.Pool, domain.Pool, domain.ExpandReport, error) {
	if io.Read {
		seed, err := s.loadPool(ctx, region, domain.StageSeed, domain.PoolSeed)
		if err != nil {
			return seed, domain.Pool{}, domain.ExpandReport{}, err
		}
		expanded, err := s.loadPool(ctx, region, domain.StageExpanded, domain.PoolExpanded)
		return seed, expanded, domain.ExpandReport{}, err
	}
	seed, expanded, rep, err := s.Expand(ctx, region, sp, posts)
	if err != nil {
		return seed, expanded, rep, err
	}
	if io.Write {
		if err := s.checkpoints.WriteUsers(ctx, region, domain.StageSeed, seed.Candidates, io.IDsOnly); err != nil {
			return seed, expanded, rep, err
		}
		if err := s.checkpoints.WriteUsers(ctx, region, domain.StageExpanded, expanded.Candidates, io.IDsOnly); err != nil {
			return seed, expanded, rep, err
		}
	}
	return seed, expanded, rep, nil
}

func (s *Svc) verifyStep(ctx context.Context, region domain.Region, sp domain.Sampling, io StepIO, seed, expanded domain.Pool) (domain.Corpus, error) {
	if io.Read {
		return s.loadCorpus(ctx, region)
	}
	corpus, err := s.Assemble(ctx, region, sp, seed, expanded)
	if err != nil {
		return corpus, err
	}
	if io.Write {
		// verified output is the corpus itself, never ids-only
		if err := s.checkpoints.WriteUsers(ctx, region, domain.StageVerified, corpus.Users, false); err != nil {
			return corpus, err
		}
		if err := s.checkpoints.WritePosts(ctx, region, domain.StageVerified, corpus.Posts, false); err != nil {
			return corpus, err
		}
	}
	if err := s.Export(ctx, corpus); err != nil {
		return corpus, err
	}
	return corpus, nil
}

func (s *Svc) condenseStep(ctx context.Context, region domain.Region, io StepIO, corpus domain.Corpus) ([]domain.Profile, error) {
	if io.Read {
		return s.checkpoints.ReadProfiles(ctx, region)
	}
	profiles := Condense(corpus.Users, corpus.Posts, region.Lang)
	logger.C(ctx).Info().Int("profiles", len(profiles)).Msg("profiles condensed")
	if io.Write {
		if err := s.checkpoints.WriteProfiles(ctx, region, profiles); err != nil {
			return profiles, err
		}
	}
	return profiles, nil
}

// loadPosts reads a post checkpoint, rehydrating ids-only files through the API
func (s *Svc) loadPosts(ctx context.Context, region domain.Region, st domain.Stage) ([]domain.Post, error) {
	posts, idsOnly, err := s.checkpoints.ReadPosts(ctx, region, st)
	if err != nil || !idsOnly {
		return posts, err
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	var out []domain.Post
	invalid := 0
	for _, part := range chunk(ids, s.cfg.ProfileChunk) {
		got, bad, err := s.client.LookupPosts(ctx, part)
		if err != nil {
			return out, perr.WithOp(err, fmt.Sprintf("rehydrate %s", st))
		}
		out = append(out, got...)
		invalid += bad
	}
	logger.C(ctx).Info().Int("requested", len(ids)).Int("resolved", len(out)).Int("invalid", invalid).
		Msg("rehydrated ids-only post checkpoint")
	return out, nil
}

// loadPool reads a user checkpoint into a pool, rehydrating ids-only files
func (s *Svc) loadPool(ctx context.Context, region domain.Region, st domain.Stage, kind domain.PoolKind) (domain.Pool, error) {
	users, idsOnly, err := s.checkpoints.ReadUsers(ctx, region, st)
	if err != nil {
		return domain.Pool{Kind: kind}, err
	}
	if idsOnly {
		ids := make([]string, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		if users, err = s.lookupProfiles(ctx, ids, nil); err != nil {
			return domain.Pool{Kind: kind}, perr.WithOp(err, fmt.Sprintf("rehydrate %s", st))
		}
	}
	// checkpoint order is the shuffled order; keep it
	return domain.NewPool(kind, users), nil
}

func (s *Svc) loadCorpus(ctx context.Context, region domain.Region) (domain.Corpus, error) {
	c := domain.Corpus{Region: region}
	users, _, err := s.checkpoints.ReadUsers(ctx, region, domain.StageVerified)
	if err != nil {
		return c, err
	}
	posts, _, err := s.checkpoints.ReadPosts(ctx, region, domain.StageVerified)
	if err != nil {
		return c, err
	}
	c.Users, c.Posts = users, posts
	return c, nil
}
