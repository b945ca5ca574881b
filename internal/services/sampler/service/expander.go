package service

import (
	"context"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
)

// DistinctAuthors returns author ids in order of first appearance
func DistinctAuthors(posts []domain.Post) []string {
	seen := make(map[string]struct{}, len(posts))
	var out []string
	for _, p := range posts {
		if p.AuthorID == "" {
			continue
		}
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		out = append(out, p.AuthorID)
	}
	return out
}

// Expand builds the seed pool from streamed posts and the expanded pool from
// followers of a random subset of seed authors. The pools never share an id
func (s *Svc) Expand(ctx context.Context, region domain.Region, sp domain.Sampling, posts []domain.Post) (seed, expanded domain.Pool, rep domain.ExpandReport, err error) {
	log := logger.C(ctx)

	// A: resolve stream authors as is, the stream already filtered them
	authors := DistinctAuthors(posts)
	rep.SeedAuthors = len(authors)
	seedCands, err := s.lookupProfiles(ctx, authors, nil)
	if err != nil {
		return seed, expanded, rep, perr.WithOp(err, "expand.seed")
	}
	seed = domain.NewPool(domain.PoolSeed, seedCands)
	rep.SeedResolved = seed.Len()

	// B: follower ids of k random seed authors, batched with a cooldown between batches
	followerIDs, err := s.sampleFollowers(ctx, seed.IDs(), sp.FollowerSample, &rep)
	if err != nil {
		return seed, expanded, rep, err
	}
	rep.FollowerIDs = len(followerIDs)

	// C: dedup, drop anything already seen as a seed author, resolve with thresholds
	exclude := make(map[string]struct{}, len(authors)+seed.Len())
	for _, id := range authors {
		exclude[id] = struct{}{}
	}
	for _, id := range seed.IDs() {
		exclude[id] = struct{}{}
	}
	fresh := dedupExcept(followerIDs, exclude)
	rep.AfterDedup = len(fresh)

	elig := region.Eligibility
	expCands, err := s.lookupProfiles(ctx, fresh, func(c domain.Candidate) bool {
		if _, isSeed := exclude[c.ID]; isSeed {
			return false
		}
		return elig.Admits(c.Followers, c.Statuses)
	})
	if err != nil {
		return seed, expanded, rep, perr.WithOp(err, "expand.followers")
	}
	expanded = domain.NewPool(domain.PoolExpanded, expCands)
	rep.Expanded = expanded.Len()

	// D: shuffle so quota-limited verification does not favour stream order
	s.rng.Shuffle(len(seed.Candidates), func(i, j int) {
		seed.Candidates[i], seed.Candidates[j] = seed.Candidates[j], seed.Candidates[i]
	})
	s.rng.Shuffle(len(expanded.Candidates), func(i, j int) {
		expanded.Candidates[i], expanded.Candidates[j] = expanded.Candidates[j], expanded.Candidates[i]
	})

	log.Info().
		Int("seed_authors", rep.SeedAuthors).
		Int("seed_pool", rep.SeedResolved).
		Int("sampled", rep.Sampled).
		Int("batches", rep.Batches).
		Int("cooldowns", rep.Cooldowns).
		Int("failed_seeds", rep.FailedSeeds).
		Int("follower_ids", rep.FollowerIDs).
		Int("after_dedup", rep.AfterDedup).
		Int("expanded_pool", rep.Expanded).
		Msg("follower expansion finished")
	return seed, expanded, rep, nil
}

// sampleFollowers draws k seed ids and gathers their follower ids in batches
func (s *Svc) sampleFollowers(ctx context.Context, seedIDs []string, k int, rep *domain.ExpandReport) ([]string, error) {
	log := logger.C(ctx)
	if k > len(seedIDs) {
		k = len(seedIDs)
	}
	if k <= 0 {
		return nil, nil
	}
	picked := make([]string, k)
	for i, idx := range s.rng.Perm(len(seedIDs))[:k] {
		picked[i] = seedIDs[idx]
	}
	rep.Sampled = k

	var out []string
	for b, batch := range chunk(picked, s.cfg.seedsPerBatch()) {
		if b > 0 {
			log.Info().
				Dur("cooldown", s.cfg.Cooldown).
				Int("next_batch", b+1).
				Msg("follower rate window exhausted, cooling down")
			if err := s.clock.Sleep(ctx, s.cfg.Cooldown); err != nil {
				return out, err
			}
			rep.Cooldowns++
			s.metrics.Cooldown(s.cfg.Cooldown)
		}
		rep.Batches++
		for _, id := range batch {
			ids, err := s.client.FollowerIDs(ctx, id, s.cfg.FollowerLimit)
			switch {
			case err == nil:
				out = append(out, ids...)
			case perr.IsCanceled(err) || ctx.Err() != nil, misconfigured(err):
				return out, err
			default:
				rep.FailedSeeds++
				log.Warn().Err(err).Str("user_id", id).Str("code", perr.CodeOf(err).String()).
					Msg("follower fetch failed, skipping seed author")
			}
		}
	}
	return out, nil
}

// lookupProfiles resolves ids chunk by chunk, keeping those accepted by keep (nil keeps all)
func (s *Svc) lookupProfiles(ctx context.Context, ids []string, keep func(domain.Candidate) bool) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for _, part := range chunk(ids, s.cfg.ProfileChunk) {
		cands, err := s.client.LookupProfiles(ctx, part)
		if err != nil {
			return out, err
		}
		for _, c := range cands {
			if keep == nil || keep(c) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// dedupExcept keeps the first occurrence of each id not in exclude
func dedupExcept(ids []string, exclude map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, skip := exclude[id]; skip {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
