package service

import (
	"context"

	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
)

// Assemble verifies both pools of a region and merges the results.
// The seed pool is already located by the stream so it skips the location test
func (s *Svc) Assemble(ctx context.Context, region domain.Region, sp domain.Sampling, seed, expanded domain.Pool) (domain.Corpus, error) {
	corpus := domain.Corpus{Region: region}

	seedSet, seedRep, err := s.Verify(ctx, VerifyParams{
		Region:          region,
		Pool:            seed,
		Quota:           sp.LocationUsers,
		VerifyLocation:  false,
		ExcludeRetweets: sp.ExcludeRetweets,
		TimelineLimit:   sp.TimelineLimit,
	})
	corpus.Seed = seedRep
	if err != nil {
		return corpus, err
	}

	expSet, expRep, err := s.Verify(ctx, VerifyParams{
		Region:          region,
		Pool:            expanded,
		Quota:           sp.ExpandedQuota(),
		VerifyLocation:  sp.VerifyLocation,
		ExcludeRetweets: sp.ExcludeRetweets,
		TimelineLimit:   sp.TimelineLimit,
	})
	corpus.Expanded = expRep
	if err != nil {
		return corpus, err
	}

	// pools are disjoint so a plain concatenation is the union
	corpus.Users = append(seedSet.Users(), expSet.Users()...)
	corpus.Posts = append(seedSet.Posts(), expSet.Posts()...)

	logger.C(ctx).Info().
		Int("seed_verified", seedRep.Verified).
		Int("expanded_verified", expRep.Verified).
		Int("users", len(corpus.Users)).
		Int("posts", len(corpus.Posts)).
		Int("target", sp.TotalSampleSize).
		Msg("region corpus assembled")
	return corpus, nil
}

// Export hands the corpus to every configured sink; the first failure is returned
// after all sinks were tried
func (s *Svc) Export(ctx context.Context, corpus domain.Corpus) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.SaveCorpus(ctx, s.runID, corpus); err != nil {
			logger.C(ctx).Error().Err(err).Msg("corpus export failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
