package service

import (
	"context"
	"sync/atomic"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
)

// Stream end causes reported in CollectReport.EndedBy
const (
	EndedByDuration  = "duration"
	EndedByTransport = "transport"
	EndedByCanceled  = "canceled"
)

// Collect samples posts from the region's location stream for sp.StreamDuration
// Authors must clear the region eligibility; retweets are dropped when configured.
// A transport failure ends the stream early and still returns the admitted posts
func (s *Svc) Collect(ctx context.Context, region domain.Region, sp domain.Sampling) ([]domain.Post, domain.CollectReport, error) {
	log := logger.C(ctx)
	rep := domain.CollectReport{}
	if sp.StreamDuration <= 0 {
		return nil, rep, perr.WithField(perr.Configf("stream duration must be positive"), "stream_duration")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := s.clock.Now()
	var timedOut atomic.Bool
	deadline := s.clock.After(sp.StreamDuration)
	go func() {
		select {
		case <-deadline:
			timedOut.Store(true)
			cancel()
		case <-streamCtx.Done():
		}
	}()

	slug := region.Slug()
	var posts []domain.Post
	q := domain.StreamQuery{Box: region.Box, CountryCode: region.CountryCode}
	err := s.client.Stream(streamCtx, q, func(in domain.StreamPost) bool {
		if s.clock.Now().Sub(start) >= sp.StreamDuration {
			timedOut.Store(true)
			return false
		}
		rep.Seen++
		a := in.Author
		switch {
		case sp.ExcludeRetweets && in.Post.IsRetweet:
			rep.SkippedRetweet++
			s.metrics.StreamPost(slug, "retweet")
		case a.Statuses < region.Eligibility.MinStatuses:
			rep.SkippedStatuses++
			s.metrics.StreamPost(slug, "statuses")
		case a.Followers < region.Eligibility.MinFollowers || a.Followers > region.Eligibility.MaxFollowers:
			rep.SkippedFollowers++
			s.metrics.StreamPost(slug, "followers")
		default:
			rep.Admitted++
			posts = append(posts, in.Post)
			s.metrics.StreamPost(slug, "admitted")
		}
		return true
	})
	rep.Elapsed = s.clock.Now().Sub(start)

	switch {
	case timedOut.Load():
		rep.EndedBy = EndedByDuration
	case ctx.Err() != nil:
		rep.EndedBy = EndedByCanceled
		return posts, rep, ctx.Err()
	case misconfigured(err):
		// credentials or the region filter are wrong
		return posts, rep, err
	default:
		// server hang-up, network error, or rate limit: keep what we have
		rep.EndedBy = EndedByTransport
		rep.TransportErr = err
		ev := log.Warn().Int("admitted", rep.Admitted).Dur("elapsed", rep.Elapsed)
		if err != nil {
			ev = ev.Err(err).Str("code", perr.CodeOf(err).String())
		}
		ev.Msg("stream ended early, keeping partial sample")
	}

	log.Info().
		Int("seen", rep.Seen).
		Int("admitted", rep.Admitted).
		Int("skipped_retweet", rep.SkippedRetweet).
		Int("skipped_statuses", rep.SkippedStatuses).
		Int("skipped_followers", rep.SkippedFollowers).
		Str("ended_by", rep.EndedBy).
		Msg("stream collection finished")
	return posts, rep, nil
}
