package service

import (
	"context"
	"math"
	"strings"

	"miping/internal/core/langmix"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
)

// VerifyParams configures one quota run over a pool
type VerifyParams struct {
	Region          domain.Region
	Pool            domain.Pool
	Quota           int
	VerifyLocation  bool
	ExcludeRetweets bool
	// TimelineLimit overrides the service default when > 0
	TimelineLimit int
}

// Verify walks the pool in order, admitting candidates that pass the language
// test and, when enabled, the location test, until the quota is reached.
// Per-candidate failures become rejections; cancellation, config errors and
// refused credentials abort the run.
// Running out of candidates first is reported as a shortfall, not an error
func (s *Svc) Verify(ctx context.Context, p VerifyParams) (*domain.VerifiedSet, domain.VerifyReport, error) {
	log := logger.C(ctx)
	set := domain.NewVerifiedSet(p.Quota)
	rep := domain.VerifyReport{
		Pool:     p.Pool.Kind,
		Quota:    set.Quota(),
		Rejected: map[domain.RejectReason]int{},
	}
	if p.VerifyLocation && s.geo == nil {
		return set, rep, perr.Configf("location verification requires a geocoder")
	}

	slug := p.Region.Slug()
	cls := langmix.NewClassifier(p.Region.Lang)

	for _, c := range p.Pool.Candidates {
		if set.Full() {
			break
		}
		rep.Inspected++

		d, err := s.decide(ctx, p, cls, c)
		if err != nil {
			rep.Verified = set.Len()
			return set, rep, err
		}

		switch d.State {
		case domain.StateVerified:
			n, ok := set.Add(d.Candidate, d.Posts)
			if !ok {
				// quota filled between the check above and now, nothing to add
				break
			}
			s.metrics.Candidate(slug, string(p.Pool.Kind), "verified")
			s.metrics.SetVerified(slug, string(p.Pool.Kind), n)
			if progressCrossed(n, set.Quota(), s.cfg.ProgressFraction) || n == set.Quota() {
				s.progress(ctx, p, n, rep.Inspected, n == set.Quota())
			}
		case domain.StateRejected:
			rep.Rejected[d.Reason]++
			s.metrics.Candidate(slug, string(p.Pool.Kind), string(d.Reason))
			log.Debug().
				Str("user_id", c.ID).
				Str("reason", string(d.Reason)).
				Int("target", d.Mix.Target).
				Int("other", d.Mix.Other).
				Int("undefined", d.Mix.Undefined).
				Msg("candidate rejected")
		}
	}

	rep.Verified = set.Len()
	if !set.Full() {
		rep.Shortfall = true
		log.Warn().
			Str("pool", string(p.Pool.Kind)).
			Int("inspected", rep.Inspected).
			Int("verified", rep.Verified).
			Int("quota", rep.Quota).
			Msg("pool exhausted before quota was reached")
		s.progress(ctx, p, rep.Verified, rep.Inspected, true)
	}
	return set, rep, nil
}

// decide runs the per-candidate state machine. The error is non-nil only on
// cancellation or a configuration fault that would reject every candidate
func (s *Svc) decide(ctx context.Context, p VerifyParams, cls langmix.Classifier, c domain.Candidate) (domain.Decision, error) {
	d := domain.Decision{Candidate: c, State: domain.StatePending}
	reject := func(r domain.RejectReason) (domain.Decision, error) {
		d.State, d.Reason = domain.StateRejected, r
		return d, nil
	}

	limit := s.cfg.TimelineLimit
	if p.TimelineLimit > 0 && p.TimelineLimit < limit {
		limit = p.TimelineLimit
	}
	posts, err := s.client.Timeline(ctx, c.ID, domain.TimelineQuery{Limit: limit, ExcludeRetweets: p.ExcludeRetweets})
	if err != nil {
		reason, fatal := s.classifyAPIError(ctx, c, err)
		if fatal != nil {
			return d, fatal
		}
		return reject(reason)
	}

	// the API may still hand back retweets when exclusion is unsupported, drop them here
	var kept []domain.Post
	retweets := 0
	for _, post := range posts {
		if p.ExcludeRetweets && post.IsRetweet {
			retweets++
			continue
		}
		kept = append(kept, post)
	}

	tags := make([]string, len(kept))
	for i, post := range kept {
		tags[i] = post.Lang
	}
	d.Mix = cls.Count(tags)
	th := langmix.Thresholds{MinTarget: p.Region.LangThreshold, MaxOther: p.Region.OtherLangThreshold}
	switch {
	case d.Mix.Total() == 0 && retweets > 0:
		return reject(domain.ReasonOnlyRetweets)
	case d.Mix.Total() == 0:
		return reject(domain.ReasonNoPosts)
	case !d.Mix.Passes(th):
		return reject(domain.ReasonLanguage)
	}
	d.State = domain.StateLanguageChecked

	if p.VerifyLocation {
		addr, reason, err := s.checkLocation(ctx, p.Region, c)
		if err != nil {
			return d, err
		}
		d.Address = addr
		if reason != domain.ReasonNone {
			return reject(reason)
		}
	}
	d.State = domain.StateLocationChecked

	for _, post := range kept {
		if cls.Classify(post.Lang) == langmix.Target {
			d.Posts = append(d.Posts, post)
		}
	}
	d.State = domain.StateVerified
	return d, nil
}

// classifyAPIError maps a timeline failure to a reject reason; cancellation is returned as fatal
func (s *Svc) classifyAPIError(ctx context.Context, c domain.Candidate, err error) (domain.RejectReason, error) {
	log := logger.C(ctx)
	switch code := perr.CodeOf(err); {
	case perr.IsCanceled(err) || ctx.Err() != nil, misconfigured(err):
		return domain.ReasonNone, err
	case code == perr.ErrorCodeNotFound, code == perr.ErrorCodeForbidden, code == perr.ErrorCodeCandidateUnavailable:
		log.Info().Str("user_id", c.ID).Str("screen_name", c.ScreenName).Str("code", code.String()).
			Msg("candidate unavailable, skipping")
		return domain.ReasonUnavailable, nil
	case perr.IsTransient(err):
		log.Warn().Err(err).Str("user_id", c.ID).Str("code", code.String()).
			Msg("timeline fetch failed after retries, skipping")
		return domain.ReasonAPIError, nil
	default:
		log.Error().Err(err).Str("user_id", c.ID).Msg("timeline fetch failed, skipping")
		return domain.ReasonAPIError, nil
	}
}

// checkLocation geocodes the profile location and matches the country name
// against the first formatted address only
func (s *Svc) checkLocation(ctx context.Context, region domain.Region, c domain.Candidate) (string, domain.RejectReason, error) {
	if strings.TrimSpace(c.Location) == "" {
		return "", domain.ReasonNoLocation, nil
	}
	addrs, err := s.geo.ResolveAddress(ctx, c.Location)
	if err != nil {
		if perr.IsCanceled(err) || ctx.Err() != nil || misconfigured(err) {
			return "", domain.ReasonNone, err
		}
		logger.C(ctx).Warn().Err(err).Str("user_id", c.ID).Str("location", c.Location).Msg("geocoding failed")
		return "", domain.ReasonGeocodeFailed, nil
	}
	if len(addrs) == 0 {
		return "", domain.ReasonLocationMismatch, nil
	}
	if !strings.Contains(addrs[0], region.Country) {
		return addrs[0], domain.ReasonLocationMismatch, nil
	}
	return addrs[0], domain.ReasonNone, nil
}

func (s *Svc) progress(ctx context.Context, p VerifyParams, verified, inspected int, done bool) {
	logger.C(ctx).Info().
		Str("pool", string(p.Pool.Kind)).
		Int("verified", verified).
		Int("quota", p.Quota).
		Int("inspected", inspected).
		Msg("verification progress")
	if s.notify == nil {
		return
	}
	s.notify.Progress(ctx, domain.ProgressEvent{
		RunID:     s.runID,
		Region:    p.Region.Slug(),
		Pool:      p.Pool.Kind,
		Verified:  verified,
		Quota:     p.Quota,
		Inspected: inspected,
		Done:      done,
		At:        s.clock.Now(),
	})
}

// progressCrossed reports whether the n-th admission moved verification into
// the next fraction of quota. Quotas smaller than 1/fraction cross on every admission
func progressCrossed(n, quota int, fraction float64) bool {
	width := float64(quota) * fraction
	if n <= 0 || width <= 0 {
		return false
	}
	// the epsilon keeps 30*0.1 from landing just below 3
	band := func(k int) int { return int(math.Floor(float64(k)/width + 1e-9)) }
	return band(n) > band(n-1)
}
