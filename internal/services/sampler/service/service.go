// Package service contains the sampling pipeline workflows
package service

import (
	"math/rand/v2"
	"time"

	"miping/internal/platform/clock"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"
	"miping/internal/services/sampler/domain"
)

// Config carries the pipeline constants; zero values take the platform limits
type Config struct {
	// ProfileChunk is the largest id list per profile lookup
	ProfileChunk int
	// FollowerLimit caps follower ids fetched per seed author
	FollowerLimit int
	// FollowerBatch is the number of follower requests one rate window allows
	FollowerBatch int
	// FollowerPage is the most ids one follower request returns. Zero means a
	// single request covers FollowerLimit
	FollowerPage int
	// Cooldown is the wait between follower batches
	Cooldown time.Duration
	// TimelineLimit caps posts read per candidate
	TimelineLimit int
	// ProgressFraction of the quota between progress events
	ProgressFraction float64
}

func withDefaults(c Config) Config {
	if c.ProfileChunk <= 0 || c.ProfileChunk > 100 {
		c.ProfileChunk = 100
	}
	if c.FollowerLimit <= 0 {
		c.FollowerLimit = 5000
	}
	if c.FollowerBatch <= 0 {
		c.FollowerBatch = 15
	}
	if c.FollowerPage <= 0 || c.FollowerPage > c.FollowerLimit {
		c.FollowerPage = c.FollowerLimit
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 900 * time.Second
	}
	if c.TimelineLimit <= 0 || c.TimelineLimit > 3200 {
		c.TimelineLimit = 3200
	}
	if c.ProgressFraction <= 0 || c.ProgressFraction > 1 {
		c.ProgressFraction = 0.1
	}
	return c
}

// seedsPerBatch is how many seed authors fit one follower rate window once
// each needs ceil(FollowerLimit/FollowerPage) requests. Never below one
func (c Config) seedsPerBatch() int {
	pages := (c.FollowerLimit + c.FollowerPage - 1) / c.FollowerPage
	return max(1, c.FollowerBatch/pages)
}

// Deps are the collaborators of the pipeline; Client is required
type Deps struct {
	Client      domain.SocialClient
	Geo         domain.Geocoder
	Notify      domain.Notifier
	Checkpoints domain.CheckpointStore
	Sinks       []domain.CorpusSink
	Clock       clock.Clock
	Rand        *rand.Rand
	Metrics     *metrics.Registry
	RunID       string
}

// Svc implements the sampling pipeline. It is not safe for concurrent use
type Svc struct {
	client      domain.SocialClient
	geo         domain.Geocoder
	notify      domain.Notifier
	checkpoints domain.CheckpointStore
	sinks       []domain.CorpusSink
	clock       clock.Clock
	rng         *rand.Rand
	metrics     *metrics.Registry
	log         logger.Logger
	runID       string
	cfg         Config
}

// New constructs the pipeline service
func New(d Deps, cfg Config) *Svc {
	if d.Client == nil {
		panic("sampler.Service requires a non nil SocialClient")
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Svc{
		client:      d.Client,
		geo:         d.Geo,
		notify:      d.Notify,
		checkpoints: d.Checkpoints,
		sinks:       d.Sinks,
		clock:       d.Clock,
		rng:         d.Rand,
		metrics:     d.Metrics,
		log:         *logger.Named("sampler"),
		runID:       d.RunID,
		cfg:         withDefaults(cfg),
	}
}

// Config returns the effective configuration
func (s *Svc) Config() Config { return s.cfg }

// misconfigured reports errors no later call can recover from: bad settings
// or credentials the API refused. Every stage aborts on them
func misconfigured(err error) bool {
	return perr.IsCode(err, perr.ErrorCodeConfig) || perr.IsCode(err, perr.ErrorCodeUnauthorized)
}

// chunk splits ids into slices of at most n
func chunk(ids []string, n int) [][]string {
	if n <= 0 {
		n = len(ids)
	}
	var out [][]string
	for len(ids) > 0 {
		k := min(n, len(ids))
		out = append(out, ids[:k])
		ids = ids[k:]
	}
	return out
}
