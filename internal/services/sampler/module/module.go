// Package module wires up the sampling pipeline as a modkit.Module
package module

import (
	"context"
	"math/rand/v2"
	"time"

	"miping/internal/adapters/checkpoint"
	"miping/internal/adapters/geocode"
	"miping/internal/adapters/notify"
	"miping/internal/adapters/social/twitter"
	"miping/internal/modkit"
	modreg "miping/internal/modkit/module"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/services/sampler/domain"
	"miping/internal/services/sampler/repo"
	"miping/internal/services/sampler/service"

	"github.com/google/uuid"
)

// Name is the registry key of the sampler module
const Name = "sampler"

// Run carries the per-invocation inputs that override environment options
type Run struct {
	// ID tags logs, events and exported rows; a uuid is generated when empty
	ID string
	// ConfigPath overrides SAMPLER_REGIONS_FILE
	ConfigPath string
	// DataDir overrides SAMPLER_DATA_DIR
	DataDir string
	// NATSURL overrides NATS_URL
	NATSURL string
	// Seed overrides SAMPLER_SEED when non zero
	Seed uint64
}

// Ports exported by the sampler module
type Ports struct {
	Runner   *service.Svc
	Settings Settings
	RunID    string
}

// Module implements modkit.Module for the sampler
type Module struct {
	deps    modkit.Deps
	ports   Ports
	closers []func()
}

// New loads the regions file and wires the adapters named by deps.Cfg and run.
// API credentials are checked lazily: a stage that needs a missing one fails
// with a config error, stages reading checkpoints still run
func New(deps modkit.Deps, run Run) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	if run.ConfigPath != "" {
		opts.RegionsFile = run.ConfigPath
	}
	if run.DataDir != "" {
		opts.DataDir = run.DataDir
	}
	if run.Seed != 0 {
		opts.Seed = run.Seed
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	log := logger.Named(Name)

	settings, err := LoadSettings(opts.RegionsFile)
	if err != nil {
		return nil, err
	}

	m := &Module{deps: deps}
	clk := deps.ClockOrReal()

	var client domain.SocialClient
	tw, err := twitter.New(twitter.FromConfig(deps.Cfg.Prefix("TWITTER_")), clk, deps.Metrics)
	if err != nil {
		log.Warn().Err(err).Msg("social api not configured, stages that call it will fail")
		client = unconfigured{err: err}
	} else {
		client = tw
	}

	var geo domain.Geocoder
	if settings.Sampling.VerifyLocation {
		g, err := geocoderFromConfig(deps)
		if err != nil {
			log.Warn().Err(err).Msg("geocoder not configured, location verification will fail")
		} else {
			geo = g
		}
	}

	notifiers := notify.Multi{notify.Log{}}
	natsOpts := notify.NATSFromConfig(deps.Cfg.Prefix("NATS_"))
	if run.NATSURL != "" {
		natsOpts.URL = run.NATSURL
	}
	if natsOpts.URL != "" {
		nc, err := notify.DialNATS(natsOpts)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, nc)
		m.closers = append(m.closers, nc.Close)
	}

	var sinks []domain.CorpusSink
	if deps.PG != nil {
		sinks = append(sinks, repo.NewSink(deps.PG, nil, settings.Extras(), opts.StatementTimeout))
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	if opts.Seed != 0 {
		rng = rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	}

	svc := service.New(service.Deps{
		Client:      client,
		Geo:         geo,
		Notify:      notifiers,
		Checkpoints: checkpoint.New(opts.DataDir, settings.Extras(), deps.Metrics),
		Sinks:       sinks,
		Clock:       clk,
		Rand:        rng,
		Metrics:     deps.Metrics,
		RunID:       run.ID,
	}, service.Config{
		ProfileChunk:     opts.ProfileChunk,
		FollowerLimit:    opts.FollowerLimit,
		FollowerBatch:    opts.FollowerBatch,
		FollowerPage:     twitter.FollowersPage,
		Cooldown:         opts.Cooldown,
		TimelineLimit:    opts.TimelineLimit,
		ProgressFraction: opts.ProgressFraction,
	})

	m.ports = Ports{Runner: svc, Settings: settings, RunID: run.ID}
	log.Info().
		Str("run_id", run.ID).
		Str("regions_file", opts.RegionsFile).
		Str("data_dir", opts.DataDir).
		Int("regions", len(settings.Regions)).
		Bool("pg_export", len(sinks) > 0).
		Bool("nats", natsOpts.URL != "").
		Msg("sampler wired")
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return Name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Run executes plan for every region selected by names, in file order.
// The first failing region stops the run; results of earlier regions are returned
func (m *Module) Run(ctx context.Context, names []string, plan service.Plan) ([]service.Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	regions, err := m.ports.Settings.Select(names)
	if err != nil {
		return nil, err
	}
	out := make([]service.Result, 0, len(regions))
	for _, r := range regions {
		start := time.Now()
		res, err := m.ports.Runner.RunRegion(ctx, r, m.ports.Settings.Sampling, plan)
		if err != nil {
			return out, perr.WithOp(err, "region "+r.Slug())
		}
		out = append(out, res)
		logSummary(ctx, r, res, time.Since(start))
	}
	return out, nil
}

// logSummary reports the counters of the steps that ran
func logSummary(ctx context.Context, r domain.Region, res service.Result, took time.Duration) {
	ev := logger.C(ctx).Info().Str("region", r.Slug()).Dur("took", took)
	if res.Collect.EndedBy != "" {
		ev = ev.Int("streamed", res.Collect.Seen).Int("admitted", res.Collect.Admitted).Str("ended_by", res.Collect.EndedBy)
	}
	if res.Seed.Len() > 0 || res.Expanded.Len() > 0 {
		ev = ev.Int("seed", res.Seed.Len()).Int("expanded", res.Expanded.Len()).
			Int("follower_batches", res.Expand.Batches).Int("failed_seeds", res.Expand.FailedSeeds)
	}
	if len(res.Corpus.Users) > 0 {
		ev = ev.Int("users", len(res.Corpus.Users)).
			Bool("seed_shortfall", res.Corpus.Seed.Shortfall).
			Bool("expanded_shortfall", res.Corpus.Expanded.Shortfall)
	}
	ev.Int("profiles", len(res.Profiles)).Msg("region finished")
}

// Close releases connections opened by New
func (m *Module) Close() {
	for _, c := range m.closers {
		c()
	}
	m.closers = nil
}

// Register builds the module and publishes it in the registry
func Register(deps modkit.Deps, run Run) (*Module, error) {
	m, err := New(deps, run)
	if err != nil {
		return nil, err
	}
	modreg.Register(m)
	return m, nil
}

func geocoderFromConfig(deps modkit.Deps) (*geocode.Geocoder, error) {
	o, err := geocode.FromConfig(deps.Cfg.Prefix("GOOGLE_"))
	if err != nil {
		return nil, err
	}
	return geocode.New(o, deps.Metrics)
}

// unconfigured stands in for the social api when credentials are missing
type unconfigured struct{ err error }

func (u unconfigured) Stream(context.Context, domain.StreamQuery, func(domain.StreamPost) bool) error {
	return u.err
}

func (u unconfigured) LookupProfiles(context.Context, []string) ([]domain.Candidate, error) {
	return nil, u.err
}

func (u unconfigured) LookupPosts(context.Context, []string) ([]domain.Post, int, error) {
	return nil, 0, u.err
}

func (u unconfigured) FollowerIDs(context.Context, string, int) ([]string, error) { return nil, u.err }

func (u unconfigured) Timeline(context.Context, string, domain.TimelineQuery) ([]domain.Post, error) {
	return nil, u.err
}
