package module

import (
	"time"

	"miping/internal/platform/config"
)

// Options for the sampler module
type Options struct {
	DataDir          string
	RegionsFile      string
	ProfileChunk     int
	FollowerLimit    int
	FollowerBatch    int
	Cooldown         time.Duration
	TimelineLimit    int
	ProgressFraction float64
	StatementTimeout time.Duration
	Seed             uint64
}

// FromConfig fills options from environment
// SAMPLER_DATA_DIR (default "data") is where stage checkpoints are written
// SAMPLER_REGIONS_FILE (default "config.yml") holds the regions and sampling settings
// SAMPLER_PROFILE_CHUNK (default 100) is the largest id list per profile lookup
// SAMPLER_FOLLOWER_LIMIT (default 5000) caps follower ids per seed author
// SAMPLER_FOLLOWER_BATCH (default 15) is the number of seeds fetched between cooldowns
// SAMPLER_COOLDOWN (default 15m) is the wait between follower batches
// SAMPLER_TIMELINE_LIMIT (default 3200) caps posts read per candidate
// SAMPLER_PROGRESS_FRACTION (default 0.1) of the quota between progress events
// SAMPLER_STATEMENT_TIMEOUT (default 30s) bounds each corpus export statement
// SAMPLER_SEED (default 0, random) seeds sampling and shuffling for reproducible runs
func FromConfig(cfg config.Conf) Options {
	s := cfg.Prefix("SAMPLER_")
	return Options{
		DataDir:          s.MayString("DATA_DIR", "data"),
		RegionsFile:      s.MayString("REGIONS_FILE", "config.yml"),
		ProfileChunk:     s.MayInt("PROFILE_CHUNK", 100),
		FollowerLimit:    s.MayInt("FOLLOWER_LIMIT", 5000),
		FollowerBatch:    s.MayInt("FOLLOWER_BATCH", 15),
		Cooldown:         s.MayDuration("COOLDOWN", 15*time.Minute),
		TimelineLimit:    s.MayInt("TIMELINE_LIMIT", 3200),
		ProgressFraction: s.MayFloat64("PROGRESS_FRACTION", 0.1),
		StatementTimeout: s.MayDuration("STATEMENT_TIMEOUT", 30*time.Second),
		Seed:             uint64(max(s.MayInt("SEED", 0), 0)),
	}
}
