package domain

import "context"

// StreamQuery selects what a location stream delivers
type StreamQuery struct {
	Box         BoundingBox
	CountryCode string
}

// StreamPost is one streamed post with its author's metrics at post time
type StreamPost struct {
	Post   Post
	Author Candidate
}

// TimelineQuery bounds a timeline fetch
type TimelineQuery struct {
	Limit           int
	ExcludeRetweets bool
}

// SocialClient is the rate limited social media API
// Errors carry perr codes: Unavailable and TooManyRequests are transient,
// NotFound, Forbidden and CandidateUnavailable mean the account cannot be read
type SocialClient interface {
	// Stream calls fn for every post until fn returns false, ctx ends, or the transport fails
	Stream(ctx context.Context, q StreamQuery, fn func(StreamPost) bool) error
	// LookupProfiles resolves ids in chunks of at most 100; unknown ids are dropped
	LookupProfiles(ctx context.Context, ids []string) ([]Candidate, error)
	// LookupPosts resolves post ids in chunks of at most 100 and counts the ids that did not resolve
	LookupPosts(ctx context.Context, ids []string) (posts []Post, invalid int, err error)
	// FollowerIDs returns up to limit follower ids of a user
	FollowerIDs(ctx context.Context, userID string, limit int) ([]string, error)
	// Timeline returns up to q.Limit recent posts of a user
	Timeline(ctx context.Context, userID string, q TimelineQuery) ([]Post, error)
}

// Geocoder resolves free text to candidate formatted addresses, best match first
type Geocoder interface {
	ResolveAddress(ctx context.Context, text string) ([]string, error)
}

// Notifier receives progress events; implementations must not block for long
type Notifier interface {
	Progress(ctx context.Context, ev ProgressEvent)
}

// Stage names a checkpoint in the pipeline
type Stage string

// Pipeline checkpoints in execution order
const (
	StageStreamed  Stage = "01streamed"
	StageSeed      Stage = "02seed"
	StageExpanded  Stage = "02expanded"
	StageVerified  Stage = "03verified"
	StageCondensed Stage = "04condensed"
)

// CheckpointStore persists stage outputs at deterministic per-region paths
// Reads report whether the file was written in ids-only mode and needs rehydrating
type CheckpointStore interface {
	WriteUsers(ctx context.Context, r Region, s Stage, users []Candidate, idsOnly bool) error
	ReadUsers(ctx context.Context, r Region, s Stage) (users []Candidate, idsOnly bool, err error)
	WritePosts(ctx context.Context, r Region, s Stage, posts []Post, idsOnly bool) error
	ReadPosts(ctx context.Context, r Region, s Stage) (posts []Post, idsOnly bool, err error)
	WriteProfiles(ctx context.Context, r Region, profiles []Profile) error
	ReadProfiles(ctx context.Context, r Region) ([]Profile, error)
}

// CorpusSink exports a finished corpus, e.g. to a database
type CorpusSink interface {
	SaveCorpus(ctx context.Context, runID string, c Corpus) error
}
