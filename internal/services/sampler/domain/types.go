// Package domain defines the types and ports of the sampling pipeline
package domain

import (
	"fmt"
	"strings"
	"time"
)

// BoundingBox is a lng/lat rectangle, south-west corner first
type BoundingBox struct {
	West  float64 `yaml:"west"`
	South float64 `yaml:"south"`
	East  float64 `yaml:"east"`
	North float64 `yaml:"north"`
}

// Valid reports whether the corners are in range and ordered
func (b BoundingBox) Valid() bool {
	inLng := func(v float64) bool { return v >= -180 && v <= 180 }
	inLat := func(v float64) bool { return v >= -90 && v <= 90 }
	return inLng(b.West) && inLng(b.East) && inLat(b.South) && inLat(b.North) &&
		b.West < b.East && b.South < b.North
}

// String renders "west south east north", the order stream filters expect
func (b BoundingBox) String() string {
	return fmt.Sprintf("%g %g %g %g", b.West, b.South, b.East, b.North)
}

// Eligibility holds the coarse author thresholds, all bounds inclusive
type Eligibility struct {
	MinFollowers int `yaml:"min_followers" validate:"min=0"`
	MaxFollowers int `yaml:"max_followers" validate:"min=0"`
	MinStatuses  int `yaml:"min_statuses" validate:"min=0"`
}

// Admits reports whether followers and statuses clear the thresholds
func (e Eligibility) Admits(followers, statuses int) bool {
	return statuses >= e.MinStatuses && followers >= e.MinFollowers && followers <= e.MaxFollowers
}

// Region is one geographic and language sampling unit. Immutable after load
type Region struct {
	Name               string      `yaml:"name" validate:"required"`
	Country            string      `yaml:"country" validate:"required"`
	CountryCode        string      `yaml:"country_code" validate:"omitempty,len=2,alpha"`
	Lang               string      `yaml:"lang" validate:"langtag"`
	Box                BoundingBox `yaml:"bounding_box"`
	LangThreshold      float64     `yaml:"lang_threshold" validate:"min=0,max=1"`
	OtherLangThreshold float64     `yaml:"other_lang_threshold" validate:"min=0,max=1"`
	Eligibility        Eligibility `yaml:"eligibility"`
}

// Slug is the lowercase name used for metric labels and log fields
func (r Region) Slug() string { return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(r.Name), " ", "_")) }

// Sampling holds the run-wide sampling knobs
type Sampling struct {
	StreamDuration  time.Duration `yaml:"stream_duration" validate:"min=1s"`
	ExcludeRetweets bool          `yaml:"exclude_retweets"`
	FollowerSample  int           `yaml:"sampling_follower" validate:"min=0"`
	LocationUsers   int           `yaml:"sampling_location_users" validate:"min=0"`
	TotalSampleSize int           `yaml:"total_sample_size" validate:"min=1"`
	VerifyLocation  bool          `yaml:"verify_location"`
	TimelineLimit   int           `yaml:"timeline_limit" validate:"min=0,max=3200"`
	ExtraAttributes []string      `yaml:"extra_attributes"`
}

// ExpandedQuota is the share of the sample drawn from the expanded pool
func (s Sampling) ExpandedQuota() int {
	if q := s.TotalSampleSize - s.LocationUsers; q > 0 {
		return q
	}
	return 0
}

// Candidate is an author identity with point-in-time metrics
type Candidate struct {
	ID         string
	ScreenName string
	Followers  int
	Statuses   int
	Location   string
}

// Post is a single status. Never mutated after creation
type Post struct {
	ID        string
	AuthorID  string
	CreatedAt time.Time
	IsRetweet bool
	Text      string
	Lang      string
	Extra     Extras
}

// Extras are the optional attributes selectable by name in configuration
type Extras struct {
	Source            string
	ConversationID    string
	InReplyToUserID   string
	PossiblySensitive bool
	RetweetCount      int
	ReplyCount        int
	LikeCount         int
	QuoteCount        int
}

// PoolKind names the two candidate pools of a region
type PoolKind string

const (
	// PoolSeed holds authors located by the stream
	PoolSeed PoolKind = "seed"
	// PoolExpanded holds followers of seed authors
	PoolExpanded PoolKind = "expanded"
)

// Pool is an ordered, deduplicated list of candidates
type Pool struct {
	Kind       PoolKind
	Candidates []Candidate
}

// NewPool keeps the first occurrence of every id
func NewPool(kind PoolKind, cands []Candidate) Pool {
	seen := make(map[string]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if _, dup := seen[c.ID]; dup || c.ID == "" {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return Pool{Kind: kind, Candidates: out}
}

// Len is the number of candidates
func (p Pool) Len() int { return len(p.Candidates) }

// IDs returns candidate ids in pool order
func (p Pool) IDs() []string {
	out := make([]string, len(p.Candidates))
	for i, c := range p.Candidates {
		out[i] = c.ID
	}
	return out
}

// Profile is one verified user's posts condensed into a single document
type Profile struct {
	UserID    string
	Text      string
	WordCount int
	PostCount int
	Lang      string
}

// Corpus is the merged verified sample of a region
type Corpus struct {
	Region   Region
	Users    []Candidate
	Posts    []Post
	Seed     VerifyReport
	Expanded VerifyReport
}
