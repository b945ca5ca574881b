package domain

import "time"

// CollectReport describes how a stream collection went
type CollectReport struct {
	Seen             int
	Admitted         int
	SkippedRetweet   int
	SkippedStatuses  int
	SkippedFollowers int
	Elapsed          time.Duration
	// EndedBy is "duration", "transport" or "canceled"
	EndedBy string
	// TransportErr is the error that ended the stream early, if any
	TransportErr error
}

// ExpandReport describes a follower expansion
type ExpandReport struct {
	SeedAuthors  int
	SeedResolved int
	Sampled      int
	Batches      int
	Cooldowns    int
	FailedSeeds  int
	FollowerIDs  int
	AfterDedup   int
	Expanded     int
}

// VerifyReport describes one quota run over a pool
type VerifyReport struct {
	Pool      PoolKind
	Quota     int
	Inspected int
	Verified  int
	Rejected  map[RejectReason]int
	Shortfall bool
}

// ProgressEvent is emitted as the verified count advances
type ProgressEvent struct {
	RunID     string
	Region    string
	Pool      PoolKind
	Verified  int
	Quota     int
	Inspected int
	Done      bool
	At        time.Time
}
