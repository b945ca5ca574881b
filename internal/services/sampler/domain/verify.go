package domain

import (
	"sync"

	"miping/internal/core/langmix"
)

// CandidateState tracks a candidate through verification
type CandidateState uint8

const (
	// StatePending is a candidate not yet inspected
	StatePending CandidateState = iota
	// StateLanguageChecked passed the language test
	StateLanguageChecked
	// StateLocationChecked passed the location test
	StateLocationChecked
	// StateVerified was admitted to the verified set
	StateVerified
	// StateRejected failed a test or could not be read
	StateRejected
)

// String returns the state label
func (s CandidateState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLanguageChecked:
		return "language_checked"
	case StateLocationChecked:
		return "location_checked"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s CandidateState) Terminal() bool { return s == StateVerified || s == StateRejected }

// RejectReason says why a candidate ended Rejected
type RejectReason string

// Reject reasons
const (
	ReasonNone             RejectReason = ""
	ReasonNoPosts          RejectReason = "no_posts"
	ReasonOnlyRetweets     RejectReason = "only_retweets"
	ReasonLanguage         RejectReason = "language"
	ReasonNoLocation       RejectReason = "no_location"
	ReasonLocationMismatch RejectReason = "location_mismatch"
	ReasonGeocodeFailed    RejectReason = "geocode_failed"
	ReasonUnavailable      RejectReason = "unavailable"
	ReasonAPIError         RejectReason = "api_error"
)

// Decision is the outcome of verifying one candidate
type Decision struct {
	Candidate Candidate
	State     CandidateState
	Reason    RejectReason
	Mix       langmix.Mix
	Address   string
	Posts     []Post // target-language posts, set only when Verified
}

// Quota is a target count with a live counter; safe for concurrent Admit
type Quota struct {
	mu     sync.Mutex
	target int
	count  int
}

// NewQuota returns a Quota for target (negative targets are treated as 0)
func NewQuota(target int) *Quota {
	if target < 0 {
		target = 0
	}
	return &Quota{target: target}
}

// Admit advances the counter unless the target is reached; returns the new count
func (q *Quota) Admit() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count >= q.target {
		return q.count, false
	}
	q.count++
	return q.count, true
}

// Target returns the configured target
func (q *Quota) Target() int { return q.target }

// Count returns the live counter
func (q *Quota) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Reached reports whether the counter hit the target
func (q *Quota) Reached() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count >= q.target
}

// VerifiedSet accumulates admitted candidates and their posts; Len never exceeds the quota
type VerifiedSet struct {
	mu    sync.Mutex
	quota *Quota
	users []Candidate
	posts []Post
}

// NewVerifiedSet returns an empty set bounded by quota
func NewVerifiedSet(quota int) *VerifiedSet {
	return &VerifiedSet{quota: NewQuota(quota)}
}

// Add admits a candidate with its posts; false once the quota is full
func (v *VerifiedSet) Add(c Candidate, posts []Post) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.quota.Admit()
	if !ok {
		return n, false
	}
	v.users = append(v.users, c)
	v.posts = append(v.posts, posts...)
	return n, true
}

// Len is the number of admitted candidates
func (v *VerifiedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.users)
}

// Full reports whether the quota is reached
func (v *VerifiedSet) Full() bool { return v.quota.Reached() }

// Quota returns the target
func (v *VerifiedSet) Quota() int { return v.quota.Target() }

// Users returns a copy of the admitted candidates
func (v *VerifiedSet) Users() []Candidate {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Candidate(nil), v.users...)
}

// Posts returns a copy of the admitted posts
func (v *VerifiedSet) Posts() []Post {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Post(nil), v.posts...)
}
