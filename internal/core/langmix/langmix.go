// Package langmix classifies a user's posts by language and decides whether the
// mix is dominated by a target language.
package langmix

import (
	"strings"

	"golang.org/x/text/language"
)

// Bucket is the language class of a single post relative to a target
type Bucket uint8

const (
	// Other is any tagged language that is not the target
	Other Bucket = iota
	// Target matches the target language
	Target
	// Undefined covers "und" and posts with no tag at all
	Undefined
)

// String returns the bucket label
func (b Bucket) String() string {
	switch b {
	case Target:
		return "target"
	case Undefined:
		return "undefined"
	default:
		return "other"
	}
}

// Thresholds holds the admission ratios, both inclusive
type Thresholds struct {
	// MinTarget is the lowest accepted target/total ratio
	MinTarget float64
	// MaxOther is the highest accepted other/total ratio
	MaxOther float64
}

// Mix counts posts per bucket
type Mix struct {
	Target    int
	Undefined int
	Other     int
}

// Total is the number of classified posts
func (m Mix) Total() int { return m.Target + m.Undefined + m.Other }

// TargetRatio is target/total, 0 when empty
func (m Mix) TargetRatio() float64 {
	if m.Total() == 0 {
		return 0
	}
	return float64(m.Target) / float64(m.Total())
}

// OtherRatio is other/total, 0 when empty
func (m Mix) OtherRatio() float64 {
	if m.Total() == 0 {
		return 0
	}
	return float64(m.Other) / float64(m.Total())
}

// Passes reports whether the mix clears both thresholds; an empty mix never passes
func (m Mix) Passes(th Thresholds) bool {
	if m.Total() == 0 {
		return false
	}
	return m.TargetRatio() >= th.MinTarget && m.OtherRatio() <= th.MaxOther
}

// Classifier buckets language tags against one target language
// Matching is on the base language so "en-GB" counts for "en"
type Classifier struct {
	raw  string
	base language.Base
	ok   bool
}

// NewClassifier builds a Classifier for the target tag (e.g. "de")
func NewClassifier(target string) Classifier {
	c := Classifier{raw: strings.ToLower(strings.TrimSpace(target))}
	if tag, err := language.Parse(c.raw); err == nil {
		c.base, _ = tag.Base()
		c.ok = tag != language.Und
	}
	return c
}

// Target returns the normalized target tag
func (c Classifier) Target() string { return c.raw }

// Classify returns the bucket of one post language tag
func (c Classifier) Classify(tag string) Bucket {
	t := strings.ToLower(strings.TrimSpace(tag))
	switch {
	case t == "" || t == "und":
		return Undefined
	case t == c.raw:
		return Target
	case !c.ok:
		return Other
	}
	parsed, err := language.Parse(t)
	if err != nil {
		return Other
	}
	if b, conf := parsed.Base(); conf != language.No && b == c.base {
		return Target
	}
	return Other
}

// Count classifies every tag and returns the tally
func (c Classifier) Count(tags []string) Mix {
	var m Mix
	for _, t := range tags {
		switch c.Classify(t) {
		case Target:
			m.Target++
		case Undefined:
			m.Undefined++
		default:
			m.Other++
		}
	}
	return m
}
