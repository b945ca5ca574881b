// Package version reports what build of the sampler is running
package version

import (
	"fmt"
	"runtime/debug"
)

// Stamped with -ldflags "-X miping/internal/core/version.version=v0.3.0
// -X miping/internal/core/version.commit=abcd -X miping/internal/core/version.date=2026-10-01"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// BuildInfo identifies a build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// String renders "service version (commit, date)"
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", b.Service, b.Version, b.Commit, b.Date)
}

// Info returns the stamped build information. Unstamped builds fall back to
// the vcs revision and time the go tool recorded, when there are any
func Info() BuildInfo {
	b := BuildInfo{Service: "miping-sampler", Version: version, Commit: commit, Date: date}
	if commit != "none" {
		return b
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Commit = s.Value
		case "vcs.time":
			b.Date = s.Value
		}
	}
	return b
}
