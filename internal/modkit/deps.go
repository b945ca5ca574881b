// Package modkit holds the shared dependencies handed to every module
package modkit

import (
	"miping/internal/modkit/repokit"
	"miping/internal/platform/clock"
	"miping/internal/platform/config"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"
)

// Deps is wiring only; every field may be zero in tests
type Deps struct {
	Log     logger.Logger
	Cfg     config.Conf
	PG      repokit.TxRunner // nil when postgres is not configured
	Metrics *metrics.Registry
	Clock   clock.Clock
}

// ClockOrReal returns Clock or the wall clock when unset
func (d Deps) ClockOrReal() clock.Clock {
	if d.Clock == nil {
		return clock.Real{}
	}
	return d.Clock
}
