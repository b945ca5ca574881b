package main

import (
	"slices"

	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/service"
)

// stepFlags are the checkpoint flags shared by every step command
type stepFlags struct {
	read    bool
	write   bool
	idsOnly bool
}

// singleStep runs one step; --read loads its own output instead of computing it
func singleStep(step service.StepName, f stepFlags) (service.Plan, error) {
	if f.idsOnly && !f.write {
		return service.Plan{}, perr.WithField(perr.Configf("--ids-only needs --write"), "ids-only")
	}
	p := service.Plan{
		Steps: []service.StepName{step},
		IO:    map[service.StepName]service.StepIO{step: {Read: f.read, Write: f.write, IDsOnly: f.idsOnly}},
	}
	return p, p.Validate()
}

// fullRun runs every step starting at from, which reads its input from the
// previous checkpoint. Computed steps write their checkpoints when --write is set
func fullRun(from string, f stepFlags) (service.Plan, error) {
	if f.read {
		return service.Plan{}, perr.WithField(perr.Configf("run computes every step, use --from to resume from checkpoints"), "read")
	}
	if f.idsOnly && !f.write {
		return service.Plan{}, perr.WithField(perr.Configf("--ids-only needs --write"), "ids-only")
	}
	first := service.StepStream
	if from != "" {
		st, err := service.ParseStep(from)
		if err != nil {
			return service.Plan{}, perr.WithField(err, "from")
		}
		first = st
	}
	steps := slices.Clone(service.Steps[slices.Index(service.Steps, first):])
	p := service.Plan{Steps: steps, IO: map[service.StepName]service.StepIO{}}
	for _, st := range steps {
		p.IO[st] = service.StepIO{Write: f.write, IDsOnly: f.idsOnly}
	}
	return p, p.Validate()
}
