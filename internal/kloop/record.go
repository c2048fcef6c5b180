package kloop

import (
	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
)

// Options returns the generation options that change the emitted program,
// folded into the kernel ID.
func (k *Kernel) Options() ir.IRObject {
	obj := ir.IRObject{}
	if k.ShortLoopExtent > 0 {
		obj["short_loop_extent"] = ir.IRInt(k.ShortLoopExtent)
	}
	return obj
}

// ID is the content-addressed identity of the kernel.
func (k *Kernel) ID() (string, error) {
	sh, err := ir.StrategyHash(k.Strategy)
	if err != nil {
		return "", err
	}
	return ir.KernelID(sh, k.Options())
}

// Record builds the cache record of the kernel for a generation run.
func (k *Kernel) Record(runID string, seq int64) (ir.KernelRecord, error) {
	sh, err := ir.StrategyHash(k.Strategy)
	if err != nil {
		return ir.KernelRecord{}, errors.WithMessagef(err, "record %q", k.Strategy.Name)
	}
	id, err := ir.KernelID(sh, k.Options())
	if err != nil {
		return ir.KernelRecord{}, errors.WithMessagef(err, "record %q", k.Strategy.Name)
	}
	js, err := k.Strategy.CanonicalJSON()
	if err != nil {
		return ir.KernelRecord{}, errors.Wrapf(err, "record %q", k.Strategy.Name)
	}
	listing := k.Program.Listing()
	return ir.KernelRecord{
		ID:               id,
		StrategyName:     k.Strategy.Name,
		StrategyHash:     sh,
		StrategyJSON:     string(js),
		GeneratorVersion: ir.GeneratorVersion,
		BlockLength:      k.Schedule.BlockLength,
		WarmupLength:     k.Schedule.WarmupLength,
		Threshold:        k.Schedule.Threshold,
		Instructions:     len(k.Program.Instrs),
		Listing:          listing,
		ListingHash:      ir.ListingHash([]byte(listing)),
		ShortLoopExtent:  k.ShortLoopExtent,
		RunID:            runID,
		Seq:              seq,
	}, nil
}
