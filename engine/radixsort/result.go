package radixsort

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/radix/engine/core"
)

// Result of one sort run.
type Result[K Key] struct {
	RunID    uuid.UUID
	Elements int
	Passes   int
	// WorkGroups launched per dispatch.
	WorkGroups uint32
	// OutputRole is the element buffer the sorted keys were read from,
	// always Passes % 2.
	OutputRole int
	Keys       []K

	Valid         bool
	Mismatches    int
	FirstMismatch int

	GPUTime time.Duration
	CPUTime time.Duration
}

func (r *Result[K]) validate(input []K) {
	clock := core.NewClock()
	clock.Start()
	reference := ReferenceSort(input)
	clock.Stop()
	r.CPUTime = clock.Elapsed()

	r.FirstMismatch = -1
	r.Mismatches = 0
	if len(reference) != len(r.Keys) {
		r.Mismatches = len(reference)
		r.FirstMismatch = 0
		r.Valid = false
		return
	}
	for i := range reference {
		if reference[i] != r.Keys[i] {
			if r.FirstMismatch < 0 {
				r.FirstMismatch = i
			}
			r.Mismatches++
		}
	}
	r.Valid = r.Mismatches == 0
}

// Err is nil for a validated run and wraps core.ErrValidation otherwise.
func (r *Result[K]) Err() error {
	if r.Valid {
		return nil
	}
	if r.FirstMismatch < 0 {
		return fmt.Errorf("%w: run %s was not validated", core.ErrValidation, r.RunID)
	}
	return fmt.Errorf("%w: run %s has %d of %d keys out of place, first at index %d",
		core.ErrValidation, r.RunID, r.Mismatches, r.Elements, r.FirstMismatch)
}
