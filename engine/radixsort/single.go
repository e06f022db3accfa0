package radixsort

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/core"
)

// SortKernel sorts one digit per dispatch inside a single work group.
const SortKernel = "radix_sort"

// SingleSorter runs every digit pass as one dispatch of one work group.
// It needs no histogram buffer and suits small inputs where the
// launch overhead of the two-stage chain dominates.
type SingleSorter[K Key] struct {
	backend compute.ComputeBackend
	pass    *compute.ComputePass
	opts    Options

	lastSignal compute.Semaphore
}

func NewSingleSorter[K Key](backend compute.ComputeBackend, stage compute.StageConfig, opts Options) (*SingleSorter[K], error) {
	if stage.DefaultGranularity == [3]uint32{} {
		stage.DefaultGranularity = [3]uint32{WorkGroupSize, 1, 1}
	}
	pass := compute.NewComputePass(backend, fmt.Sprintf("radixsort%d.single", KeyBits[K]()), stage)
	if err := pass.Create(); err != nil {
		return nil, err
	}
	st, _ := pass.Stage(0)
	if g := st.Granularity(); g[0] != WorkGroupSize {
		_ = pass.Release()
		return nil, fmt.Errorf("%w: kernel %s has local size %d, want %d",
			core.ErrInvalidConfig, st.Name(), g[0], WorkGroupSize)
	}
	if opts.Metrics != nil {
		pass.SetMetrics(opts.Metrics)
	}
	return &SingleSorter[K]{backend: backend, pass: pass, opts: opts}, nil
}

func (s *SingleSorter[K]) Pass() *compute.ComputePass { return s.pass }

func (s *SingleSorter[K]) Release() error {
	s.lastSignal = nil
	return s.pass.Release()
}

// Sort has the same contract as Sorter.Sort.
func (s *SingleSorter[K]) Sort(keys []K) (*Result[K], error) {
	runID := uuid.New()
	passes := Passes[K]()
	res := &Result[K]{RunID: runID, Elements: len(keys), Passes: passes}
	if len(keys) == 0 {
		res.Keys = []K{}
		res.Valid = true
		return res, nil
	}
	if uint64(len(keys)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: %d keys exceed the 32-bit element count", core.ErrInvalidConfig, len(keys))
	}
	log := core.LogWith("run", runID.String()[:8], "variant", "single")

	// One thread per bin, one work group.
	if err := s.pass.SetDispatchSize(0, WorkGroupSize, 1, 1); err != nil {
		return nil, err
	}
	st, _ := s.pass.Stage(0)
	res.WorkGroups = st.WorkGroups()[0]
	n := uint32(len(keys))
	if err := s.pass.SetParameterUint32(ParamNumElements, n); err != nil {
		return nil, err
	}

	clock := core.NewClock()
	clock.Start()

	var elements [2]compute.Buffer
	err := createElements(s.backend, runID.String()[:8], keys, &elements)
	defer func() {
		_ = s.backend.WaitIdle()
		for _, e := range elements {
			if e != nil {
				e.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, err
	}
	log.Debugf("sorting %d %d-bit keys in %d single-group passes", n, KeyBits[K](), passes)

	run := &digitRun{backend: s.backend, pass: s.pass, elements: elements, stages: []int{0}}
	signal, err := run.execute(passes, s.lastSignal)
	s.lastSignal = signal
	if err != nil {
		return nil, err
	}
	if err := finishRun(res, elements, keys, s.opts, log, clock); err != nil {
		return nil, err
	}
	return res, nil
}
