// Package radixsort runs an LSD radix sort as a chain of histogram and
// scatter dispatches on a compute backend, one chain link per 8-bit digit.
package radixsort

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/math"
)

const (
	DigitBits = 8
	Bins      = 1 << DigitBits
	// WorkGroupSize is the local size both kernels declare: one
	// invocation per bin.
	WorkGroupSize    = Bins
	DefaultBlockSize = 32

	HistogramKernel = "radix_histogram"
	ScatterKernel   = "radix_scatter"

	stageHistogram = 0
	stageScatter   = 1
)

// Kernel resource interface, set 0.
const (
	BindingParams      uint32 = 0
	BindingElementsIn  uint32 = 1
	BindingElementsOut uint32 = 2
	BindingHistograms  uint32 = 3

	ParamNumElements        = "g_num_elements"
	ParamShift              = "g_shift"
	ParamNumWorkGroups      = "g_num_workgroups"
	ParamBlocksPerWorkGroup = "g_num_blocks_per_workgroup"
)

// KernelName is the module name of a kernel for a key width.
func KernelName(base string, keyBits uint32) string {
	if keyBits == 64 {
		return base + "_64"
	}
	return base
}

type Options struct {
	// BlockSize is the number of elements each invocation covers.
	BlockSize uint32
	Metrics   *core.Metrics
	// SkipValidation leaves Result.Valid unset and skips the CPU sort.
	SkipValidation bool
}

// Sorter owns one two-stage compute pass and reuses it across runs.
type Sorter[K Key] struct {
	backend compute.ComputeBackend
	pass    *compute.ComputePass
	opts    Options

	// lastSignal is the semaphore the previous run left signaled. The
	// next run waits on it first.
	lastSignal compute.Semaphore
}

// NewSorter creates the pass from the compiled histogram and scatter
// kernels.
func NewSorter[K Key](backend compute.ComputeBackend, histogram, scatter compute.StageConfig, opts Options) (*Sorter[K], error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	for _, s := range []*compute.StageConfig{&histogram, &scatter} {
		if s.DefaultGranularity == [3]uint32{} {
			s.DefaultGranularity = [3]uint32{WorkGroupSize, 1, 1}
		}
	}

	pass := compute.NewComputePass(backend, fmt.Sprintf("radixsort%d", KeyBits[K]()), histogram, scatter)
	if err := pass.Create(); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		stage, _ := pass.Stage(i)
		if g := stage.Granularity(); g[0] != WorkGroupSize {
			_ = pass.Release()
			return nil, fmt.Errorf("%w: kernel %s has local size %d, want %d",
				core.ErrInvalidConfig, stage.Name(), g[0], WorkGroupSize)
		}
	}
	if opts.Metrics != nil {
		pass.SetMetrics(opts.Metrics)
	}
	return &Sorter[K]{backend: backend, pass: pass, opts: opts}, nil
}

func (s *Sorter[K]) Pass() *compute.ComputePass { return s.pass }

// Release waits for outstanding work and frees the pass.
func (s *Sorter[K]) Release() error {
	s.lastSignal = nil
	return s.pass.Release()
}

type sortBuffers struct {
	elements   [2]compute.Buffer
	histograms compute.Buffer
}

func (b *sortBuffers) destroy() {
	for _, e := range b.elements {
		if e != nil {
			e.Destroy()
		}
	}
	if b.histograms != nil {
		b.histograms.Destroy()
	}
}

// Sort sorts keys on the device and checks the result against a CPU sort.
// A wrong result is reported through Result, not as an error.
func (s *Sorter[K]) Sort(keys []K) (*Result[K], error) {
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
	log := core.LogWith("run", runID.String()[:8])

	n := uint32(len(keys))
	blocks := math.CeilDiv(n, s.opts.BlockSize)
	for _, stage := range []int{stageHistogram, stageScatter} {
		if err := s.pass.SetDispatchSize(stage, blocks, 1, 1); err != nil {
			return nil, err
		}
	}
	hist, _ := s.pass.Stage(stageHistogram)
	workGroups := hist.WorkGroups()[0]
	res.WorkGroups = workGroups

	params := map[string]uint32{
		ParamNumElements:        n,
		ParamNumWorkGroups:      workGroups,
		ParamBlocksPerWorkGroup: s.opts.BlockSize,
	}
	for name, v := range params {
		if err := s.pass.SetParameterUint32(name, v); err != nil {
			return nil, err
		}
	}

	clock := core.NewClock()
	clock.Start()

	bufs, err := s.prepareBuffers(runID, keys, workGroups)
	defer func() {
		// Nothing may still reference the buffers when they go away.
		_ = s.backend.WaitIdle()
		bufs.destroy()
	}()
	if err != nil {
		return nil, err
	}
	log.Debugf("sorting %d %d-bit keys in %d passes over %d work groups", n, KeyBits[K](), passes, workGroups)

	if err := s.pass.SetResource(0, BindingHistograms, bufs.histograms); err != nil {
		return nil, err
	}
	run := &digitRun{
		backend:  s.backend,
		pass:     s.pass,
		elements: bufs.elements,
		stages:   []int{stageHistogram, stageScatter},
	}
	signal, err := run.execute(passes, s.lastSignal)
	s.lastSignal = signal
	if err != nil {
		return nil, err
	}
	if err := finishRun(res, bufs.elements, keys, s.opts, log, clock); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Sorter[K]) prepareBuffers(runID uuid.UUID, keys []K, workGroups uint32) (*sortBuffers, error) {
	bufs := &sortBuffers{}
	tag := runID.String()[:8]
	if err := createElements(s.backend, tag, keys, &bufs.elements); err != nil {
		return bufs, err
	}
	hist, err := s.backend.BufferCreate(metadata.BufferConfig{
		Name:  fmt.Sprintf("radixsort.%s.histograms", tag),
		Size:  uint64(workGroups) * Bins * 4,
		Usage: metadata.BufferUsageStorage | metadata.BufferUsageTransferDst,
	})
	if err != nil {
		return bufs, err
	}
	bufs.histograms = hist
	return bufs, bufs.histograms.Fill(0)
}

// ReferenceSort is the CPU sort results are checked against.
func ReferenceSort[K Key](keys []K) []K {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}
