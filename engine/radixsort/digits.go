package radixsort

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

// digitRun submits one Execute per digit over a pair of element buffers.
// Pass i reads role i%2 and writes role (i+1)%2, so the sorted keys end
// in role passes%2.
type digitRun struct {
	backend  compute.ComputeBackend
	pass     *compute.ComputePass
	elements [2]compute.Buffer
	stages   []int
}

// execute chains every pass on signal and returns the last signal, also
// when a pass fails, so the caller can carry it into the next run.
func (r *digitRun) execute(passes int, signal compute.Semaphore) (compute.Semaphore, error) {
	frames := r.backend.FramesInFlight()
	parity := frames%2 == 0
	if parity {
		if err := r.bindByParity(r.backend.ActiveFrame()); err != nil {
			return signal, err
		}
	}

	for i := 0; i < passes; i++ {
		if !parity {
			if err := r.bindSlot(r.backend.ActiveFrame(), i%2); err != nil {
				return signal, err
			}
		}
		if err := r.pass.SetParameterUint32(ParamShift, uint32(DigitBits*i)); err != nil {
			return signal, err
		}
		next, err := r.pass.Execute(r.stages, signal)
		if err != nil {
			return signal, fmt.Errorf("digit pass %d: %w", i, err)
		}
		signal = next
		r.backend.AdvanceFrame()
	}
	return signal, r.backend.WaitIdle()
}

// bindByParity binds every slot once. Pass i runs on slot (start+i) % F,
// and with F even that slot always sees the same i % 2.
func (r *digitRun) bindByParity(start uint32) error {
	frames := r.backend.FramesInFlight()
	for slot := uint32(0); slot < frames; slot++ {
		role := int((slot + frames - start) % 2)
		if err := r.bindSlot(slot, role); err != nil {
			return err
		}
	}
	return nil
}

func (r *digitRun) bindSlot(slot uint32, inRole int) error {
	if err := r.pass.SetResourceAt(slot, 0, BindingElementsIn, r.elements[inRole]); err != nil {
		return err
	}
	return r.pass.SetResourceAt(slot, 0, BindingElementsOut, r.elements[(inRole+1)%2])
}

// createElements allocates both element buffers, uploads keys into role 0
// and zeroes role 1.
func createElements[K Key](backend compute.ComputeBackend, tag string, keys []K, elements *[2]compute.Buffer) error {
	size := uint64(len(keys) * keySize[K]())
	for i := range elements {
		buf, err := backend.BufferCreate(metadata.BufferConfig{
			Name:  fmt.Sprintf("radixsort.%s.elements%d", tag, i),
			Size:  size,
			Usage: metadata.BufferUsageStorage | metadata.BufferUsageTransferSrc | metadata.BufferUsageTransferDst,
		})
		if err != nil {
			return err
		}
		elements[i] = buf
	}
	if err := elements[0].Upload(encodeKeys(keys)); err != nil {
		return err
	}
	return elements[1].Fill(0)
}

// finishRun reads the sorted keys back from role Passes%2 and validates
// them unless the options say otherwise.
func finishRun[K Key](res *Result[K], elements [2]compute.Buffer, keys []K, opts Options, logger *log.Logger, clock *core.Clock) error {
	n := len(keys)
	res.OutputRole = res.Passes % 2
	raw := make([]byte, n*keySize[K]())
	if err := elements[res.OutputRole].Download(raw); err != nil {
		return err
	}
	clock.Stop()
	res.GPUTime = clock.Elapsed()
	res.Keys = decodeKeys[K](raw, n)
	if opts.Metrics != nil {
		opts.Metrics.RecordSort(n, res.GPUTime)
	}
	logger.Infof("GPU sort of %d keys finished in %.3f[ms]", n, clock.ElapsedMS())

	if !opts.SkipValidation {
		res.validate(keys)
		logger.Infof("CPU sort finished in %.3f[ms]", float64(res.CPUTime.Microseconds())/1000)
		if !res.Valid {
			logger.Errorf("validation failed: %d mismatches, first at %d", res.Mismatches, res.FirstMismatch)
		}
	}
	return nil
}
