// Package software is a compute backend that runs kernels written in Go
// on the CPU. It keeps the submission contract of a real device: a single
// in-order queue, binary semaphores, fences that must be reset before
// reuse, and binding tables that may not change while in flight.
package software

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/systems"
)

var (
	ErrTableInFlight  = fmt.Errorf("%w: binding table written while in flight", core.ErrDevice)
	ErrFenceInUse     = fmt.Errorf("%w: fence is pending or still signaled", core.ErrDevice)
	ErrSemaphoreState = fmt.Errorf("%w: binary semaphore misuse", core.ErrDevice)
	ErrCommandState   = fmt.Errorf("%w: command list in wrong state", core.ErrDevice)
)

const queueDepth = 64

// Stats counts what the queue has executed.
type Stats struct {
	Submissions uint64
	Dispatches  uint64
	WorkGroups  uint64
	Barriers    uint64
}

type Backend struct {
	frames  uint32
	active  uint32
	workers int

	kernelsMu sync.RWMutex
	kernels   map[string]Kernel

	queue *systems.JobSystem

	mu     sync.Mutex
	lost   error
	closed bool
	stats  Stats
}

// New creates a backend with frames slots that runs work groups on up to
// workers goroutines. workers <= 0 means one per CPU.
func New(frames uint32, workers int) *Backend {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Backend{
		frames:  frames,
		workers: workers,
		kernels: make(map[string]Kernel),
	}
}

func (b *Backend) Name() string { return "software" }

func (b *Backend) Initialize() error {
	if b.frames == 0 {
		return fmt.Errorf("%w: zero frames in flight", core.ErrInvalidConfig)
	}
	queue, err := systems.NewJobSystem(1, queueDepth)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrDevice, err)
	}
	b.queue = queue
	core.LogInfo("software compute device ready: %d frames in flight, %d workers", b.frames, b.workers)
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	if b.closed || b.queue == nil {
		b.closed = true
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.queue.Shutdown()
}

// RegisterKernel makes a Go kernel available to pipelines whose shader
// module carries the given name.
func (b *Backend) RegisterKernel(name string, k Kernel) {
	b.kernelsMu.Lock()
	defer b.kernelsMu.Unlock()
	b.kernels[name] = k
}

func (b *Backend) kernel(name string) (Kernel, bool) {
	b.kernelsMu.RLock()
	defer b.kernelsMu.RUnlock()
	k, ok := b.kernels[name]
	return k, ok
}

func (b *Backend) FramesInFlight() uint32 { return b.frames }
func (b *Backend) ActiveFrame() uint32    { return b.active }
func (b *Backend) AdvanceFrame()          { b.active = (b.active + 1) % b.frames }

func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// usable reports a lost device or a closed backend.
func (b *Backend) usable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBackendClosed
	}
	if b.queue == nil {
		return fmt.Errorf("%w: backend not initialized", core.ErrDevice)
	}
	return b.lost
}

func (b *Backend) lostErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

func (b *Backend) markLost(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost == nil {
		b.lost = fmt.Errorf("%w: %v", core.ErrDeviceLost, err)
	}
}

func (b *Backend) BufferCreate(config metadata.BufferConfig) (compute.Buffer, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if config.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", core.ErrBufferRange, config.Name)
	}
	return &buffer{
		backend: b,
		config:  config,
		data:    make([]byte, config.Size),
	}, nil
}

func (b *Backend) ShaderModuleCreate(name string, code []uint32) (compute.ShaderModule, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: module %q is empty", core.ErrDevice, name)
	}
	return &shaderModule{name: name, words: len(code)}, nil
}

func (b *Backend) BindingLayoutCreate(set uint32, bindings []metadata.LayoutBinding) (compute.BindingLayout, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	l := &bindingLayout{set: set, bindings: make(map[uint32]metadata.LayoutBinding, len(bindings))}
	for _, lb := range bindings {
		l.bindings[lb.Binding] = lb
	}
	return l, nil
}

func (b *Backend) BindingPoolCreate(maxTables uint32, sizes []metadata.PoolSize) (compute.BindingPool, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	p := &bindingPool{remainingTables: maxTables, remaining: make(map[metadata.DescriptorKind]uint32)}
	for _, s := range sizes {
		p.remaining[s.Kind] += s.Count
	}
	return p, nil
}

func (b *Backend) PipelineCreate(config compute.PipelineConfig) (compute.Pipeline, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	module, ok := config.Module.(*shaderModule)
	if !ok || module == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no software module", core.ErrDevice, config.Name)
	}
	k, ok := b.kernel(module.name)
	if !ok {
		return nil, fmt.Errorf("%w: no software kernel registered as %q", core.ErrKernelNotFound, module.name)
	}
	if config.Reflection == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no reflection", core.ErrDevice, config.Name)
	}
	return &pipeline{
		name:       config.Name,
		kernel:     k,
		localSize:  config.LocalSize,
		reflection: config.Reflection,
		pushSize:   config.PushConstantSize,
	}, nil
}

func (b *Backend) FenceCreate(signaled bool) (compute.Fence, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	return newFence(b, signaled), nil
}

func (b *Backend) SemaphoreCreate() (compute.Semaphore, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	return &semaphore{}, nil
}

func (b *Backend) CommandListCreate() (compute.CommandList, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}
	return &commandList{}, nil
}

// Submit validates the submission against the sync rules and queues it.
func (b *Backend) Submit(info compute.SubmitInfo) error {
	if err := b.usable(); err != nil {
		return err
	}
	cl, ok := info.Commands.(*commandList)
	if !ok || cl == nil {
		return fmt.Errorf("%w: foreign command list", ErrCommandState)
	}
	if err := cl.transition(listExecutable, listPending); err != nil {
		return err
	}

	var f *fence
	if info.Fence != nil {
		f = info.Fence.(*fence)
		if err := f.arm(); err != nil {
			cl.setState(listExecutable)
			return err
		}
	}
	if err := claimSemaphores(info.Waits, info.Signal); err != nil {
		if f != nil {
			f.disarm()
		}
		cl.setState(listExecutable)
		return err
	}

	tables := cl.tables()
	for _, t := range tables {
		t.inFlight.Add(1)
	}

	b.mu.Lock()
	b.stats.Submissions++
	b.mu.Unlock()

	b.queue.Submit(systems.JobTask{
		Name:    "submission",
		OnStart: func() error { return b.execute(cl) },
		OnFailure: func(err error) {
			b.markLost(err)
		},
		OnCompletionCallback: func() {
			for _, t := range tables {
				t.inFlight.Add(-1)
			}
			cl.setState(listExecutable)
			if f != nil {
				f.signal()
			}
		},
	})
	return nil
}

// WaitIdle blocks until everything queued so far has run.
func (b *Backend) WaitIdle() error {
	if err := b.usable(); err != nil {
		return err
	}
	done := make(chan struct{})
	b.queue.Submit(systems.JobTask{
		Name:                 "wait-idle",
		OnStart:              func() error { return nil },
		OnCompletionCallback: func() { close(done) },
	})
	<-done
	return b.usable()
}

// runOnQueue executes fn after all previously submitted work, the way a
// one-shot transfer command buffer would.
func (b *Backend) runOnQueue(name string, fn func() error) error {
	if err := b.usable(); err != nil {
		return err
	}
	done := make(chan error, 1)
	b.queue.Submit(systems.JobTask{
		Name:      name,
		OnStart:   fn,
		OnFailure: func(err error) { done <- err },
		OnComplete: func() {
			done <- nil
		},
	})
	return <-done
}
