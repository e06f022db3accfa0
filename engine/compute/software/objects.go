package software

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

type buffer struct {
	backend *Backend
	config  metadata.BufferConfig
	data    []byte
	mapped  bool
}

func (b *buffer) Name() string { return b.config.Name }
func (b *buffer) Size() uint64 { return b.config.Size }

func (b *buffer) checkRange(n int) error {
	if b.data == nil {
		return fmt.Errorf("%w: buffer %q destroyed", core.ErrDevice, b.config.Name)
	}
	if uint64(n) > b.config.Size {
		return fmt.Errorf("%w: %d bytes into %q of %d", core.ErrBufferRange, n, b.config.Name, b.config.Size)
	}
	return nil
}

// Upload copies data to the start of the buffer, ordered after all queued
// work.
func (b *buffer) Upload(data []byte) error {
	if err := b.checkRange(len(data)); err != nil {
		return err
	}
	return b.backend.runOnQueue("upload "+b.config.Name, func() error {
		copy(b.data, data)
		return nil
	})
}

func (b *buffer) Download(dst []byte) error {
	if err := b.checkRange(len(dst)); err != nil {
		return err
	}
	return b.backend.runOnQueue("download "+b.config.Name, func() error {
		copy(dst, b.data)
		return nil
	})
}

// Fill repeats value over the whole buffer.
func (b *buffer) Fill(value uint32) error {
	if err := b.checkRange(0); err != nil {
		return err
	}
	return b.backend.runOnQueue("fill "+b.config.Name, func() error {
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], value)
		for i := range b.data {
			b.data[i] = word[i%4]
		}
		return nil
	})
}

func (b *buffer) Map() ([]byte, error) {
	if err := b.checkRange(0); err != nil {
		return nil, err
	}
	if b.config.Memory != metadata.MemoryHostVisible {
		return nil, fmt.Errorf("%w: %q", core.ErrNotMappable, b.config.Name)
	}
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap() { b.mapped = false }

func (b *buffer) Destroy() { b.data = nil }

type shaderModule struct {
	name  string
	words int
}

func (m *shaderModule) Name() string { return m.name }
func (m *shaderModule) Destroy()     {}

type bindingLayout struct {
	set      uint32
	bindings map[uint32]metadata.LayoutBinding
}

func (l *bindingLayout) Set() uint32 { return l.set }
func (l *bindingLayout) Destroy()    {}

type bindingPool struct {
	mu              sync.Mutex
	remainingTables uint32
	remaining       map[metadata.DescriptorKind]uint32
	tables          []*bindingTable
}

// Allocate fails as a whole when the pool cannot cover every layout.
func (p *bindingPool) Allocate(layouts []compute.BindingLayout) ([]compute.BindingTable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uint32(len(layouts)) > p.remainingTables {
		return nil, fmt.Errorf("%w: %d tables requested, %d left", core.ErrPoolExhausted, len(layouts), p.remainingTables)
	}
	need := make(map[metadata.DescriptorKind]uint32)
	for _, l := range layouts {
		for _, lb := range l.(*bindingLayout).bindings {
			need[lb.Kind] += lb.Count
		}
	}
	for kind, n := range need {
		if n > p.remaining[kind] {
			return nil, fmt.Errorf("%w: %d %s descriptors requested, %d left", core.ErrPoolExhausted, n, kind, p.remaining[kind])
		}
	}
	for kind, n := range need {
		p.remaining[kind] -= n
	}
	p.remainingTables -= uint32(len(layouts))

	out := make([]compute.BindingTable, len(layouts))
	for i, l := range layouts {
		t := &bindingTable{layout: l.(*bindingLayout), buffers: make(map[uint32]*buffer)}
		p.tables = append(p.tables, t)
		out[i] = t
	}
	return out, nil
}

func (p *bindingPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tables {
		t.buffers = nil
	}
	p.tables = nil
}

type bindingTable struct {
	layout   *bindingLayout
	mu       sync.RWMutex
	buffers  map[uint32]*buffer
	inFlight atomic.Int32
}

func (t *bindingTable) WriteBuffer(binding uint32, kind metadata.DescriptorKind, buf compute.Buffer) error {
	lb, ok := t.layout.bindings[binding]
	if !ok {
		return fmt.Errorf("%w: binding %d not in set %d layout", core.ErrUnboundBinding, binding, t.layout.set)
	}
	if lb.Kind != kind {
		return fmt.Errorf("%w: binding %d is %s, written as %s", core.ErrBindingKindMismatch, binding, lb.Kind, kind)
	}
	if t.inFlight.Load() > 0 {
		return fmt.Errorf("%w: set %d binding %d", ErrTableInFlight, t.layout.set, binding)
	}
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		return fmt.Errorf("%w: foreign buffer", core.ErrDevice)
	}
	t.mu.Lock()
	t.buffers[binding] = b
	t.mu.Unlock()
	return nil
}

func (t *bindingTable) buffer(binding uint32) (*buffer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.buffers[binding]
	return b, ok
}

type pipeline struct {
	name       string
	kernel     Kernel
	localSize  [3]uint32
	reflection *metadata.KernelReflection
	pushSize   uint32
}

func (p *pipeline) Name() string { return p.name }
func (p *pipeline) Destroy()     {}

type fence struct {
	backend  *Backend
	mu       sync.Mutex
	signaled bool
	pending  bool
	done     chan struct{}
}

func newFence(b *Backend, signaled bool) *fence {
	f := &fence{backend: b, signaled: signaled, done: make(chan struct{})}
	if signaled {
		close(f.done)
	}
	return f
}

func (f *fence) Wait(timeoutNs uint64) error {
	f.mu.Lock()
	if !f.signaled && !f.pending {
		f.mu.Unlock()
		return fmt.Errorf("%w: waiting on a fence that was never submitted", ErrFenceInUse)
	}
	done := f.done
	f.mu.Unlock()

	if timeoutNs == compute.FenceWaitForever {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(time.Duration(timeoutNs)):
			return fmt.Errorf("%w: fence after %s", core.ErrTimeout, time.Duration(timeoutNs))
		}
	}
	return f.backend.lostErr()
}

func (f *fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		return fmt.Errorf("%w: reset while pending", ErrFenceInUse)
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *fence) arm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending || f.signaled {
		return ErrFenceInUse
	}
	f.pending = true
	return nil
}

func (f *fence) disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	f.signaled = true
	close(f.done)
}

func (f *fence) Destroy() {}

// semaphore is binary. signaled covers a signal that is queued but has
// not executed yet, since the queue runs in order.
type semaphore struct {
	mu       sync.Mutex
	signaled bool
}

func (s *semaphore) Destroy() {}

// claimSemaphores consumes every wait, then marks signal. A failure
// leaves all of them as they were.
func claimSemaphores(waits []compute.Semaphore, signal compute.Semaphore) error {
	claimed := make([]*semaphore, 0, len(waits))
	undo := func() {
		for _, w := range claimed {
			w.mu.Lock()
			w.signaled = true
			w.mu.Unlock()
		}
	}

	for _, wait := range waits {
		if wait == nil {
			continue
		}
		w := wait.(*semaphore)
		w.mu.Lock()
		if !w.signaled {
			w.mu.Unlock()
			undo()
			return fmt.Errorf("%w: wait on a semaphore with no pending signal", ErrSemaphoreState)
		}
		w.signaled = false
		w.mu.Unlock()
		claimed = append(claimed, w)
	}
	if signal != nil {
		sg := signal.(*semaphore)
		sg.mu.Lock()
		if sg.signaled {
			sg.mu.Unlock()
			undo()
			return fmt.Errorf("%w: signaling a semaphore that is already signaled", ErrSemaphoreState)
		}
		sg.signaled = true
		sg.mu.Unlock()
	}
	return nil
}
