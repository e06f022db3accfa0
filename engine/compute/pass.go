package compute

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

type PassState int

const (
	PassStateUninitialized PassState = iota
	PassStateCreated
	PassStateReleased
)

func (s PassState) String() string {
	switch s {
	case PassStateUninitialized:
		return "uninitialized"
	case PassStateCreated:
		return "created"
	case PassStateReleased:
		return "released"
	default:
		return fmt.Sprintf("pass-state(%d)", int(s))
	}
}

// ComputePass owns the stages of a multi-kernel dispatch together with
// the binding tables, uniform blocks and per-slot sync objects they need.
type ComputePass struct {
	name    string
	backend ComputeBackend
	configs []StageConfig
	state   PassState

	stages   []*KernelStage
	bindings *BindingModel
	uniforms []*UniformBlock

	fences     []Fence
	semaphores []Semaphore
	// unconsumed marks slots whose last signal no submission has waited on.
	unconsumed  []bool
	commands    []CommandList
	submissions []uint64

	metrics *core.Metrics
}

func NewComputePass(backend ComputeBackend, name string, stages ...StageConfig) *ComputePass {
	return &ComputePass{
		name:    name,
		backend: backend,
		configs: stages,
	}
}

func (p *ComputePass) Name() string     { return p.name }
func (p *ComputePass) State() PassState { return p.state }

// SetMetrics records the latency of every Execute call into m.
func (p *ComputePass) SetMetrics(m *core.Metrics) { p.metrics = m }

// Create builds everything the pass needs. On failure the partially built
// pass is released and stays unusable.
func (p *ComputePass) Create() error {
	if p.state != PassStateUninitialized {
		return fmt.Errorf("%w: create on %s pass %q", core.ErrPassState, p.state, p.name)
	}
	if len(p.configs) == 0 {
		return fmt.Errorf("%w: pass %q has no stages", core.ErrInvalidStage, p.name)
	}
	if err := p.create(); err != nil {
		p.release()
		p.state = PassStateReleased
		return fmt.Errorf("compute pass %q: %w", p.name, err)
	}
	p.state = PassStateCreated
	core.LogDebug("compute pass %q created with %d stages, %d binding tables", p.name, len(p.stages), p.bindings.TableCount())
	return nil
}

func (p *ComputePass) create() error {
	for _, config := range p.configs {
		stage, err := NewKernelStage(p.backend, config)
		if err != nil {
			return err
		}
		p.stages = append(p.stages, stage)
	}

	frames := p.backend.FramesInFlight()
	reflections := make([]*metadata.KernelReflection, 0, len(p.stages))
	for _, s := range p.stages {
		reflections = append(reflections, s.reflection)
	}
	bindings, err := MergeBindings(frames, reflections...)
	if err != nil {
		return err
	}
	p.bindings = bindings
	if err := bindings.create(p.backend); err != nil {
		return err
	}

	for _, s := range p.stages {
		if err := s.createPipeline(p.backend, bindings.Layouts()); err != nil {
			return err
		}
	}

	p.fences = make([]Fence, 0, frames)
	p.semaphores = make([]Semaphore, 0, frames)
	p.commands = make([]CommandList, 0, frames)
	p.unconsumed = make([]bool, frames)
	p.submissions = make([]uint64, frames)
	for i := uint32(0); i < frames; i++ {
		// Signaled, so the first use of a slot does not block.
		fence, err := p.backend.FenceCreate(true)
		if err != nil {
			return err
		}
		p.fences = append(p.fences, fence)

		sem, err := p.backend.SemaphoreCreate()
		if err != nil {
			return err
		}
		p.semaphores = append(p.semaphores, sem)

		cl, err := p.backend.CommandListCreate()
		if err != nil {
			return err
		}
		p.commands = append(p.commands, cl)
	}

	return p.createUniforms(frames)
}

func (p *ComputePass) createUniforms(frames uint32) error {
	for _, s := range p.stages {
		for i := range s.reflection.UniformBlocks {
			layout := &s.reflection.UniformBlocks[i]
			if existing := p.findUniform(layout.Set, layout.Binding); existing != nil {
				if existing.Layout().Size() != layout.Size() {
					return fmt.Errorf("%w: uniform %d/%d is %d bytes in one stage and %d in %s",
						core.ErrLayoutMismatch, layout.Set, layout.Binding, existing.Layout().Size(), layout.Size(), s.name)
				}
				continue
			}
			u := NewUniformBlock(layout)
			if err := u.Create(p.backend); err != nil {
				return err
			}
			p.uniforms = append(p.uniforms, u)
			for slot := uint32(0); slot < frames; slot++ {
				if err := p.bindings.write(slot, layout.Set, layout.Binding, u.Buffer(slot)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *ComputePass) findUniform(set, binding uint32) *UniformBlock {
	for _, u := range p.uniforms {
		if u.setIndex == set && u.binding == binding {
			return u
		}
	}
	return nil
}

func (p *ComputePass) checkCreated(op string) error {
	if p.state != PassStateCreated {
		return fmt.Errorf("%w: %s on %s pass %q", core.ErrPassState, op, p.state, p.name)
	}
	return nil
}

func (p *ComputePass) Stage(index int) (*KernelStage, error) {
	if index < 0 || index >= len(p.stages) {
		return nil, stageIndexError(index, len(p.stages))
	}
	return p.stages[index], nil
}

func (p *ComputePass) Bindings() *BindingModel { return p.bindings }

// Uniform returns the block bound at (set, binding).
func (p *ComputePass) Uniform(set, binding uint32) (*UniformBlock, error) {
	if err := p.checkCreated("uniform lookup"); err != nil {
		return nil, err
	}
	if u := p.findUniform(set, binding); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("%w: no uniform block at set %d binding %d", core.ErrUnboundBinding, set, binding)
}

// SetResource binds buffer at (set, binding) in every frame slot.
func (p *ComputePass) SetResource(set, binding uint32, buffer Buffer) error {
	if err := p.checkCreated("set resource"); err != nil {
		return err
	}
	for slot := uint32(0); slot < uint32(len(p.fences)); slot++ {
		if err := p.SetResourceAt(slot, set, binding, buffer); err != nil {
			return err
		}
	}
	return nil
}

// SetResourceAt binds buffer at (set, binding) in one frame slot. It waits
// for the slot's previous submission to retire first.
func (p *ComputePass) SetResourceAt(slot, set, binding uint32, buffer Buffer) error {
	if err := p.checkCreated("set resource"); err != nil {
		return err
	}
	if slot >= uint32(len(p.fences)) {
		return fmt.Errorf("%w: frame slot %d of %d", core.ErrInvalidConfig, slot, len(p.fences))
	}
	if _, err := p.bindings.Lookup(set, binding); err != nil {
		return err
	}
	if err := p.fences[slot].Wait(FenceWaitForever); err != nil {
		return err
	}
	return p.bindings.write(slot, set, binding, buffer)
}

// SetDispatchSize sets a stage's work-group count from an element extent.
func (p *ComputePass) SetDispatchSize(stage int, width, height, depth uint32) error {
	s, err := p.Stage(stage)
	if err != nil {
		return err
	}
	s.setDispatchSize(width, height, depth)
	return nil
}

// SetParameterUint32 writes a named scalar into every push-constant block
// and uniform block that declares it.
func (p *ComputePass) SetParameterUint32(name string, value uint32) error {
	if err := p.checkCreated("set parameter"); err != nil {
		return err
	}
	found := false
	for _, s := range p.stages {
		if s.params != nil && s.params.Has(name) {
			if err := s.params.SetUint32(name, value); err != nil {
				return err
			}
			found = true
		}
	}
	for _, u := range p.uniforms {
		if u.Has(name) {
			if err := u.SetUint32(name, value); err != nil {
				return err
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q is declared by no stage of pass %q", core.ErrUnknownField, name, p.name)
	}
	return nil
}

// Execute records the given stages into the active slot's command list and
// submits it. The returned semaphore signals when the work completes and
// may be handed to the next Execute as its wait. A slot whose previous
// signal was never waited on through this pass waits on it itself before
// signaling again, so await may always be nil.
func (p *ComputePass) Execute(stages []int, await Semaphore) (Semaphore, error) {
	if err := p.checkCreated("execute"); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: empty stage sequence", core.ErrInvalidStage)
	}
	for _, idx := range stages {
		if idx < 0 || idx >= len(p.stages) {
			return nil, stageIndexError(idx, len(p.stages))
		}
	}

	start := time.Now()
	slot := p.backend.ActiveFrame()
	fence := p.fences[slot]
	if err := fence.Wait(FenceWaitForever); err != nil {
		return nil, err
	}

	for _, u := range p.uniforms {
		if err := u.uploadIfDirty(slot); err != nil {
			return nil, err
		}
	}

	cl := p.commands[slot]
	if err := cl.Reset(); err != nil {
		return nil, err
	}
	if err := cl.Begin(); err != nil {
		return nil, err
	}
	for i, idx := range stages {
		s := p.stages[idx]
		if s.params != nil && s.params.Size() > 0 {
			cl.PushConstants(s.pipeline, 0, s.params.Bytes())
		}
		cl.BindPipeline(s.pipeline)
		for si, set := range p.bindings.sets {
			cl.BindTable(s.pipeline, set.Set, p.bindings.tables[slot][si])
		}
		cl.Dispatch(s.groups[0], s.groups[1], s.groups[2])
		if i < len(stages)-1 {
			cl.ComputeBarrier()
		}
	}
	if err := cl.End(); err != nil {
		return nil, err
	}

	signal := p.semaphores[slot]
	var waits []Semaphore
	if await != nil {
		waits = append(waits, await)
	}
	if p.unconsumed[slot] && await != signal {
		waits = append(waits, signal)
	}

	// The fence is reset only once nothing but the submission can fail.
	if err := fence.Reset(); err != nil {
		return nil, err
	}
	if err := p.backend.Submit(SubmitInfo{
		Commands: cl,
		Waits:    waits,
		Signal:   signal,
		Fence:    fence,
	}); err != nil {
		p.restoreFence(slot)
		return nil, err
	}
	for _, w := range waits {
		for i, s := range p.semaphores {
			if s == w {
				p.unconsumed[i] = false
			}
		}
	}
	p.unconsumed[slot] = true
	p.submissions[slot]++

	if p.metrics != nil {
		p.metrics.RecordPass(time.Since(start))
	}
	return signal, nil
}

// restoreFence replaces a slot's fence that was reset but never submitted,
// so waiting on the slot cannot block forever.
func (p *ComputePass) restoreFence(slot uint32) {
	f, err := p.backend.FenceCreate(true)
	if err != nil {
		core.LogError("compute pass %q: slot %d keeps an unsubmitted fence: %s", p.name, slot, err)
		return
	}
	p.fences[slot].Destroy()
	p.fences[slot] = f
}

// Submissions is the number of Execute calls each frame slot has served.
func (p *ComputePass) Submissions() []uint64 {
	out := make([]uint64, len(p.submissions))
	copy(out, p.submissions)
	return out
}

// Release waits for every slot to retire and destroys the pass's objects,
// consumers before producers. Calling it again does nothing.
func (p *ComputePass) Release() error {
	if p.state == PassStateReleased {
		return nil
	}
	var waitErr error
	for _, f := range p.fences {
		if err := f.Wait(FenceWaitForever); err != nil && waitErr == nil {
			waitErr = err
		}
	}
	p.release()
	p.state = PassStateReleased
	return waitErr
}

func (p *ComputePass) release() {
	for _, u := range p.uniforms {
		u.Release()
	}
	p.uniforms = nil

	for _, cl := range p.commands {
		cl.Destroy()
	}
	for _, s := range p.semaphores {
		s.Destroy()
	}
	for _, f := range p.fences {
		f.Destroy()
	}
	p.commands, p.semaphores, p.fences = nil, nil, nil
	p.unconsumed = nil

	if p.bindings != nil {
		p.bindings.release()
	}
	for _, s := range p.stages {
		s.destroyPipeline()
	}
	for _, s := range p.stages {
		s.destroyModule()
	}
}
