package compute

import (
	"github.com/spaghettifunk/radix/engine/compute/metadata"
)

// FenceWaitForever blocks a fence wait until the fence signals.
const FenceWaitForever uint64 = ^uint64(0)

// ComputeBackend is the device context every pass is built on. It owns
// the queue, the frame-slot ring and the factories for device objects.
type ComputeBackend interface {
	Name() string
	Initialize() error
	Shutdown() error

	FramesInFlight() uint32
	ActiveFrame() uint32
	AdvanceFrame()

	BufferCreate(config metadata.BufferConfig) (Buffer, error)
	ShaderModuleCreate(name string, code []uint32) (ShaderModule, error)
	BindingLayoutCreate(set uint32, bindings []metadata.LayoutBinding) (BindingLayout, error)
	BindingPoolCreate(maxTables uint32, sizes []metadata.PoolSize) (BindingPool, error)
	PipelineCreate(config PipelineConfig) (Pipeline, error)
	FenceCreate(signaled bool) (Fence, error)
	SemaphoreCreate() (Semaphore, error)
	CommandListCreate() (CommandList, error)

	Submit(info SubmitInfo) error
	WaitIdle() error
}

// Buffer is device memory. Upload and Download go through a staging
// copy when the memory is device local.
type Buffer interface {
	Name() string
	Size() uint64
	Upload(data []byte) error
	Download(dst []byte) error
	Fill(value uint32) error
	Map() ([]byte, error)
	Unmap()
	Destroy()
}

type ShaderModule interface {
	Name() string
	Destroy()
}

type BindingLayout interface {
	Set() uint32
	Destroy()
}

// BindingPool hands out binding tables. Destroying the pool frees every
// table allocated from it.
type BindingPool interface {
	Allocate(layouts []BindingLayout) ([]BindingTable, error)
	Destroy()
}

type BindingTable interface {
	WriteBuffer(binding uint32, kind metadata.DescriptorKind, buffer Buffer) error
}

type PipelineConfig struct {
	Name       string
	Module     ShaderModule
	EntryPoint string
	// Layouts is indexed by set number.
	Layouts          []BindingLayout
	PushConstantSize uint32
	LocalSize        [3]uint32
	Reflection       *metadata.KernelReflection
}

type Pipeline interface {
	Name() string
	Destroy()
}

type Fence interface {
	// Wait blocks until the fence is signaled or the timeout elapses.
	Wait(timeoutNs uint64) error
	Reset() error
	Destroy()
}

type Semaphore interface {
	Destroy()
}

// CommandList records a sequence of compute commands for one submission.
type CommandList interface {
	Begin() error
	End() error
	Reset() error
	BindPipeline(pipeline Pipeline)
	BindTable(pipeline Pipeline, set uint32, table BindingTable)
	PushConstants(pipeline Pipeline, offset uint32, data []byte)
	Dispatch(x, y, z uint32)
	ComputeBarrier()
	Destroy()
}

type SubmitInfo struct {
	Commands CommandList
	// Waits are optional. The submission consumes every one of them.
	Waits  []Semaphore
	Signal Semaphore
	Fence  Fence
}
