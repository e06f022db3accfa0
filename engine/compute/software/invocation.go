package software

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/radix/engine/core"
)

// Kernel runs one work group. It must touch only the elements that work
// group owns; work groups of one dispatch run concurrently.
type Kernel func(inv *Invocation) error

type dispatchState struct {
	pipeline *pipeline
	tables   map[uint32]*bindingTable
	push     []byte
}

// Invocation is the view one work group has of its dispatch.
type Invocation struct {
	WorkGroupID   [3]uint32
	NumWorkGroups [3]uint32
	LocalSize     [3]uint32
	state         *dispatchState
}

// Buffer returns the memory bound at (set, binding). Writes go straight
// to device memory.
func (inv *Invocation) Buffer(set, binding uint32) ([]byte, error) {
	t, ok := inv.state.tables[set]
	if !ok {
		return nil, fmt.Errorf("%w: no table bound for set %d", core.ErrUnboundBinding, set)
	}
	b, ok := t.buffer(binding)
	if !ok || b.data == nil {
		return nil, fmt.Errorf("%w: nothing written at set %d binding %d", core.ErrUnboundBinding, set, binding)
	}
	return b.data, nil
}

// Param reads a 32-bit scalar by name, from the push constants first and
// then from any bound uniform block that declares it.
func (inv *Invocation) Param(name string) (uint32, error) {
	r := inv.state.pipeline.reflection
	if r.PushConstants != nil {
		if f, _, ok := r.PushConstants.Field(name); ok {
			return readScalar(name, inv.state.push, f.Offset, f.Size)
		}
	}
	for i := range r.UniformBlocks {
		block := &r.UniformBlocks[i]
		f, _, ok := block.Field(name)
		if !ok {
			continue
		}
		data, err := inv.Buffer(block.Set, block.Binding)
		if err != nil {
			return 0, err
		}
		return readScalar(name, data, f.Offset, f.Size)
	}
	return 0, fmt.Errorf("%w: kernel %s declares no %q", core.ErrUnknownField, inv.state.pipeline.name, name)
}

func readScalar(name string, data []byte, offset, size uint32) (uint32, error) {
	if size != 4 {
		return 0, fmt.Errorf("%w: %q is %d bytes, not a 32-bit scalar", core.ErrLayoutMismatch, name, size)
	}
	if uint32(len(data)) < offset+4 {
		return 0, fmt.Errorf("%w: %q at offset %d outside %d bytes", core.ErrBufferRange, name, offset, len(data))
	}
	return binary.LittleEndian.Uint32(data[offset:]), nil
}
