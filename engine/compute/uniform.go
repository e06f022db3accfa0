package compute

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

// fieldBlock stores the values of a reflected block as one contiguous
// byte image. Every field sits at its declared offset, the kernel reads
// it there.
type fieldBlock struct {
	layout *metadata.BlockLayout
	data   []byte
}

func newFieldBlock(layout *metadata.BlockLayout) fieldBlock {
	return fieldBlock{
		layout: layout,
		data:   make([]byte, layout.Size()),
	}
}

func (b *fieldBlock) Layout() *metadata.BlockLayout { return b.layout }

func (b *fieldBlock) Size() uint32 { return uint32(len(b.data)) }

// Has reports whether the block declares a field called name.
func (b *fieldBlock) Has(name string) bool {
	_, _, ok := b.layout.Field(name)
	return ok
}

// Bytes is the serialized block. The slice is owned by the block.
func (b *fieldBlock) Bytes() []byte { return b.data }

func (b *fieldBlock) set(name string, value []byte) error {
	f, _, ok := b.layout.Field(name)
	if !ok {
		return fmt.Errorf("%w: %q in block %q", core.ErrUnknownField, name, b.layout.Name)
	}
	if uint32(len(value)) != f.Size {
		return fmt.Errorf("%w: %q is %d bytes, got %d", core.ErrLayoutMismatch, name, f.Size, len(value))
	}
	copy(b.data[f.Offset:], value)
	return nil
}

func (b *fieldBlock) get(name string) ([]byte, error) {
	f, _, ok := b.layout.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in block %q", core.ErrUnknownField, name, b.layout.Name)
	}
	return b.data[f.Offset : f.Offset+f.Size], nil
}

// ParameterBlock holds the push constants of one stage. It lives on the
// host and is recorded into every command list that dispatches the stage.
type ParameterBlock struct {
	fieldBlock
}

func NewParameterBlock(layout *metadata.BlockLayout) *ParameterBlock {
	return &ParameterBlock{fieldBlock: newFieldBlock(layout)}
}

func (p *ParameterBlock) SetVariable(name string, value []byte) error {
	return p.set(name, value)
}

func (p *ParameterBlock) SetUint32(name string, v uint32) error {
	return p.set(name, binary.LittleEndian.AppendUint32(nil, v))
}

// UniformBlock is a reflected uniform block backed by one host-visible
// buffer per frame slot.
type UniformBlock struct {
	fieldBlock
	setIndex uint32
	binding  uint32
	buffers  []Buffer
	dirty    []bool
}

func NewUniformBlock(layout *metadata.BlockLayout) *UniformBlock {
	return &UniformBlock{
		fieldBlock: newFieldBlock(layout),
		setIndex:   layout.Set,
		binding:    layout.Binding,
	}
}

func (u *UniformBlock) Set() uint32     { return u.setIndex }
func (u *UniformBlock) Binding() uint32 { return u.binding }

// Create allocates one backing buffer per frame slot.
func (u *UniformBlock) Create(backend ComputeBackend) error {
	frames := backend.FramesInFlight()
	u.buffers = make([]Buffer, 0, frames)
	u.dirty = make([]bool, frames)
	for i := uint32(0); i < frames; i++ {
		buf, err := backend.BufferCreate(metadata.BufferConfig{
			Name:   fmt.Sprintf("%s[%d]", u.layout.Name, i),
			Size:   uint64(u.Size()),
			Usage:  metadata.BufferUsageUniform,
			Memory: metadata.MemoryHostVisible,
		})
		if err != nil {
			u.Release()
			return fmt.Errorf("uniform block %q: %w", u.layout.Name, err)
		}
		u.buffers = append(u.buffers, buf)
		u.dirty[i] = true
	}
	return nil
}

// Buffer is the backing buffer of a frame slot.
func (u *UniformBlock) Buffer(slot uint32) Buffer { return u.buffers[slot] }

func (u *UniformBlock) SetVariable(name string, value []byte) error {
	if err := u.set(name, value); err != nil {
		return err
	}
	for i := range u.dirty {
		u.dirty[i] = true
	}
	return nil
}

func (u *UniformBlock) SetUint32(name string, v uint32) error {
	return u.SetVariable(name, binary.LittleEndian.AppendUint32(nil, v))
}

func (u *UniformBlock) SetInt32(name string, v int32) error {
	return u.SetVariable(name, binary.LittleEndian.AppendUint32(nil, uint32(v)))
}

func (u *UniformBlock) SetUint64(name string, v uint64) error {
	return u.SetVariable(name, binary.LittleEndian.AppendUint64(nil, v))
}

func (u *UniformBlock) SetFloat32(name string, v float32) error {
	return u.SetVariable(name, binary.LittleEndian.AppendUint32(nil, gomath.Float32bits(v)))
}

// Uint32 reads back a 4 byte field.
func (u *UniformBlock) Uint32(name string) (uint32, error) {
	raw, err := u.get(name)
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("%w: %q is %d bytes", core.ErrLayoutMismatch, name, len(raw))
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// Upload writes the whole block into the slot's buffer.
func (u *UniformBlock) Upload(slot uint32) error {
	if int(slot) >= len(u.buffers) {
		return fmt.Errorf("%w: uniform block %q has no slot %d", core.ErrPassState, u.layout.Name, slot)
	}
	mapped, err := u.buffers[slot].Map()
	if err != nil {
		return fmt.Errorf("uniform block %q: %w", u.layout.Name, err)
	}
	copy(mapped, u.data)
	u.buffers[slot].Unmap()
	u.dirty[slot] = false
	return nil
}

// uploadIfDirty skips slots whose buffer already holds the current values.
func (u *UniformBlock) uploadIfDirty(slot uint32) error {
	if int(slot) < len(u.dirty) && !u.dirty[slot] {
		return nil
	}
	return u.Upload(slot)
}

func (u *UniformBlock) Release() {
	for _, b := range u.buffers {
		b.Destroy()
	}
	u.buffers = nil
	u.dirty = nil
}
