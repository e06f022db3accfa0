package spirv

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/math"
)

const (
	uniformBlockAlignment      = 16
	pushConstantBlockAlignment = 4

	// maxTypeDepth bounds type nesting, a cyclic type graph hits it.
	maxTypeDepth = 64
)

// typeOperands is the operand count, result id included, below which a
// type declaration is malformed.
var typeOperands = map[OpCode]int{
	OpTypeVoid:         1,
	OpTypeBool:         1,
	OpTypeInt:          3,
	OpTypeFloat:        2,
	OpTypeVector:       3,
	OpTypeMatrix:       3,
	OpTypeImage:        8,
	OpTypeSampler:      1,
	OpTypeSampledImage: 2,
	OpTypeArray:        3,
	OpTypeRuntimeArray: 2,
	OpTypeStruct:       1,
	OpTypePointer:      3,
}

type typeInfo struct {
	op       OpCode
	operands []uint32
}

type decorations struct {
	set, binding       uint32
	hasSet, hasBinding bool
	block, bufferBlock bool
	arrayStride        uint32
}

type memberKey struct {
	id, member uint32
}

type variable struct {
	id      uint32
	typeID  uint32
	storage StorageClass
}

type module struct {
	names         map[uint32]string
	memberNames   map[memberKey]string
	memberOffsets map[memberKey]uint32
	matrixStrides map[memberKey]uint32
	decorations   map[uint32]*decorations
	types         map[uint32]typeInfo
	constants     map[uint32]uint64
	variables     []variable

	entryID    uint32
	entryName  string
	hasEntry   bool
	localSize  [3]uint32
	localIDs   [3]uint32
	hasLocal   bool
	hasLocalID bool
}

// Reflect parses a SPIR-V module and extracts what a compute pass needs
// to bind and dispatch it. It never mutates code.
func Reflect(code []uint32) (*metadata.KernelReflection, error) {
	m, err := parse(code)
	if err != nil {
		return nil, err
	}
	if !m.hasEntry {
		return nil, fmt.Errorf("%w: module declares no GLCompute entry point", core.ErrReflection)
	}

	out := &metadata.KernelReflection{
		EntryPoint: m.entryName,
	}

	switch {
	case m.hasLocal:
		out.LocalSize = m.localSize
		out.HasLocalSize = true
	case m.hasLocalID:
		for i, id := range m.localIDs {
			v, ok := m.constants[id]
			if !ok {
				return nil, fmt.Errorf("%w: LocalSizeId operand %d is not a constant", core.ErrReflection, id)
			}
			out.LocalSize[i] = uint32(v)
		}
		out.HasLocalSize = true
	}

	for _, v := range m.variables {
		ptr, ok := m.types[v.typeID]
		if !ok || ptr.op != OpTypePointer || len(ptr.operands) < 2 {
			return nil, fmt.Errorf("%w: variable %d has no pointer type", core.ErrReflection, v.id)
		}
		pointee := ptr.operands[1]

		if v.storage == StorageClassPushConstant {
			layout, err := m.blockLayout(pointee, pushConstantBlockAlignment)
			if err != nil {
				return nil, err
			}
			if out.PushConstants != nil {
				return nil, fmt.Errorf("%w: more than one push constant block", core.ErrReflection)
			}
			out.PushConstants = layout
			continue
		}

		dec := m.decorations[v.id]
		if dec == nil || !dec.hasBinding {
			continue
		}

		count, elem, err := m.descriptorCount(pointee)
		if err != nil {
			return nil, err
		}
		kind, ok := m.descriptorKind(v.storage, elem)
		if !ok {
			continue
		}

		name := m.names[v.id]
		if name == "" {
			name = m.names[elem]
		}
		binding := metadata.DescriptorBinding{
			Set:     dec.set,
			Binding: dec.binding,
			Kind:    kind,
			Count:   count,
			Name:    name,
		}
		out.Bindings = append(out.Bindings, binding)

		if kind == metadata.DescriptorKindUniformBlock {
			layout, err := m.blockLayout(elem, uniformBlockAlignment)
			if err != nil {
				return nil, err
			}
			layout.Set = dec.set
			layout.Binding = dec.binding
			out.UniformBlocks = append(out.UniformBlocks, *layout)
		}
	}

	sort.SliceStable(out.Bindings, func(i, j int) bool {
		if out.Bindings[i].Set != out.Bindings[j].Set {
			return out.Bindings[i].Set < out.Bindings[j].Set
		}
		return out.Bindings[i].Binding < out.Bindings[j].Binding
	})
	for i := 1; i < len(out.Bindings); i++ {
		a, b := out.Bindings[i-1], out.Bindings[i]
		if a.Set == b.Set && a.Binding == b.Binding {
			return nil, fmt.Errorf("%w: set %d binding %d declared twice", core.ErrReflection, a.Set, a.Binding)
		}
	}
	return out, nil
}

func parse(code []uint32) (*module, error) {
	if len(code) < headerWords {
		return nil, fmt.Errorf("%w: binary too short (%d words)", core.ErrReflection, len(code))
	}
	words := code
	switch code[0] {
	case MagicNumber:
	case magicNumberSwapped:
		words = make([]uint32, len(code))
		for i, w := range code {
			words[i] = w>>24 | (w>>8)&0xff00 | (w<<8)&0xff0000 | w<<24
		}
	default:
		return nil, fmt.Errorf("%w: bad magic number 0x%08x", core.ErrReflection, code[0])
	}

	m := &module{
		names:         make(map[uint32]string),
		memberNames:   make(map[memberKey]string),
		memberOffsets: make(map[memberKey]uint32),
		matrixStrides: make(map[memberKey]uint32),
		decorations:   make(map[uint32]*decorations),
		types:         make(map[uint32]typeInfo),
		constants:     make(map[uint32]uint64),
	}

	for i := headerWords; i < len(words); {
		count := int(words[i] >> 16)
		op := OpCode(words[i] & 0xffff)
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("%w: truncated instruction at word %d", core.ErrReflection, i)
		}
		operands := words[i+1 : i+count]
		if err := m.instruction(op, operands); err != nil {
			return nil, err
		}
		i += count
	}
	return m, nil
}

func (m *module) instruction(op OpCode, ops []uint32) error {
	need := func(n int) error {
		if len(ops) < n {
			return fmt.Errorf("%w: opcode %d needs %d operands, has %d", core.ErrReflection, op, n, len(ops))
		}
		return nil
	}

	switch op {
	case OpName:
		if err := need(1); err != nil {
			return err
		}
		m.names[ops[0]] = decodeString(ops[1:])
	case OpMemberName:
		if err := need(2); err != nil {
			return err
		}
		m.memberNames[memberKey{ops[0], ops[1]}] = decodeString(ops[2:])
	case OpEntryPoint:
		if err := need(3); err != nil {
			return err
		}
		if ops[0] == ExecutionModelGLCompute && !m.hasEntry {
			m.entryID = ops[1]
			m.entryName = decodeString(ops[2:])
			m.hasEntry = true
		}
	case OpExecutionMode:
		if err := need(2); err != nil {
			return err
		}
		if ops[0] != m.entryID && m.hasEntry {
			return nil
		}
		switch ops[1] {
		case ExecutionModeLocalSize:
			if err := need(5); err != nil {
				return err
			}
			m.localSize = [3]uint32{ops[2], ops[3], ops[4]}
			m.hasLocal = true
		case ExecutionModeLocalSizeID:
			if err := need(5); err != nil {
				return err
			}
			m.localIDs = [3]uint32{ops[2], ops[3], ops[4]}
			m.hasLocalID = true
		}
	case OpTypeVoid, OpTypeBool, OpTypeInt, OpTypeFloat, OpTypeVector, OpTypeMatrix,
		OpTypeImage, OpTypeSampler, OpTypeSampledImage, OpTypeArray, OpTypeRuntimeArray,
		OpTypeStruct, OpTypePointer:
		if err := need(typeOperands[op]); err != nil {
			return err
		}
		m.types[ops[0]] = typeInfo{op: op, operands: ops[1:]}
	case OpConstant, OpSpecConstant:
		if err := need(3); err != nil {
			return err
		}
		v := uint64(ops[2])
		if len(ops) > 3 {
			v |= uint64(ops[3]) << 32
		}
		m.constants[ops[1]] = v
	case OpVariable:
		if err := need(3); err != nil {
			return err
		}
		storage := StorageClass(ops[2])
		switch storage {
		case StorageClassUniform, StorageClassUniformConstant, StorageClassStorageBuffer, StorageClassPushConstant:
			m.variables = append(m.variables, variable{id: ops[1], typeID: ops[0], storage: storage})
		}
	case OpDecorate:
		if err := need(2); err != nil {
			return err
		}
		d := m.decoration(ops[0])
		switch Decoration(ops[1]) {
		case DecorationDescriptorSet:
			if err := need(3); err != nil {
				return err
			}
			d.set, d.hasSet = ops[2], true
		case DecorationBinding:
			if err := need(3); err != nil {
				return err
			}
			d.binding, d.hasBinding = ops[2], true
		case DecorationBlock:
			d.block = true
		case DecorationBufferBlock:
			d.bufferBlock = true
		case DecorationArrayStride:
			if err := need(3); err != nil {
				return err
			}
			d.arrayStride = ops[2]
		}
	case OpMemberDecorate:
		if err := need(3); err != nil {
			return err
		}
		key := memberKey{ops[0], ops[1]}
		switch Decoration(ops[2]) {
		case DecorationOffset:
			if err := need(4); err != nil {
				return err
			}
			m.memberOffsets[key] = ops[3]
		case DecorationMatrixStride:
			if err := need(4); err != nil {
				return err
			}
			m.matrixStrides[key] = ops[3]
		}
	}
	return nil
}

func (m *module) decoration(id uint32) *decorations {
	d, ok := m.decorations[id]
	if !ok {
		d = &decorations{}
		m.decorations[id] = d
	}
	return d
}

// descriptorCount unwraps arrays of descriptors. The count is the product
// of the array dimensions; runtime-sized arrays count as one.
func (m *module) descriptorCount(typeID uint32) (uint32, uint32, error) {
	count := uint32(1)
	for depth := 0; depth < maxTypeDepth; depth++ {
		t, ok := m.types[typeID]
		if !ok {
			return count, typeID, nil
		}
		switch t.op {
		case OpTypeArray:
			if n, ok := m.constants[t.operands[1]]; ok {
				count *= uint32(n)
			}
			typeID = t.operands[0]
		case OpTypeRuntimeArray:
			typeID = t.operands[0]
		default:
			return count, typeID, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: descriptor type %d nests deeper than %d", core.ErrReflection, typeID, maxTypeDepth)
}

func (m *module) descriptorKind(storage StorageClass, typeID uint32) (metadata.DescriptorKind, bool) {
	t, ok := m.types[typeID]
	if !ok {
		return 0, false
	}
	switch storage {
	case StorageClassStorageBuffer:
		return metadata.DescriptorKindStorageBuffer, t.op == OpTypeStruct
	case StorageClassUniform:
		if t.op != OpTypeStruct {
			return 0, false
		}
		d := m.decorations[typeID]
		if d != nil && d.bufferBlock {
			return metadata.DescriptorKindStorageBuffer, true
		}
		return metadata.DescriptorKindUniformBlock, true
	case StorageClassUniformConstant:
		switch t.op {
		case OpTypeImage, OpTypeSampledImage, OpTypeSampler:
			return metadata.DescriptorKindImage, true
		}
	}
	return 0, false
}

func (m *module) blockLayout(structID uint32, alignment uint32) (*metadata.BlockLayout, error) {
	t, ok := m.types[structID]
	if !ok || t.op != OpTypeStruct {
		return nil, fmt.Errorf("%w: block type %d is not a struct", core.ErrReflection, structID)
	}
	layout := &metadata.BlockLayout{Name: m.names[structID]}
	if len(t.operands) == 0 {
		return layout, nil
	}

	fields := make([]metadata.BlockField, len(t.operands))
	for i, member := range t.operands {
		key := memberKey{structID, uint32(i)}
		offset, ok := m.memberOffsets[key]
		if !ok {
			return nil, fmt.Errorf("%w: member %d of %q has no Offset decoration", core.ErrReflection, i, layout.Name)
		}
		size, err := m.typeSize(member, m.matrixStrides[key])
		if err != nil {
			return nil, err
		}
		fields[i] = metadata.BlockField{
			Name:   m.memberNames[key],
			Offset: offset,
			Size:   size,
		}
	}

	for i := range fields {
		if i+1 < len(fields) {
			if fields[i+1].Offset < fields[i].Offset+fields[i].Size {
				return nil, fmt.Errorf("%w: members of %q overlap or are out of order", core.ErrReflection, layout.Name)
			}
			fields[i].PaddedSize = fields[i+1].Offset - fields[i].Offset
			continue
		}
		end := math.AlignUp(fields[i].Offset+fields[i].Size, alignment)
		fields[i].PaddedSize = end - fields[i].Offset
	}
	layout.Fields = fields
	return layout, nil
}

func (m *module) typeSize(typeID uint32, matrixStride uint32) (uint32, error) {
	return m.sizeOf(typeID, matrixStride, 0)
}

func (m *module) sizeOf(typeID uint32, matrixStride uint32, depth int) (uint32, error) {
	if depth >= maxTypeDepth {
		return 0, fmt.Errorf("%w: type %d nests deeper than %d", core.ErrReflection, typeID, maxTypeDepth)
	}
	t, ok := m.types[typeID]
	if !ok {
		return 0, fmt.Errorf("%w: unknown type id %d", core.ErrReflection, typeID)
	}
	switch t.op {
	case OpTypeBool:
		return 4, nil
	case OpTypeInt, OpTypeFloat:
		return t.operands[0] / 8, nil
	case OpTypeVector:
		comp, err := m.sizeOf(t.operands[0], 0, depth+1)
		if err != nil {
			return 0, err
		}
		return comp * t.operands[1], nil
	case OpTypeMatrix:
		if matrixStride != 0 {
			return matrixStride * t.operands[1], nil
		}
		col, err := m.sizeOf(t.operands[0], 0, depth+1)
		if err != nil {
			return 0, err
		}
		return col * t.operands[1], nil
	case OpTypeArray:
		n, ok := m.constants[t.operands[1]]
		if !ok {
			return 0, fmt.Errorf("%w: array length %d is not a constant", core.ErrReflection, t.operands[1])
		}
		if d := m.decorations[typeID]; d != nil && d.arrayStride != 0 {
			return d.arrayStride * uint32(n), nil
		}
		elem, err := m.sizeOf(t.operands[0], matrixStride, depth+1)
		if err != nil {
			return 0, err
		}
		return elem * uint32(n), nil
	case OpTypeRuntimeArray:
		return 0, nil
	case OpTypeStruct:
		var end uint32
		for i, member := range t.operands {
			key := memberKey{typeID, uint32(i)}
			size, err := m.sizeOf(member, m.matrixStrides[key], depth+1)
			if err != nil {
				return 0, err
			}
			if e := m.memberOffsets[key] + size; e > end {
				end = e
			}
		}
		return end, nil
	default:
		return 0, fmt.Errorf("%w: type %d (opcode %d) has no size", core.ErrReflection, typeID, t.op)
	}
}

func decodeString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for i := 0; i < 4; i++ {
			c := byte(w >> (8 * i))
			if c == 0 {
				return string(buf)
			}
			buf = append(buf, c)
		}
	}
	return string(buf)
}
