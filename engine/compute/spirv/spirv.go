// Package spirv reads the reflection data a compute kernel carries in its
// SPIR-V binary: descriptor bindings, block member layouts, push
// constants and the declared work-group size.
package spirv

const (
	MagicNumber        uint32 = 0x07230203
	magicNumberSwapped uint32 = 0x03022307
	headerWords               = 5
)

type OpCode uint16

const (
	OpName             OpCode = 5
	OpMemberName       OpCode = 6
	OpEntryPoint       OpCode = 15
	OpExecutionMode    OpCode = 16
	OpCapability       OpCode = 17
	OpTypeVoid         OpCode = 19
	OpTypeBool         OpCode = 20
	OpTypeInt          OpCode = 21
	OpTypeFloat        OpCode = 22
	OpTypeVector       OpCode = 23
	OpTypeMatrix       OpCode = 24
	OpTypeImage        OpCode = 25
	OpTypeSampler      OpCode = 26
	OpTypeSampledImage OpCode = 27
	OpTypeArray        OpCode = 28
	OpTypeRuntimeArray OpCode = 29
	OpTypeStruct       OpCode = 30
	OpTypePointer      OpCode = 32
	OpTypeFunction     OpCode = 33
	OpConstant         OpCode = 43
	OpSpecConstant     OpCode = 50
	OpFunction         OpCode = 54
	OpFunctionEnd      OpCode = 56
	OpVariable         OpCode = 59
	OpDecorate         OpCode = 71
	OpMemberDecorate   OpCode = 72
	OpLabel            OpCode = 248
	OpReturn           OpCode = 253
	OpMemoryModel      OpCode = 14
)

type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassWorkgroup       StorageClass = 4
	StorageClassPrivate         StorageClass = 6
	StorageClassFunction        StorageClass = 7
	StorageClassPushConstant    StorageClass = 9
	StorageClassStorageBuffer   StorageClass = 12
)

type Decoration uint32

const (
	DecorationBlock         Decoration = 2
	DecorationBufferBlock   Decoration = 3
	DecorationArrayStride   Decoration = 6
	DecorationMatrixStride  Decoration = 7
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

const (
	ExecutionModelGLCompute uint32 = 5

	ExecutionModeLocalSize   uint32 = 17
	ExecutionModeLocalSizeID uint32 = 38
)
