package spirv_test

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/compute/spirv"
	"github.com/spaghettifunk/radix/engine/compute/spirv/spirvtest"
	"github.com/spaghettifunk/radix/engine/core"
)

func scatterKernel(version uint32) spirvtest.Kernel {
	return spirvtest.Kernel{
		EntryPoint: "main",
		Version:    version,
		LocalSize:  [3]uint32{256, 1, 1},
		Bindings: []spirvtest.Binding{
			{Set: 0, Binding: 3, Name: "g_histograms", Kind: spirvtest.Storage},
			{Set: 0, Binding: 0, Name: "params", Kind: spirvtest.Uniform, Members: []spirvtest.Member{
				{Name: "g_num_elements", Type: spirvtest.Uint32},
				{Name: "g_num_workgroups", Type: spirvtest.Uint32},
				{Name: "g_num_blocks_per_workgroup", Type: spirvtest.Uint32},
			}},
			{Set: 0, Binding: 1, Name: "g_elements_in", Kind: spirvtest.Storage},
			{Set: 0, Binding: 2, Name: "g_elements_out", Kind: spirvtest.Storage},
		},
		PushConstants: []spirvtest.Member{{Name: "g_shift", Type: spirvtest.Uint32}},
	}
}

func TestReflectBindingsSortedWithKinds(t *testing.T) {
	for _, version := range []uint32{spirvtest.Version1_0, spirvtest.Version1_3} {
		r, err := spirv.Reflect(spirvtest.Assemble(scatterKernel(version)))
		if err != nil {
			t.Fatalf("version %x: reflect: %v", version, err)
		}
		want := []metadata.DescriptorBinding{
			{Set: 0, Binding: 0, Kind: metadata.DescriptorKindUniformBlock, Count: 1, Name: "params"},
			{Set: 0, Binding: 1, Kind: metadata.DescriptorKindStorageBuffer, Count: 1, Name: "g_elements_in"},
			{Set: 0, Binding: 2, Kind: metadata.DescriptorKindStorageBuffer, Count: 1, Name: "g_elements_out"},
			{Set: 0, Binding: 3, Kind: metadata.DescriptorKindStorageBuffer, Count: 1, Name: "g_histograms"},
		}
		if len(r.Bindings) != len(want) {
			t.Fatalf("version %x: got %d bindings, want %d", version, len(r.Bindings), len(want))
		}
		for i := range want {
			if r.Bindings[i] != want[i] {
				t.Errorf("version %x: binding %d = %+v, want %+v", version, i, r.Bindings[i], want[i])
			}
		}
		if r.EntryPoint != "main" {
			t.Errorf("entry point = %q", r.EntryPoint)
		}
		if !r.HasLocalSize || r.LocalSize != [3]uint32{256, 1, 1} {
			t.Errorf("local size = %v (%v)", r.LocalSize, r.HasLocalSize)
		}
	}
}

func TestReflectUniformPadding(t *testing.T) {
	r, err := spirv.Reflect(spirvtest.Assemble(scatterKernel(spirvtest.Version1_3)))
	if err != nil {
		t.Fatal(err)
	}
	block, ok := r.UniformBlock(0, 0)
	if !ok {
		t.Fatal("uniform block 0/0 not reflected")
	}
	want := []metadata.BlockField{
		{Name: "g_num_elements", Offset: 0, Size: 4, PaddedSize: 4},
		{Name: "g_num_workgroups", Offset: 4, Size: 4, PaddedSize: 4},
		{Name: "g_num_blocks_per_workgroup", Offset: 8, Size: 4, PaddedSize: 8},
	}
	for i, f := range want {
		if block.Fields[i] != f {
			t.Errorf("field %d = %+v, want %+v", i, block.Fields[i], f)
		}
	}
	if block.Size() != 16 {
		t.Errorf("block size = %d, want 16", block.Size())
	}

	if r.PushConstants == nil {
		t.Fatal("push constants not reflected")
	}
	if got := r.PushConstants.Fields; len(got) != 1 || got[0].Name != "g_shift" || got[0].PaddedSize != 4 {
		t.Errorf("push constants = %+v", got)
	}
}

func TestReflectInteriorPadding(t *testing.T) {
	code := spirvtest.Assemble(spirvtest.Kernel{
		LocalSize: [3]uint32{64, 1, 1},
		Bindings: []spirvtest.Binding{
			{Set: 1, Binding: 0, Name: "u", Kind: spirvtest.Uniform, Members: []spirvtest.Member{
				{Name: "scale", Type: spirvtest.Float32},
				{Name: "tint", Type: spirvtest.Vec4Float32},
				{Name: "seed", Type: spirvtest.Uint64},
			}},
		},
	})
	r, err := spirv.Reflect(code)
	if err != nil {
		t.Fatal(err)
	}
	block, ok := r.UniformBlock(1, 0)
	if !ok {
		t.Fatal("uniform block 1/0 missing")
	}
	sizes := []struct{ offset, size, padded uint32 }{
		{0, 4, 16},
		{16, 16, 16},
		{32, 8, 16},
	}
	for i, s := range sizes {
		f := block.Fields[i]
		if f.Offset != s.offset || f.Size != s.size || f.PaddedSize != s.padded {
			t.Errorf("field %s = %+v, want offset %d size %d padded %d", f.Name, f, s.offset, s.size, s.padded)
		}
	}
	if block.Size() != 48 {
		t.Errorf("size = %d, want 48", block.Size())
	}
}

func TestReflectDescriptorArraysAndImages(t *testing.T) {
	code := spirvtest.Assemble(spirvtest.Kernel{
		Bindings: []spirvtest.Binding{
			{Set: 0, Binding: 0, Name: "bufs", Kind: spirvtest.Storage, ArrayLength: 4},
			{Set: 2, Binding: 5, Name: "img", Kind: spirvtest.Image},
		},
	})
	r, err := spirv.Reflect(code)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Bindings) != 2 {
		t.Fatalf("bindings = %+v", r.Bindings)
	}
	if r.Bindings[0].Count != 4 || r.Bindings[0].Kind != metadata.DescriptorKindStorageBuffer {
		t.Errorf("array binding = %+v", r.Bindings[0])
	}
	if r.Bindings[1].Set != 2 || r.Bindings[1].Kind != metadata.DescriptorKindImage {
		t.Errorf("image binding = %+v", r.Bindings[1])
	}
	if r.HasLocalSize {
		t.Error("local size reported without an execution mode")
	}
}

func TestReflectLocalSizeID(t *testing.T) {
	b := spirvtest.NewBuilder(spirvtest.Version1_5)
	fn := b.EntryPoint("sum")
	u32 := b.TypeInt(32, false)
	x, y, z := b.Constant(u32, 128), b.Constant(u32, 2), b.Constant(u32, 1)
	b.LocalSizeID(fn, x, y, z)

	r, err := spirv.Reflect(b.Words())
	if err != nil {
		t.Fatal(err)
	}
	if r.EntryPoint != "sum" || r.LocalSize != [3]uint32{128, 2, 1} {
		t.Errorf("got entry %q local size %v", r.EntryPoint, r.LocalSize)
	}
}

func TestReflectSwappedEndianness(t *testing.T) {
	code := spirvtest.Assemble(scatterKernel(spirvtest.Version1_3))
	swapped := make([]uint32, len(code))
	for i, w := range code {
		swapped[i] = w>>24 | (w>>8)&0xff00 | (w<<8)&0xff0000 | w<<24
	}
	r, err := spirv.Reflect(swapped)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Bindings) != 4 {
		t.Errorf("got %d bindings", len(r.Bindings))
	}
}

func TestReflectErrors(t *testing.T) {
	valid := spirvtest.Assemble(scatterKernel(spirvtest.Version1_3))

	noEntry := spirvtest.NewBuilder(spirvtest.Version1_3)
	noEntry.TypeInt(32, false)

	truncated := append([]uint32(nil), valid...)
	truncated[len(truncated)-1] = 10<<16 | uint32(spirv.OpFunctionEnd)

	tests := []struct {
		name string
		code []uint32
	}{
		{"empty", nil},
		{"bad magic", append([]uint32{0xdeadbeef}, valid[1:]...)},
		{"no entry point", noEntry.Words()},
		{"truncated", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := spirv.Reflect(tt.code)
			if !errors.Is(err, core.ErrReflection) {
				t.Fatalf("err = %v, want ErrReflection", err)
			}
		})
	}
}

func TestReflectMalformedTypes(t *testing.T) {
	shortArray := spirvtest.NewBuilder(spirvtest.Version1_3)
	shortArray.EntryPoint("main")
	u32 := shortArray.TypeInt(32, false)
	shortArray.Raw(spirv.OpTypeArray, shortArray.ID(), u32)

	shortInt := spirvtest.NewBuilder(spirvtest.Version1_3)
	shortInt.EntryPoint("main")
	shortInt.Raw(spirv.OpTypeInt, shortInt.ID())

	shortPointer := spirvtest.NewBuilder(spirvtest.Version1_3)
	shortPointer.EntryPoint("main")
	shortPointer.Raw(spirv.OpTypePointer, shortPointer.ID(), uint32(spirv.StorageClassStorageBuffer))

	// An array whose element type is itself.
	cyclicArray := spirvtest.NewBuilder(spirvtest.Version1_3)
	cyclicArray.EntryPoint("main")
	length := cyclicArray.Constant(cyclicArray.TypeInt(32, false), 4)
	arr := cyclicArray.ID()
	cyclicArray.Raw(spirv.OpTypeArray, arr, arr, length)
	v := cyclicArray.Variable(cyclicArray.TypePointer(spirv.StorageClassStorageBuffer, arr), spirv.StorageClassStorageBuffer)
	cyclicArray.Decorate(v, spirv.DecorationDescriptorSet, 0)
	cyclicArray.Decorate(v, spirv.DecorationBinding, 0)

	// A uniform block that contains itself.
	cyclicStruct := spirvtest.NewBuilder(spirvtest.Version1_3)
	cyclicStruct.EntryPoint("main")
	block := cyclicStruct.ID()
	cyclicStruct.Raw(spirv.OpTypeStruct, block, block)
	cyclicStruct.Decorate(block, spirv.DecorationBlock)
	cyclicStruct.MemberDecorate(block, 0, spirv.DecorationOffset, 0)
	u := cyclicStruct.Variable(cyclicStruct.TypePointer(spirv.StorageClassUniform, block), spirv.StorageClassUniform)
	cyclicStruct.Decorate(u, spirv.DecorationDescriptorSet, 0)
	cyclicStruct.Decorate(u, spirv.DecorationBinding, 0)

	tests := []struct {
		name string
		code []uint32
	}{
		{"array without length", shortArray.Words()},
		{"int without width", shortInt.Words()},
		{"pointer without pointee", shortPointer.Words()},
		{"cyclic array", cyclicArray.Words()},
		{"cyclic struct", cyclicStruct.Words()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := spirv.Reflect(tt.code)
			if !errors.Is(err, core.ErrReflection) {
				t.Fatalf("err = %v, want ErrReflection", err)
			}
		})
	}
}

func TestReflectDoesNotMutateInput(t *testing.T) {
	code := spirvtest.Assemble(scatterKernel(spirvtest.Version1_3))
	before := append([]uint32(nil), code...)
	if _, err := spirv.Reflect(code); err != nil {
		t.Fatal(err)
	}
	for i := range code {
		if code[i] != before[i] {
			t.Fatalf("word %d changed", i)
		}
	}
}
