package compute_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

func paramsLayout() *metadata.BlockLayout {
	return &metadata.BlockLayout{
		Name: "Params",
		Fields: []metadata.BlockField{
			{Name: "g_num_elements", Offset: 0, Size: 4, PaddedSize: 8},
			{Name: "g_seed", Offset: 8, Size: 8, PaddedSize: 8},
			{Name: "g_scale", Offset: 16, Size: 4, PaddedSize: 16},
		},
	}
}

func TestUniformBlockFieldContract(t *testing.T) {
	b := newSoftware(t, 2)
	u := compute.NewUniformBlock(paramsLayout())
	if err := u.Create(b); err != nil {
		t.Fatal(err)
	}
	defer u.Release()

	if u.Size() != 32 {
		t.Fatalf("size = %d, want 32", u.Size())
	}
	if err := u.SetUint32("missing", 1); !errors.Is(err, core.ErrUnknownField) {
		t.Errorf("unknown field: err = %v", err)
	}
	if err := u.SetUint64("g_num_elements", 1); !errors.Is(err, core.ErrLayoutMismatch) {
		t.Errorf("8 bytes into 4: err = %v", err)
	}
	if err := u.SetVariable("g_seed", []byte{1, 2, 3}); !errors.Is(err, core.ErrLayoutMismatch) {
		t.Errorf("3 bytes into 8: err = %v", err)
	}

	if err := u.SetUint32("g_num_elements", 1000); err != nil {
		t.Fatal(err)
	}
	if err := u.SetUint64("g_seed", 0x1122334455667788); err != nil {
		t.Fatal(err)
	}
	if err := u.SetFloat32("g_scale", 0.5); err != nil {
		t.Fatal(err)
	}
	if v, err := u.Uint32("g_num_elements"); err != nil || v != 1000 {
		t.Errorf("read back = %d, %v", v, err)
	}
}

func TestUniformUploadIsIdempotent(t *testing.T) {
	b := newSoftware(t, 2)
	u := compute.NewUniformBlock(paramsLayout())
	if err := u.Create(b); err != nil {
		t.Fatal(err)
	}
	defer u.Release()

	_ = u.SetUint32("g_num_elements", 7)
	_ = u.SetUint64("g_seed", 42)

	snapshot := func() []byte {
		mem, err := u.Buffer(1).Map()
		if err != nil {
			t.Fatal(err)
		}
		defer u.Buffer(1).Unmap()
		return append([]byte(nil), mem...)
	}

	if err := u.Upload(1); err != nil {
		t.Fatal(err)
	}
	first := snapshot()
	if err := u.Upload(1); err != nil {
		t.Fatal(err)
	}
	second := snapshot()
	if !bytes.Equal(first, second) {
		t.Fatalf("uploads differ:\n%x\n%x", first, second)
	}
	if v := binary.LittleEndian.Uint32(first[0:]); v != 7 {
		t.Errorf("g_num_elements = %d", v)
	}
	if v := binary.LittleEndian.Uint64(first[8:]); v != 42 {
		t.Errorf("g_seed = %d", v)
	}
	if err := u.Upload(5); !errors.Is(err, core.ErrPassState) {
		t.Errorf("upload to missing slot: err = %v", err)
	}
}

func TestParameterBlock(t *testing.T) {
	p := compute.NewParameterBlock(&metadata.BlockLayout{
		Name:   "Push",
		Fields: []metadata.BlockField{{Name: "g_shift", Offset: 0, Size: 4, PaddedSize: 4}},
	})
	if !p.Has("g_shift") || p.Has("g_other") {
		t.Fatal("Has reports wrong fields")
	}
	if err := p.SetUint32("g_shift", 24); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(p.Bytes()); got != 24 || p.Size() != 4 {
		t.Errorf("bytes = %x", p.Bytes())
	}
}

func TestUniformBlockKeepsDeclaredOffsets(t *testing.T) {
	b := newSoftware(t, 1)
	u := compute.NewUniformBlock(&metadata.BlockLayout{
		Set:     1,
		Binding: 2,
		Name:    "Shifted",
		Fields: []metadata.BlockField{
			{Name: "g_first", Offset: 16, Size: 4, PaddedSize: 4},
			{Name: "g_second", Offset: 20, Size: 4, PaddedSize: 12},
		},
	})
	if err := u.Create(b); err != nil {
		t.Fatal(err)
	}
	defer u.Release()

	if u.Set() != 1 || u.Binding() != 2 {
		t.Errorf("set/binding = %d/%d, want 1/2", u.Set(), u.Binding())
	}
	if u.Size() != 32 {
		t.Fatalf("size = %d, want 32", u.Size())
	}
	_ = u.SetUint32("g_first", 11)
	_ = u.SetUint32("g_second", 22)
	if err := u.Upload(0); err != nil {
		t.Fatal(err)
	}
	mem, err := u.Buffer(0).Map()
	if err != nil {
		t.Fatal(err)
	}
	defer u.Buffer(0).Unmap()
	if v := binary.LittleEndian.Uint32(mem[16:]); v != 11 {
		t.Errorf("g_first at 16 = %d", v)
	}
	if v := binary.LittleEndian.Uint32(mem[20:]); v != 22 {
		t.Errorf("g_second at 20 = %d", v)
	}
	if v := binary.LittleEndian.Uint32(mem[0:]); v != 0 {
		t.Errorf("leading bytes = %d, want 0", v)
	}
}
