package radixsort_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/spirv/spirvtest"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/radixsort"
)

func singleStage(keyBits uint32, f flavor, localSize uint32) compute.StageConfig {
	members := []spirvtest.Member{{Name: radixsort.ParamNumElements, Type: spirvtest.Uint32}}
	var push []spirvtest.Member
	if f == wgsl {
		members = append(members, spirvtest.Member{Name: radixsort.ParamShift, Type: spirvtest.Uint32})
	} else {
		push = []spirvtest.Member{{Name: radixsort.ParamShift, Type: spirvtest.Uint32}}
	}
	code := spirvtest.Assemble(spirvtest.Kernel{
		LocalSize: [3]uint32{localSize, 1, 1},
		Bindings: []spirvtest.Binding{
			{Set: 0, Binding: radixsort.BindingParams, Name: "params", Kind: spirvtest.Uniform, Members: members},
			{Set: 0, Binding: radixsort.BindingElementsIn, Name: "g_elements_in", Kind: spirvtest.Storage, ElementBits: keyBits},
			{Set: 0, Binding: radixsort.BindingElementsOut, Name: "g_elements_out", Kind: spirvtest.Storage, ElementBits: keyBits},
		},
		PushConstants: push,
	})
	return compute.StageConfig{Name: radixsort.KernelName(radixsort.SortKernel, keyBits), Code: code}
}

func newSingleSorter[K radixsort.Key](t *testing.T, b compute.ComputeBackend, f flavor) *radixsort.SingleSorter[K] {
	t.Helper()
	sorter, err := radixsort.NewSingleSorter[K](b, singleStage(radixsort.KeyBits[K](), f, radixsort.WorkGroupSize), radixsort.Options{})
	if err != nil {
		t.Fatalf("new single sorter: %v", err)
	}
	t.Cleanup(func() { _ = sorter.Release() })
	return sorter
}

func TestSingleSorterAcrossFrames(t *testing.T) {
	for _, frames := range []uint32{1, 2, 3} {
		b := newBackend(t, frames)
		s32 := newSingleSorter[uint32](t, b, glsl)
		keys := radixsort.GenerateKeys[uint32](1200, uint64(frames))
		keys = append(keys, 0, 0xFFFFFFFF, 0x80000000)
		res, err := s32.Sort(keys)
		if err != nil {
			t.Fatalf("F=%d: %v", frames, err)
		}
		if err := res.Err(); err != nil {
			t.Fatalf("F=%d: %v", frames, err)
		}
		if res.WorkGroups != 1 || res.OutputRole != res.Passes%2 {
			t.Errorf("F=%d: work groups %d output role %d", frames, res.WorkGroups, res.OutputRole)
		}
		var total uint64
		for _, n := range s32.Pass().Submissions() {
			total += n
		}
		if total != uint64(res.Passes) {
			t.Errorf("F=%d: %d submissions for %d passes", frames, total, res.Passes)
		}

		s64 := newSingleSorter[uint64](t, b, glsl)
		wide := radixsort.GenerateKeys[uint64](900, uint64(frames))
		wide = append(wide, 1<<63, 0xFFFFFFFFFFFFFFFF, 0)
		res64, err := s64.Sort(wide)
		if err != nil {
			t.Fatalf("F=%d: %v", frames, err)
		}
		if !slices.Equal(res64.Keys, radixsort.ReferenceSort(wide)) {
			t.Fatalf("F=%d: 64-bit keys not sorted", frames)
		}
		if res64.Passes != 8 || res64.OutputRole != 0 {
			t.Errorf("F=%d: passes %d output role %d", frames, res64.Passes, res64.OutputRole)
		}
	}
}

func TestSingleSorterRepeatedRuns(t *testing.T) {
	b := newBackend(t, 3)
	sorter := newSingleSorter[uint32](t, b, wgsl)
	for run := 0; run < 3; run++ {
		keys := radixsort.GenerateKeys[uint32](300+run, uint64(run))
		res, err := sorter.Sort(keys)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if !slices.Equal(res.Keys, radixsort.ReferenceSort(keys)) {
			t.Fatalf("run %d: keys not sorted", run)
		}
	}
}

func TestSingleSorterEmptyInput(t *testing.T) {
	b := newBackend(t, 2)
	sorter := newSingleSorter[uint32](t, b, glsl)
	res, err := sorter.Sort(nil)
	if err != nil || !res.Valid || len(res.Keys) != 0 {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if s := b.Stats(); s.Submissions != 0 {
		t.Errorf("backend saw %d submissions", s.Submissions)
	}
}

func TestSingleSorterWrongLocalSize(t *testing.T) {
	b := newBackend(t, 2)
	_, err := radixsort.NewSingleSorter[uint32](b, singleStage(32, glsl, 128), radixsort.Options{})
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}
