package compute_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/compute/software"
	"github.com/spaghettifunk/radix/engine/compute/spirv/spirvtest"
	"github.com/spaghettifunk/radix/engine/core"
)

const localSize = 4

var paramsBinding = spirvtest.Binding{Set: 0, Binding: 0, Name: "params", Kind: spirvtest.Uniform,
	Members: []spirvtest.Member{{Name: "g_count", Type: spirvtest.Uint32}}}

var dataBinding = spirvtest.Binding{Set: 0, Binding: 1, Name: "data", Kind: spirvtest.Storage}

func offsetStage() compute.StageConfig {
	return compute.StageConfig{
		Name: "offset",
		Code: spirvtest.Assemble(spirvtest.Kernel{
			LocalSize:     [3]uint32{localSize, 1, 1},
			Bindings:      []spirvtest.Binding{paramsBinding, dataBinding},
			PushConstants: []spirvtest.Member{{Name: "delta", Type: spirvtest.Uint32}},
		}),
	}
}

func doubleStage() compute.StageConfig {
	return compute.StageConfig{
		Name: "double",
		Code: spirvtest.Assemble(spirvtest.Kernel{
			LocalSize: [3]uint32{localSize, 1, 1},
			Bindings:  []spirvtest.Binding{dataBinding, paramsBinding},
		}),
	}
}

// elementwise applies fn to the work group's slice of data, bounded by
// g_count.
func elementwise(fn func(inv *software.Invocation, v uint32) (uint32, error)) software.Kernel {
	return func(inv *software.Invocation) error {
		data, err := inv.Buffer(0, 1)
		if err != nil {
			return err
		}
		count, err := inv.Param("g_count")
		if err != nil {
			return err
		}
		start := inv.WorkGroupID[0] * inv.LocalSize[0]
		for i := start; i < start+inv.LocalSize[0] && i < count; i++ {
			v, err := fn(inv, binary.LittleEndian.Uint32(data[i*4:]))
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(data[i*4:], v)
		}
		return nil
	}
}

func newSoftware(t *testing.T, frames uint32) *software.Backend {
	t.Helper()
	b := software.New(frames, 2)
	if err := b.Initialize(); err != nil {
		t.Fatal(err)
	}
	b.RegisterKernel("offset", elementwise(func(inv *software.Invocation, v uint32) (uint32, error) {
		delta, err := inv.Param("delta")
		return v + delta, err
	}))
	b.RegisterKernel("double", elementwise(func(_ *software.Invocation, v uint32) (uint32, error) {
		return v * 2, nil
	}))
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func newPass(t *testing.T, b compute.ComputeBackend, stages ...compute.StageConfig) *compute.ComputePass {
	t.Helper()
	p := compute.NewComputePass(b, "test", stages...)
	if err := p.Create(); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = p.Release() })
	return p
}

func dataBuffer(t *testing.T, b compute.ComputeBackend, values []uint32) compute.Buffer {
	t.Helper()
	buf, err := b.BufferCreate(metadata.BufferConfig{Name: "data", Size: uint64(len(values) * 4), Usage: metadata.BufferUsageStorage})
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 0, len(values)*4)
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint32(raw, v)
	}
	if err := buf.Upload(raw); err != nil {
		t.Fatal(err)
	}
	return buf
}

func readBuffer(t *testing.T, buf compute.Buffer) []uint32 {
	t.Helper()
	raw := make([]byte, buf.Size())
	if err := buf.Download(raw); err != nil {
		t.Fatal(err)
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func TestPassExecutesStagesInOrder(t *testing.T) {
	b := newSoftware(t, 2)
	p := newPass(t, b, offsetStage(), doubleStage())

	in := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	buf := dataBuffer(t, b, in)
	if err := p.SetResource(0, 1, buf); err != nil {
		t.Fatal(err)
	}
	if err := p.SetParameterUint32("g_count", uint32(len(in))); err != nil {
		t.Fatal(err)
	}
	if err := p.SetParameterUint32("delta", 5); err != nil {
		t.Fatal(err)
	}
	for stage := 0; stage < 2; stage++ {
		if err := p.SetDispatchSize(stage, uint32(len(in)), 1, 1); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := p.Execute([]int{0, 1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	got := readBuffer(t, buf)
	for i, v := range in {
		if got[i] != (v+5)*2 {
			t.Fatalf("element %d = %d, want %d", i, got[i], (v+5)*2)
		}
	}
	if s := b.Stats(); s.Barriers != 1 || s.Dispatches != 2 || s.WorkGroups != 6 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDispatchSizeIsCeilDiv(t *testing.T) {
	b := newSoftware(t, 1)
	p := newPass(t, b, offsetStage())
	stage, err := p.Stage(0)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct{ extent, want uint32 }{
		{0, 0},
		{1, 1},
		{localSize - 1, 1},
		{localSize, 1},
		{localSize + 1, 2},
		{4 * localSize, 4},
	}
	for _, tt := range tests {
		if err := p.SetDispatchSize(0, tt.extent, 1, 1); err != nil {
			t.Fatal(err)
		}
		if got := stage.WorkGroups(); got != [3]uint32{tt.want, 1, 1} {
			t.Errorf("extent %d: groups = %v, want %d", tt.extent, got, tt.want)
		}
	}
	if err := p.SetDispatchSize(3, 1, 1, 1); !errors.Is(err, core.ErrInvalidStage) {
		t.Errorf("bad stage: err = %v", err)
	}
}

func TestDefaultGranularity(t *testing.T) {
	b := newSoftware(t, 1)
	cfg := offsetStage()
	cfg.Code = spirvtest.Assemble(spirvtest.Kernel{
		Bindings:      []spirvtest.Binding{paramsBinding, dataBinding},
		PushConstants: []spirvtest.Member{{Name: "delta", Type: spirvtest.Uint32}},
	})
	cfg.DefaultGranularity = [3]uint32{64, 0, 0}
	p := newPass(t, b, cfg)
	stage, _ := p.Stage(0)
	if g := stage.Granularity(); g != [3]uint32{64, 1, 1} {
		t.Errorf("granularity = %v", g)
	}
}

func TestSlotReuseAndSemaphoreChain(t *testing.T) {
	for _, tt := range []struct {
		frames uint32
		passes int
		want   []uint64
	}{
		{frames: 1, passes: 4, want: []uint64{4}},
		{frames: 2, passes: 4, want: []uint64{2, 2}},
		{frames: 2, passes: 5, want: []uint64{3, 2}},
		{frames: 3, passes: 4, want: []uint64{2, 1, 1}},
	} {
		b := newSoftware(t, tt.frames)
		p := newPass(t, b, offsetStage(), doubleStage())
		buf := dataBuffer(t, b, []uint32{1})
		if err := p.SetResource(0, 1, buf); err != nil {
			t.Fatal(err)
		}
		if err := p.SetParameterUint32("g_count", 1); err != nil {
			t.Fatal(err)
		}
		if err := p.SetParameterUint32("delta", 1); err != nil {
			t.Fatal(err)
		}

		var signal compute.Semaphore
		for i := 0; i < tt.passes; i++ {
			var err error
			signal, err = p.Execute([]int{0, 1}, signal)
			if err != nil {
				t.Fatalf("F=%d pass %d: %v", tt.frames, i, err)
			}
			b.AdvanceFrame()
		}
		if err := b.WaitIdle(); err != nil {
			t.Fatal(err)
		}
		if got := p.Submissions(); !slices.Equal(got, tt.want) {
			t.Errorf("F=%d P=%d: submissions = %v, want %v", tt.frames, tt.passes, got, tt.want)
		}

		// x -> 2(x+1), applied in order
		want := uint32(1)
		for i := 0; i < tt.passes; i++ {
			want = 2 * (want + 1)
		}
		if got := readBuffer(t, buf)[0]; got != want {
			t.Errorf("F=%d: value = %d, want %d", tt.frames, got, want)
		}
	}
}

func TestSetResourceAtTargetsOneSlot(t *testing.T) {
	b := newSoftware(t, 2)
	p := newPass(t, b, offsetStage())
	a := dataBuffer(t, b, []uint32{10})
	c := dataBuffer(t, b, []uint32{20})
	if err := p.SetResourceAt(0, 0, 1, a); err != nil {
		t.Fatal(err)
	}
	if err := p.SetResourceAt(1, 0, 1, c); err != nil {
		t.Fatal(err)
	}
	_ = p.SetParameterUint32("g_count", 1)
	_ = p.SetParameterUint32("delta", 1)
	_ = p.SetDispatchSize(0, 1, 1, 1)

	for i := 0; i < 3; i++ {
		if _, err := p.Execute([]int{0}, nil); err != nil {
			t.Fatal(err)
		}
		b.AdvanceFrame()
	}
	if err := b.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	// slots 0, 1, 0
	if got := readBuffer(t, a)[0]; got != 12 {
		t.Errorf("slot 0 buffer = %d, want 12", got)
	}
	if got := readBuffer(t, c)[0]; got != 21 {
		t.Errorf("slot 1 buffer = %d, want 21", got)
	}
}

func TestExecuteWithoutChaining(t *testing.T) {
	for _, frames := range []uint32{1, 2, 3} {
		b := newSoftware(t, frames)
		p := newPass(t, b, offsetStage())
		buf := dataBuffer(t, b, []uint32{0})
		if err := p.SetResource(0, 1, buf); err != nil {
			t.Fatal(err)
		}
		_ = p.SetParameterUint32("g_count", 1)
		_ = p.SetParameterUint32("delta", 1)
		_ = p.SetDispatchSize(0, 1, 1, 1)

		// Every returned signal is dropped.
		for i := 0; i < 7; i++ {
			if _, err := p.Execute([]int{0}, nil); err != nil {
				t.Fatalf("F=%d execute %d: %v", frames, i, err)
			}
			b.AdvanceFrame()
		}
		if err := b.WaitIdle(); err != nil {
			t.Fatal(err)
		}
		if got := readBuffer(t, buf)[0]; got != 7 {
			t.Errorf("F=%d: value = %d, want 7", frames, got)
		}
		if err := p.Release(); err != nil {
			t.Errorf("F=%d release: %v", frames, err)
		}
	}
}

func TestFailedSubmitKeepsSlotUsable(t *testing.T) {
	b := newSoftware(t, 1)
	p := newPass(t, b, offsetStage())
	buf := dataBuffer(t, b, []uint32{5})
	if err := p.SetResource(0, 1, buf); err != nil {
		t.Fatal(err)
	}
	_ = p.SetParameterUint32("g_count", 1)
	_ = p.SetParameterUint32("delta", 1)
	_ = p.SetDispatchSize(0, 1, 1, 1)

	// Nothing ever signals this one, so the submission is rejected.
	never, err := b.SemaphoreCreate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Execute([]int{0}, never); !errors.Is(err, software.ErrSemaphoreState) {
		t.Fatalf("err = %v, want ErrSemaphoreState", err)
	}

	if err := p.SetResource(0, 1, buf); err != nil {
		t.Fatalf("set resource after failed submit: %v", err)
	}
	if _, err := p.Execute([]int{0}, nil); err != nil {
		t.Fatalf("execute after failed submit: %v", err)
	}
	if err := b.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if got := readBuffer(t, buf)[0]; got != 6 {
		t.Errorf("value = %d, want 6", got)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("release after failed submit: %v", err)
	}
}

func TestPassContractErrors(t *testing.T) {
	b := newSoftware(t, 1)

	unused := compute.NewComputePass(b, "unused", offsetStage())
	if _, err := unused.Execute([]int{0}, nil); !errors.Is(err, core.ErrPassState) {
		t.Errorf("execute before create: err = %v", err)
	}

	p := newPass(t, b, offsetStage())
	if err := p.SetParameterUint32("nope", 1); !errors.Is(err, core.ErrUnknownField) {
		t.Errorf("unknown parameter: err = %v", err)
	}
	if err := p.SetResource(3, 1, nil); !errors.Is(err, core.ErrUnboundBinding) {
		t.Errorf("unbound set: err = %v", err)
	}
	if _, err := p.Execute([]int{1}, nil); !errors.Is(err, core.ErrInvalidStage) {
		t.Errorf("bad stage: err = %v", err)
	}
	if _, err := p.Uniform(0, 1); !errors.Is(err, core.ErrUnboundBinding) {
		t.Errorf("uniform at storage binding: err = %v", err)
	}
	if err := p.Release(); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(); err != nil {
		t.Errorf("second release: %v", err)
	}
	if _, err := p.Execute([]int{0}, nil); !errors.Is(err, core.ErrPassState) {
		t.Errorf("execute after release: err = %v", err)
	}
}

func TestCreateRejectsKindMismatch(t *testing.T) {
	b := newSoftware(t, 1)
	clash := compute.StageConfig{
		Name: "double",
		Code: spirvtest.Assemble(spirvtest.Kernel{
			LocalSize: [3]uint32{localSize, 1, 1},
			Bindings: []spirvtest.Binding{{Set: 0, Binding: 1, Name: "data", Kind: spirvtest.Uniform,
				Members: []spirvtest.Member{{Name: "x", Type: spirvtest.Uint32}}}},
		}),
	}
	p := compute.NewComputePass(b, "clash", offsetStage(), clash)
	if err := p.Create(); !errors.Is(err, core.ErrBindingKindMismatch) {
		t.Fatalf("err = %v", err)
	}
	if p.State() != compute.PassStateReleased {
		t.Errorf("state after failed create = %s", p.State())
	}
}

func TestCreateRejectsMalformedKernel(t *testing.T) {
	b := newSoftware(t, 1)
	p := compute.NewComputePass(b, "bad", compute.StageConfig{Name: "offset", Code: []uint32{1, 2, 3}})
	if err := p.Create(); !errors.Is(err, core.ErrReflection) {
		t.Fatalf("err = %v", err)
	}
}
