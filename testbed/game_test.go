package testbed_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/spaghettifunk/radix/engine"
	"github.com/spaghettifunk/radix/engine/assets/loaders"
	"github.com/spaghettifunk/radix/engine/compute/spirv/spirvtest"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/radixsort"
	"github.com/spaghettifunk/radix/testbed"
)

// kernel assembles the GLSL flavor of a radix kernel interface.
func kernel(stage string, keyBits uint32) []uint32 {
	bindings := []spirvtest.Binding{
		{Set: 0, Binding: radixsort.BindingParams, Name: "params", Kind: spirvtest.Uniform, Members: []spirvtest.Member{
			{Name: radixsort.ParamNumElements, Type: spirvtest.Uint32},
			{Name: radixsort.ParamNumWorkGroups, Type: spirvtest.Uint32},
			{Name: radixsort.ParamBlocksPerWorkGroup, Type: spirvtest.Uint32},
		}},
		{Set: 0, Binding: radixsort.BindingElementsIn, Name: "g_elements_in", Kind: spirvtest.Storage, ElementBits: keyBits},
		{Set: 0, Binding: radixsort.BindingHistograms, Name: "g_histograms", Kind: spirvtest.Storage},
	}
	if stage == radixsort.ScatterKernel {
		bindings = append(bindings, spirvtest.Binding{
			Set: 0, Binding: radixsort.BindingElementsOut, Name: "g_elements_out", Kind: spirvtest.Storage, ElementBits: keyBits,
		})
	}
	return spirvtest.Assemble(spirvtest.Kernel{
		LocalSize:     [3]uint32{radixsort.WorkGroupSize, 1, 1},
		Bindings:      bindings,
		PushConstants: []spirvtest.Member{{Name: radixsort.ParamShift, Type: spirvtest.Uint32}},
	})
}

// singleKernel assembles the interface of the single-group sort kernel.
func singleKernel(keyBits uint32) []uint32 {
	return spirvtest.Assemble(spirvtest.Kernel{
		LocalSize: [3]uint32{radixsort.WorkGroupSize, 1, 1},
		Bindings: []spirvtest.Binding{
			{Set: 0, Binding: radixsort.BindingParams, Name: "params", Kind: spirvtest.Uniform, Members: []spirvtest.Member{
				{Name: radixsort.ParamNumElements, Type: spirvtest.Uint32},
			}},
			{Set: 0, Binding: radixsort.BindingElementsIn, Name: "g_elements_in", Kind: spirvtest.Storage, ElementBits: keyBits},
			{Set: 0, Binding: radixsort.BindingElementsOut, Name: "g_elements_out", Kind: spirvtest.Storage, ElementBits: keyBits},
		},
		PushConstants: []spirvtest.Member{{Name: radixsort.ParamShift, Type: spirvtest.Uint32}},
	})
}

func resources(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "shaders"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, bits := range []uint32{32, 64} {
		for _, stage := range []string{radixsort.HistogramKernel, radixsort.ScatterKernel} {
			path := filepath.Join(dir, "shaders", radixsort.KernelName(stage, bits)+".spv")
			if err := os.WriteFile(path, loaders.BytecodeToBytes(kernel(stage, bits)), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		path := filepath.Join(dir, "shaders", radixsort.KernelName(radixsort.SortKernel, bits)+".spv")
		if err := os.WriteFile(path, loaders.BytecodeToBytes(singleKernel(bits)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func softwareConfig(t *testing.T, keyBits uint32) *core.Config {
	cfg := core.DefaultConfig()
	cfg.Backend = core.BackendSoftware
	cfg.ResourceDirectory = resources(t)
	cfg.ShaderDirectory = ""
	cfg.Workers = 2
	cfg.FramesInFlight = 3
	cfg.Sort.Elements = 3000
	cfg.Sort.KeyBits = keyBits
	cfg.Sort.Iterations = 3
	return &cfg
}

func TestTestbedSortsAndReports(t *testing.T) {
	for _, bits := range []uint32{32, 64} {
		cfg := softwareConfig(t, bits)
		report := filepath.Join(t.TempDir(), "report.json")
		tb := testbed.NewTestGame(cfg, report)

		e, err := engine.New(tb.Game)
		if err != nil {
			t.Fatal(err)
		}
		ctx := context.Background()
		if err := e.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if err := e.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if err := tb.Failure(); err != nil {
			t.Fatal(err)
		}
		if err := e.Shutdown(); err != nil {
			t.Fatal(err)
		}
		if e.CurrentStage() != engine.EngineStageShutdown {
			t.Fatalf("stage %d after shutdown", e.CurrentStage())
		}

		data, err := os.ReadFile(report)
		if err != nil {
			t.Fatal(err)
		}
		var r testbed.Report
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatal(err)
		}
		if r.Backend != core.BackendSoftware || r.KeyBits != bits || len(r.Runs) != 3 {
			t.Fatalf("report %+v", r)
		}
		passes := int(bits / radixsort.DigitBits)
		for i, run := range r.Runs {
			if !run.Valid || run.Elements != 3000 || run.Passes != passes || run.Iteration != i {
				t.Fatalf("run %d: %+v", i, run)
			}
			if run.OutputRole != passes%2 {
				t.Fatalf("run %d read role %d", i, run.OutputRole)
			}
		}
		if r.Runs[0].RunID == r.Runs[1].RunID {
			t.Fatal("runs share an id")
		}
	}
}

func TestTestbedSingleVariant(t *testing.T) {
	for _, bits := range []uint32{32, 64} {
		cfg := softwareConfig(t, bits)
		cfg.Sort.Variant = core.VariantSingle
		cfg.Sort.Elements = 700
		tb := testbed.NewTestGame(cfg, "")
		e, err := engine.New(tb.Game)
		if err != nil {
			t.Fatal(err)
		}
		ctx := context.Background()
		if err := e.Initialize(ctx); err != nil {
			t.Fatal(err)
		}
		if err := e.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if err := tb.Failure(); err != nil {
			t.Fatal(err)
		}
		r := tb.Report()
		if err := e.Shutdown(); err != nil {
			t.Fatal(err)
		}
		if r.Variant != core.VariantSingle || len(r.Runs) != 3 {
			t.Fatalf("report %+v", r)
		}
		for i, run := range r.Runs {
			if !run.Valid || run.WorkGroups != 1 || run.OutputRole != run.Passes%2 {
				t.Fatalf("run %d: %+v", i, run)
			}
		}
	}
}

func TestTestbedReloadsKernels(t *testing.T) {
	cfg := softwareConfig(t, 32)
	tb := testbed.NewTestGame(cfg, "")
	e, err := engine.New(tb.Game)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	ctx := context.Background()
	if err := e.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tb.OnKernelsChanged(ctx, []string{radixsort.HistogramKernel}); err != nil {
		t.Fatal(err)
	}
	if err := tb.Update(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if r := tb.Report(); r.KernelReloads != 1 || len(r.Runs) != 1 || !r.Runs[0].Valid {
		t.Fatalf("report %+v", r)
	}
}

func TestEngineMissingKernels(t *testing.T) {
	cfg := softwareConfig(t, 32)
	cfg.ResourceDirectory = t.TempDir()
	tb := testbed.NewTestGame(cfg, "")
	e, err := engine.New(tb.Game)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	if err := e.Initialize(context.Background()); !errors.Is(err, core.ErrKernelNotFound) {
		t.Fatalf("got %v, want ErrKernelNotFound", err)
	}
}

func TestEngineLifecycleErrors(t *testing.T) {
	if _, err := engine.New(&engine.Game{}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("got %v", err)
	}

	cfg := softwareConfig(t, 32)
	cfg.Sort.KeyBits = 16
	if _, err := engine.New(testbed.NewTestGame(cfg, "").Game); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("got %v", err)
	}

	cfg = softwareConfig(t, 32)
	e, err := engine.New(testbed.NewTestGame(cfg, "").Game)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Run(context.Background()); !errors.Is(err, core.ErrPassState) {
		t.Fatalf("run before initialize: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatal(err)
	}
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	cfg := softwareConfig(t, 32)
	tb := testbed.NewTestGame(cfg, "")
	e, err := engine.New(tb.Game)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if n := len(tb.Report().Runs); n != 0 {
		t.Fatalf("%d runs after cancel", n)
	}
}
