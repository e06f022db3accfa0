// Package testbed is the sort benchmark application driven by the engine.
package testbed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/spaghettifunk/radix/engine"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/radixsort"
)

type TestGame struct {
	*engine.Game
	// ReportPath receives the JSON run report on shutdown. Empty skips it.
	ReportPath string
}

// sorter hides the key width from the game loop.
type sorter interface {
	sort(iteration int) (RunReport, error)
	release() error
}

type gameState struct {
	sorter  sorter
	report  Report
	failure error
}

// RunReport describes one sort iteration.
type RunReport struct {
	RunID      uuid.UUID `json:"run_id"`
	Iteration  int       `json:"iteration"`
	Elements   int       `json:"elements"`
	Passes     int       `json:"passes"`
	WorkGroups uint32    `json:"work_groups"`
	OutputRole int       `json:"output_role"`
	Valid      bool      `json:"valid"`
	Mismatches int       `json:"mismatches"`
	GPUTimeMS  float64   `json:"gpu_time_ms"`
	CPUTimeMS  float64   `json:"cpu_time_ms"`
}

// Report is what --report writes.
type Report struct {
	SessionID      uuid.UUID   `json:"session_id"`
	Backend        string      `json:"backend"`
	Compiler       string      `json:"compiler"`
	KeyBits        uint32      `json:"key_bits"`
	Variant        string      `json:"variant"`
	BlockSize      uint32      `json:"block_size"`
	FramesInFlight uint32      `json:"frames_in_flight"`
	Seed           uint64      `json:"seed"`
	StartedAt      time.Time   `json:"started_at"`
	Runs           []RunReport `json:"runs"`
	PassAverageMS  float64     `json:"pass_average_ms"`
	KeysPerSecond  float64     `json:"keys_per_second"`
	KernelReloads  int         `json:"kernel_reloads"`
}

func NewTestGame(config *core.Config, reportPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:   "Radix Sort Testbed",
				Config: config,
			},
			State: &gameState{},
		},
		ReportPath: reportPath,
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnKernelsChanged = tg.OnKernelsChanged
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(ctx context.Context) error {
	cfg := g.ApplicationConfig.Config
	state := g.state()
	state.report = Report{
		SessionID:      uuid.New(),
		Backend:        g.Engine.Backend().Name(),
		Compiler:       cfg.Compiler,
		KeyBits:        cfg.Sort.KeyBits,
		Variant:        cfg.Sort.Variant,
		BlockSize:      cfg.Sort.BlockSize,
		FramesInFlight: cfg.FramesInFlight,
		Seed:           cfg.Sort.Seed,
		StartedAt:      time.Now().UTC(),
	}
	core.LogInfo("testbed session %s: %d %d-bit keys, %d %s iterations on %s",
		state.report.SessionID, cfg.Sort.Elements, cfg.Sort.KeyBits, cfg.Sort.Iterations, cfg.Sort.Variant, state.report.Backend)
	return g.buildSorter(ctx)
}

func (g *TestGame) buildSorter(ctx context.Context) error {
	cfg := g.ApplicationConfig.Config
	opts := radixsort.Options{BlockSize: cfg.Sort.BlockSize}

	var s sorter
	var err error
	if cfg.Sort.KeyBits == 64 {
		s, err = newKeySorter[uint64](ctx, g.Engine, cfg.Sort.Variant, opts, int(cfg.Sort.Elements), cfg.Sort.Seed)
	} else {
		s, err = newKeySorter[uint32](ctx, g.Engine, cfg.Sort.Variant, opts, int(cfg.Sort.Elements), cfg.Sort.Seed)
	}
	if err != nil {
		core.LogError("failed to create the sorter: %s", err)
		return err
	}
	g.state().sorter = s
	return nil
}

func (g *TestGame) Update(ctx context.Context, iteration int) error {
	state := g.state()
	run, err := state.sorter.sort(iteration)
	if err != nil {
		return err
	}
	state.report.Runs = append(state.report.Runs, run)
	if !run.Valid && state.failure == nil {
		state.failure = fmt.Errorf("%w: run %s, %d mismatches", core.ErrValidation, run.RunID, run.Mismatches)
	}
	return nil
}

// OnKernelsChanged rebuilds the pass from the recompiled kernels.
func (g *TestGame) OnKernelsChanged(ctx context.Context, kernels []string) error {
	core.LogInfo("reloading kernels %v", kernels)
	state := g.state()
	if state.sorter != nil {
		if err := state.sorter.release(); err != nil {
			return err
		}
		state.sorter = nil
	}
	state.report.KernelReloads++
	return g.buildSorter(ctx)
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	if state.sorter != nil {
		if err := state.sorter.release(); err != nil {
			core.LogError("failed to release the sorter: %s", err)
		}
		state.sorter = nil
	}
	if m := g.Engine.Metrics(); m != nil {
		state.report.PassAverageMS = m.PassAverageMS()
		state.report.KeysPerSecond = m.Throughput()
	}
	if g.ReportPath != "" {
		if err := g.writeReport(); err != nil {
			core.LogError("failed to write the report: %s", err)
			return err
		}
	}
	return nil
}

// Failure is the first validation failure of the session.
func (g *TestGame) Failure() error {
	return g.state().failure
}

func (g *TestGame) Report() Report {
	return g.state().report
}

func (g *TestGame) writeReport() error {
	data, err := json.MarshalIndent(g.state().report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(g.ReportPath, data, 0o644); err != nil {
		return err
	}
	core.LogInfo("report written to %s", g.ReportPath)
	return nil
}

// radixSorter is implemented by both sort variants.
type radixSorter[K radixsort.Key] interface {
	Sort(keys []K) (*radixsort.Result[K], error)
	Release() error
}

type keySorter[K radixsort.Key] struct {
	sorter radixSorter[K]
	keys   []K
}

func newKeySorter[K radixsort.Key](ctx context.Context, e *engine.Engine, variant string, opts radixsort.Options, elements int, seed uint64) (*keySorter[K], error) {
	var s radixSorter[K]
	var err error
	if variant == core.VariantSingle {
		s, err = engine.NewSingleSorter[K](ctx, e, opts)
	} else {
		s, err = engine.NewSorter[K](ctx, e, opts)
	}
	if err != nil {
		return nil, err
	}
	return &keySorter[K]{
		sorter: s,
		keys:   radixsort.GenerateKeys[K](elements, seed),
	}, nil
}

func (ks *keySorter[K]) sort(iteration int) (RunReport, error) {
	res, err := ks.sorter.Sort(ks.keys)
	if err != nil {
		return RunReport{}, err
	}
	return RunReport{
		RunID:      res.RunID,
		Iteration:  iteration,
		Elements:   res.Elements,
		Passes:     res.Passes,
		WorkGroups: res.WorkGroups,
		OutputRole: res.OutputRole,
		Valid:      res.Valid,
		Mismatches: res.Mismatches,
		GPUTimeMS:  float64(res.GPUTime) / float64(time.Millisecond),
		CPUTimeMS:  float64(res.CPUTime) / float64(time.Millisecond),
	}, nil
}

func (ks *keySorter[K]) release() error {
	return ks.sorter.Release()
}
