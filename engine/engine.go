package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/radix/engine/assets"
	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/compute/software"
	"github.com/spaghettifunk/radix/engine/compute/vulkan"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/radixsort"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released every resource
	EngineStageShutdown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config

	backend compute.ComputeBackend
	library *assets.KernelLibrary
	metrics *core.Metrics
	clock   *core.Clock
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Config == nil {
		return nil, fmt.Errorf("%w: game has no configuration", core.ErrInvalidConfig)
	}
	if g.FnUpdate == nil {
		return nil, fmt.Errorf("%w: game has no update function", core.ErrInvalidConfig)
	}
	cfg := g.ApplicationConfig.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		metrics:      core.NewMetrics(),
		clock:        core.NewClock(),
	}
	g.Engine = e
	return e, nil
}

func (e *Engine) Config() *core.Config            { return e.config }
func (e *Engine) Backend() compute.ComputeBackend { return e.backend }
func (e *Engine) Kernels() *assets.KernelLibrary  { return e.library }
func (e *Engine) Metrics() *core.Metrics          { return e.metrics }
func (e *Engine) CurrentStage() Stage             { return e.currentStage }
func (e *Engine) Clock() *core.Clock              { return e.clock }

// Initialize brings up the compute backend and the kernel library, then
// the game.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("%w: engine already initialized", core.ErrPassState)
	}
	e.currentStage = EngineStageInitializing

	backend, err := newBackend(e.gameInstance.ApplicationConfig.Name, e.config)
	if err != nil {
		return err
	}
	if err := backend.Initialize(); err != nil {
		core.LogError("failed to initialize the %s backend: %s", backend.Name(), err)
		return err
	}
	e.backend = backend

	library, err := assets.NewKernelLibrary(assets.LibraryConfig{
		ResourceDirectory: e.config.ResourceDirectory,
		ShaderDirectory:   e.config.ShaderDirectory,
		Compiler:          newCompiler(e.config),
		Watch:             e.config.WatchKernels,
	})
	if err != nil {
		_ = e.backend.Shutdown()
		return err
	}
	e.library = library

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(ctx); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func newBackend(name string, cfg *core.Config) (compute.ComputeBackend, error) {
	switch cfg.Backend {
	case core.BackendVulkan:
		return vulkan.New(name, cfg.FramesInFlight, cfg.Validation, needsInt64(cfg)), nil
	case core.BackendSoftware:
		b := software.New(cfg.FramesInFlight, cfg.Workers)
		radixsort.RegisterSoftwareKernels(b)
		return b, nil
	}
	return nil, fmt.Errorf("%w: unknown backend %q", core.ErrInvalidConfig, cfg.Backend)
}

// needsInt64 reports whether the kernels use 64-bit integers. The WGSL
// kernels keep 64-bit keys as two 32-bit words.
func needsInt64(cfg *core.Config) bool {
	return cfg.Sort.KeyBits == 64 && cfg.Compiler != core.CompilerNaga
}

func newCompiler(cfg *core.Config) assets.Compiler {
	if cfg.ShaderDirectory == "" {
		return nil
	}
	if cfg.Compiler == core.CompilerNaga {
		return assets.NewNagaCompiler()
	}
	return assets.NewGLSLCompiler(cfg.CompilerPath)
}

// Run calls the game's update once per configured iteration. Kernel
// source changes are delivered between iterations.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("%w: engine is not initialized", core.ErrPassState)
	}
	e.currentStage = EngineStageRunning
	defer func() {
		if e.currentStage == EngineStageRunning {
			e.currentStage = EngineStageInitialized
		}
	}()

	e.clock.Start()
	defer e.clock.Stop()

	for i := 0; i < e.config.Sort.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			core.LogInfo("run interrupted after %d iterations", i)
			return err
		}
		if changed := e.drainKernelChanges(); len(changed) > 0 && e.gameInstance.FnOnKernelsChanged != nil {
			if err := e.gameInstance.FnOnKernelsChanged(ctx, changed); err != nil {
				return err
			}
		}
		if err := e.gameInstance.FnUpdate(ctx, i); err != nil {
			core.LogError("iteration %d failed: %s", i, err)
			return err
		}
		e.clock.Update()
	}
	core.LogInfo("%d iterations in %.3f[ms], average pass %.3f[ms]",
		e.config.Sort.Iterations, e.clock.ElapsedMS(), e.metrics.PassAverageMS())
	return nil
}

func (e *Engine) drainKernelChanges() []string {
	if e.library == nil {
		return nil
	}
	var changed []string
	for {
		select {
		case name := <-e.library.Changes():
			changed = append(changed, name)
		default:
			return changed
		}
	}
}

// Shutdown releases the game, the kernel library and the backend in that
// order. Later calls do nothing.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.library != nil {
		errs = append(errs, e.library.Close())
	}
	if e.backend != nil {
		errs = append(errs, e.backend.Shutdown())
	}
	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

// Stages loads the histogram and scatter kernels for a key width.
func (e *Engine) Stages(ctx context.Context, keyBits uint32) (compute.StageConfig, compute.StageConfig, error) {
	if e.library == nil {
		return compute.StageConfig{}, compute.StageConfig{}, fmt.Errorf("%w: engine is not initialized", core.ErrPassState)
	}
	histogram, err := e.library.Stage(ctx, radixsort.KernelName(radixsort.HistogramKernel, keyBits))
	if err != nil {
		return compute.StageConfig{}, compute.StageConfig{}, err
	}
	scatter, err := e.library.Stage(ctx, radixsort.KernelName(radixsort.ScatterKernel, keyBits))
	if err != nil {
		return compute.StageConfig{}, compute.StageConfig{}, err
	}
	return histogram, scatter, nil
}

// NewSorter builds a sorter for K from the engine's kernels and backend.
func NewSorter[K radixsort.Key](ctx context.Context, e *Engine, opts radixsort.Options) (*radixsort.Sorter[K], error) {
	histogram, scatter, err := e.Stages(ctx, radixsort.KeyBits[K]())
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = e.metrics
	}
	return radixsort.NewSorter[K](e.backend, histogram, scatter, opts)
}

// SingleStage loads the single-group sort kernel for a key width.
func (e *Engine) SingleStage(ctx context.Context, keyBits uint32) (compute.StageConfig, error) {
	if e.library == nil {
		return compute.StageConfig{}, fmt.Errorf("%w: engine is not initialized", core.ErrPassState)
	}
	return e.library.Stage(ctx, radixsort.KernelName(radixsort.SortKernel, keyBits))
}

// NewSingleSorter builds a single-group sorter for K.
func NewSingleSorter[K radixsort.Key](ctx context.Context, e *Engine, opts radixsort.Options) (*radixsort.SingleSorter[K], error) {
	stage, err := e.SingleStage(ctx, radixsort.KeyBits[K]())
	if err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = e.metrics
	}
	return radixsort.NewSingleSorter[K](e.backend, stage, opts)
}
