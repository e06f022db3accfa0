package engine

import "context"

// Game is the application the engine drives. Only FnUpdate is required.
type Game struct {
	ApplicationConfig *ApplicationConfig
	// Engine is set by New.
	Engine *Engine
	State  interface{}

	FnInitialize       Initialize
	FnUpdate           Update
	FnOnKernelsChanged OnKernelsChanged
	FnShutdown         Shutdown
}

type Initialize func(ctx context.Context) error

// Update runs one iteration of the application.
type Update func(ctx context.Context, iteration int) error

// OnKernelsChanged is called between iterations with the kernels whose
// sources changed on disk.
type OnKernelsChanged func(ctx context.Context, kernels []string) error

type Shutdown func() error
