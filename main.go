/*
This is the command line front end of the engine: it sorts random keys
on the configured compute backend and checks the result on the CPU.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/spaghettifunk/radix/engine"
	"github.com/spaghettifunk/radix/engine/assets"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/radixsort"
	"github.com/spaghettifunk/radix/testbed"
)

type overrides struct {
	backend    string
	compiler   string
	resources  string
	shaders    string
	logLevel   string
	variant    string
	elements   uint64
	keyBits    uint64
	blockSize  uint64
	seed       uint64
	frames     uint64
	iterations int64
	workers    int64
	watch      bool
	validation bool
}

func main() {
	var configPath, reportPath string
	var o overrides

	app := &cli.Command{
		Name:  "radix",
		Usage: "GPU LSD radix sort on a reflection-driven compute pass",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML or YAML configuration file", Destination: &configPath},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Destination: &o.logLevel},
			&cli.StringFlag{Name: "backend", Usage: "vulkan or software", Destination: &o.backend},
			&cli.StringFlag{Name: "compiler", Usage: "glslc or naga", Destination: &o.compiler},
			&cli.StringFlag{Name: "resources", Usage: "directory holding shaders/<kernel>.spv", Destination: &o.resources},
			&cli.StringFlag{Name: "shaders", Usage: "kernel source directory", Destination: &o.shaders},
			&cli.Uint64Flag{Name: "elements", Aliases: []string{"n"}, Usage: "number of keys", Destination: &o.elements},
			&cli.Uint64Flag{Name: "key-bits", Usage: "32 or 64", Destination: &o.keyBits},
			&cli.StringFlag{Name: "variant", Usage: "multi or single work group sort", Destination: &o.variant},
			&cli.Uint64Flag{Name: "block-size", Usage: "elements per invocation", Destination: &o.blockSize},
			&cli.Uint64Flag{Name: "seed", Usage: "random key seed", Destination: &o.seed},
			&cli.Uint64Flag{Name: "frames", Usage: "frames in flight", Destination: &o.frames},
			&cli.Int64Flag{Name: "iterations", Aliases: []string{"i"}, Usage: "sort runs", Destination: &o.iterations},
			&cli.Int64Flag{Name: "workers", Usage: "software backend workers, 0 is one per CPU", Destination: &o.workers},
			&cli.BoolFlag{Name: "watch", Usage: "reload kernels when their sources change", Destination: &o.watch},
			&cli.BoolFlag{Name: "validation", Usage: "enable the Vulkan validation layer", Destination: &o.validation},
		},
		Commands: []*cli.Command{
			{
				Name:  "sort",
				Usage: "Sort random keys and validate the result (default)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "report", Usage: "write a JSON run report to this file", Destination: &reportPath},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd, configPath, &o)
					if err != nil {
						return err
					}
					return runSort(ctx, cfg, reportPath)
				},
			},
			{
				Name:  "compile",
				Usage: "Compile every kernel into the resource directory",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd, configPath, &o)
					if err != nil {
						return err
					}
					return compileKernels(ctx, cfg)
				},
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, configPath, &o)
			if err != nil {
				return err
			}
			return runSort(ctx, cfg, "")
		},
	}

	// signal channel to capture system calls
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
	cancel()
}

// loadConfig reads the file, if any, then applies the flags that were set.
func loadConfig(cmd *cli.Command, path string, o *overrides) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = core.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if cmd.IsSet("backend") {
		cfg.Backend = o.backend
	}
	if cmd.IsSet("compiler") {
		cfg.Compiler = o.compiler
	}
	if cmd.IsSet("resources") {
		cfg.ResourceDirectory = o.resources
	}
	if cmd.IsSet("shaders") {
		cfg.ShaderDirectory = o.shaders
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if cmd.IsSet("elements") {
		if o.elements > uint64(^uint32(0)) {
			return nil, fmt.Errorf("%w: %d elements exceed the 32-bit element count", core.ErrInvalidConfig, o.elements)
		}
		cfg.Sort.Elements = uint32(o.elements)
	}
	if cmd.IsSet("key-bits") {
		cfg.Sort.KeyBits = uint32(o.keyBits)
	}
	if cmd.IsSet("variant") {
		cfg.Sort.Variant = o.variant
	}
	if cmd.IsSet("block-size") {
		cfg.Sort.BlockSize = uint32(o.blockSize)
	}
	if cmd.IsSet("seed") {
		cfg.Sort.Seed = o.seed
	}
	if cmd.IsSet("frames") {
		cfg.FramesInFlight = uint32(o.frames)
	}
	if cmd.IsSet("iterations") {
		cfg.Sort.Iterations = int(o.iterations)
	}
	if cmd.IsSet("workers") {
		cfg.Workers = int(o.workers)
	}
	if cmd.IsSet("watch") {
		cfg.WatchKernels = o.watch
	}
	if cmd.IsSet("validation") {
		cfg.Validation = o.validation
	}

	if !core.SetLogLevel(cfg.LogLevel) {
		core.LogWarn("unknown log level %q, keeping the default", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func runSort(ctx context.Context, cfg *core.Config, reportPath string) (err error) {
	tb := testbed.NewTestGame(cfg, reportPath)

	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}
	defer func() {
		if serr := e.Shutdown(); serr != nil {
			core.LogError("shutdown: %s", serr)
			err = errors.Join(err, serr)
		}
	}()

	if err := e.Initialize(ctx); err != nil {
		return err
	}
	if err := e.Run(ctx); err != nil {
		return err
	}
	return tb.Failure()
}

func compileKernels(ctx context.Context, cfg *core.Config) error {
	var compiler assets.Compiler = assets.NewGLSLCompiler(cfg.CompilerPath)
	if cfg.Compiler == core.CompilerNaga {
		compiler = assets.NewNagaCompiler()
	}
	library, err := assets.NewKernelLibrary(assets.LibraryConfig{
		ResourceDirectory: cfg.ResourceDirectory,
		ShaderDirectory:   cfg.ShaderDirectory,
		Compiler:          compiler,
	})
	if err != nil {
		return err
	}
	defer library.Close()

	for _, bits := range []uint32{32, 64} {
		for _, base := range []string{radixsort.HistogramKernel, radixsort.ScatterKernel, radixsort.SortKernel} {
			name := radixsort.KernelName(base, bits)
			if _, err := library.Load(ctx, name); err != nil {
				core.LogError("kernel %s: %s", name, err)
				return err
			}
			core.LogInfo("kernel %s ready at %s", name, library.BinaryPath(name))
		}
	}
	return nil
}
