// Package assets locates, compiles and caches the SPIR-V kernels the
// engine dispatches, and watches their sources for edits.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/radix/engine/assets/loaders"
	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/core"
)

type LibraryConfig struct {
	// ResourceDirectory holds the compiled kernels under shaders/.
	ResourceDirectory string
	// ShaderDirectory holds the kernel sources. Empty disables compiling.
	ShaderDirectory string
	// Compiler builds a kernel whose binary is missing or older than its
	// source. Nil means binaries only.
	Compiler Compiler
	// Watch reloads kernels when their sources change.
	Watch bool
}

type kernelEntry struct {
	code     []uint32
	loadedAt time.Time
}

// KernelLibrary serves compiled kernels by name. It is safe for
// concurrent use.
type KernelLibrary struct {
	config LibraryConfig
	loader loaders.BinaryLoader

	mutex   sync.RWMutex
	kernels map[string]kernelEntry

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan string
	wg       sync.WaitGroup
}

func NewKernelLibrary(config LibraryConfig) (*KernelLibrary, error) {
	if config.ResourceDirectory == "" {
		return nil, fmt.Errorf("%w: kernel library needs a resource directory", core.ErrInvalidConfig)
	}
	kl := &KernelLibrary{
		config:  config,
		kernels: make(map[string]kernelEntry),
		changes: make(chan string, 16),
		done:    make(chan struct{}),
	}
	if config.Watch && config.ShaderDirectory != "" {
		fsWatch, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		kl.fsnotify = fsWatch
		if err := kl.watchRecursive(config.ShaderDirectory); err != nil {
			fsWatch.Close()
			return nil, err
		}
		kl.wg.Add(1)
		go kl.start()
	}
	return kl, nil
}

// BinaryPath is where the compiled kernel lives.
func (kl *KernelLibrary) BinaryPath(kernel string) string {
	return filepath.Join(kl.config.ResourceDirectory, "shaders", kernel+".spv")
}

// Changes receives the name of every cached kernel whose source changed.
// Names are dropped when nobody reads them.
func (kl *KernelLibrary) Changes() <-chan string {
	return kl.changes
}

// Load returns the SPIR-V words of the named kernel, compiling it first
// when the source is newer than the binary.
func (kl *KernelLibrary) Load(ctx context.Context, kernel string) ([]uint32, error) {
	kl.mutex.RLock()
	entry, ok := kl.kernels[kernel]
	kl.mutex.RUnlock()
	if ok {
		return entry.code, nil
	}

	binary := kl.BinaryPath(kernel)
	if err := kl.compileIfStale(ctx, kernel, binary); err != nil {
		return nil, err
	}

	code, err := kl.loader.Load(binary)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (looked for %s)", core.ErrKernelNotFound, kernel, binary)
	}
	if err != nil {
		return nil, err
	}

	kl.mutex.Lock()
	kl.kernels[kernel] = kernelEntry{code: code, loadedAt: time.Now()}
	kl.mutex.Unlock()
	core.LogDebug("kernel %s loaded: %d words", kernel, len(code))
	return code, nil
}

// Stage is Load wrapped into the configuration of a pass stage.
func (kl *KernelLibrary) Stage(ctx context.Context, kernel string) (compute.StageConfig, error) {
	code, err := kl.Load(ctx, kernel)
	if err != nil {
		return compute.StageConfig{}, err
	}
	return compute.StageConfig{Name: kernel, Code: code}, nil
}

func (kl *KernelLibrary) compileIfStale(ctx context.Context, kernel, binary string) error {
	c := kl.config.Compiler
	if c == nil || kl.config.ShaderDirectory == "" {
		return nil
	}
	source := c.SourcePath(kl.config.ShaderDirectory, kernel)
	src, err := os.Stat(source)
	if err != nil {
		// No source, fall back to whatever binary exists.
		return nil
	}
	if bin, err := os.Stat(binary); err == nil && !bin.ModTime().Before(src.ModTime()) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(binary), 0o755); err != nil {
		return err
	}
	core.LogInfo("compiling %s with %s", kernel, c.Name())
	return c.Compile(ctx, kernel, source, binary)
}

// Invalidate drops the cached binaries built from the named source file.
func (kl *KernelLibrary) Invalidate(path string) []string {
	stem := baseName(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	kl.mutex.Lock()
	defer kl.mutex.Unlock()
	var dropped []string
	for name := range kl.kernels {
		if baseName(name) == stem {
			delete(kl.kernels, name)
			dropped = append(dropped, name)
		}
	}
	return dropped
}

func (kl *KernelLibrary) start() {
	defer kl.wg.Done()
	for {
		select {
		case e, ok := <-kl.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					kl.watchRecursive(e.Name)
				}
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				kl.handleFileEvent(e.Name)
			}

		case err, ok := <-kl.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("kernel watcher: %s", err)

		case <-kl.done:
			return
		}
	}
}

func (kl *KernelLibrary) handleFileEvent(path string) {
	switch filepath.Ext(path) {
	case ".comp", ".wgsl":
	default:
		return
	}
	for _, name := range kl.Invalidate(path) {
		core.LogInfo("kernel %s source changed: %s", name, path)
		select {
		case kl.changes <- name:
		default:
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (kl *KernelLibrary) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return kl.fsnotify.Add(walkPath)
		}
		return nil
	})
}

// Close stops the watcher. Cached kernels stay readable.
func (kl *KernelLibrary) Close() error {
	kl.mutex.Lock()
	if kl.isClosed {
		kl.mutex.Unlock()
		return nil
	}
	kl.isClosed = true
	kl.mutex.Unlock()

	if kl.fsnotify == nil {
		return nil
	}
	close(kl.done)
	err := kl.fsnotify.Close()
	kl.wg.Wait()
	return err
}
