package compute

import (
	"fmt"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/compute/spirv"
	"github.com/spaghettifunk/radix/engine/core"
	"github.com/spaghettifunk/radix/engine/math"
)

/**
 * @brief Describes one kernel of a pass before creation.
 */
type StageConfig struct {
	/** @brief Kernel name, also the module name handed to the backend. */
	Name string
	/** @brief The compiled SPIR-V words. */
	Code []uint32
	/** @brief Used when the kernel declares no local size. */
	DefaultGranularity [3]uint32
}

// KernelStage is one compiled kernel of a pass with its reflection data.
// It is immutable after construction except for its dispatch size and
// push-constant values.
type KernelStage struct {
	name        string
	module      ShaderModule
	reflection  *metadata.KernelReflection
	granularity [3]uint32
	groups      [3]uint32
	pipeline    Pipeline
	params      *ParameterBlock
}

// NewKernelStage reflects the kernel and creates its module object.
func NewKernelStage(backend ComputeBackend, config StageConfig) (*KernelStage, error) {
	reflection, err := spirv.Reflect(config.Code)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", config.Name, err)
	}

	granularity := config.DefaultGranularity
	if reflection.HasLocalSize {
		granularity = reflection.LocalSize
	}
	for i := range granularity {
		if granularity[i] == 0 {
			granularity[i] = 1
		}
	}

	module, err := backend.ShaderModuleCreate(config.Name, config.Code)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", config.Name, err)
	}

	stage := &KernelStage{
		name:        config.Name,
		module:      module,
		reflection:  reflection,
		granularity: granularity,
		groups:      [3]uint32{1, 1, 1},
	}
	if reflection.PushConstants != nil {
		stage.params = NewParameterBlock(reflection.PushConstants)
	}
	return stage, nil
}

func (s *KernelStage) Name() string { return s.name }

func (s *KernelStage) Reflection() *metadata.KernelReflection { return s.reflection }

func (s *KernelStage) Granularity() [3]uint32 { return s.granularity }

// WorkGroups is the dispatch size last computed by SetDispatchSize.
func (s *KernelStage) WorkGroups() [3]uint32 { return s.groups }

// Parameters is the push-constant block, nil when the kernel has none.
func (s *KernelStage) Parameters() *ParameterBlock { return s.params }

// setDispatchSize turns an element-space extent into work-group counts.
func (s *KernelStage) setDispatchSize(width, height, depth uint32) {
	extent := [3]uint32{width, height, depth}
	for i := range extent {
		s.groups[i] = math.CeilDiv(extent[i], s.granularity[i])
	}
}

func (s *KernelStage) createPipeline(backend ComputeBackend, layouts []BindingLayout) error {
	var pushSize uint32
	if s.params != nil {
		pushSize = s.params.Size()
	}
	pipeline, err := backend.PipelineCreate(PipelineConfig{
		Name:             s.name,
		Module:           s.module,
		EntryPoint:       s.reflection.EntryPoint,
		Layouts:          layouts,
		PushConstantSize: pushSize,
		LocalSize:        s.granularity,
		Reflection:       s.reflection,
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", s.name, err)
	}
	s.pipeline = pipeline
	return nil
}

func (s *KernelStage) destroyPipeline() {
	if s.pipeline != nil {
		s.pipeline.Destroy()
		s.pipeline = nil
	}
}

func (s *KernelStage) destroyModule() {
	if s.module != nil {
		s.module.Destroy()
		s.module = nil
	}
}

func stageIndexError(index, count int) error {
	return fmt.Errorf("%w: stage %d of %d", core.ErrInvalidStage, index, count)
}
