package compute

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/radix/engine/compute/metadata"
	"github.com/spaghettifunk/radix/engine/core"
)

// MergedSet is the union of one descriptor set across every stage of a
// pass. Bindings keep first-seen order.
type MergedSet struct {
	Set      uint32
	Bindings []metadata.DescriptorBinding
	index    map[uint32]int
}

func (s *MergedSet) Lookup(binding uint32) (metadata.DescriptorBinding, bool) {
	i, ok := s.index[binding]
	if !ok {
		return metadata.DescriptorBinding{}, false
	}
	return s.Bindings[i], true
}

// BindingModel holds the merged bindings of a pass and, once created,
// the layouts, pool and F x |sets| binding tables that satisfy them.
type BindingModel struct {
	frames    uint32
	sets      []MergedSet
	setIndex  map[uint32]int
	poolSizes []metadata.PoolSize

	layouts []BindingLayout
	pool    BindingPool
	// tables[frame][i] belongs to sets[i].
	tables [][]BindingTable
}

// MergeBindings unions the bindings of the given stages in order. The same
// (set, binding) seen twice must agree on kind; its count becomes the
// larger of the two.
func MergeBindings(frames uint32, reflections ...*metadata.KernelReflection) (*BindingModel, error) {
	if frames == 0 {
		return nil, fmt.Errorf("%w: zero frames in flight", core.ErrInvalidConfig)
	}
	m := &BindingModel{
		frames:   frames,
		setIndex: make(map[uint32]int),
	}

	for _, r := range reflections {
		for _, b := range r.Bindings {
			si, ok := m.setIndex[b.Set]
			if !ok {
				si = len(m.sets)
				m.sets = append(m.sets, MergedSet{Set: b.Set, index: make(map[uint32]int)})
				m.setIndex[b.Set] = si
			}
			set := &m.sets[si]

			bi, seen := set.index[b.Binding]
			if !seen {
				set.index[b.Binding] = len(set.Bindings)
				set.Bindings = append(set.Bindings, b)
				continue
			}
			existing := &set.Bindings[bi]
			if existing.Kind != b.Kind {
				return nil, fmt.Errorf("%w: set %d binding %d is %s in one stage and %s in another",
					core.ErrBindingKindMismatch, b.Set, b.Binding, existing.Kind, b.Kind)
			}
			if b.Count > existing.Count {
				existing.Count = b.Count
			}
			if existing.Name == "" {
				existing.Name = b.Name
			}
		}
	}

	totals := make(map[metadata.DescriptorKind]uint32)
	for _, set := range m.sets {
		for _, b := range set.Bindings {
			totals[b.Kind] += b.Count * frames
		}
	}
	for kind, count := range totals {
		m.poolSizes = append(m.poolSizes, metadata.PoolSize{Kind: kind, Count: count})
	}
	sort.Slice(m.poolSizes, func(i, j int) bool { return m.poolSizes[i].Kind < m.poolSizes[j].Kind })
	return m, nil
}

func (m *BindingModel) Sets() []MergedSet { return m.sets }

func (m *BindingModel) PoolSizes() []metadata.PoolSize { return m.poolSizes }

// TableCount is the number of tables the pool must hold.
func (m *BindingModel) TableCount() uint32 {
	return m.frames * uint32(len(m.sets))
}

// Lookup finds a merged binding. Unknown keys are an error, never a
// zero value.
func (m *BindingModel) Lookup(set, binding uint32) (metadata.DescriptorBinding, error) {
	si, ok := m.setIndex[set]
	if ok {
		if b, ok := m.sets[si].Lookup(binding); ok {
			return b, nil
		}
	}
	return metadata.DescriptorBinding{}, fmt.Errorf("%w: set %d binding %d", core.ErrUnboundBinding, set, binding)
}

// create allocates one layout per set id up to the highest one used, the
// pool, and every slot's tables.
func (m *BindingModel) create(backend ComputeBackend) error {
	var maxSet int = -1
	for _, s := range m.sets {
		if int(s.Set) > maxSet {
			maxSet = int(s.Set)
		}
	}

	m.layouts = make([]BindingLayout, maxSet+1)
	for set := 0; set <= maxSet; set++ {
		var entries []metadata.LayoutBinding
		if si, ok := m.setIndex[uint32(set)]; ok {
			for _, b := range m.sets[si].Bindings {
				entries = append(entries, metadata.LayoutBinding{Binding: b.Binding, Kind: b.Kind, Count: b.Count})
			}
		}
		layout, err := backend.BindingLayoutCreate(uint32(set), entries)
		if err != nil {
			return fmt.Errorf("binding layout for set %d: %w", set, err)
		}
		m.layouts[set] = layout
	}

	if len(m.sets) == 0 {
		m.tables = make([][]BindingTable, m.frames)
		return nil
	}

	pool, err := backend.BindingPoolCreate(m.TableCount(), m.poolSizes)
	if err != nil {
		return fmt.Errorf("binding pool: %w", err)
	}
	m.pool = pool

	setLayouts := make([]BindingLayout, len(m.sets))
	for i, s := range m.sets {
		setLayouts[i] = m.layouts[s.Set]
	}

	m.tables = make([][]BindingTable, m.frames)
	for frame := uint32(0); frame < m.frames; frame++ {
		tables, err := pool.Allocate(setLayouts)
		if err != nil {
			return fmt.Errorf("binding tables for slot %d: %w", frame, err)
		}
		if len(tables) != len(setLayouts) {
			return fmt.Errorf("%w: slot %d got %d of %d tables", core.ErrPoolExhausted, frame, len(tables), len(setLayouts))
		}
		m.tables[frame] = tables
	}
	return nil
}

// Layouts is indexed by set id and includes empty layouts for gaps.
func (m *BindingModel) Layouts() []BindingLayout { return m.layouts }

// write points one slot's table entry at a buffer.
func (m *BindingModel) write(frame, set, binding uint32, buffer Buffer) error {
	b, err := m.Lookup(set, binding)
	if err != nil {
		return err
	}
	if frame >= m.frames {
		return fmt.Errorf("%w: frame slot %d of %d", core.ErrInvalidConfig, frame, m.frames)
	}
	if b.Kind == metadata.DescriptorKindImage {
		return fmt.Errorf("%w: set %d binding %d is an image, not a buffer", core.ErrBindingKindMismatch, set, binding)
	}
	table := m.tables[frame][m.setIndex[set]]
	return table.WriteBuffer(binding, b.Kind, buffer)
}

func (m *BindingModel) release() {
	if m.pool != nil {
		m.pool.Destroy()
		m.pool = nil
	}
	m.tables = nil
	for _, l := range m.layouts {
		if l != nil {
			l.Destroy()
		}
	}
	m.layouts = nil
}
