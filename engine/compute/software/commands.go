package software

import (
	"context"
	"fmt"
	"sync"

	xsem "golang.org/x/sync/semaphore"

	"github.com/spaghettifunk/radix/engine/compute"
	"github.com/spaghettifunk/radix/engine/core"
)

type listState int

const (
	listInitial listState = iota
	listRecording
	listExecutable
	listPending
)

func (s listState) String() string {
	switch s {
	case listInitial:
		return "initial"
	case listRecording:
		return "recording"
	case listExecutable:
		return "executable"
	case listPending:
		return "pending"
	default:
		return fmt.Sprintf("list-state(%d)", int(s))
	}
}

type opKind int

const (
	opBindPipeline opKind = iota
	opBindTable
	opPushConstants
	opDispatch
	opBarrier
)

type command struct {
	op       opKind
	pipeline *pipeline
	set      uint32
	table    *bindingTable
	offset   uint32
	data     []byte
	groups   [3]uint32
}

type commandList struct {
	mu       sync.Mutex
	state    listState
	commands []command
	// err holds the first recording mistake; End reports it.
	err error
}

func (c *commandList) setState(s listState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *commandList) transition(from, to listState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("%w: expected %s, list is %s", ErrCommandState, from, c.state)
	}
	c.state = to
	return nil
}

func (c *commandList) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != listInitial && c.state != listExecutable {
		return fmt.Errorf("%w: begin on a %s list", ErrCommandState, c.state)
	}
	c.state = listRecording
	c.commands = c.commands[:0]
	c.err = nil
	return nil
}

func (c *commandList) End() error {
	if err := c.transition(listRecording, listExecutable); err != nil {
		return err
	}
	return c.err
}

func (c *commandList) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == listPending {
		return fmt.Errorf("%w: reset while pending", ErrCommandState)
	}
	c.state = listInitial
	c.commands = c.commands[:0]
	c.err = nil
	return nil
}

func (c *commandList) record(cmd command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != listRecording {
		if c.err == nil {
			c.err = fmt.Errorf("%w: recording into a %s list", ErrCommandState, c.state)
		}
		return
	}
	c.commands = append(c.commands, cmd)
}

func (c *commandList) BindPipeline(p compute.Pipeline) {
	c.record(command{op: opBindPipeline, pipeline: p.(*pipeline)})
}

func (c *commandList) BindTable(p compute.Pipeline, set uint32, t compute.BindingTable) {
	c.record(command{op: opBindTable, pipeline: p.(*pipeline), set: set, table: t.(*bindingTable)})
}

// PushConstants copies data at record time.
func (c *commandList) PushConstants(p compute.Pipeline, offset uint32, data []byte) {
	c.record(command{op: opPushConstants, pipeline: p.(*pipeline), offset: offset, data: append([]byte(nil), data...)})
}

func (c *commandList) Dispatch(x, y, z uint32) {
	c.record(command{op: opDispatch, groups: [3]uint32{x, y, z}})
}

func (c *commandList) ComputeBarrier() {
	c.record(command{op: opBarrier})
}

func (c *commandList) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = nil
}

func (c *commandList) tables() []*bindingTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[*bindingTable]bool)
	var out []*bindingTable
	for _, cmd := range c.commands {
		if cmd.table != nil && !seen[cmd.table] {
			seen[cmd.table] = true
			out = append(out, cmd.table)
		}
	}
	return out
}

// execute replays a submitted list. Dispatches run one after another;
// the work groups of one dispatch run in parallel.
func (b *Backend) execute(c *commandList) error {
	c.mu.Lock()
	commands := c.commands
	c.mu.Unlock()

	var (
		bound  *pipeline
		tables = make(map[uint32]*bindingTable)
		push   []byte
	)
	for _, cmd := range commands {
		switch cmd.op {
		case opBindPipeline:
			bound = cmd.pipeline
		case opBindTable:
			tables[cmd.set] = cmd.table
		case opPushConstants:
			end := int(cmd.offset) + len(cmd.data)
			if uint32(end) > cmd.pipeline.pushSize {
				return fmt.Errorf("push constants [%d,%d) exceed %d bytes", cmd.offset, end, cmd.pipeline.pushSize)
			}
			if len(push) < end {
				push = append(push, make([]byte, end-len(push))...)
			}
			copy(push[cmd.offset:], cmd.data)
		case opDispatch:
			if bound == nil {
				return fmt.Errorf("%w: dispatch without a pipeline", core.ErrPassState)
			}
			snapshot := make(map[uint32]*bindingTable, len(tables))
			for k, v := range tables {
				snapshot[k] = v
			}
			if err := b.dispatch(bound, snapshot, append([]byte(nil), push...), cmd.groups); err != nil {
				return err
			}
		case opBarrier:
			b.mu.Lock()
			b.stats.Barriers++
			b.mu.Unlock()
		}
	}
	return nil
}

func (b *Backend) dispatch(p *pipeline, tables map[uint32]*bindingTable, push []byte, groups [3]uint32) error {
	state := &dispatchState{pipeline: p, tables: tables, push: push}

	// At most b.workers work groups run at once.
	ctx := context.Background()
	sem := xsem.NewWeighted(int64(b.workers))
	var once sync.Once
	var err error
	for z := uint32(0); z < groups[2]; z++ {
		for y := uint32(0); y < groups[1]; y++ {
			for x := uint32(0); x < groups[0]; x++ {
				inv := &Invocation{
					WorkGroupID:   [3]uint32{x, y, z},
					NumWorkGroups: groups,
					LocalSize:     p.localSize,
					state:         state,
				}
				// Acquire only fails on a cancelled context.
				_ = sem.Acquire(ctx, 1)
				go func() {
					defer sem.Release(1)
					if kerr := p.kernel(inv); kerr != nil {
						once.Do(func() {
							err = fmt.Errorf("kernel %s work group %v: %w", p.name, inv.WorkGroupID, kerr)
						})
					}
				}()
			}
		}
	}
	// Taking every slot waits for the last work group.
	_ = sem.Acquire(ctx, int64(b.workers))
	sem.Release(int64(b.workers))

	b.mu.Lock()
	b.stats.Dispatches++
	b.stats.WorkGroups += uint64(groups[0]) * uint64(groups[1]) * uint64(groups[2])
	b.mu.Unlock()
	return err
}
