package radixsort

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/radix/engine/compute/software"
	"github.com/spaghettifunk/radix/engine/core"
)

// RegisterSoftwareKernels installs Go versions of the histogram, scatter
// and single-group sort kernels for both key widths. They follow the same binding
// interface and the same work split as the compiled kernels.
func RegisterSoftwareKernels(b *software.Backend) {
	b.RegisterKernel(KernelName(HistogramKernel, 32), histogramKernel[uint32])
	b.RegisterKernel(KernelName(ScatterKernel, 32), scatterKernel[uint32])
	b.RegisterKernel(KernelName(HistogramKernel, 64), histogramKernel[uint64])
	b.RegisterKernel(KernelName(ScatterKernel, 64), scatterKernel[uint64])
	b.RegisterKernel(KernelName(SortKernel, 32), singleKernel[uint32])
	b.RegisterKernel(KernelName(SortKernel, 64), singleKernel[uint64])
}

type kernelParams struct {
	elements       uint32
	shift          uint32
	workGroups     uint32
	blocksPerGroup uint32
}

func readParams(inv *software.Invocation) (kernelParams, error) {
	var p kernelParams
	var err error
	fields := []struct {
		name string
		dst  *uint32
	}{
		{ParamNumElements, &p.elements},
		{ParamShift, &p.shift},
		{ParamNumWorkGroups, &p.workGroups},
		{ParamBlocksPerWorkGroup, &p.blocksPerGroup},
	}
	for _, f := range fields {
		if *f.dst, err = inv.Param(f.name); err != nil {
			return p, err
		}
	}
	if inv.LocalSize[0] != Bins {
		return p, fmt.Errorf("%w: radix kernels need %d invocations per work group, got %d",
			core.ErrInvalidConfig, Bins, inv.LocalSize[0])
	}
	return p, nil
}

// groupRange is the element range one work group owns.
func groupRange(p kernelParams, wid uint32) (uint32, uint32) {
	span := uint64(Bins) * uint64(p.blocksPerGroup)
	start := uint64(wid) * span
	end := start + span
	if end > uint64(p.elements) {
		end = uint64(p.elements)
	}
	if start > end {
		start = end
	}
	return uint32(start), uint32(end)
}

func histogramKernel[K Key](inv *software.Invocation) error {
	p, err := readParams(inv)
	if err != nil {
		return err
	}
	in, err := inv.Buffer(0, BindingElementsIn)
	if err != nil {
		return err
	}
	hist, err := inv.Buffer(0, BindingHistograms)
	if err != nil {
		return err
	}

	wid := inv.WorkGroupID[0]
	start, end := groupRange(p, wid)
	var counts [Bins]uint32
	for i := start; i < end; i++ {
		k := loadKey[K](in, int(i))
		counts[(uint64(k)>>p.shift)&(Bins-1)]++
	}
	base := int(wid) * Bins
	for bin, c := range counts {
		binary.LittleEndian.PutUint32(hist[(base+bin)*4:], c)
	}
	return nil
}

// scatterKernel places every key of the work group's range at its global
// rank for the current digit. Keys with equal digits keep their order.
func scatterKernel[K Key](inv *software.Invocation) error {
	p, err := readParams(inv)
	if err != nil {
		return err
	}
	in, err := inv.Buffer(0, BindingElementsIn)
	if err != nil {
		return err
	}
	out, err := inv.Buffer(0, BindingElementsOut)
	if err != nil {
		return err
	}
	hist, err := inv.Buffer(0, BindingHistograms)
	if err != nil {
		return err
	}

	wid := inv.WorkGroupID[0]
	var offsets [Bins]uint32
	var total uint32
	for bin := 0; bin < Bins; bin++ {
		offsets[bin] = total
		for w := uint32(0); w < p.workGroups; w++ {
			c := binary.LittleEndian.Uint32(hist[(int(w)*Bins+bin)*4:])
			if w < wid {
				offsets[bin] += c
			}
			total += c
		}
	}

	start, end := groupRange(p, wid)
	for i := start; i < end; i++ {
		k := loadKey[K](in, int(i))
		bin := (uint64(k) >> p.shift) & (Bins - 1)
		storeKey(out, int(offsets[bin]), k)
		offsets[bin]++
	}
	return nil
}

// singleKernel sorts the whole input by one digit. Invocation b counts the
// keys whose digit is below b and then writes the keys of bin b in input
// order, so no two invocations touch the same output slot.
func singleKernel[K Key](inv *software.Invocation) error {
	if inv.LocalSize[0] != Bins {
		return fmt.Errorf("%w: radix kernels need %d invocations per work group, got %d",
			core.ErrInvalidConfig, Bins, inv.LocalSize[0])
	}
	n, err := inv.Param(ParamNumElements)
	if err != nil {
		return err
	}
	shift, err := inv.Param(ParamShift)
	if err != nil {
		return err
	}
	in, err := inv.Buffer(0, BindingElementsIn)
	if err != nil {
		return err
	}
	out, err := inv.Buffer(0, BindingElementsOut)
	if err != nil {
		return err
	}
	if inv.WorkGroupID[0] != 0 {
		return nil
	}

	var offsets [Bins]uint32
	for i := 0; i < int(n); i++ {
		bin := (uint64(loadKey[K](in, i)) >> shift) & (Bins - 1)
		offsets[bin]++
	}
	var total uint32
	for bin := range offsets {
		c := offsets[bin]
		offsets[bin] = total
		total += c
	}
	for i := 0; i < int(n); i++ {
		k := loadKey[K](in, i)
		bin := (uint64(k) >> shift) & (Bins - 1)
		storeKey(out, int(offsets[bin]), k)
		offsets[bin]++
	}
	return nil
}
