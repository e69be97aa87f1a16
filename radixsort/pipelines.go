package radixsort

import (
	"context"
	"fmt"

	"github.com/gogpu/radixsort/device"
)

// pipelineKind identifies one of the kernels wired into a Sorter.
type pipelineKind int

const (
	pipelineCountRadix pipelineKind = iota
	pipelineScanUpSweep
	pipelineScanDownSweep
	pipelineScanLastBlock
	pipelineScatter
	pipelineProbe
)

func (k pipelineKind) shaderFile() string {
	switch k {
	case pipelineCountRadix:
		return "count.wgsl"
	case pipelineScanUpSweep:
		return "scan_upsweep.wgsl"
	case pipelineScanDownSweep:
		return "scan_downsweep.wgsl"
	case pipelineScanLastBlock:
		return "scan_lastblock.wgsl"
	case pipelineScatter:
		return "scatter.wgsl"
	case pipelineProbe:
		return "probe.wgsl"
	default:
		return ""
	}
}

func (k pipelineKind) String() string {
	switch k {
	case pipelineCountRadix:
		return "count_radix"
	case pipelineScanUpSweep:
		return "scan_up_sweep"
	case pipelineScanDownSweep:
		return "scan_down_sweep"
	case pipelineScanLastBlock:
		return "scan_last_block"
	case pipelineScatter:
		return "scatter"
	case pipelineProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// pipelineSet holds the compiled resources for every kernel a Sorter
// drives, keyed by pipelineKind. Every kernel shares the same bind
// group layout and pipeline layout, since the C3-C7 kernels all bind
// the same five buffers even when a given kernel ignores some of them.
type pipelineSet struct {
	bgLayout device.BindGroupLayoutID
	layout   device.PipelineLayoutID
	modules  map[pipelineKind]device.ShaderModuleID
	pipes    map[pipelineKind]device.ComputePipelineID
}

func buildPipelineSet(ctx context.Context, dev device.Device, spec specialization) (*pipelineSet, error) {
	bgLayout, err := dev.CreateBindGroupLayout(&device.BindGroupLayoutDesc{
		Label: "radixsort.bindings",
		Entries: []device.BindGroupLayoutEntry{
			{Binding: 0, Type: device.BindingTypeReadOnlyStorageBuffer},
			{Binding: 1, Type: device.BindingTypeReadOnlyStorageBuffer},
			{Binding: 2, Type: device.BindingTypeStorageBuffer},
			{Binding: 3, Type: device.BindingTypeStorageBuffer},
			{Binding: 4, Type: device.BindingTypeStorageBuffer},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("radixsort: create bind group layout: %w", err)
	}

	layout, err := dev.CreatePipelineLayout([]device.BindGroupLayoutID{bgLayout}, pushConstantsSize)
	if err != nil {
		dev.DestroyBindGroupLayout(bgLayout)
		return nil, fmt.Errorf("radixsort: create pipeline layout: %w", err)
	}

	ps := &pipelineSet{
		bgLayout: bgLayout,
		layout:   layout,
		modules:  make(map[pipelineKind]device.ShaderModuleID),
		pipes:    make(map[pipelineKind]device.ComputePipelineID),
	}

	kinds := []pipelineKind{
		pipelineCountRadix,
		pipelineScanUpSweep,
		pipelineScanDownSweep,
		pipelineScanLastBlock,
		pipelineScatter,
	}
	for _, kind := range kinds {
		if err := ps.compile(ctx, dev, kind, spec); err != nil {
			ps.Close(dev)
			return nil, err
		}
	}
	return ps, nil
}

func (ps *pipelineSet) compile(ctx context.Context, dev device.Device, kind pipelineKind, spec specialization) error {
	src, err := shaderSource(kind.shaderFile(), spec)
	if err != nil {
		return err
	}
	mod, err := dev.CreateShaderModule(src, kind.String())
	if err != nil {
		return fmt.Errorf("radixsort: compile %s: %w", kind, err)
	}
	pipe, err := dev.CreateComputePipeline(&device.ComputePipelineDesc{
		Label:            "radixsort." + kind.String(),
		Layout:           ps.layout,
		ShaderModule:     mod,
		EntryPoint:       "main",
		PushConstantSize: pushConstantsSize,
	})
	if err != nil {
		dev.DestroyShaderModule(mod)
		return fmt.Errorf("radixsort: create pipeline %s: %w", kind, err)
	}
	ps.modules[kind] = mod
	ps.pipes[kind] = pipe
	return nil
}

func (ps *pipelineSet) Close(dev device.Device) {
	for kind, pipe := range ps.pipes {
		dev.DestroyComputePipeline(pipe)
		delete(ps.pipes, kind)
	}
	for kind, mod := range ps.modules {
		dev.DestroyShaderModule(mod)
		delete(ps.modules, kind)
	}
	if ps.layout != device.InvalidID {
		dev.DestroyPipelineLayout(ps.layout)
		ps.layout = device.InvalidID
	}
	if ps.bgLayout != device.InvalidID {
		dev.DestroyBindGroupLayout(ps.bgLayout)
		ps.bgLayout = device.InvalidID
	}
}
