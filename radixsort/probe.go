package radixsort

import (
	"context"
	"fmt"

	"github.com/gogpu/radixsort/device"
)

// ProbeSubgroupSize compiles and dispatches the C2 probe kernel against
// dev and returns the subgroup size it reports. Open calls this
// automatically; it is exported separately so callers can pick S ahead
// of time (for example to decide WithRowsPerWorkgroup) without opening
// a Sorter.
func ProbeSubgroupSize(ctx context.Context, dev device.Device) (uint32, error) {
	if dev == nil {
		return 0, ErrNilDevice
	}
	caps := dev.Capabilities()
	if !caps.SupportsCompute {
		return 0, ErrUnsupportedDevice
	}
	if !caps.SupportsSubgroupBallot {
		return 0, ErrUnsupportedDevice
	}

	bgLayout, err := dev.CreateBindGroupLayout(&device.BindGroupLayoutDesc{
		Label: "radixsort.probe.bindings",
		Entries: []device.BindGroupLayoutEntry{
			{Binding: 0, Type: device.BindingTypeStorageBuffer, MinBindingSize: 4},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe bind group layout: %w", err)
	}
	defer dev.DestroyBindGroupLayout(bgLayout)

	layout, err := dev.CreatePipelineLayout([]device.BindGroupLayoutID{bgLayout}, 0)
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe pipeline layout: %w", err)
	}
	defer dev.DestroyPipelineLayout(layout)

	src, err := shaderSource(pipelineProbe.shaderFile(), specialization{rowsPerWorkgroup: DefaultRowsPerWorkgroup, subgroupSize: 1})
	if err != nil {
		return 0, err
	}
	mod, err := dev.CreateShaderModule(src, pipelineProbe.String())
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe shader module: %w", err)
	}
	defer dev.DestroyShaderModule(mod)

	pipe, err := dev.CreateComputePipeline(&device.ComputePipelineDesc{
		Label:        "radixsort.probe",
		Layout:       layout,
		ShaderModule: mod,
		EntryPoint:   "main",
	})
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe pipeline: %w", err)
	}
	defer dev.DestroyComputePipeline(pipe)

	resultBuf, err := dev.CreateBuffer(4, device.BufferUsageStorage|device.BufferUsageCopySrc|device.BufferUsageCopyDst)
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe result buffer: %w", err)
	}
	defer dev.DestroyBuffer(resultBuf)

	resultGroup, err := dev.CreateBindGroup(bgLayout, []device.BindGroupEntry{
		{Binding: 0, Buffer: resultBuf, Size: 4},
	})
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe bind group: %w", err)
	}
	defer dev.DestroyBindGroup(resultGroup)

	size, err := dev.SubgroupSize(ctx, pipe, resultGroup, resultBuf)
	if err != nil {
		return 0, fmt.Errorf("radixsort: probe subgroup size: %w", err)
	}
	if !isPortableSubgroupSize(size) {
		Logger().WarnContext(ctx, "probed subgroup size outside documented set",
			"subgroup_size", size)
	}
	return size, nil
}
