//go:build !nogpu

package device

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// fenceTimeout bounds how long Submit's fence wait and buffer readback
// wait for the GPU. WaitIdle does not use it.
const fenceTimeout = 30 * time.Second

// WGPUDevice implements Device against the gogpu/wgpu hal backend.
//
// Callers obtain a hal.Device/hal.Queue pair themselves (adapter
// selection is a host concern, not this package's — see
// cmd/radixsortdemo for a standalone example) and hand them to
// NewWGPUDevice.
//
// WGPUDevice is not safe for concurrent use: its resource tables and
// pending command encoder have no locking.
type WGPUDevice struct {
	dev   hal.Device
	queue hal.Queue

	buffers         map[BufferID]hal.Buffer
	bufferSizes     map[BufferID]uint64
	shaderModules   map[ShaderModuleID]hal.ShaderModule
	bgLayouts       map[BindGroupLayoutID]hal.BindGroupLayout
	pipelineLayouts map[PipelineLayoutID]hal.PipelineLayout
	pipelines       map[ComputePipelineID]hal.ComputePipeline
	bindGroups      map[BindGroupID]hal.BindGroup

	nextID uint64

	pendingEncoder hal.CommandEncoder
	pendingBuffer  hal.CommandBuffer
}

// NewWGPUDevice wraps an already-initialized hal.Device/hal.Queue pair.
func NewWGPUDevice(dev hal.Device, queue hal.Queue) *WGPUDevice {
	return &WGPUDevice{
		dev:             dev,
		queue:           queue,
		buffers:         make(map[BufferID]hal.Buffer),
		bufferSizes:     make(map[BufferID]uint64),
		shaderModules:   make(map[ShaderModuleID]hal.ShaderModule),
		bgLayouts:       make(map[BindGroupLayoutID]hal.BindGroupLayout),
		pipelineLayouts: make(map[PipelineLayoutID]hal.PipelineLayout),
		pipelines:       make(map[ComputePipelineID]hal.ComputePipeline),
		bindGroups:      make(map[BindGroupID]hal.BindGroup),
	}
}

func (d *WGPUDevice) allocID() uint64 {
	d.nextID++
	return d.nextID
}

// Capabilities reports the limits exposed by the underlying hal.Device.
func (d *WGPUDevice) Capabilities() Capabilities {
	limits := d.dev.Limits()
	return Capabilities{
		SupportsCompute:                  true,
		SupportsPushConstants:             limits.MaxPushConstantSize > 0,
		SupportsSubgroupBallot:            d.dev.SupportsSubgroups(),
		MaxPushConstantSize:               limits.MaxPushConstantSize,
		MaxComputeWorkgroupsPerDimension:  limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       uint64(limits.MaxStorageBufferBindingSize),
	}
}

func (d *WGPUDevice) SubgroupSize(ctx context.Context, probe ComputePipelineID, resultGroup BindGroupID, resultBuf BufferID) (uint32, error) {
	enc := d.BeginComputePass()
	enc.SetPipeline(probe)
	enc.SetBindGroup(0, resultGroup)
	enc.DispatchWorkgroups(1, 1, 1)
	enc.End()
	d.Submit()
	d.WaitIdle()

	data, err := d.ReadBuffer(ctx, resultBuf, 0, 4)
	if err != nil {
		return 0, fmt.Errorf("device: read subgroup size probe result: %w", err)
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24, nil
}

func (d *WGPUDevice) CreateShaderModule(wgsl string, label string) (ShaderModuleID, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return 0, fmt.Errorf("device: compile shader module %q: %w", label, err)
	}
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	mod, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return 0, fmt.Errorf("device: create shader module %q: %w", label, err)
	}
	id := ShaderModuleID(d.allocID())
	d.shaderModules[id] = mod
	return id, nil
}

func (d *WGPUDevice) DestroyShaderModule(id ShaderModuleID) {
	if mod, ok := d.shaderModules[id]; ok {
		d.dev.DestroyShaderModule(mod)
		delete(d.shaderModules, id)
	}
}

func (d *WGPUDevice) CreateBuffer(size uint64, usage BufferUsage) (BufferID, error) {
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Size:  size,
		Usage: toGPUTypesUsage(usage),
	})
	if err != nil {
		return 0, fmt.Errorf("device: create buffer: %w", err)
	}
	id := BufferID(d.allocID())
	d.buffers[id] = buf
	d.bufferSizes[id] = size
	return id, nil
}

func (d *WGPUDevice) DestroyBuffer(id BufferID) {
	if buf, ok := d.buffers[id]; ok {
		d.dev.DestroyBuffer(buf)
		delete(d.buffers, id)
		delete(d.bufferSizes, id)
	}
}

func (d *WGPUDevice) BufferSize(id BufferID) (uint64, bool) {
	size, ok := d.bufferSizes[id]
	return size, ok
}

func (d *WGPUDevice) WriteBuffer(id BufferID, offset uint64, data []byte) {
	if buf, ok := d.buffers[id]; ok {
		d.queue.WriteBuffer(buf, offset, data)
	}
}

func (d *WGPUDevice) ReadBuffer(ctx context.Context, id BufferID, offset, size uint64) ([]byte, error) {
	buf, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("device: read buffer: unknown buffer id %d", id)
	}
	data, err := d.dev.ReadBuffer(buf, offset, size, fenceTimeout)
	if err != nil {
		return nil, fmt.Errorf("device: read buffer: %w", err)
	}
	return data, nil
}

func (d *WGPUDevice) CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Entries))
	for i, e := range desc.Entries {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    e.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: toGPUTypesBindingType(e.Type), MinBindingSize: e.MinBindingSize},
		}
	}
	layout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("device: create bind group layout %q: %w", desc.Label, err)
	}
	id := BindGroupLayoutID(d.allocID())
	d.bgLayouts[id] = layout
	return id, nil
}

func (d *WGPUDevice) DestroyBindGroupLayout(id BindGroupLayoutID) {
	if l, ok := d.bgLayouts[id]; ok {
		d.dev.DestroyBindGroupLayout(l)
		delete(d.bgLayouts, id)
	}
}

func (d *WGPUDevice) CreatePipelineLayout(layouts []BindGroupLayoutID, pushConstantSize uint32) (PipelineLayoutID, error) {
	hLayouts := make([]hal.BindGroupLayout, len(layouts))
	for i, l := range layouts {
		hLayouts[i] = d.bgLayouts[l]
	}
	var pcRanges []hal.PushConstantRange
	if pushConstantSize > 0 {
		pcRanges = []hal.PushConstantRange{{
			Stages: gputypes.ShaderStageCompute,
			Offset: 0,
			Size:   pushConstantSize,
		}}
	}
	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		BindGroupLayouts:   hLayouts,
		PushConstantRanges: pcRanges,
	})
	if err != nil {
		return 0, fmt.Errorf("device: create pipeline layout: %w", err)
	}
	id := PipelineLayoutID(d.allocID())
	d.pipelineLayouts[id] = layout
	return id, nil
}

func (d *WGPUDevice) DestroyPipelineLayout(id PipelineLayoutID) {
	if l, ok := d.pipelineLayouts[id]; ok {
		d.dev.DestroyPipelineLayout(l)
		delete(d.pipelineLayouts, id)
	}
}

func (d *WGPUDevice) CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error) {
	pipeline, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: d.pipelineLayouts[desc.Layout],
		Compute: hal.ComputeState{
			Module:     d.shaderModules[desc.ShaderModule],
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("device: create compute pipeline %q: %w", desc.Label, err)
	}
	id := ComputePipelineID(d.allocID())
	d.pipelines[id] = pipeline
	return id, nil
}

func (d *WGPUDevice) DestroyComputePipeline(id ComputePipelineID) {
	if p, ok := d.pipelines[id]; ok {
		d.dev.DestroyComputePipeline(p)
		delete(d.pipelines, id)
	}
}

func (d *WGPUDevice) CreateBindGroup(layout BindGroupLayoutID, entries []BindGroupEntry) (BindGroupID, error) {
	gEntries := make([]gputypes.BindGroupEntry, len(entries))
	for i, e := range entries {
		gEntries[i] = gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: d.buffers[e.Buffer].NativeHandle(),
				Offset: e.Offset,
				Size:   e.Size,
			},
		}
	}
	bg, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Layout:  d.bgLayouts[layout],
		Entries: gEntries,
	})
	if err != nil {
		return 0, fmt.Errorf("device: create bind group: %w", err)
	}
	id := BindGroupID(d.allocID())
	d.bindGroups[id] = bg
	return id, nil
}

func (d *WGPUDevice) DestroyBindGroup(id BindGroupID) {
	if bg, ok := d.bindGroups[id]; ok {
		d.dev.DestroyBindGroup(bg)
		delete(d.bindGroups, id)
	}
}

func (d *WGPUDevice) BeginComputePass() ComputePassEncoder {
	if d.pendingEncoder == nil {
		enc, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "radixsort"})
		if err != nil {
			return &failedPass{err: fmt.Errorf("device: create command encoder: %w", err)}
		}
		if err := enc.BeginEncoding("radixsort"); err != nil {
			return &failedPass{err: fmt.Errorf("device: begin encoding: %w", err)}
		}
		d.pendingEncoder = enc
	}
	pass := d.pendingEncoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "radixsort_pass"})
	return &wgpuComputePass{dev: d, pass: pass}
}

func (d *WGPUDevice) Submit() {
	if d.pendingEncoder == nil {
		return
	}
	cmdBuf, err := d.pendingEncoder.EndEncoding()
	d.pendingEncoder = nil
	if err != nil {
		return
	}
	fence, err := d.dev.CreateFence()
	if err != nil {
		return
	}
	_ = d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1)
	_, _ = d.dev.Wait(fence, 1, fenceTimeout)
	d.dev.DestroyFence(fence)
	d.dev.FreeCommandBuffer(cmdBuf)
}

func (d *WGPUDevice) WaitIdle() {
	d.dev.WaitIdle()
}

// wgpuComputePass adapts hal's compute pass encoder to device.ComputePassEncoder.
type wgpuComputePass struct {
	dev  *WGPUDevice
	pass hal.ComputePassEncoder
}

func (p *wgpuComputePass) SetPipeline(pipeline ComputePipelineID) {
	p.pass.SetPipeline(p.dev.pipelines[pipeline])
}

func (p *wgpuComputePass) SetBindGroup(index uint32, group BindGroupID) {
	p.pass.SetBindGroup(index, p.dev.bindGroups[group], nil)
}

func (p *wgpuComputePass) SetPushConstants(offset uint32, data []byte) {
	p.pass.SetPushConstants(gputypes.ShaderStageCompute, offset, data)
}

func (p *wgpuComputePass) DispatchWorkgroups(x, y, z uint32) {
	p.pass.Dispatch(x, y, z)
}

func (p *wgpuComputePass) End() {
	p.pass.End()
}

// failedPass is returned by BeginComputePass when recording could not
// even start; every call is a no-op so the caller's subsequent
// End()/Submit() sequence stays safe. The error is kept in err but not
// reported to the caller: Submit finds no pending encoder and returns
// without submitting anything, so the dispatches never run. Nothing
// panics.
type failedPass struct{ err error }

func (*failedPass) SetPipeline(ComputePipelineID)       {}
func (*failedPass) SetBindGroup(uint32, BindGroupID)    {}
func (*failedPass) SetPushConstants(uint32, []byte)     {}
func (*failedPass) DispatchWorkgroups(uint32, uint32, uint32) {}
func (*failedPass) End()                                {}

func toGPUTypesUsage(u BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u&BufferUsageMapRead != 0 {
		out |= gputypes.BufferUsageMapRead
	}
	if u&BufferUsageMapWrite != 0 {
		out |= gputypes.BufferUsageMapWrite
	}
	if u&BufferUsageCopySrc != 0 {
		out |= gputypes.BufferUsageCopySrc
	}
	if u&BufferUsageCopyDst != 0 {
		out |= gputypes.BufferUsageCopyDst
	}
	if u&BufferUsageStorage != 0 {
		out |= gputypes.BufferUsageStorage
	}
	if u&BufferUsageUniform != 0 {
		out |= gputypes.BufferUsageUniform
	}
	return out
}

func toGPUTypesBindingType(t BindingType) gputypes.BufferBindingType {
	switch t {
	case BindingTypeUniformBuffer:
		return gputypes.BufferBindingTypeUniform
	case BindingTypeReadOnlyStorageBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}
