// Package simdevice is a software device.Device used only by tests. It
// computes the same count/scan/scatter semantics the WGSL kernels in
// radixsort/shaders express, in ordinary Go slices, so radixsort's
// dispatch-splitting, ping-pong bookkeeping, and push-constant packing
// get exercised without a real GPU queue. It is never imported by
// radixsort's production code.
package simdevice

import (
	"context"
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/gogpu/radixsort/device"
)

var rowsPerWorkgroupConst = regexp.MustCompile(`const ROWS_PER_WORKGROUP: u32 = (\d+)u;`)

const (
	radixBits           = 8
	radixCardinality    = 1 << radixBits
	threadsPerWorkgroup = radixCardinality
)

// Option configures a Device at construction.
type Option func(*Device)

// WithSubgroupSize overrides the subgroup size the probe kernel
// reports. Defaults to 32.
func WithSubgroupSize(s uint32) Option {
	return func(d *Device) { d.subgroupSize = s }
}

// WithMaxDispatchDimension overrides the per-dimension workgroup bound
// Capabilities reports, letting tests force radixsort's dispatch
// splitting to engage (E6) without allocating a real 65535^2-sized run.
func WithMaxDispatchDimension(n uint32) Option {
	return func(d *Device) { d.maxDispatchDim = n }
}

// Device is a software, single-threaded implementation of
// device.Device. It is safe for concurrent Sort calls: all public
// methods serialize on a single mutex, documented per
// device.Device's "implementations must state this" contract.
type Device struct {
	mu sync.Mutex

	buffers           map[device.BufferID][]byte
	bindGroups        map[device.BindGroupID][]device.BindGroupEntry
	pipelineLabel     map[device.ComputePipelineID]string
	pipelineRows      map[device.ComputePipelineID]uint32
	shaderRowsPerWork map[device.ShaderModuleID]uint32

	nextID uint64

	subgroupSize   uint32
	maxDispatchDim uint32
}

// New constructs a ready-to-use software Device.
func New(opts ...Option) *Device {
	d := &Device{
		buffers:           make(map[device.BufferID][]byte),
		bindGroups:        make(map[device.BindGroupID][]device.BindGroupEntry),
		pipelineLabel:     make(map[device.ComputePipelineID]string),
		pipelineRows:      make(map[device.ComputePipelineID]uint32),
		shaderRowsPerWork: make(map[device.ShaderModuleID]uint32),
		subgroupSize:      32,
		maxDispatchDim:    65535,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) allocID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) Capabilities() device.Capabilities {
	return device.Capabilities{
		SupportsCompute:                  true,
		SupportsPushConstants:            true,
		SupportsSubgroupBallot:           true,
		MaxPushConstantSize:              24,
		MaxComputeWorkgroupsPerDimension: d.maxDispatchDim,
		MaxStorageBufferBindingSize:      1 << 30,
	}
}

func (d *Device) SubgroupSize(ctx context.Context, probe device.ComputePipelineID, resultGroup device.BindGroupID, resultBuf device.BufferID) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[resultBuf]
	if !ok || len(buf) < 4 {
		return 0, fmt.Errorf("simdevice: probe result buffer too small")
	}
	binary.LittleEndian.PutUint32(buf[0:4], d.subgroupSize)
	return d.subgroupSize, nil
}

func (d *Device) CreateShaderModule(wgsl string, label string) (device.ShaderModuleID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.ShaderModuleID(d.allocID())
	rows := uint32(0)
	if m := rowsPerWorkgroupConst.FindStringSubmatch(wgsl); m != nil {
		if n, err := strconv.ParseUint(m[1], 10, 32); err == nil {
			rows = uint32(n)
		}
	}
	d.shaderRowsPerWork[id] = rows
	return id, nil
}

func (d *Device) DestroyShaderModule(id device.ShaderModuleID) {}

func (d *Device) CreateBuffer(size uint64, usage device.BufferUsage) (device.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BufferID(d.allocID())
	d.buffers[id] = make([]byte, size)
	return id, nil
}

func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

func (d *Device) BufferSize(id device.BufferID) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return 0, false
	}
	return uint64(len(buf)), true
}

func (d *Device) WriteBuffer(id device.BufferID, offset uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return
	}
	copy(buf[offset:], data)
}

func (d *Device) ReadBuffer(ctx context.Context, id device.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("simdevice: unknown buffer")
	}
	if offset+size > uint64(len(buf)) {
		return nil, fmt.Errorf("simdevice: read out of range")
	}
	out := make([]byte, size)
	copy(out, buf[offset:offset+size])
	return out, nil
}

func (d *Device) CreateBindGroupLayout(desc *device.BindGroupLayoutDesc) (device.BindGroupLayoutID, error) {
	return device.BindGroupLayoutID(d.allocID()), nil
}

func (d *Device) DestroyBindGroupLayout(id device.BindGroupLayoutID) {}

func (d *Device) CreatePipelineLayout(layouts []device.BindGroupLayoutID, pushConstantSize uint32) (device.PipelineLayoutID, error) {
	return device.PipelineLayoutID(d.allocID()), nil
}

func (d *Device) DestroyPipelineLayout(id device.PipelineLayoutID) {}

func (d *Device) CreateComputePipeline(desc *device.ComputePipelineDesc) (device.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.ComputePipelineID(d.allocID())
	d.pipelineLabel[id] = desc.Label
	d.pipelineRows[id] = d.shaderRowsPerWork[desc.ShaderModule]
	return id, nil
}

func (d *Device) DestroyComputePipeline(id device.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLabel, id)
	delete(d.pipelineRows, id)
}

func (d *Device) CreateBindGroup(layout device.BindGroupLayoutID, entries []device.BindGroupEntry) (device.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := device.BindGroupID(d.allocID())
	cp := make([]device.BindGroupEntry, len(entries))
	copy(cp, entries)
	d.bindGroups[id] = cp
	return id, nil
}

func (d *Device) DestroyBindGroup(id device.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindGroups, id)
}

func (d *Device) BeginComputePass() device.ComputePassEncoder {
	return &passEncoder{dev: d}
}

func (d *Device) Submit() {}

func (d *Device) WaitIdle() {}

// passEncoder records a pipeline/bind-group/push-constant state and
// executes each dispatch immediately against the owning Device, since
// there is no real queue to defer to.
type passEncoder struct {
	dev     *Device
	label   string
	rows    uint32
	entries []device.BindGroupEntry
	pcBytes [24]byte
}

func (p *passEncoder) SetPipeline(pipeline device.ComputePipelineID) {
	p.label = p.dev.pipelineLabel[pipeline]
	p.rows = p.dev.pipelineRows[pipeline]
}

func (p *passEncoder) SetBindGroup(index uint32, group device.BindGroupID) {
	p.entries = p.dev.bindGroups[group]
}

func (p *passEncoder) SetPushConstants(offset uint32, data []byte) {
	copy(p.pcBytes[offset:], data)
}

func (p *passEncoder) DispatchWorkgroups(x, y, z uint32) {
	pc := decodePushConstants(p.pcBytes)
	p.dev.execute(p.label, p.rows, p.entries, pc, x, y, z)
}

func (p *passEncoder) End() {}
