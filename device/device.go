package device

import "context"

// Device abstracts over GPU compute backends.
//
// This is the core abstraction that lets radixsort work against any
// backend capable of storage buffers, push constants, workgroup
// barriers, and subgroup (wave) ballot/scan intrinsics — currently the
// github.com/gogpu/wgpu/hal backend. Implementations must be
// thread-safe for concurrent use unless documented otherwise.
//
// Resource lifecycle:
//   - Resources are created via Create* methods.
//   - Resources must be explicitly destroyed via Destroy* methods.
//   - Destroying a resource while in use is undefined behavior.
//   - IDs become invalid after destruction and must not be reused.
type Device interface {
	// Capabilities returns the device's compute capabilities, including
	// subgroup and push-constant support.
	Capabilities() Capabilities

	// SubgroupSize dispatches the probe kernel supplied by the caller,
	// with resultGroup already bound to its single storage-buffer
	// binding, and reads back the device's reported subgroup size from
	// resultBuf afterward.
	//
	// radixsort calls this once, through ProbeSubgroupSize, rather than
	// implementing it itself, since the probe mechanism (a one-workgroup
	// dispatch plus a one-word readback) is identical across backends.
	SubgroupSize(ctx context.Context, probe ComputePipelineID, resultGroup BindGroupID, resultBuf BufferID) (uint32, error)

	// === Shader Compilation ===

	// CreateShaderModule creates a shader module from WGSL source. The
	// backend is responsible for compiling it (via naga) to whatever
	// intermediate representation it actually runs.
	CreateShaderModule(wgsl string, label string) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// === Buffer Management ===

	// CreateBuffer creates a GPU buffer of the given size and usage.
	CreateBuffer(size uint64, usage BufferUsage) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// BufferSize returns the size in bytes a buffer was created with,
	// and false if id is not a live buffer. Callers use this to reject
	// undersized caller-supplied buffers before recording dispatches
	// rather than letting the GPU read or write out of bounds.
	BufferSize(id BufferID) (uint64, bool)

	// WriteBuffer uploads data to a buffer at the given byte offset.
	WriteBuffer(id BufferID, offset uint64, data []byte)

	// ReadBuffer reads size bytes back from a buffer at the given byte
	// offset. This may stall for GPU-CPU synchronization.
	ReadBuffer(ctx context.Context, id BufferID, offset, size uint64) ([]byte, error)

	// === Pipeline Management ===

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout from a set of bind
	// group layouts and a push-constant range size in bytes (0 if none).
	CreatePipelineLayout(layouts []BindGroupLayoutID, pushConstantSize uint32) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup creates a bind group binding actual resources to a
	// layout.
	CreateBindGroup(layout BindGroupLayoutID, entries []BindGroupEntry) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// BeginComputePass begins a compute pass and returns an encoder for
	// recording commands into it. The encoder must be ended with
	// ComputePassEncoder.End() before Submit.
	BeginComputePass() ComputePassEncoder

	// Submit submits all recorded compute passes since the last Submit.
	Submit()

	// WaitIdle blocks until all submitted GPU work has completed. Use
	// sparingly; it is a full GPU-CPU synchronization point.
	WaitIdle()
}

// ComputePassEncoder records compute commands within a single pass.
//
// Usage:
//  1. Obtain an encoder from Device.BeginComputePass.
//  2. Set a pipeline, bind groups, and push constants.
//  3. Dispatch workgroups.
//  4. Call End.
//  5. Call Device.Submit to execute.
//
// The encoder is single-use; it cannot be reused after End.
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the given index.
	SetBindGroup(index uint32, group BindGroupID)

	// SetPushConstants uploads data into the pipeline's push-constant
	// range at the given byte offset. data's length plus offset must not
	// exceed the range declared when the pipeline layout was created.
	SetPushConstants(offset uint32, data []byte)

	// DispatchWorkgroups dispatches x*y*z workgroups.
	DispatchWorkgroups(x, y, z uint32)

	// End finishes recording. The encoder cannot be used again.
	End()
}

// Capabilities describes what a Device can do. radixsort checks these
// at Open time and returns ErrUnsupportedDevice if any required
// capability is missing.
type Capabilities struct {
	// SupportsCompute indicates compute shader support.
	SupportsCompute bool

	// SupportsPushConstants indicates the device can deliver push
	// constants to compute pipelines.
	SupportsPushConstants bool

	// SupportsSubgroupBallot indicates subgroup ballot/inclusive-add/add
	// intrinsics are available in WGSL via `enable subgroups;`.
	SupportsSubgroupBallot bool

	// MaxPushConstantSize is the maximum push-constant range size in
	// bytes the device supports.
	MaxPushConstantSize uint32

	// MaxComputeWorkgroupsPerDimension is the maximum number of
	// workgroups per dispatch dimension (commonly 65535).
	MaxComputeWorkgroupsPerDimension uint32

	// MaxStorageBufferBindingSize is the maximum storage buffer binding
	// size in bytes.
	MaxStorageBufferBindingSize uint64
}
