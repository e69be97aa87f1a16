package radixsort

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/radixsort/device"
)

// Request describes one sort: the key buffer to sort in place (by
// ping-pong, not literally in place — see Result), its length, and an
// optional values buffer permuted identically. Buffer allocation for
// Keys and Values is the caller's responsibility (spec.md §1); Sort
// only allocates the scratch ping-pong side and the block-histogram
// matrix it needs internally.
type Request struct {
	// Keys is the key buffer to sort, holding N uint32 elements.
	Keys device.BufferID

	// Values is the values buffer permuted identically to Keys. If
	// device.InvalidID, pass 0 synthesizes the identity permutation
	// (val = original index) as specified by spec.md §4.7.
	Values device.BufferID

	// N is the number of key/value pairs.
	N uint32
}

// Result names which buffers hold the sorted output after a Sort or
// SortPasses call. Keys and Values may be the Request's own buffers or
// the Sorter's internal scratch buffers, depending on how many passes
// ran — callers must use Result, not assume Request.Keys still holds
// the answer.
type Result struct {
	Keys   device.BufferID
	Values device.BufferID
}

// Sorter drives the four-pass LSD radix sort choreography (C8) against
// one device.Device. Create with Open; release GPU resources with
// Close when done.
//
// A *Sorter is safe for concurrent Sort/SortPasses calls only if the
// underlying device.Device documents itself safe for concurrent
// command submission; Sorter itself serializes access to its own
// scratch buffers with a mutex so concurrent callers never corrupt
// each other's ping-pong state, but that only protects Sorter's
// bookkeeping, not the device below it.
type Sorter struct {
	dev   device.Device
	opts  options
	spec  specialization
	pipes *pipelineSet

	mu     sync.Mutex
	bufs   buffers
	closed bool
}

// Open probes the device's subgroup size (C2), validates its
// capabilities, compiles the five working pipelines specialized for
// that subgroup size, and returns a ready-to-use Sorter.
func Open(ctx context.Context, dev device.Device, opts ...Option) (*Sorter, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.rowsPerWorkgroup <= 0 {
		return nil, ErrInvalidRowsPerWorkgroup
	}
	if uint64(ThreadsPerWorkgroup)*uint64(o.rowsPerWorkgroup) > 1<<32-1 {
		return nil, ErrInvalidRowsPerWorkgroup
	}

	caps := dev.Capabilities()
	if !caps.SupportsCompute || !caps.SupportsPushConstants || !caps.SupportsSubgroupBallot {
		return nil, ErrUnsupportedDevice
	}
	if m := caps.MaxComputeWorkgroupsPerDimension; m != 0 && m < o.maxDispatchDim {
		o.maxDispatchDim = m
	}

	subgroupSize, err := ProbeSubgroupSize(ctx, dev)
	if err != nil {
		return nil, err
	}

	spec := specialization{rowsPerWorkgroup: o.rowsPerWorkgroup, subgroupSize: subgroupSize}
	pipes, err := buildPipelineSet(ctx, dev, spec)
	if err != nil {
		return nil, err
	}

	return &Sorter{dev: dev, opts: o, spec: spec, pipes: pipes}, nil
}

// Close releases the Sorter's compiled pipelines and scratch buffers.
// The Sorter must not be used afterward.
func (s *Sorter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.bufs.release(s.dev)
	s.pipes.Close(s.dev)
	return nil
}

// Sort runs all four LSD passes over req, equivalent to
// SortPasses(ctx, req, [2]int{0, NumPasses}).
func (s *Sorter) Sort(ctx context.Context, req Request) (Result, error) {
	return s.SortPasses(ctx, req, [2]int{0, NumPasses})
}

// SortPasses runs LSD passes [passes[0], passes[1]) over req. Running
// a strict subset of the four passes leaves the key/value pairs
// partially sorted by the low bits already processed; this is exposed
// for profiling individual passes, matching the original pass-range
// driver parameter this was generalized from (see DESIGN.md).
func (s *Sorter) SortPasses(ctx context.Context, req Request, passes [2]int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, ErrClosed
	}
	p0, p1 := passes[0], passes[1]
	if p0 < 0 || p1 > NumPasses || p0 >= p1 {
		return Result{}, ErrInvalidPassRange
	}
	if req.N == 0 {
		return Result{Keys: req.Keys, Values: req.Values}, nil
	}
	if err := s.checkBufferSize(req.Keys, req.N); err != nil {
		return Result{}, err
	}
	if req.Values != device.InvalidID {
		if err := s.checkBufferSize(req.Values, req.N); err != nil {
			return Result{}, err
		}
	}

	nb, bp2, err := s.bufs.ensure(s.dev, req.N, s.opts.rowsPerWorkgroup)
	if err != nil {
		return Result{}, err
	}

	valsSideA := req.Values
	if valsSideA == device.InvalidID {
		valsSideA = s.bufs.ownedVals
	}

	enc := s.dev.BeginComputePass()

	for p := p0; p < p1; p++ {
		// On pass 0 with no caller-supplied values, readVals (bound to
		// satisfy the binding) is never actually read: the scatter
		// kernel's init_index path takes priority over vals_in.
		readKeys, readVals, writeKeys, writeVals := s.bufs.sides(p, req.Keys, valsSideA)

		initIndex := uint32(0)
		if p == 0 && req.Values == device.InvalidID {
			initIndex = 1
		}

		bg, err := s.dev.CreateBindGroup(s.pipes.bgLayout, []device.BindGroupEntry{
			{Binding: 0, Buffer: readKeys},
			{Binding: 1, Buffer: readVals},
			{Binding: 2, Buffer: s.bufs.blocks},
			{Binding: 3, Buffer: writeKeys},
			{Binding: 4, Buffer: writeVals},
		})
		if err != nil {
			enc.End()
			return Result{}, fmt.Errorf("radixsort: create bind group for pass %d: %w", p, err)
		}
		defer s.dev.DestroyBindGroup(bg)

		splitCount := s.runPass(enc, bg, uint32(p), req.N, nb, bp2, initIndex)
		s.opts.effectiveLogger().DebugContext(ctx, "radix pass dispatched",
			"pass", p, "blocks", nb, "blocks_pow2", bp2, "splits", splitCount)
	}

	enc.End()
	s.dev.Submit()
	s.dev.WaitIdle()

	finalKeys, finalVals := req.Keys, valsSideA
	if (p1-1)%2 == 0 {
		finalKeys, finalVals = s.bufs.keysScratch, s.bufs.valsScratch
	}
	return Result{Keys: finalKeys, Values: finalVals}, nil
}

// checkBufferSize rejects a caller-supplied buffer too small to hold n
// uint32 elements, before any dispatch referencing it is recorded.
func (s *Sorter) checkBufferSize(id device.BufferID, n uint32) error {
	size, ok := s.dev.BufferSize(id)
	if !ok {
		return fmt.Errorf("%w: buffer id %d is not a live buffer on this device", ErrBufferTooSmall, id)
	}
	need := uint64(n) * elemSize
	if size < need {
		return fmt.Errorf("%w: buffer id %d holds %d bytes, need %d for N=%d", ErrBufferTooSmall, id, size, need, n)
	}
	return nil
}

// runPass records every dispatch for one LSD pass (count, up-sweep,
// down-sweep, last-block scan, scatter) into enc using bg for all five
// bindings, and returns the total number of split dispatches issued.
func (s *Sorter) runPass(enc device.ComputePassEncoder, bg device.BindGroupID, pass, numKeys, nb, bp2, initIndex uint32) int {
	maxDim := s.opts.maxDispatchDim
	splitCount := 0

	dispatch := func(kind pipelineKind, n uint32, sweepSize uint32) {
		enc.SetPipeline(s.pipes.pipes[kind])
		enc.SetBindGroup(0, bg)
		plan := planDispatch(n, maxDim)
		for _, split := range plan.splits {
			pc := pushConstants{
				workgroupOffset: split.offset,
				numberOfKeys:    numKeys,
				numberOfBlocks:  bp2,
				passIndex:       pass,
				sweepSize:       sweepSize,
				initIndex:       initIndex,
			}
			enc.SetPushConstants(0, pc.toBytes())
			enc.DispatchWorkgroups(split.x, split.y, split.z)
			splitCount++
		}
	}

	// Count runs over all B_pow2 rows so the padded rows past B are
	// rewritten as zeros each pass before the scans read them.
	dispatch(pipelineCountRadix, bp2, 0)

	for stride := uint32(1); stride < bp2; stride <<= 1 {
		n := bp2 / (2 * stride)
		if n == 0 {
			break
		}
		dispatch(pipelineScanUpSweep, n, stride)
	}

	for stride := bp2 / 4; stride >= 1; stride >>= 1 {
		n := bp2/(2*stride) - 1
		if n == 0 {
			continue
		}
		dispatch(pipelineScanDownSweep, n, stride)
	}

	dispatch(pipelineScanLastBlock, 1, 0)
	dispatch(pipelineScatter, nb, 0)

	return splitCount
}
