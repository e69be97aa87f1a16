package radixsort

// dispatchPlan describes how a single logical dispatch of n workgroups
// is split into one or more 2D dispatches, each within the device's
// per-dimension workgroup limit, plus the workgroup_offset each split
// contributes so the kernel can reconstruct a single linear workgroup
// index (spec.md §4.7: "wg.y*num_wg.x + wg.x + workgroup_offset").
type dispatchPlan struct {
	splits []dispatchSplit
}

type dispatchSplit struct {
	x, y, z uint32
	offset  uint32
}

// planDispatch splits n total workgroups into 2D grids no larger than
// maxDim per dimension, covering n workgroups across as many
// consecutive dispatches as required.
func planDispatch(n uint32, maxDim uint32) dispatchPlan {
	if n == 0 {
		return dispatchPlan{}
	}
	if maxDim == 0 {
		maxDim = DefaultMaxDispatchDimension
	}

	var plan dispatchPlan
	var offset uint32
	remaining := n
	for remaining > 0 {
		chunk := remaining
		maxChunk := maxDim * maxDim
		if chunk > maxChunk {
			chunk = maxChunk
		}
		x := chunk
		y := uint32(1)
		if x > maxDim {
			y = (chunk + maxDim - 1) / maxDim
			x = maxDim
		}
		plan.splits = append(plan.splits, dispatchSplit{x: x, y: y, z: 1, offset: offset})
		// x*y may exceed chunk when chunk isn't a multiple of maxDim; the
		// surplus workgroups in the last row reconstruct a linear id past
		// the valid range and must be bounds-checked away by the kernel
		// itself (against number_of_blks or number_of_keys).
		offset += chunk
		remaining -= chunk
	}
	return plan
}
