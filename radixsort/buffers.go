package radixsort

import (
	"fmt"

	"github.com/gogpu/radixsort/device"
)

// buffers holds the GPU-side scratch storage a Sorter owns: the
// ping-pong counterpart to the caller's key/value buffers, and the
// B_pow2 x RADIX_CARDINALITY block-histogram matrix the scan passes
// read and write. Buffer allocation policy for the caller's own
// key/value buffers is a host concern (spec.md §1); only this scratch
// side and the blocks matrix are the Sorter's to manage, and they grow
// on demand rather than being sized once at Open.
type buffers struct {
	keysScratch, valsScratch device.BufferID
	blocks                   device.BufferID
	ownedVals                device.BufferID // used as the values side when the caller supplies none

	capacity       uint32 // element capacity of keysScratch/valsScratch/ownedVals
	blocksCapacity uint32 // row capacity (B_pow2) of blocks
}

const elemSize = 4

// ensure grows the scratch buffers and blocks matrix, if needed, to
// accommodate a sort of numKeys elements at the given W, and returns
// B (actual block count) and B_pow2 (padded block count).
func (b *buffers) ensure(dev device.Device, numKeys uint32, rowsPerWorkgroup int) (nb, bp2 uint32, err error) {
	nb = numBlocks(numKeys, blocksPerWorkgroup(rowsPerWorkgroup))
	bp2 = nextPow2(nb)

	if numKeys > b.capacity {
		if err := b.resizeScratch(dev, numKeys); err != nil {
			return 0, 0, err
		}
	}
	if bp2 > b.blocksCapacity {
		if err := b.resizeBlocks(dev, bp2); err != nil {
			return 0, 0, err
		}
	}
	// Zero the padded tail rows so C4/C5's power-of-two scan never reads
	// stale data from a previous, larger sort.
	if bp2 > nb {
		zeros := make([]byte, uint64(bp2-nb)*RadixCardinality*elemSize)
		dev.WriteBuffer(b.blocks, uint64(nb)*RadixCardinality*elemSize, zeros)
	}
	return nb, bp2, nil
}

func (b *buffers) resizeScratch(dev device.Device, numKeys uint32) error {
	size := uint64(numKeys) * elemSize
	if size == 0 {
		size = elemSize
	}
	usage := device.BufferUsageStorage | device.BufferUsageCopySrc | device.BufferUsageCopyDst
	newKeys, err := dev.CreateBuffer(size, usage)
	if err != nil {
		return fmt.Errorf("radixsort: resize keys scratch: %w", err)
	}
	newVals, err := dev.CreateBuffer(size, usage)
	if err != nil {
		dev.DestroyBuffer(newKeys)
		return fmt.Errorf("radixsort: resize vals scratch: %w", err)
	}
	newOwnedVals, err := dev.CreateBuffer(size, usage)
	if err != nil {
		dev.DestroyBuffer(newKeys)
		dev.DestroyBuffer(newVals)
		return fmt.Errorf("radixsort: resize owned vals: %w", err)
	}
	if b.keysScratch != device.InvalidID {
		dev.DestroyBuffer(b.keysScratch)
	}
	if b.valsScratch != device.InvalidID {
		dev.DestroyBuffer(b.valsScratch)
	}
	if b.ownedVals != device.InvalidID {
		dev.DestroyBuffer(b.ownedVals)
	}
	b.keysScratch, b.valsScratch, b.ownedVals = newKeys, newVals, newOwnedVals
	b.capacity = numKeys
	return nil
}

func (b *buffers) resizeBlocks(dev device.Device, bp2 uint32) error {
	size := uint64(bp2) * RadixCardinality * elemSize
	usage := device.BufferUsageStorage | device.BufferUsageCopySrc | device.BufferUsageCopyDst
	newBlocks, err := dev.CreateBuffer(size, usage)
	if err != nil {
		return fmt.Errorf("radixsort: resize blocks: %w", err)
	}
	if b.blocks != device.InvalidID {
		dev.DestroyBuffer(b.blocks)
	}
	b.blocks = newBlocks
	b.blocksCapacity = bp2
	return nil
}

func (b *buffers) release(dev device.Device) {
	for _, id := range []device.BufferID{b.keysScratch, b.valsScratch, b.ownedVals, b.blocks} {
		if id != device.InvalidID {
			dev.DestroyBuffer(id)
		}
	}
	b.keysScratch, b.valsScratch, b.ownedVals, b.blocks = device.InvalidID, device.InvalidID, device.InvalidID, device.InvalidID
	b.capacity, b.blocksCapacity = 0, 0
}

// sides returns the buffers to read from and write to for absolute
// pass index p, alternating between the caller's own buffers and this
// Sorter's scratch buffers by parity, so that consecutive SortPasses
// calls at arbitrary pass boundaries pick up exactly where the
// previous call left off.
func (b *buffers) sides(p int, reqKeys, reqVals device.BufferID) (readKeys, readVals, writeKeys, writeVals device.BufferID) {
	if p%2 == 0 {
		return reqKeys, reqVals, b.keysScratch, b.valsScratch
	}
	return b.keysScratch, b.valsScratch, reqKeys, reqVals
}
