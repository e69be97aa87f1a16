package simdevice

import (
	"encoding/binary"

	"github.com/gogpu/radixsort/device"
)

// pushConstants mirrors radixsort's 24-byte push-constant block.
type pushConstants struct {
	workgroupOffset uint32
	numberOfKeys    uint32
	numberOfBlocks  uint32
	passIndex       uint32
	sweepSize       uint32
	initIndex       uint32
}

func decodePushConstants(b [24]byte) pushConstants {
	return pushConstants{
		workgroupOffset: binary.LittleEndian.Uint32(b[0:4]),
		numberOfKeys:    binary.LittleEndian.Uint32(b[4:8]),
		numberOfBlocks:  binary.LittleEndian.Uint32(b[8:12]),
		passIndex:       binary.LittleEndian.Uint32(b[12:16]),
		sweepSize:       binary.LittleEndian.Uint32(b[16:20]),
		initIndex:       binary.LittleEndian.Uint32(b[20:24]),
	}
}

// bufView gives uint32-element read/write access to one bound buffer.
type bufView struct {
	data []byte
}

func (v bufView) get(i uint32) uint32 {
	return binary.LittleEndian.Uint32(v.data[i*4:])
}

func (v bufView) set(i uint32, val uint32) {
	binary.LittleEndian.PutUint32(v.data[i*4:], val)
}

// execute simulates one dispatch of the named kernel over an x*y*z
// grid, reconstructing each workgroup's linear id exactly as the WGSL
// kernels do (wg.y*num_wg.x + wg.x + workgroup_offset) so a dispatch
// split across several calls produces results identical to one
// unsplit call.
func (d *Device) execute(label string, rows uint32, entries []device.BindGroupEntry, pc pushConstants, x, y, z uint32) {
	bufs := make(map[uint32]bufView, len(entries))
	for _, e := range entries {
		bufs[e.Binding] = bufView{data: d.buffers[e.Buffer]}
	}

	for wy := uint32(0); wy < y; wy++ {
		for wx := uint32(0); wx < x; wx++ {
			b := wy*x + wx + pc.workgroupOffset
			switch label {
			case "radixsort.count_radix":
				execCount(bufs, pc, rows, b)
			case "radixsort.scan_up_sweep":
				execUpSweep(bufs, pc, b)
			case "radixsort.scan_down_sweep":
				execDownSweep(bufs, pc, b)
			case "radixsort.scan_last_block":
				execLastBlock(bufs, pc)
			case "radixsort.scatter":
				execScatter(bufs, pc, rows, b)
			}
		}
	}
}

func calcRadix(key, passIndex uint32) uint32 {
	return (key >> (passIndex * radixBits)) & (radixCardinality - 1)
}

// execCount implements C3: one workgroup counts the radix histogram
// over its L=T*W-sized slice of keys and writes the 256-bin row. A
// padded block past the last key writes a zero row.
func execCount(bufs map[uint32]bufView, pc pushConstants, rows uint32, b uint32) {
	keysIn, blocks := bufs[0], bufs[2]

	if b >= pc.numberOfBlocks {
		return
	}
	l := uint32(threadsPerWorkgroup) * rows
	base := b * l
	end := base + l
	if end > pc.numberOfKeys {
		end = pc.numberOfKeys
	}

	var hist [radixCardinality]uint32
	for i := base; i < end; i++ {
		hist[calcRadix(keysIn.get(i), pc.passIndex)]++
	}
	for r := uint32(0); r < radixCardinality; r++ {
		blocks.set(b*radixCardinality+r, hist[r])
	}
}

// execUpSweep implements C4's up-sweep: workgroup i (the reconstructed
// linear id b) adds column-wise source row into destination row at
// stride pc.sweepSize.
func execUpSweep(bufs map[uint32]bufView, pc pushConstants, i uint32) {
	blocks := bufs[2]
	s := pc.sweepSize
	srcRow := (2*i+1)*s - 1
	dstRow := srcRow + s
	if dstRow >= pc.numberOfBlocks {
		return
	}
	for r := uint32(0); r < radixCardinality; r++ {
		blocks.set(dstRow*radixCardinality+r, blocks.get(dstRow*radixCardinality+r)+blocks.get(srcRow*radixCardinality+r))
	}
}

// execDownSweep implements C5's down-sweep fill-in pass at stride
// pc.sweepSize: workgroup i folds row 2*(i+1)*s-1 (the row the
// matching up-sweep stride wrote into) into row (2*i+3)*s-1, the next
// row down the tree that the up-sweep itself never touched.
func execDownSweep(bufs map[uint32]bufView, pc pushConstants, i uint32) {
	blocks := bufs[2]
	s := pc.sweepSize

	dstRow := (2*i+3)*s - 1
	srcRow := dstRow - s
	if dstRow >= pc.numberOfBlocks {
		return
	}
	for r := uint32(0); r < radixCardinality; r++ {
		blocks.set(dstRow*radixCardinality+r, blocks.get(dstRow*radixCardinality+r)+blocks.get(srcRow*radixCardinality+r))
	}
}

// execLastBlock implements C6: an exclusive prefix sum across the 256
// radix bins of the last (grand-total) row.
func execLastBlock(bufs map[uint32]bufView, pc pushConstants) {
	blocks := bufs[2]
	lastRow := pc.numberOfBlocks - 1
	var running uint32
	for r := uint32(0); r < radixCardinality; r++ {
		v := blocks.get(lastRow*radixCardinality + r)
		blocks.set(lastRow*radixCardinality+r, running)
		running += v
	}
}

// execScatter implements C7: for workgroup (block) b, stably
// reorder its L keys/values by radix within the block, then write
// each to its globally correct destination using the block-prefix and
// grand-total rows C4–C6 left in blocks.
func execScatter(bufs map[uint32]bufView, pc pushConstants, rows uint32, b uint32) {
	keysIn, valsIn := bufs[0], bufs[1]
	blocks := bufs[2]
	keysOut, valsOut := bufs[3], bufs[4]

	l := uint32(threadsPerWorkgroup) * rows
	base := b * l

	type row struct {
		key, val, globalIndex uint32
	}
	rowsBuf := make([]row, 0, l)
	for i := uint32(0); i < l; i++ {
		globalIndex := base + i
		if globalIndex >= pc.numberOfKeys {
			continue
		}
		key := keysIn.get(globalIndex)
		var val uint32
		if pc.initIndex != 0 && pc.passIndex == 0 {
			val = globalIndex
		} else {
			val = valsIn.get(globalIndex)
		}
		rowsBuf = append(rowsBuf, row{key: key, val: val, globalIndex: globalIndex})
	}

	// Rank each key among the same-radix keys of this block, in input
	// order, matching the subgroup-ballot ranking the WGSL kernel
	// performs in parallel.
	var localOffset [radixCardinality]uint32

	lastRow := pc.numberOfBlocks - 1
	for _, rw := range rowsBuf {
		radix := calcRadix(rw.key, pc.passIndex)
		order := localOffset[radix]
		localOffset[radix]++

		var prevBlockTotal uint32
		if b > 0 {
			prevBlockTotal = blocks.get((b-1)*radixCardinality + radix)
		}
		globalBase := blocks.get(lastRow*radixCardinality+radix) + prevBlockTotal
		dest := globalBase + order
		keysOut.set(dest, rw.key)
		valsOut.set(dest, rw.val)
	}
}
