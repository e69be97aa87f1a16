package radixsort

import "encoding/binary"

// pushConstants is the fixed 24-byte push-constant block every kernel
// dispatch receives, in the order the device's pipeline layout declares
// them: workgroup_offset, number_of_keys, number_of_blks, pass_index,
// sweep_size, init_index.
type pushConstants struct {
	workgroupOffset uint32
	numberOfKeys    uint32
	numberOfBlocks  uint32
	passIndex       uint32
	sweepSize       uint32
	initIndex       uint32
}

const pushConstantsSize = 24

// toBytes serializes the push-constant block in device-native (little
// endian) byte order, matching the layout the WGSL kernels declare.
func (c pushConstants) toBytes() []byte {
	buf := make([]byte, pushConstantsSize)
	binary.LittleEndian.PutUint32(buf[0:4], c.workgroupOffset)
	binary.LittleEndian.PutUint32(buf[4:8], c.numberOfKeys)
	binary.LittleEndian.PutUint32(buf[8:12], c.numberOfBlocks)
	binary.LittleEndian.PutUint32(buf[12:16], c.passIndex)
	binary.LittleEndian.PutUint32(buf[16:20], c.sweepSize)
	binary.LittleEndian.PutUint32(buf[20:24], c.initIndex)
	return buf
}
