package radixsort

import "errors"

// Sentinel errors returned by radixsort. All failures are surfaced
// before any GPU work is submitted; once dispatched, kernels cannot
// themselves signal errors.
var (
	// ErrUnsupportedDevice is returned by Open when the device lacks
	// compute, push-constant, or subgroup-ballot support.
	ErrUnsupportedDevice = errors.New("radixsort: device lacks required compute capabilities")

	// ErrBufferTooSmall is returned by SortPasses (and Sort) when a
	// caller-supplied Keys or Values buffer is too small for the
	// requested N or is not a live buffer on the device.
	ErrBufferTooSmall = errors.New("radixsort: buffer too small for requested N")

	// ErrClosed is returned by Sort and SortPasses after Close.
	ErrClosed = errors.New("radixsort: sorter is closed")

	// ErrInvalidPassRange is returned by SortPasses for a pass range
	// outside [0,4] or with a non-positive length.
	ErrInvalidPassRange = errors.New("radixsort: invalid pass range")

	// ErrInvalidRowsPerWorkgroup is returned by Open when the W set with
	// WithRowsPerWorkgroup is <= 0 or T*W would not fit in 32 bits.
	ErrInvalidRowsPerWorkgroup = errors.New("radixsort: invalid rows-per-workgroup")

	// ErrNilDevice is returned by Open when dev is nil.
	ErrNilDevice = errors.New("radixsort: device is nil")
)
