package radixsort_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/gogpu/radixsort/radixsort"
	"github.com/gogpu/radixsort/device"
	"github.com/gogpu/radixsort/internal/simdevice"
)

func uploadU32(t *testing.T, dev device.Device, vals []uint32) device.BufferID {
	t.Helper()
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	size := uint64(len(buf))
	if size == 0 {
		size = 4
	}
	id, err := dev.CreateBuffer(size, device.BufferUsageStorage|device.BufferUsageCopySrc|device.BufferUsageCopyDst)
	if err != nil {
		t.Fatalf("create buffer: %v", err)
	}
	if len(buf) > 0 {
		dev.WriteBuffer(id, 0, buf)
	}
	return id
}

func downloadU32(t *testing.T, ctx context.Context, dev device.Device, id device.BufferID, n int) []uint32 {
	t.Helper()
	if n == 0 {
		return nil
	}
	raw, err := dev.ReadBuffer(ctx, id, 0, uint64(n)*4)
	if err != nil {
		t.Fatalf("read buffer: %v", err)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out
}

func isSorted(keys []uint32) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			return false
		}
	}
	return true
}

func TestSortBasic(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New()
	s, err := radixsort.Open(ctx, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rng := rand.New(rand.NewSource(1))
	const n = 5000
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32()
	}
	keysBuf := uploadU32(t, dev, keys)

	res, err := s.Sort(ctx, radixsort.Request{Keys: keysBuf, N: uint32(n)})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}

	gotKeys := downloadU32(t, ctx, dev, res.Keys, n)
	gotVals := downloadU32(t, ctx, dev, res.Values, n)

	if !isSorted(gotKeys) {
		t.Fatalf("output keys not sorted")
	}

	want := append([]uint32(nil), keys...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	for i := range gotKeys {
		if gotKeys[i] != want[i] {
			t.Fatalf("key mismatch at %d: got %d, want %d", i, gotKeys[i], want[i])
		}
	}

	// gotVals must be a permutation of [0,n) with keys[gotVals[i]] == gotKeys[i].
	seen := make([]bool, n)
	for i, v := range gotVals {
		if v >= uint32(n) || seen[v] {
			t.Fatalf("vals[%d]=%d is not a valid permutation element", i, v)
		}
		seen[v] = true
		if keys[v] != gotKeys[i] {
			t.Fatalf("permutation broken at %d: keys[vals[%d]]=%d != sorted key %d", i, i, keys[v], gotKeys[i])
		}
	}
}

func TestSortStability(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New()
	s, err := radixsort.Open(ctx, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// Many duplicate keys, each carrying a distinct tag recording its
	// original position. Stability requires tags for equal keys to stay
	// in ascending original-position order after sorting.
	const n = 2000
	keys := make([]uint32, n)
	tags := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(i % 7) // few distinct key values, many duplicates
		tags[i] = uint32(i)
	}
	keysBuf := uploadU32(t, dev, keys)
	valsBuf := uploadU32(t, dev, tags)

	res, err := s.Sort(ctx, radixsort.Request{Keys: keysBuf, Values: valsBuf, N: uint32(n)})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}

	gotKeys := downloadU32(t, ctx, dev, res.Keys, n)
	gotTags := downloadU32(t, ctx, dev, res.Values, n)

	lastTagForKey := make(map[uint32]uint32)
	for i := range gotKeys {
		k := gotKeys[i]
		if prev, ok := lastTagForKey[k]; ok && gotTags[i] < prev {
			t.Fatalf("stability violated for key %d: tag %d came after tag %d", k, gotTags[i], prev)
		}
		lastTagForKey[k] = gotTags[i]
	}
}

// TestSortBoundaryNs exercises the N values spec §8 calls out as edge
// cases: the empty sort, a single element, and the block-size (L) and
// thread-count (T) boundaries where B_pow2 and the dispatch-split
// arithmetic change shape.
func TestSortBoundaryNs(t *testing.T) {
	const (
		t256 = radixsort.ThreadsPerWorkgroup
		l    = radixsort.ThreadsPerWorkgroup * radixsort.DefaultRowsPerWorkgroup
	)
	tests := []struct {
		name string
		n    int
	}{
		{"empty", 0},
		{"single element", 1},
		{"T-1", t256 - 1},
		{"T", t256},
		{"T+1", t256 + 1},
		{"L-1", l - 1},
		{"L", l},
		{"L+1", l + 1},
		{"2L-1", 2*l - 1},
		{"2L", 2 * l},
		{"2L+1", 2*l + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dev := simdevice.New()
			s, err := radixsort.Open(ctx, dev)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()

			rng := rand.New(rand.NewSource(int64(tt.n) + 1))
			keys := make([]uint32, tt.n)
			for i := range keys {
				keys[i] = rng.Uint32()
			}
			keysBuf := uploadU32(t, dev, keys)

			res, err := s.Sort(ctx, radixsort.Request{Keys: keysBuf, N: uint32(tt.n)})
			if err != nil {
				t.Fatalf("Sort: %v", err)
			}

			if tt.n == 0 {
				if res.Keys != keysBuf {
					t.Fatalf("N=0 Sort should return the input buffer unchanged")
				}
				return
			}

			gotKeys := downloadU32(t, ctx, dev, res.Keys, tt.n)
			gotVals := downloadU32(t, ctx, dev, res.Values, tt.n)
			if !isSorted(gotKeys) {
				t.Fatalf("output keys not sorted")
			}

			want := append([]uint32(nil), keys...)
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			for i := range gotKeys {
				if gotKeys[i] != want[i] {
					t.Fatalf("key mismatch at %d: got %d, want %d", i, gotKeys[i], want[i])
				}
			}

			seen := make([]bool, tt.n)
			for i, v := range gotVals {
				if v >= uint32(tt.n) || seen[v] {
					t.Fatalf("vals[%d]=%d is not a valid permutation element", i, v)
				}
				seen[v] = true
				if keys[v] != gotKeys[i] {
					t.Fatalf("permutation broken at %d: keys[vals[%d]]=%d != sorted key %d", i, i, keys[v], gotKeys[i])
				}
			}
		})
	}
}

func TestSortPassesInvalidRange(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New()
	s, err := radixsort.Open(ctx, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	keysBuf := uploadU32(t, dev, []uint32{1, 2, 3})
	cases := [][2]int{{0, 5}, {-1, 4}, {2, 1}, {2, 2}}
	for _, passes := range cases {
		_, err := s.SortPasses(ctx, radixsort.Request{Keys: keysBuf, N: 3}, passes)
		if !errors.Is(err, radixsort.ErrInvalidPassRange) {
			t.Errorf("SortPasses(passes=%v) error = %v, want ErrInvalidPassRange", passes, err)
		}
	}
}

func TestSortPassesPartial(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New()
	s, err := radixsort.Open(ctx, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// Keys differing only in their low byte are fully ordered by a
	// single pass over that byte.
	const n = 512
	keys := make([]uint32, n)
	rng := rand.New(rand.NewSource(2))
	for i := range keys {
		keys[i] = uint32(rng.Intn(256))
	}
	keysBuf := uploadU32(t, dev, keys)

	res, err := s.SortPasses(ctx, radixsort.Request{Keys: keysBuf, N: uint32(n)}, [2]int{0, 1})
	if err != nil {
		t.Fatalf("SortPasses: %v", err)
	}
	got := downloadU32(t, ctx, dev, res.Keys, n)
	if !isSorted(got) {
		t.Fatalf("single-pass sort over single-byte keys should fully sort them")
	}
}

func TestSortForcedDispatchSplit(t *testing.T) {
	ctx := context.Background()
	// A tiny max-dispatch-dimension forces radixsort to split every
	// count/scatter dispatch across many calls, exercising the
	// workgroup_offset reconstruction path end to end.
	dev := simdevice.New(simdevice.WithMaxDispatchDimension(2))
	s, err := radixsort.Open(ctx, dev, radixsort.WithRowsPerWorkgroup(1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	const n = 4000
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = uint32(n - 1 - i)
	}
	keysBuf := uploadU32(t, dev, keys)

	res, err := s.Sort(ctx, radixsort.Request{Keys: keysBuf, N: uint32(n)})
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	gotKeys := downloadU32(t, ctx, dev, res.Keys, n)
	gotVals := downloadU32(t, ctx, dev, res.Values, n)

	for i, k := range gotKeys {
		if k != uint32(i) {
			t.Fatalf("sorted key at %d = %d, want %d", i, k, i)
		}
		if gotVals[i] != uint32(n-1-i) {
			t.Fatalf("sorted value at %d = %d, want %d", i, gotVals[i], n-1-i)
		}
	}
}

func TestProbeSubgroupSize(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New(simdevice.WithSubgroupSize(64))
	size, err := radixsort.ProbeSubgroupSize(ctx, dev)
	if err != nil {
		t.Fatalf("ProbeSubgroupSize: %v", err)
	}
	if size != 64 {
		t.Fatalf("ProbeSubgroupSize = %d, want 64", size)
	}
}

func TestOpenRejectsNilDevice(t *testing.T) {
	_, err := radixsort.Open(context.Background(), nil)
	if !errors.Is(err, radixsort.ErrNilDevice) {
		t.Fatalf("Open(nil) error = %v, want ErrNilDevice", err)
	}
}

func TestOpenRejectsInvalidRowsPerWorkgroup(t *testing.T) {
	dev := simdevice.New()
	_, err := radixsort.Open(context.Background(), dev, radixsort.WithRowsPerWorkgroup(0))
	if !errors.Is(err, radixsort.ErrInvalidRowsPerWorkgroup) {
		t.Fatalf("Open with W=0 error = %v, want ErrInvalidRowsPerWorkgroup", err)
	}
}

func TestSortClosedSorter(t *testing.T) {
	ctx := context.Background()
	dev := simdevice.New()
	s, err := radixsort.Open(ctx, dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	keysBuf := uploadU32(t, dev, []uint32{1, 2, 3})
	_, err = s.Sort(ctx, radixsort.Request{Keys: keysBuf, N: 3})
	if !errors.Is(err, radixsort.ErrClosed) {
		t.Fatalf("Sort after Close error = %v, want ErrClosed", err)
	}
}
