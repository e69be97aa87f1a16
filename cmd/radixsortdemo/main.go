//go:build !nogpu

// Command radixsortdemo sorts a generated or file-supplied array of
// uint32 keys on the GPU and reports timing.
//
// Usage:
//
//	radixsortdemo -n 1000000
//	radixsortdemo -keys keys.bin
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/radixsort/radixsort"
	"github.com/gogpu/radixsort/device"
	"github.com/gogpu/wgpu/hal"

	// Import the Vulkan backend so it registers via init(), the same
	// way the corpus's standalone compute accelerators do.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func main() {
	n := flag.Int("n", 1_000_000, "number of random uint32 keys to generate (ignored if -keys is set)")
	seed := flag.Int64("seed", 1, "PRNG seed for generated keys")
	keysPath := flag.String("keys", "", "path to a file of little-endian uint32 keys, one after another")
	rowsPerWorkgroup := flag.Int("rows", radixsort.DefaultRowsPerWorkgroup, "scatter kernel rows per workgroup")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	radixsort.SetLogger(logger)

	fmt.Println("GPU Radix Sort Demo")
	fmt.Println("===================")

	keys, err := loadOrGenerateKeys(*keysPath, *n, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: load keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Keys: %d\n", len(keys))

	dev, cleanup, err := openStandaloneDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: GPU init: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(dev, keys, *rowsPerWorkgroup); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// openStandaloneDevice picks a default Vulkan adapter and opens it,
// the same sequence VelloAccelerator.initGPU uses for compute-only use
// when no host application supplies a device.
func openStandaloneDevice() (*device.WGPUDevice, func(), error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, nil, fmt.Errorf("vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no GPU adapters found")
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}
	fmt.Printf("Adapter: %s\n", selected.Info.Name)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, nil, fmt.Errorf("open device: %w", err)
	}

	dev := device.NewWGPUDevice(openDev.Device, openDev.Queue)
	return dev, func() {}, nil
}

func run(dev device.Device, keys []uint32, rowsPerWorkgroup int) error {
	ctx := context.Background()

	s, err := radixsort.Open(ctx, dev, radixsort.WithRowsPerWorkgroup(rowsPerWorkgroup))
	if err != nil {
		return fmt.Errorf("radixsort.Open: %w", err)
	}
	defer s.Close()

	n := uint32(len(keys))
	buf := make([]byte, len(keys)*4)
	for i, k := range keys {
		binary.LittleEndian.PutUint32(buf[i*4:], k)
	}
	keysBuf, err := dev.CreateBuffer(uint64(len(buf)), device.BufferUsageStorage|device.BufferUsageCopySrc|device.BufferUsageCopyDst)
	if err != nil {
		return fmt.Errorf("create keys buffer: %w", err)
	}
	dev.WriteBuffer(keysBuf, 0, buf)

	start := time.Now()
	res, err := s.Sort(ctx, radixsort.Request{Keys: keysBuf, N: n})
	if err != nil {
		return fmt.Errorf("sort: %w", err)
	}
	dur := time.Since(start)
	fmt.Printf("Sorted %d keys in %v\n", n, dur.Round(time.Microsecond))

	out, err := dev.ReadBuffer(ctx, res.Keys, 0, uint64(n)*4)
	if err != nil {
		return fmt.Errorf("read back result: %w", err)
	}
	gotKeys := make([]uint32, n)
	for i := range gotKeys {
		gotKeys[i] = binary.LittleEndian.Uint32(out[i*4:])
	}
	if !sort.SliceIsSorted(gotKeys, func(i, j int) bool { return gotKeys[i] < gotKeys[j] }) {
		return fmt.Errorf("output is not sorted")
	}
	fmt.Println("Result: sorted OK")
	return nil
}

func loadOrGenerateKeys(path string, n int, seed int64) ([]uint32, error) {
	if path == "" {
		rng := rand.New(rand.NewSource(seed))
		keys := make([]uint32, n)
		for i := range keys {
			keys[i] = rng.Uint32()
		}
		return keys, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []uint32
	r := bufio.NewReader(f)
	var word [4]byte
	for {
		if _, err := io.ReadFull(r, word[:]); err != nil {
			break
		}
		keys = append(keys, binary.LittleEndian.Uint32(word[:]))
	}
	return keys, nil
}
