// Package walker is the top-level entry point: it locates every heap in a
// target's process-heaps list and dispatches each to the segment-walk
// pipeline.
package walker

import (
	"encoding/binary"
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/consumer"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/logflags"
	"github.com/go-heapstat/heapstat/pkg/segment"
	"github.com/go-heapstat/heapstat/pkg/target"
)

// numberOfHeapsOffset32 and processHeapsOffset32 are _PEB's fields on a
// 32-bit target, read raw because WOW64 symbol coverage is unreliable; on
// 64-bit targets the same fields are resolved symbolically.
const (
	numberOfHeapsOffset32 = 0x88
	processHeapsOffset32  = 0x90
)

// Walk visits every heap in t's process, dispatching each to the
// segment-walk pipeline and reporting results to c. A failure analyzing any
// one heap aborts the whole walk, matching the all-or-nothing behavior of
// a single !heapstat invocation.
func Walk(t target.Target, c consumer.Consumer) error {
	log := logflags.WalkerLogger()
	desc := target.Describe(t)
	ctx := layout.New(t)

	if desc.HasHPA() {
		log.Debug("hpa enabled")
	} else if desc.HasUST() {
		log.Debug("ust enabled")
	} else {
		log.Debug("neither ust nor hpa is enabled; records will be missing ust/user-size detail")
	}

	peb, err := t.PEBAddress()
	if err != nil {
		return err
	}

	heaps, err := heapAddresses(t, peb, desc)
	if err != nil {
		return err
	}
	log.Debugf("%d heaps", len(heaps))

	for i, heap := range heaps {
		log.Debugf("heap[%d] at %#x", i, heap)
		c.StartHeap(heap)
		if err := segment.AnalyzeHeap(t, heap, desc, ctx, c); err != nil {
			return fmt.Errorf("analyzing heap %#x: %w", heap, err)
		}
		c.FinishHeap(heap)
	}
	return nil
}

// heapAddresses resolves _PEB::NumberOfHeaps and ::ProcessHeaps and reads
// out every entry of the resulting array.
func heapAddresses(t target.Target, peb uint64, desc target.Descriptor) ([]uint64, error) {
	ptrWidth := desc.PointerWidth()

	var numberOfHeaps, processHeaps uint64
	var err error
	if desc.Is64Bit {
		numberOfHeaps, err = t.ReadField(peb, "ntdll!_PEB", "NumberOfHeaps")
		if err != nil {
			return nil, fmt.Errorf("reading _PEB::NumberOfHeaps: %w", err)
		}
		processHeaps, err = t.ReadField(peb, "ntdll!_PEB", "ProcessHeaps")
		if err != nil {
			return nil, fmt.Errorf("reading _PEB::ProcessHeaps: %w", err)
		}
	} else {
		raw, err := t.ReadMemory(peb+numberOfHeapsOffset32, 4)
		if err != nil {
			return nil, fmt.Errorf("reading _PEB::NumberOfHeaps at %#x: %w", peb+numberOfHeapsOffset32, err)
		}
		numberOfHeaps = uint64(binary.LittleEndian.Uint32(raw))

		raw, err = t.ReadMemory(peb+processHeapsOffset32, 4)
		if err != nil {
			return nil, fmt.Errorf("reading _PEB::ProcessHeaps at %#x: %w", peb+processHeapsOffset32, err)
		}
		processHeaps = uint64(binary.LittleEndian.Uint32(raw))
	}

	heaps := make([]uint64, 0, numberOfHeaps)
	for i := uint64(0); i < numberOfHeaps; i++ {
		raw, err := t.ReadMemory(processHeaps+uint64(ptrWidth)*i, ptrWidth)
		if err != nil {
			return nil, fmt.Errorf("reading ProcessHeaps[%d] at %#x: %w", i, processHeaps+uint64(ptrWidth)*i, err)
		}
		heaps = append(heaps, widen(raw))
	}
	return heaps, nil
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
