// Package valloc walks a heap's VirtualAlloc'd-blocks list: allocations too
// large for either the backend segments or the LFH, each backed by its own
// VirtualAlloc mapping and linked into one doubly-linked list off the heap.
package valloc

import (
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/logflags"
	"github.com/go-heapstat/heapstat/pkg/record"
	"github.com/go-heapstat/heapstat/pkg/target"
)

// Walk returns one Record per node in heap's VirtualAllocdBlocks list. key
// is the heap's encoding key (the raw bytes at its Encoding field), used to
// XOR-decode each node's embedded heap-entry header: unlike LFH subsegment
// blocks, VirtualAlloc entries are obfuscated the same way backend segment
// entries are.
func Walk(t target.Target, heap uint64, key []byte, desc target.Descriptor, ctx layout.Context) ([]record.Record, error) {
	log := logflags.VallocLogger()

	listOffset, err := ctx.Offsets.VirtualAllocdBlocksOffset()
	if err != nil {
		return nil, err
	}
	head := heap + listOffset
	ptrWidth := desc.PointerWidth()

	flinkRaw, err := t.ReadMemory(head, ptrWidth)
	if err != nil {
		return nil, fmt.Errorf("reading VirtualAllocdBlocks list head at %#x: %w", head, err)
	}
	flink := widen(flinkRaw)

	var records []record.Record
	for flink != head {
		address := flink
		log.Debugf("entry %#x", address)

		sizeOffset, entryOffset, ustOffset, noUSTUserOffset, ustUserOffset := offsetsFor(desc.Is64Bit)

		sizeRaw, err := t.ReadMemory(address+sizeOffset, ptrWidth)
		if err != nil {
			return nil, fmt.Errorf("reading VirtualAlloc block size at %#x: %w", address+sizeOffset, err)
		}
		size := widen(sizeRaw)

		entrySize := heapentry.Size32
		if desc.Is64Bit {
			entrySize = heapentry.Size64
		}
		rawEntry, err := t.ReadMemory(address+entryOffset, entrySize)
		if err != nil {
			return nil, fmt.Errorf("reading VirtualAlloc block entry at %#x: %w", address+entryOffset, err)
		}
		entry, err := heapentry.Decode(desc.Is64Bit, address+entryOffset, rawEntry, key)
		if err != nil {
			return nil, err
		}
		extra := uint64(entry.Size)
		if extra >= size {
			return nil, &record.SizeInvariantViolatedError{Kind: "valloc extra", Observed: extra, Bound: size}
		}

		rec := record.Record{Address: address, Size: size, UserSize: size - extra}
		if desc.HasUST() {
			ustRaw, err := t.ReadMemory(address+ustOffset, ptrWidth)
			if err != nil {
				return nil, fmt.Errorf("reading VirtualAlloc ustAddress at %#x: %w", address+ustOffset, err)
			}
			rec.USTAddress = widen(ustRaw)
			rec.UserAddress = address + ustUserOffset
		} else {
			rec.UserAddress = address + noUSTUserOffset
		}

		log.Debugf("ust:%#x, userPtr:%#x, userSize:%#x, extra:%#x", rec.USTAddress, rec.UserAddress, rec.UserSize, extra)
		records = append(records, rec)

		nextRaw, err := t.ReadMemory(flink, ptrWidth)
		if err != nil {
			return nil, fmt.Errorf("reading VirtualAllocdBlocks list entry at %#x: %w", flink, err)
		}
		flink = widen(nextRaw)
	}
	return records, nil
}

// offsetsFor returns the node-relative offsets AnalyzeVirtualAllocd32/64 use:
// size, the embedded (still-encoded) heap-entry header, the ustAddress word
// (only read when UST is set) and the two possible userAddress offsets.
func offsetsFor(is64Bit bool) (sizeOffset, entryOffset, ustOffset, noUSTUserOffset, ustUserOffset uint64) {
	if is64Bit {
		return 0x20, 0x30, 0x40, 0x40, 0x60
	}
	return 0x10, 0x18, 0x20, 0x20, 0x30
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
