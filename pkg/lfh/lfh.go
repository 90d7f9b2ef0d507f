// Package lfh walks the Low-Fragmentation-Heap frontend: the subsegment-zone
// list hanging off a heap's FrontEndHeap, and each subsegment's user-block
// array, emitting a Record for every busy block.
package lfh

import (
	"encoding/binary"
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/logflags"
	"github.com/go-heapstat/heapstat/pkg/record"
	"github.com/go-heapstat/heapstat/pkg/target"
)

// lfhFrontEndType is _HEAP::FrontEndHeapType's value when the LFH frontend
// is in use (as opposed to the legacy lookaside-list frontend).
const lfhFrontEndType = 0x02

// busySignatureUST and busySignatureNoUST are the ExtendedBlockSignature
// values an LFH subsegment block carries when busy, depending on whether
// the user-mode stack-trace database is enabled.
const (
	busySignatureUST   = 0xc2
	busySignatureNoUST = 0x88
)

// Walk returns every busy block reachable from heap's LFH frontend, or nil
// if the heap has no LFH frontend attached. A read or decode failure inside
// a zone is fatal for the whole heap, matching the source's defensive
// posture (an LFH zone that fails to read usually means a wrong OS-version
// offset table, and every subsequent zone would yield garbage too).
func Walk(t target.Target, heap uint64, desc target.Descriptor, ctx layout.Context) ([]record.Record, error) {
	log := logflags.LFHLogger()

	typeOffset, err := ctx.Offsets.FrontEndHeapTypeOffset()
	if err != nil {
		return nil, err
	}
	typeRaw, err := t.ReadMemory(heap+typeOffset, 1)
	if err != nil {
		return nil, &target.MemoryReadFailedError{Address: heap + typeOffset, Width: 1}
	}
	if typeRaw[0] != lfhFrontEndType {
		return nil, nil
	}

	ptrWidth := desc.PointerWidth()
	feOffset, err := ctx.Offsets.FrontEndHeapOffset()
	if err != nil {
		return nil, err
	}
	feRaw, err := t.ReadMemory(heap+feOffset, ptrWidth)
	if err != nil {
		return nil, &target.MemoryReadFailedError{Address: heap + feOffset, Width: ptrWidth}
	}
	frontEndHeap := widen(feRaw)
	if frontEndHeap == 0 {
		return nil, nil
	}
	log.Debugf("_LFH_HEAP %#x", frontEndHeap)

	ssOffset, err := ctx.Offsets.SubSegmentZonesOffset()
	if err != nil {
		return nil, err
	}
	start := frontEndHeap + ssOffset

	var records []record.Record
	zone := start
	for {
		flinkRaw, err := t.ReadMemory(zone, ptrWidth)
		if err != nil {
			return nil, fmt.Errorf("reading SubSegmentZones list entry at %#x: %w", zone, err)
		}
		zone = widen(flinkRaw)
		if zone == start {
			break
		}
		zoneRecords, err := walkZone(t, zone, desc, ctx, ptrWidth)
		if err != nil {
			return nil, err
		}
		records = append(records, zoneRecords...)
	}
	return records, nil
}

func walkZone(t target.Target, zone uint64, desc target.Descriptor, ctx layout.Context, ptrWidth int) ([]record.Record, error) {
	log := logflags.LFHLogger()
	log.Debugf("_LFH_BLOCK_ZONE %#x", zone)

	freeOffset, err := ctx.Offsets.FreePointerOffset()
	if err != nil {
		return nil, err
	}
	freeRaw, err := t.ReadMemory(zone+freeOffset, ptrWidth)
	if err != nil {
		return nil, fmt.Errorf("reading _LFH_BLOCK_ZONE::FreePointer at %#x: %w", zone+freeOffset, err)
	}
	freePointer := widen(freeRaw)

	zoneSize, err := ctx.Offsets.LFHBlockZoneSize()
	if err != nil {
		return nil, err
	}
	subsegSize, err := ctx.Offsets.SubsegmentSize()
	if err != nil {
		return nil, err
	}
	blockSizeOffset, err := ctx.Offsets.BlockSizeOffset()
	if err != nil {
		return nil, err
	}
	blockCountOffset, err := ctx.Offsets.BlockCountOffset()
	if err != nil {
		return nil, err
	}
	userBlocksOffset, err := ctx.Offsets.UserBlocksOffset()
	if err != nil {
		return nil, err
	}

	busy := byte(busySignatureNoUST)
	if desc.HasUST() {
		busy = busySignatureUST
	}

	var records []record.Record
	subsegment := zone + zoneSize
	for subsegment+subsegSize <= freePointer {
		log.Debugf("_HEAP_SUBSEGMENT %#x", subsegment)

		blockSizeRaw, err := t.ReadMemory(subsegment+blockSizeOffset, 2)
		if err != nil {
			return nil, fmt.Errorf("reading _HEAP_SUBSEGMENT::BlockSize at %#x: %w", subsegment+blockSizeOffset, err)
		}
		blockSize := binary.LittleEndian.Uint16(blockSizeRaw)
		if blockSize == 0 {
			// The rest of this zone's subsegments are unused.
			break
		}

		blockCountRaw, err := t.ReadMemory(subsegment+blockCountOffset, 2)
		if err != nil {
			return nil, fmt.Errorf("reading _HEAP_SUBSEGMENT::BlockCount at %#x: %w", subsegment+blockCountOffset, err)
		}
		blockCount := binary.LittleEndian.Uint16(blockCountRaw)

		userBlocksRaw, err := t.ReadMemory(subsegment+userBlocksOffset, ptrWidth)
		if err != nil {
			return nil, fmt.Errorf("reading _HEAP_SUBSEGMENT::UserBlocks at %#x: %w", subsegment+userBlocksOffset, err)
		}
		userBlocks := widen(userBlocksRaw)

		if userBlocks != 0 {
			address, err := ctx.FirstBlockOrigin(t, userBlocks)
			if err != nil {
				return nil, fmt.Errorf("resolving first LFH block in subsegment %#x: %w", subsegment, err)
			}

			entrySize := int(heapentry.Size32)
			if desc.Is64Bit {
				entrySize = heapentry.Size64
			}

			for i := uint16(0); i < blockCount; i++ {
				log.Debugf("entry %#x", address)
				raw, err := t.ReadMemory(address, entrySize)
				if err != nil {
					return nil, fmt.Errorf("reading LFH heap entry at %#x: %w", address, err)
				}
				entry, err := heapentry.ParseRaw(desc.Is64Bit, raw)
				if err != nil {
					return nil, err
				}
				entry.Size = blockSize

				if entry.ExtendedBlockSignature == busy {
					rec, err := record.Parse(t, address, entry, desc)
					if err != nil {
						return nil, err
					}
					log.Debugf("ust:%#x, userPtr:%#x, userSize:%#x", rec.USTAddress, rec.UserAddress, rec.UserSize)
					records = append(records, rec)
				}

				address += uint64(blockSize) * ctx.Unit
			}
		}
		subsegment += subsegSize
	}
	return records, nil
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
