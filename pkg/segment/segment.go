// Package segment walks a single heap's backend segment chain, merging in
// that heap's LFH and VirtualAlloc'd-blocks records and reporting the
// result to a consumer.Consumer.
package segment

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/go-heapstat/heapstat/pkg/consumer"
	"github.com/go-heapstat/heapstat/pkg/heapentry"
	"github.com/go-heapstat/heapstat/pkg/layout"
	"github.com/go-heapstat/heapstat/pkg/lfh"
	"github.com/go-heapstat/heapstat/pkg/logflags"
	"github.com/go-heapstat/heapstat/pkg/record"
	"github.com/go-heapstat/heapstat/pkg/target"
	"github.com/go-heapstat/heapstat/pkg/valloc"
)

const pageSize = 0x1000

// busySignatureStop is the ExtendedBlockSignature value that, under UST or
// HPA, marks the boundary the backend scan must not cross.
const busySignatureStop = 0x03

// byBitness holds the _HEAP_SEGMENT fields the backend scan needs, at the
// offsets the source reads with a raw struct overlay rather than a symbol
// lookup: these shift by bitness but not by OS version. This includes
// SegmentListEntry: heapstat.cpp's AnalyzeHeap64 walks the segment chain
// with the literal "segment.SegmentListEntry.Flink - 0x18", never a symbol
// lookup, even though the heap's Encoding and VirtualAllocdBlocks fields go
// through layout.Offsets.
type byBitness struct {
	firstEntry               uint64
	lastValidEntry           uint64
	numberOfUnCommittedPages uint64
	segmentListEntry         uint64
}

var offsets32 = byBitness{firstEntry: 0x24, lastValidEntry: 0x28, numberOfUnCommittedPages: 0x2c, segmentListEntry: 0x10}
var offsets64 = byBitness{firstEntry: 0x40, lastValidEntry: 0x48, numberOfUnCommittedPages: 0x50, segmentListEntry: 0x18}

// AnalyzeHeap walks heap's LFH frontend, VirtualAlloc'd-blocks list and
// chain of backend segments, reporting every busy allocation to c.
func AnalyzeHeap(t target.Target, heap uint64, desc target.Descriptor, ctx layout.Context, c consumer.Consumer) error {
	log := logflags.SegmentLogger()

	lfhRecords, err := lfh.Walk(t, heap, desc, ctx)
	if err != nil {
		return fmt.Errorf("lfh walk of heap %#x: %w", heap, err)
	}
	sort.Slice(lfhRecords, func(i, j int) bool { return lfhRecords[i].Address < lfhRecords[j].Address })
	log.Debugf("found %d LFH records in heap %#x", len(lfhRecords), heap)

	encodingOffset, err := ctx.Offsets.EncodingOffset()
	if err != nil {
		return err
	}
	entrySize := heapentry.Size32
	if desc.Is64Bit {
		entrySize = heapentry.Size64
	}
	key, err := t.ReadMemory(heap+encodingOffset, entrySize)
	if err != nil {
		return fmt.Errorf("reading encoding key at %#x: %w", heap+encodingOffset, err)
	}

	vallocRecords, err := valloc.Walk(t, heap, key, desc, ctx)
	if err != nil {
		return fmt.Errorf("valloc walk of heap %#x: %w", heap, err)
	}
	sort.Slice(vallocRecords, func(i, j int) bool { return vallocRecords[i].Address < vallocRecords[j].Address })
	log.Debugf("found %d valloc records in heap %#x", len(vallocRecords), heap)

	off := offsets32
	if desc.Is64Bit {
		off = offsets64
	}
	segListOffset := off.segmentListEntry
	ptrWidth := desc.PointerWidth()

	busy := byte(0x01)
	if desc.HasHPA() {
		busy = 0x03
	}
	stopOnSentinel := desc.HasUST() || desc.HasHPA()

	segmentAddress := heap
	for segmentAddress&0xffff == 0 {
		firstEntry, err := readPointer(t, segmentAddress+off.firstEntry, ptrWidth)
		if err != nil {
			return fmt.Errorf("reading _HEAP_SEGMENT::FirstEntry at %#x: %w", segmentAddress+off.firstEntry, err)
		}
		lastValidEntry, err := readPointer(t, segmentAddress+off.lastValidEntry, ptrWidth)
		if err != nil {
			return fmt.Errorf("reading _HEAP_SEGMENT::LastValidEntry at %#x: %w", segmentAddress+off.lastValidEntry, err)
		}
		uncommittedRaw, err := t.ReadMemory(segmentAddress+off.numberOfUnCommittedPages, 4)
		if err != nil {
			return fmt.Errorf("reading _HEAP_SEGMENT::NumberOfUnCommittedPages at %#x: %w", segmentAddress+off.numberOfUnCommittedPages, err)
		}
		numberOfUnCommittedPages := uint64(binary.LittleEndian.Uint32(uncommittedRaw))

		log.Debugf("segment at %#x to %#x", segmentAddress, lastValidEntry)
		c.StartSegment(segmentAddress, lastValidEntry)

		var pending []record.Record
		for _, r := range lfhRecords {
			if firstEntry < r.Address && r.Address < lastValidEntry {
				pending = append(pending, r)
			}
		}
		log.Debugf("%d LFH records in segment %#x", len(pending), segmentAddress)

		address := firstEntry
		for address < lastValidEntry {
			raw, err := t.ReadMemory(address, entrySize)
			if err != nil {
				return fmt.Errorf("reading heap entry at %#x: %w", address, err)
			}
			entry, err := heapentry.Decode(desc.Is64Bit, address, raw, key)
			if err != nil {
				return err
			}

			size := uint64(entry.Size) * ctx.Unit
			if address+size >= lastValidEntry-numberOfUnCommittedPages*pageSize {
				log.Debugf("uncommitted bytes follow at %#x", address)
				break
			}

			if stopOnSentinel && entry.ExtendedBlockSignature == busySignatureStop {
				break
			}
			if entry.Flags == busy {
				rec, err := record.Parse(t, address, entry, desc)
				if err != nil {
					return err
				}
				registerMerged(rec, &pending, c)
			}
			address += size
		}

		for _, r := range pending {
			emit(r, c)
		}
		c.FinishSegment(segmentAddress, lastValidEntry)

		flink, err := readPointer(t, segmentAddress+segListOffset, ptrWidth)
		if err != nil {
			return fmt.Errorf("reading SegmentListEntry at %#x: %w", segmentAddress+segListOffset, err)
		}
		segmentAddress = flink - segListOffset
	}

	for _, r := range vallocRecords {
		emit(r, c)
	}
	return nil
}

// registerMerged reports rec to c, first flushing every pending LFH record
// with a lower address so records reach the consumer in address order.
func registerMerged(rec record.Record, pending *[]record.Record, c consumer.Consumer) {
	p := *pending
	i := 0
	for i < len(p) && p[i].Address < rec.Address {
		emit(p[i], c)
		i++
	}
	*pending = p[i:]
	emit(rec, c)
}

func emit(r record.Record, c consumer.Consumer) {
	c.Register(r.USTAddress, r.Size, r.Address, r.UserSize, r.UserAddress)
}

func readPointer(t target.Target, address uint64, width int) (uint64, error) {
	raw, err := t.ReadMemory(address, width)
	if err != nil {
		return 0, err
	}
	return widen(raw), nil
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
