package layout

import "github.com/go-heapstat/heapstat/pkg/target"

// symbolic64 implements Offsets by querying the target's loaded type
// information, the way heapstat.cpp's AnalyzeLFH64/AnalyzeHeap64 use
// GetFieldOffset/GetTypeSize instead of a fixed table.
type symbolic64 struct {
	t target.Target
}

func (o symbolic64) FrontEndHeapTypeOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP", "FrontEndHeapType")
	return uint64(off), err
}

func (o symbolic64) FrontEndHeapOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP", "FrontEndHeap")
	return uint64(off), err
}

func (o symbolic64) SubSegmentZonesOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_LFH_HEAP", "SubSegmentZones")
	return uint64(off), err
}

func (o symbolic64) SubsegmentSize() (uint64, error) {
	sz, err := o.t.TypeSize("ntdll!_HEAP_SUBSEGMENT")
	return uint64(sz), err
}

func (o symbolic64) BlockSizeOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP_SUBSEGMENT", "BlockSize")
	return uint64(off), err
}

func (o symbolic64) BlockCountOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP_SUBSEGMENT", "BlockCount")
	return uint64(off), err
}

func (o symbolic64) UserBlocksOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP_SUBSEGMENT", "UserBlocks")
	return uint64(off), err
}

func (o symbolic64) LFHBlockZoneSize() (uint64, error) {
	sz, err := o.t.TypeSize("ntdll!_LFH_BLOCK_ZONE")
	return uint64(sz), err
}

func (o symbolic64) FreePointerOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_LFH_BLOCK_ZONE", "FreePointer")
	return uint64(off), err
}

func (o symbolic64) EncodingOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP", "Encoding")
	return uint64(off), err
}

func (o symbolic64) VirtualAllocdBlocksOffset() (uint64, error) {
	off, err := o.t.FieldOffset("ntdll!_HEAP", "VirtualAllocdBlocks")
	return uint64(off), err
}
