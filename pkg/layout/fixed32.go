package layout

// fixed32 implements Offsets with the hard-coded offset table from
// heapstat.cpp's AnalyzeLFH32/AnalyzeHeap32, valid for the two supported
// 32-bit OS generations.
type fixed32 struct {
	win8Plus bool
}

func (o fixed32) FrontEndHeapTypeOffset() (uint64, error) {
	if o.win8Plus {
		return 0xd6, nil
	}
	return 0xda, nil
}

func (o fixed32) FrontEndHeapOffset() (uint64, error) {
	if o.win8Plus {
		return 0xd0, nil
	}
	return 0xd4, nil
}

func (o fixed32) SubSegmentZonesOffset() (uint64, error) {
	if o.win8Plus {
		return 0x4, nil
	}
	return 0x18, nil
}

func (o fixed32) SubsegmentSize() (uint64, error) {
	if o.win8Plus {
		return 0x28, nil
	}
	return 0x20, nil
}

func (o fixed32) BlockSizeOffset() (uint64, error) {
	if o.win8Plus {
		return 0x14, nil
	}
	return 0x10, nil
}

func (o fixed32) BlockCountOffset() (uint64, error) {
	if o.win8Plus {
		return 0x18, nil
	}
	return 0x14, nil
}

func (o fixed32) UserBlocksOffset() (uint64, error) {
	// _HEAP_SUBSEGMENT::UserBlocks sits at the same offset in both
	// generations of the 32-bit structure.
	return 0x4, nil
}

func (o fixed32) LFHBlockZoneSize() (uint64, error) {
	// sizeof(_LFH_BLOCK_ZONE) on 32-bit; also the pre-Win8 first-block
	// origin (userBlocks + this value).
	return 0x10, nil
}

func (o fixed32) FreePointerOffset() (uint64, error) {
	return 0x8, nil
}

func (o fixed32) EncodingOffset() (uint64, error) {
	return 0x50, nil
}

func (o fixed32) VirtualAllocdBlocksOffset() (uint64, error) {
	if o.win8Plus {
		return 0x9c, nil
	}
	return 0xa0, nil
}
