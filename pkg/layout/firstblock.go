package layout

import "github.com/go-heapstat/heapstat/pkg/target"

// FirstBlockOrigin computes the address of the first LFH block inside a
// subsegment's user-blocks region, given the region's base address
// userBlocks. The rule genuinely differs by OS version as well as bitness
// (an intentional asymmetry noted in the design: pre-Win8 uses a constant
// equal to sizeof(_LFH_BLOCK_ZONE), Win8+ reads
// _HEAP_USERDATA_HEADER::FirstAllocationOffset out of the target), so it
// is not expressible as a static Offsets method and takes the target
// directly.
func (c Context) FirstBlockOrigin(t target.Target, userBlocks uint64) (uint64, error) {
	if !c.Win8Plus {
		zoneSize, err := c.Offsets.LFHBlockZoneSize()
		if err != nil {
			return 0, err
		}
		return userBlocks + zoneSize, nil
	}
	if c.Is64Bit {
		offset, err := t.ReadField(userBlocks, "ntdll!_HEAP_USERDATA_HEADER", "FirstAllocationOffset")
		if err != nil {
			return 0, err
		}
		return userBlocks + offset, nil
	}
	data, err := t.ReadMemory(userBlocks+0x10, 2)
	if err != nil {
		return 0, err
	}
	offset := uint64(data[0]) | uint64(data[1])<<8
	return userBlocks + offset, nil
}
