// Package ustdb reads ntdll's user-mode stack-trace database: the same
// data `!ust <addr>` resolves in a live WinDbg session, and the same
// address a heap record's USTAddress field points into.
package ustdb

import (
	"fmt"

	"github.com/go-heapstat/heapstat/pkg/target"
)

// Frame is one return address captured in a stack-trace database entry.
type Frame struct {
	ReturnAddress uint64
}

// Trace is the depth-prefixed list of frames recorded at one stack-trace
// database entry, outermost caller last.
type Trace struct {
	Frames []Frame
}

// Database resolves a heap record's USTAddress into the trace recorded at
// it. _RTL_TRACE_BLOCK's layout is undocumented and shifts across OS
// releases, so every field is resolved symbolically rather than through a
// literal offset table, the same way package layout treats 64-bit heap
// structures.
type Database struct {
	t target.Target
}

// New wraps t for stack-trace lookups.
func New(t target.Target) *Database {
	return &Database{t: t}
}

// Trace reads the trace recorded at ustAddress. A zero address (meaning
// "no stack trace recorded for this allocation") returns an empty Trace
// and no error.
func (d *Database) Trace(ustAddress uint64) (Trace, error) {
	if ustAddress == 0 {
		return Trace{}, nil
	}

	count, err := d.t.ReadField(ustAddress, "ntdll!_RTL_TRACE_BLOCK", "TraceCount")
	if err != nil {
		return Trace{}, fmt.Errorf("reading _RTL_TRACE_BLOCK::TraceCount at %#x: %w", ustAddress, err)
	}
	traceOffset, err := d.t.FieldOffset("ntdll!_RTL_TRACE_BLOCK", "Trace")
	if err != nil {
		return Trace{}, err
	}

	desc := target.Describe(d.t)
	ptrWidth := desc.PointerWidth()
	base := ustAddress + uint64(traceOffset)

	frames := make([]Frame, 0, count)
	for i := uint64(0); i < count; i++ {
		raw, err := d.t.ReadMemory(base+uint64(ptrWidth)*i, ptrWidth)
		if err != nil {
			return Trace{}, fmt.Errorf("reading trace frame %d at %#x: %w", i, base+uint64(ptrWidth)*i, err)
		}
		frames = append(frames, Frame{ReturnAddress: widen(raw)})
	}
	return Trace{Frames: frames}, nil
}

func widen(data []byte) uint64 {
	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * i)
	}
	return v
}
