// Package target abstracts access to the address space of a process under
// inspection (a live target or a crash dump), plus the symbolic type
// information needed to resolve structure-field offsets whose layout shifts
// between OS releases.
package target

import "fmt"

// Win8Threshold is the osVersion() value at and above which a target is
// running Windows 8 or later. Callers encode osVersion as
// major*100+minor (Windows 8 is NT 6.2, so Win8Threshold is 602); the
// walker only ever compares against this one threshold.
const Win8Threshold = 602

// GlobalFlag is a bit in NtGlobalFlag recognized by the walker.
type GlobalFlag uint32

const (
	// FlagUST marks that the target has the user-mode stack-trace
	// database enabled.
	FlagUST GlobalFlag = 0x1000
	// FlagHPA marks that the target has page-heap enabled.
	FlagHPA GlobalFlag = 0x02000000
)

// Descriptor is an immutable view of a target's bitness, OS version and
// diagnostic flags. It carries no behavior of its own; Target computes it
// from the live target or dump once per walk.
type Descriptor struct {
	Is64Bit      bool
	OSVersion    uint32
	NtGlobalFlag GlobalFlag
}

// HasUST reports whether the user-mode stack-trace database is enabled.
func (d Descriptor) HasUST() bool { return d.NtGlobalFlag&FlagUST != 0 }

// HasHPA reports whether page-heap is enabled.
func (d Descriptor) HasHPA() bool { return d.NtGlobalFlag&FlagHPA != 0 }

// IsWin8Plus reports whether the target OS is Windows 8 or later.
func (d Descriptor) IsWin8Plus() bool { return d.OSVersion >= Win8Threshold }

// PointerWidth is 4 on a 32-bit target and 8 on a 64-bit one.
func (d Descriptor) PointerWidth() int {
	if d.Is64Bit {
		return 8
	}
	return 4
}

// Target is the memory-read and symbol oracle the walker is built on. Two
// read paths are exposed deliberately: ReadMemory for raw bytes at a known
// offset (used pervasively on 32-bit targets, whose field layouts are
// hard-coded for supported OS versions because symbol coverage under WOW is
// unreliable), and ReadField/FieldOffset/TypeSize for symbol-driven access
// (used on 64-bit targets, whose structure layouts shift between OS
// releases).
type Target interface {
	// ReadMemory reads width bytes at address.
	ReadMemory(address uint64, width int) ([]byte, error)
	// ReadField reads the named field of the named type at address,
	// returning it widened to uint64.
	ReadField(address uint64, typeName, fieldName string) (uint64, error)
	// FieldOffset returns the byte offset of fieldName within typeName.
	FieldOffset(typeName, fieldName string) (uint32, error)
	// TypeSize returns the size in bytes of typeName.
	TypeSize(typeName string) (uint32, error)
	// PEBAddress returns the address of the target's process-environment
	// block, already adjusted for a 32-bit target observed by a 64-bit
	// host (PEB32Offset has been subtracted).
	PEBAddress() (uint64, error)
	// Is64Bit reports whether the target process is 64-bit.
	Is64Bit() bool
	// IsHostBit64 reports whether the debugger host itself is 64-bit.
	IsHostBit64() bool
	// OSVersion returns the target OS version, encoded major*100+minor.
	OSVersion() uint32
	// NtGlobalFlag returns the target's NtGlobalFlag bitset.
	NtGlobalFlag() uint32
}

// Describe reads the three fields of a Descriptor off a Target.
func Describe(t Target) Descriptor {
	return Descriptor{
		Is64Bit:      t.Is64Bit(),
		OSVersion:    t.OSVersion(),
		NtGlobalFlag: GlobalFlag(t.NtGlobalFlag()),
	}
}

// PEB32Offset is the fixed offset subtracted from a 64-bit host's view of a
// PEB address to reach the 32-bit PEB of a WOW64 target.
const PEB32Offset = 0x1000

// MemoryReadFailedError reports that a read of width bytes at address could
// not be satisfied.
type MemoryReadFailedError struct {
	Address uint64
	Width   int
}

func (e *MemoryReadFailedError) Error() string {
	return fmt.Sprintf("read of %d bytes at 0x%x failed", e.Width, e.Address)
}

// SymbolLookupFailedError reports that a symbolic field or type lookup
// failed, which on a 64-bit target usually means the loaded symbols don't
// match the target OS build.
type SymbolLookupFailedError struct {
	TypeName  string
	FieldName string
}

func (e *SymbolLookupFailedError) Error() string {
	if e.FieldName == "" {
		return fmt.Sprintf("symbol lookup for type %q failed", e.TypeName)
	}
	return fmt.Sprintf("symbol lookup for %s::%s failed", e.TypeName, e.FieldName)
}

// UnsupportedOSVersionError reports that the target is running an OS
// release for which no 32-bit fixed-offset table exists.
type UnsupportedOSVersionError struct {
	OSVersion uint32
}

func (e *UnsupportedOSVersionError) Error() string {
	return fmt.Sprintf("unsupported OS version %d", e.OSVersion)
}

// PebInaccessibleError reports that the process-environment block could not
// be located or read.
type PebInaccessibleError struct {
	Address uint64
}

func (e *PebInaccessibleError) Error() string {
	return fmt.Sprintf("PEB at 0x%x is inaccessible", e.Address)
}
