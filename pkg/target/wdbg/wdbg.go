//go:build windows

// Package wdbg is the target.Target adapter for a live debugger-hosted
// session. No IDebugClient/IDebugDataSpaces binding exists in this
// repository (there is no cgo bridge to link against in this pack), so
// Adapter delegates every operation to caller-supplied functions; a real
// integration wires those to the actual debugger-engine calls.
package wdbg

import (
	"golang.org/x/sys/windows"

	"github.com/go-heapstat/heapstat/pkg/target"
)

// Machine is an IMAGE_FILE_MACHINE_* value, the way a debugger-engine
// client reports a target's processor architecture.
type Machine = uint16

const (
	MachineI386  Machine = windows.IMAGE_FILE_MACHINE_I386
	MachineAMD64 Machine = windows.IMAGE_FILE_MACHINE_AMD64
)

// Adapter implements target.Target over a set of caller-supplied
// functions. Every Func field must be set before use; a nil one panics on
// first call, the same fail-fast contract delve's OS-specific proc
// backends rely on for their unimplemented-platform stubs.
type Adapter struct {
	ReadMemoryFunc  func(address uint64, width int) ([]byte, error)
	ReadFieldFunc   func(address uint64, typeName, fieldName string) (uint64, error)
	FieldOffsetFunc func(typeName, fieldName string) (uint32, error)
	TypeSizeFunc    func(typeName string) (uint32, error)
	PEBAddressFunc  func() (uint64, error)

	TargetMachine Machine
	HostMachine   Machine
	OSVersionN    uint32
	NtGlobalFlagN uint32
}

func (a *Adapter) ReadMemory(address uint64, width int) ([]byte, error) {
	return a.ReadMemoryFunc(address, width)
}

func (a *Adapter) ReadField(address uint64, typeName, fieldName string) (uint64, error) {
	return a.ReadFieldFunc(address, typeName, fieldName)
}

func (a *Adapter) FieldOffset(typeName, fieldName string) (uint32, error) {
	return a.FieldOffsetFunc(typeName, fieldName)
}

func (a *Adapter) TypeSize(typeName string) (uint32, error) {
	return a.TypeSizeFunc(typeName)
}

func (a *Adapter) PEBAddress() (uint64, error) {
	return a.PEBAddressFunc()
}

func (a *Adapter) Is64Bit() bool     { return a.TargetMachine == MachineAMD64 }
func (a *Adapter) IsHostBit64() bool { return a.HostMachine == MachineAMD64 }
func (a *Adapter) OSVersion() uint32 { return a.OSVersionN }

func (a *Adapter) NtGlobalFlag() uint32 { return a.NtGlobalFlagN }

var _ target.Target = (*Adapter)(nil)
