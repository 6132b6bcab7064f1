package amd64util

import (
	"fmt"
)

// NumSlots is the number of hardware breakpoint slots (DR0-DR3).
const NumSlots = 4

// Condition is the R/W field of a DR7 slot.
type Condition uint8

const (
	// Execute breaks on instruction fetch.
	Execute Condition = 0
	// Write breaks on data writes.
	Write Condition = 1
	// ReadWrite breaks on data reads or writes.
	ReadWrite Condition = 3
)

func (c Condition) String() string {
	switch c {
	case Execute:
		return "execute"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("Condition(%d)", uint8(c))
}

// Length is the LEN field of a DR7 slot. Note that the encoding is not
// monotonic: 8 bytes is 2 and 4 bytes is 3.
type Length uint8

const (
	Len1 Length = 0
	Len2 Length = 1
	Len8 Length = 2
	Len4 Length = 3
)

// Size returns the number of bytes covered by l.
func (l Length) Size() int {
	switch l {
	case Len2:
		return 2
	case Len8:
		return 8 // sic
	case Len4:
		return 4
	}
	return 1
}

func conditionBitsOffset(idx uint8) uint8 {
	return 16 + idx*4
}

func lengthBitsOffset(idx uint8) uint8 {
	return 18 + idx*4
}

func enableBitOffset(idx uint8) uint8 {
	return idx * 2
}

// Encode returns dr7 with slot idx enabled for the given length and
// condition. Bits owned by the other slots are left untouched.
func Encode(dr7 uint64, idx uint8, length Length, cond Condition) uint64 {
	dr7 &^= 0x3 << conditionBitsOffset(idx)
	dr7 &^= 0x3 << lengthBitsOffset(idx)
	dr7 |= uint64(cond&0x3) << conditionBitsOffset(idx)
	dr7 |= uint64(length&0x3) << lengthBitsOffset(idx)
	dr7 |= 1 << enableBitOffset(idx)
	return dr7
}

// Disable returns dr7 with the local enable bit of slot idx cleared. The
// address, condition and length bits stay in place and are inert.
func Disable(dr7 uint64, idx uint8) uint64 {
	return dr7 &^ (1 << enableBitOffset(idx))
}

// DebugRegisters represents x86 debug registers described in the Intel 64
// and IA-32 Architectures Software Developer's Manual, Vol. 3B, section
// 17.2
type DebugRegisters struct {
	pAddrs     [NumSlots]*uint64
	pDR6, pDR7 *uint64
	Dirty      bool
}

func NewDebugRegisters(pDR0, pDR1, pDR2, pDR3, pDR6, pDR7 *uint64) *DebugRegisters {
	return &DebugRegisters{
		pAddrs: [NumSlots]*uint64{pDR0, pDR1, pDR2, pDR3},
		pDR6:   pDR6,
		pDR7:   pDR7,
		Dirty:  false,
	}
}

// Breakpoint decodes slot idx. Disabled slots report ok == false.
func (drs *DebugRegisters) Breakpoint(idx uint8) (addr uint64, length Length, cond Condition, ok bool) {
	if int(idx) >= NumSlots {
		return 0, 0, 0, false
	}
	if *(drs.pDR7)&(1<<enableBitOffset(idx)) == 0 {
		return 0, 0, 0, false
	}
	addr = *(drs.pAddrs[idx])
	cond = Condition((*(drs.pDR7) >> conditionBitsOffset(idx)) & 0x3)
	length = Length((*(drs.pDR7) >> lengthBitsOffset(idx)) & 0x3)
	return addr, length, cond, true
}

// SetBreakpoint programs slot idx to trigger on addr, overwriting whatever
// the slot held before. The status register is reset so that stale trigger
// history does not survive.
func (drs *DebugRegisters) SetBreakpoint(idx uint8, addr uint64, length Length, cond Condition) error {
	if int(idx) >= NumSlots {
		return fmt.Errorf("hardware breakpoint slot %d out of range", idx)
	}
	if cond != Execute && cond != Write && cond != ReadWrite {
		return fmt.Errorf("breakpoint condition %v not supported", cond)
	}
	if cond == Execute && length != Len1 {
		return fmt.Errorf("execute breakpoints must have length 1, got %d", length.Size())
	}

	*(drs.pAddrs[idx]) = addr
	*(drs.pDR7) = Encode(*(drs.pDR7), idx, length, cond)
	*(drs.pDR6) = 0
	drs.Dirty = true
	return nil
}

// ClearBreakpoint disables the hardware breakpoint at index 'idx'. If the
// breakpoint was already disabled it does nothing.
func (drs *DebugRegisters) ClearBreakpoint(idx uint8) {
	if int(idx) >= NumSlots {
		return
	}
	if *(drs.pDR7)&(1<<enableBitOffset(idx)) == 0 {
		return
	}
	*(drs.pDR7) = Disable(*(drs.pDR7), idx)
	drs.Dirty = true
}

// ActiveBreakpoint returns the enabled slot recorded as triggered in DR6
// and resets the condition flags.
func (drs *DebugRegisters) ActiveBreakpoint() (ok bool, idx uint8) {
	for idx := uint8(0); idx < NumSlots; idx++ {
		enable := *(drs.pDR7) & (1 << enableBitOffset(idx))
		if enable == 0 {
			continue
		}
		if *(drs.pDR6)&(1<<idx) != 0 {
			*drs.pDR6 &^= 0xf // it is our responsibility to clear the condition bits
			drs.Dirty = true
			return true, idx
		}
	}
	return false, 0
}
