package amd64util

import (
	"testing"
)

func TestEncodeSlotBits(t *testing.T) {
	dr7 := Encode(0, 1, Len2, Write)
	if dr7&(1<<2) == 0 {
		t.Fatalf("enable bit of slot 1 not set: %#x", dr7)
	}
	if got := (dr7 >> 20) & 0x3; got != uint64(Write) {
		t.Errorf("condition bits: expected %d; got %d", Write, got)
	}
	if got := (dr7 >> 22) & 0x3; got != uint64(Len2) {
		t.Errorf("length bits: expected %d; got %d", Len2, got)
	}
	if expected := uint64(1<<2 | 1<<20 | 1<<22); dr7 != expected {
		t.Errorf("expected %#x; got %#x", expected, dr7)
	}
}

func TestEncodePreservesOtherSlots(t *testing.T) {
	var dr7 uint64
	dr7 = Encode(dr7, 0, Len1, Execute)
	dr7 = Encode(dr7, 2, Len4, ReadWrite)
	dr7 = Encode(dr7, 3, Len8, Write)
	before := dr7

	dr7 = Encode(dr7, 1, Len2, Write)

	slotMask := uint64(1<<2 | 0xf<<20)
	if dr7&^slotMask != before&^slotMask {
		t.Fatalf("bits of slots 0/2/3 changed: before %#x after %#x", before, dr7)
	}
}

func TestEncodeOverwritesSlot(t *testing.T) {
	dr7 := Encode(0, 2, Len8, ReadWrite)
	dr7 = Encode(dr7, 2, Len1, Execute)
	if expected := uint64(1 << 4); dr7 != expected {
		t.Fatalf("expected %#x; got %#x", expected, dr7)
	}
}

func TestSetAndClearBreakpoint(t *testing.T) {
	var dr0, dr1, dr2, dr3, dr6, dr7 uint64
	dr6 = 0x4001
	dr7 = Encode(0, 0, Len1, Execute)
	dr0 = 0x1000
	drs := NewDebugRegisters(&dr0, &dr1, &dr2, &dr3, &dr6, &dr7)

	if err := drs.SetBreakpoint(2, 0x7ff600001234, Len1, Execute); err != nil {
		t.Fatal(err)
	}
	if !drs.Dirty {
		t.Error("expected registers to be dirty")
	}
	if dr2 != 0x7ff600001234 {
		t.Errorf("DR2: expected %#x; got %#x", 0x7ff600001234, dr2)
	}
	if dr6 != 0 {
		t.Errorf("DR6 not reset: %#x", dr6)
	}
	addr, length, cond, ok := drs.Breakpoint(2)
	if !ok || addr != 0x7ff600001234 || length != Len1 || cond != Execute {
		t.Errorf("unexpected slot 2 state %#x %v %v %v", addr, length, cond, ok)
	}
	if _, _, _, ok := drs.Breakpoint(0); !ok {
		t.Error("slot 0 lost its enable bit")
	}

	drs.ClearBreakpoint(2)
	if _, _, _, ok := drs.Breakpoint(2); ok {
		t.Error("slot 2 still enabled after clear")
	}
	if dr7&(1<<4) != 0 {
		t.Errorf("enable bit 4 still set: %#x", dr7)
	}
	if dr2 != 0x7ff600001234 {
		t.Error("clear must leave the address register alone")
	}
}

func TestSetBreakpointErrors(t *testing.T) {
	var dr0, dr1, dr2, dr3, dr6, dr7 uint64
	drs := NewDebugRegisters(&dr0, &dr1, &dr2, &dr3, &dr6, &dr7)
	if err := drs.SetBreakpoint(4, 0x1000, Len1, Execute); err == nil {
		t.Error("expected error for slot 4")
	}
	if err := drs.SetBreakpoint(0, 0x1000, Len1, Condition(2)); err == nil {
		t.Error("expected error for I/O condition")
	}
	if err := drs.SetBreakpoint(0, 0x1000, Len4, Execute); err == nil {
		t.Error("expected error for wide execute breakpoint")
	}
	if drs.Dirty || dr7 != 0 {
		t.Error("failed calls must not modify the registers")
	}
}

func TestActiveBreakpoint(t *testing.T) {
	var dr0, dr1, dr2, dr3, dr6, dr7 uint64
	drs := NewDebugRegisters(&dr0, &dr1, &dr2, &dr3, &dr6, &dr7)
	drs.SetBreakpoint(1, 0x2000, Len1, Execute)
	drs.Dirty = false
	dr6 = 1 << 1
	ok, idx := drs.ActiveBreakpoint()
	if !ok || idx != 1 {
		t.Fatalf("expected slot 1 active; got %d, %v", idx, ok)
	}
	if dr6&0xf != 0 || !drs.Dirty {
		t.Errorf("condition flags not reset: %#x", dr6)
	}
}
