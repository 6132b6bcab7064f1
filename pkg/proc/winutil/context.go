package winutil

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/pktdbg/pktdbg/pkg/proc/amd64util"
)

// Context flags for GetThreadContext/SetThreadContext on amd64.
const (
	CONTEXT_AMD64           = 0x100000
	CONTEXT_CONTROL         = CONTEXT_AMD64 | 0x1
	CONTEXT_INTEGER         = CONTEXT_AMD64 | 0x2
	CONTEXT_SEGMENTS        = CONTEXT_AMD64 | 0x4
	CONTEXT_FLOATING_POINT  = CONTEXT_AMD64 | 0x8
	CONTEXT_DEBUG_REGISTERS = CONTEXT_AMD64 | 0x10
	CONTEXT_FULL            = CONTEXT_CONTROL | CONTEXT_INTEGER | CONTEXT_FLOATING_POINT
	CONTEXT_ALL             = CONTEXT_CONTROL | CONTEXT_INTEGER | CONTEXT_SEGMENTS | CONTEXT_FLOATING_POINT | CONTEXT_DEBUG_REGISTERS
)

// M128A tracks the _M128A windows struct.
type M128A struct {
	Low  uint64
	High int64
}

// XMM_SAVE_AREA32 tracks the _XMM_SAVE_AREA32 windows struct.
type XMM_SAVE_AREA32 struct {
	ControlWord    uint16
	StatusWord     uint16
	TagWord        byte
	Reserved1      byte
	ErrorOpcode    uint16
	ErrorOffset    uint32
	ErrorSelector  uint16
	Reserved2      uint16
	DataOffset     uint32
	DataSelector   uint16
	Reserved3      uint16
	MxCsr          uint32
	MxCsr_Mask     uint32
	FloatRegisters [8]M128A
	XmmRegisters   [256]byte
	Reserved4      [96]byte
}

// AMD64CONTEXT tracks the _CONTEXT of windows.
type AMD64CONTEXT struct {
	P1Home uint64
	P2Home uint64
	P3Home uint64
	P4Home uint64
	P5Home uint64
	P6Home uint64

	ContextFlags uint32
	MxCsr        uint32

	SegCs  uint16
	SegDs  uint16
	SegEs  uint16
	SegFs  uint16
	SegGs  uint16
	SegSs  uint16
	EFlags uint32

	Dr0 uint64
	Dr1 uint64
	Dr2 uint64
	Dr3 uint64
	Dr6 uint64
	Dr7 uint64

	Rax uint64
	Rcx uint64
	Rdx uint64
	Rbx uint64
	Rsp uint64
	Rbp uint64
	Rsi uint64
	Rdi uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	Rip uint64

	FltSave XMM_SAVE_AREA32

	VectorRegister [26]M128A
	VectorControl  uint64

	DebugControl         uint64
	LastBranchToRip      uint64
	LastBranchFromRip    uint64
	LastExceptionToRip   uint64
	LastExceptionFromRip uint64
}

// NewAMD64CONTEXT allocates Windows CONTEXT structure aligned to 16 bytes.
func NewAMD64CONTEXT() *AMD64CONTEXT {
	var c *AMD64CONTEXT
	buf := make([]byte, unsafe.Sizeof(*c)+15)
	return (*AMD64CONTEXT)(unsafe.Pointer((uintptr(unsafe.Pointer(&buf[15]))) &^ 15))
}

func (ctx *AMD64CONTEXT) SetFlags(flags uint32) {
	ctx.ContextFlags = flags
}

func (ctx *AMD64CONTEXT) SetPC(pc uint64) {
	ctx.Rip = pc
}

// DebugRegisters returns a view over the DR0-DR7 fields of ctx.
func (ctx *AMD64CONTEXT) DebugRegisters() *amd64util.DebugRegisters {
	return amd64util.NewDebugRegisters(&ctx.Dr0, &ctx.Dr1, &ctx.Dr2, &ctx.Dr3, &ctx.Dr6, &ctx.Dr7)
}

// Reg returns a pointer to the general purpose register called name
// (case insensitive, e.g. "rdx", "R8", "rip").
func (ctx *AMD64CONTEXT) Reg(name string) (*uint64, error) {
	switch strings.ToLower(name) {
	case "rax":
		return &ctx.Rax, nil
	case "rbx":
		return &ctx.Rbx, nil
	case "rcx":
		return &ctx.Rcx, nil
	case "rdx":
		return &ctx.Rdx, nil
	case "rsi":
		return &ctx.Rsi, nil
	case "rdi":
		return &ctx.Rdi, nil
	case "rbp":
		return &ctx.Rbp, nil
	case "rsp":
		return &ctx.Rsp, nil
	case "r8":
		return &ctx.R8, nil
	case "r9":
		return &ctx.R9, nil
	case "r10":
		return &ctx.R10, nil
	case "r11":
		return &ctx.R11, nil
	case "r12":
		return &ctx.R12, nil
	case "r13":
		return &ctx.R13, nil
	case "r14":
		return &ctx.R14, nil
	case "r15":
		return &ctx.R15, nil
	case "rip":
		return &ctx.Rip, nil
	}
	return nil, fmt.Errorf("unknown register %q", name)
}

// IsRegister reports whether name is accepted by Reg.
func IsRegister(name string) bool {
	var ctx AMD64CONTEXT
	_, err := ctx.Reg(name)
	return err == nil
}
