package simproc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

var errHandleClosed = errors.New("use of closed handle")

// Process is a simulated target process.
type Process struct {
	Memory

	pid int

	mu      sync.Mutex
	threads map[int]*Thread
	handles int

	// FailThreadIDs makes ThreadIDs fail when set.
	FailThreadIDs error
}

// NewProcess returns an empty process with the given pid.
func NewProcess(pid int) *Process {
	return &Process{pid: pid, threads: make(map[int]*Thread)}
}

// AddThread creates a live thread with a zeroed context.
func (p *Process) AddThread(tid int) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	th := &Thread{id: tid}
	p.threads[tid] = th
	return th
}

// RemoveThread marks tid as exited.
func (p *Process) RemoveThread(tid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, tid)
}

// Thread returns the live thread tid or nil.
func (p *Process) Thread(tid int) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threads[tid]
}

// OpenHandles returns the number of handles to the process and its
// threads that have not been closed.
func (p *Process) OpenHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.handles
	for _, th := range p.threads {
		n += th.OpenHandles()
	}
	return n
}

// Open returns a new handle to the process.
func (p *Process) Open() proc.Process {
	p.mu.Lock()
	p.handles++
	p.mu.Unlock()
	return &processHandle{p: p}
}

type processHandle struct {
	p      *Process
	closed bool
}

func (h *processHandle) ReadMemory(buf []byte, addr uint64) (int, error) {
	if h.closed {
		return 0, errHandleClosed
	}
	return h.p.ReadMemory(buf, addr)
}

func (h *processHandle) Pid() int {
	return h.p.pid
}

func (h *processHandle) ThreadIDs() ([]int, error) {
	if h.closed {
		return nil, errHandleClosed
	}
	if h.p.FailThreadIDs != nil {
		return nil, h.p.FailThreadIDs
	}
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	r := make([]int, 0, len(h.p.threads))
	for tid := range h.p.threads {
		r = append(r, tid)
	}
	sort.Ints(r)
	return r, nil
}

func (h *processHandle) OpenThread(tid int) (proc.Thread, error) {
	if h.closed {
		return nil, errHandleClosed
	}
	th := h.p.Thread(tid)
	if th == nil {
		return nil, fmt.Errorf("thread %d does not exist", tid)
	}
	return th.Open()
}

func (h *processHandle) Close() error {
	if h.closed {
		return errHandleClosed
	}
	h.closed = true
	h.p.mu.Lock()
	h.p.handles--
	h.p.mu.Unlock()
	return nil
}

// Thread is a simulated thread. Context holds its registers.
type Thread struct {
	id int

	mu      sync.Mutex
	context winutil.AMD64CONTEXT
	suspend int
	handles int

	// FailOpen, FailGet and FailSet inject errors into the corresponding
	// operations.
	FailOpen error
	FailGet  error
	FailSet  error
}

// ID returns the thread id.
func (th *Thread) ID() int {
	return th.id
}

// Context returns a copy of the registers of th.
func (th *Thread) Context() winutil.AMD64CONTEXT {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.context
}

// SetRegisters calls fn with the registers of th.
func (th *Thread) SetRegisters(fn func(ctx *winutil.AMD64CONTEXT)) {
	th.mu.Lock()
	defer th.mu.Unlock()
	fn(&th.context)
}

// SuspendCount returns the current suspend count.
func (th *Thread) SuspendCount() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.suspend
}

// OpenHandles returns the number of open handles to th.
func (th *Thread) OpenHandles() int {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.handles
}

// Open returns a new handle to th.
func (th *Thread) Open() (proc.Thread, error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.FailOpen != nil {
		return nil, th.FailOpen
	}
	th.handles++
	return &threadHandle{th: th}, nil
}

type threadHandle struct {
	th     *Thread
	closed bool
}

func (h *threadHandle) ID() int {
	return h.th.id
}

func (h *threadHandle) GetContext(ctx *winutil.AMD64CONTEXT) error {
	if h.closed {
		return errHandleClosed
	}
	th := h.th
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.FailGet != nil {
		return th.FailGet
	}
	copyContext(ctx, &th.context, ctx.ContextFlags)
	return nil
}

func (h *threadHandle) SetContext(ctx *winutil.AMD64CONTEXT) error {
	if h.closed {
		return errHandleClosed
	}
	th := h.th
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.FailSet != nil {
		return th.FailSet
	}
	copyContext(&th.context, ctx, ctx.ContextFlags)
	return nil
}

func (h *threadHandle) Suspend() error {
	if h.closed {
		return errHandleClosed
	}
	h.th.mu.Lock()
	h.th.suspend++
	h.th.mu.Unlock()
	return nil
}

func (h *threadHandle) Resume() error {
	if h.closed {
		return errHandleClosed
	}
	h.th.mu.Lock()
	defer h.th.mu.Unlock()
	if h.th.suspend == 0 {
		return fmt.Errorf("thread %d is not suspended", h.th.id)
	}
	h.th.suspend--
	return nil
}

func (h *threadHandle) Close() error {
	if h.closed {
		return errHandleClosed
	}
	h.closed = true
	h.th.mu.Lock()
	h.th.handles--
	h.th.mu.Unlock()
	return nil
}

// copyContext copies the register groups selected by flags from src to dst.
func copyContext(dst, src *winutil.AMD64CONTEXT, flags uint32) {
	if flags&winutil.CONTEXT_CONTROL == winutil.CONTEXT_CONTROL {
		dst.SegCs, dst.SegSs = src.SegCs, src.SegSs
		dst.EFlags = src.EFlags
		dst.Rsp = src.Rsp
		dst.Rip = src.Rip
	}
	if flags&winutil.CONTEXT_INTEGER == winutil.CONTEXT_INTEGER {
		dst.Rax, dst.Rbx, dst.Rcx, dst.Rdx = src.Rax, src.Rbx, src.Rcx, src.Rdx
		dst.Rbp, dst.Rsi, dst.Rdi = src.Rbp, src.Rsi, src.Rdi
		dst.R8, dst.R9, dst.R10, dst.R11 = src.R8, src.R9, src.R10, src.R11
		dst.R12, dst.R13, dst.R14, dst.R15 = src.R12, src.R13, src.R14, src.R15
	}
	if flags&winutil.CONTEXT_SEGMENTS == winutil.CONTEXT_SEGMENTS {
		dst.SegDs, dst.SegEs, dst.SegFs, dst.SegGs = src.SegDs, src.SegEs, src.SegFs, src.SegGs
	}
	if flags&winutil.CONTEXT_FLOATING_POINT == winutil.CONTEXT_FLOATING_POINT {
		dst.MxCsr = src.MxCsr
		dst.FltSave = src.FltSave
	}
	if flags&winutil.CONTEXT_DEBUG_REGISTERS == winutil.CONTEXT_DEBUG_REGISTERS {
		dst.Dr0, dst.Dr1, dst.Dr2, dst.Dr3 = src.Dr0, src.Dr1, src.Dr2, src.Dr3
		dst.Dr6, dst.Dr7 = src.Dr6, src.Dr7
	}
}
