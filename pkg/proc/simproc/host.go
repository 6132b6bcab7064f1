package simproc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

// DefaultTimeout bounds the waits of NextContinue.
const DefaultTimeout = 5 * time.Second

// Continued records one call to ContinueDebugEvent.
type Continued struct {
	Event       *proc.DebugEvent
	Disposition proc.Disposition
}

// Host is a proc.Host that delivers the events queued with Push and the
// helper methods, in order.
type Host struct {
	P *Process
	// ImageBase is reported by the create-process event.
	ImageBase uint64
	// AttachErr makes Attach fail when set.
	AttachErr error

	events    chan *proc.DebugEvent
	continued chan Continued

	mu          sync.Mutex
	waitErr     error
	continueErr error
	attached    bool
	detached    bool
	nextTID     int
	owned       map[int]proc.Thread
	ownedProc   proc.Process
}

// NewHost returns a host debugging p.
func NewHost(p *Process, imageBase uint64) *Host {
	return &Host{
		P:         p,
		ImageBase: imageBase,
		events:    make(chan *proc.DebugEvent, 128),
		continued: make(chan Continued, 128),
		nextTID:   0x10000,
		owned:     make(map[int]proc.Thread),
	}
}

// Attach implements proc.Host.
func (h *Host) Attach(pid int) error {
	if h.AttachErr != nil {
		return h.AttachErr
	}
	if pid != h.P.pid {
		return fmt.Errorf("no process with pid %d", pid)
	}
	h.mu.Lock()
	h.attached = true
	h.mu.Unlock()
	return nil
}

// WaitForDebugEvent implements proc.Host.
func (h *Host) WaitForDebugEvent() (*proc.DebugEvent, error) {
	ev, ok := <-h.events
	if !ok {
		return nil, errors.New("event queue closed")
	}
	if ev == nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return nil, h.waitErr
	}
	return ev, nil
}

// FailWait makes the WaitForDebugEvent call that follows the events
// already queued return err.
func (h *Host) FailWait(err error) {
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	h.events <- nil
}

// FailContinue makes every later ContinueDebugEvent call return err.
func (h *Host) FailContinue(err error) {
	h.mu.Lock()
	h.continueErr = err
	h.mu.Unlock()
}

// ContinueDebugEvent implements proc.Host.
func (h *Host) ContinueDebugEvent(ev *proc.DebugEvent, d proc.Disposition) error {
	h.mu.Lock()
	if err := h.continueErr; err != nil {
		h.mu.Unlock()
		return err
	}
	switch ev.Kind {
	case proc.EventExitThread:
		h.P.RemoveThread(ev.ThreadID)
		if th := h.owned[ev.ThreadID]; th != nil {
			th.Close()
			delete(h.owned, ev.ThreadID)
		}
	case proc.EventExitProcess:
		for tid, th := range h.owned {
			th.Close()
			delete(h.owned, tid)
		}
		if h.ownedProc != nil {
			h.ownedProc.Close()
			h.ownedProc = nil
		}
	}
	h.mu.Unlock()
	h.continued <- Continued{ev, d}
	return nil
}

// Interrupt implements proc.Host the way DebugBreakProcess does: a new
// thread is created in the target and immediately executes a breakpoint.
func (h *Host) Interrupt() error {
	h.mu.Lock()
	tid := h.nextTID
	h.nextTID++
	h.mu.Unlock()
	h.P.AddThread(tid)
	if err := h.CreateThread(tid); err != nil {
		return err
	}
	h.Exception(tid, proc.ExceptionBreakpoint, 0x7ff000000000)
	return nil
}

// Detach implements proc.Host.
func (h *Host) Detach() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.attached {
		return errors.New("not attached")
	}
	h.detached = true
	return nil
}

// Detached reports whether Detach was called.
func (h *Host) Detached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

// Push queues ev.
func (h *Host) Push(ev *proc.DebugEvent) {
	h.events <- ev
}

// CreateProcess queues the create-process event with tid as the initial
// thread, the thread must exist in the process.
func (h *Host) CreateProcess(tid int) error {
	th := h.P.Thread(tid)
	if th == nil {
		return fmt.Errorf("thread %d does not exist", tid)
	}
	hth, err := th.Open()
	if err != nil {
		return err
	}
	hp := h.P.Open()
	h.mu.Lock()
	h.owned[tid] = hth
	h.ownedProc = hp
	h.mu.Unlock()
	h.Push(&proc.DebugEvent{
		Kind:      proc.EventCreateProcess,
		ProcessID: h.P.pid,
		ThreadID:  tid,
		Process:   hp,
		Thread:    hth,
		ImageBase: h.ImageBase,
	})
	return nil
}

// CreateThread queues a create-thread event for an existing thread.
func (h *Host) CreateThread(tid int) error {
	th := h.P.Thread(tid)
	if th == nil {
		return fmt.Errorf("thread %d does not exist", tid)
	}
	hth, err := th.Open()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.owned[tid] = hth
	h.mu.Unlock()
	h.Push(&proc.DebugEvent{Kind: proc.EventCreateThread, ProcessID: h.P.pid, ThreadID: tid, Thread: hth})
	return nil
}

// ExitThread queues a thread-exit event.
func (h *Host) ExitThread(tid, code int) {
	h.Push(&proc.DebugEvent{Kind: proc.EventExitThread, ProcessID: h.P.pid, ThreadID: tid, ExitCode: code})
}

// ExitProcess queues a process-exit event.
func (h *Host) ExitProcess(code int) {
	h.Push(&proc.DebugEvent{Kind: proc.EventExitProcess, ProcessID: h.P.pid, ExitCode: code})
}

// Exception queues a first chance exception raised by tid at addr.
func (h *Host) Exception(tid int, code uint32, addr uint64) {
	h.Push(&proc.DebugEvent{
		Kind:      proc.EventException,
		ProcessID: h.P.pid,
		ThreadID:  tid,
		Exception: proc.ExceptionInfo{Code: code, Address: addr, FirstChance: true},
	})
}

// NextContinue waits for the next call to ContinueDebugEvent.
func (h *Host) NextContinue() (Continued, error) {
	select {
	case c := <-h.continued:
		return c, nil
	case <-time.After(DefaultTimeout):
		return Continued{}, errors.New("timed out waiting for ContinueDebugEvent")
	}
}
