package proc

import (
	"errors"
	"fmt"

	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

var (
	// ErrTargetNotFound is returned when no running process matches the
	// requested executable names.
	ErrTargetNotFound = errors.New("target process not found")

	// ErrPrivilegesNotFound is returned when the debug privilege is not
	// known to the system.
	ErrPrivilegesNotFound = errors.New("debug privilege not found")
	// ErrPrivilegesNotAssigned is returned when the debug privilege could
	// not be enabled, or was only partially granted.
	ErrPrivilegesNotAssigned = errors.New("debug privilege not assigned")
	// ErrPrivilegesInsufficient is returned when the current process is
	// not running elevated.
	ErrPrivilegesInsufficient = errors.New("insufficient privileges, run as administrator")
)

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// Host is the debugging facility of the operating system. All methods
// except Interrupt must be called from the OS thread that called Attach.
type Host interface {
	// Attach starts debugging process pid.
	Attach(pid int) error
	// WaitForDebugEvent blocks until the target reports an event. The
	// target is frozen until ContinueDebugEvent is called.
	WaitForDebugEvent() (*DebugEvent, error)
	// ContinueDebugEvent resumes the target after ev was handled.
	ContinueDebugEvent(ev *DebugEvent, d Disposition) error
	// Interrupt forces the target to report an event, it may be called
	// from any goroutine.
	Interrupt() error
	// Detach stops debugging the target and lets it run freely.
	Detach() error
}

// Process is an open handle to the target process.
type Process interface {
	MemoryReader
	Pid() int
	// ThreadIDs enumerates the threads currently owned by the process.
	ThreadIDs() ([]int, error)
	// OpenThread opens tid with context and suspend/resume access.
	OpenThread(tid int) (Thread, error)
	Close() error
}

// Thread is a handle to one thread of the target with register access.
type Thread interface {
	ID() int
	// GetContext fills ctx with the registers selected by ctx.ContextFlags.
	GetContext(ctx *winutil.AMD64CONTEXT) error
	// SetContext writes the registers selected by ctx.ContextFlags.
	SetContext(ctx *winutil.AMD64CONTEXT) error
	Suspend() error
	Resume() error
	Close() error
}
