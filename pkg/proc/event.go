package proc

import "fmt"

// EventKind is the type of a debug event.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventCreateProcess
	EventCreateThread
	EventException
	EventExitThread
	EventExitProcess
	EventLoadDLL
	EventUnloadDLL
	EventOutputDebugString
	EventRIP
)

func (k EventKind) String() string {
	switch k {
	case EventCreateProcess:
		return "create-process"
	case EventCreateThread:
		return "create-thread"
	case EventException:
		return "exception"
	case EventExitThread:
		return "exit-thread"
	case EventExitProcess:
		return "exit-process"
	case EventLoadDLL:
		return "load-dll"
	case EventUnloadDLL:
		return "unload-dll"
	case EventOutputDebugString:
		return "output-debug-string"
	case EventRIP:
		return "rip"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Exception codes the engine cares about.
const (
	ExceptionBreakpoint = 0x80000003
	ExceptionSingleStep = 0x80000004
	// ExceptionMSVC is raised by the Visual C runtime to name threads.
	ExceptionMSVC = 0x406D1388
)

// ExceptionInfo describes an EventException.
type ExceptionInfo struct {
	Code        uint32
	Address     uint64
	FirstChance bool
}

// DebugEvent is one event reported by Host.WaitForDebugEvent.
type DebugEvent struct {
	Kind      EventKind
	ProcessID int
	ThreadID  int

	// Process and ImageBase are set for EventCreateProcess.
	Process   Process
	ImageBase uint64
	// Thread is set for EventCreateProcess and EventCreateThread.
	Thread Thread

	// Exception is set for EventException.
	Exception ExceptionInfo
	// ExitCode is set for EventExitThread and EventExitProcess.
	ExitCode int
}

// Disposition tells the host how the target should continue after an
// event.
type Disposition uint8

const (
	// Continue resumes the target; for exceptions it marks them handled.
	Continue Disposition = iota
	// NotHandled passes an exception back to the target's own handlers.
	NotHandled
)

func (d Disposition) String() string {
	if d == NotHandled {
		return "not-handled"
	}
	return "continue"
}
