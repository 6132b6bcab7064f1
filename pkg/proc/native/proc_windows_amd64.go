package native

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/proc"
)

// Host implements proc.Host on top of the Windows debugging API.
type Host struct {
	mu  sync.Mutex
	pid int
	// hProcess is only used by Interrupt, the handles passed to the
	// debugger with each event belong to the event loop.
	hProcess windows.Handle
	attached bool
}

// NewHost returns a Host that is not attached to any process.
func NewHost() *Host {
	return &Host{}
}

// Attach enables the debug privilege and starts debugging pid. Killing
// the debugger does not kill the target.
func (h *Host) Attach(pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attached {
		return fmt.Errorf("already attached to process %d", h.pid)
	}
	if err := enableDebugPrivilege(); err != nil {
		return err
	}
	hProcess, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return fmt.Errorf("%w: pid %d", proc.ErrTargetNotFound, pid)
		}
		return err
	}
	if err := _DebugActiveProcess(uint32(pid)); err != nil {
		windows.CloseHandle(hProcess)
		return err
	}
	if err := _DebugSetProcessKillOnExit(false); err != nil {
		logflags.EngineLogger().Warnf("could not keep process %d alive on exit: %v", pid, err)
	}
	h.pid = pid
	h.hProcess = hProcess
	h.attached = true
	return nil
}

// WaitForDebugEvent blocks until the target reports an event.
func (h *Host) WaitForDebugEvent() (*proc.DebugEvent, error) {
	var debugEvent _DEBUG_EVENT
	if err := _WaitForDebugEvent(&debugEvent, windows.INFINITE); err != nil {
		return nil, err
	}
	return translateEvent(&debugEvent)
}

// translateEvent converts a raw debug event. The file handles the system
// passes with create process and load dll events are closed here.
func translateEvent(debugEvent *_DEBUG_EVENT) (*proc.DebugEvent, error) {
	ev := &proc.DebugEvent{
		ProcessID: int(debugEvent.ProcessId),
		ThreadID:  int(debugEvent.ThreadId),
	}
	unionPtr := unsafe.Pointer(&debugEvent.U[0])
	switch debugEvent.DebugEventCode {
	case _CREATE_PROCESS_DEBUG_EVENT:
		debugInfo := (*_CREATE_PROCESS_DEBUG_INFO)(unionPtr)
		closeFile(debugInfo.File)
		ev.Kind = proc.EventCreateProcess
		ev.ImageBase = uint64(debugInfo.BaseOfImage)
		ev.Process = &process{h: debugInfo.Process, pid: ev.ProcessID}
		ev.Thread = &thread{h: debugInfo.Thread, id: ev.ThreadID}
	case _CREATE_THREAD_DEBUG_EVENT:
		debugInfo := (*_CREATE_THREAD_DEBUG_INFO)(unionPtr)
		ev.Kind = proc.EventCreateThread
		ev.Thread = &thread{h: debugInfo.Thread, id: ev.ThreadID}
	case _EXCEPTION_DEBUG_EVENT:
		debugInfo := (*_EXCEPTION_DEBUG_INFO)(unionPtr)
		ev.Kind = proc.EventException
		ev.Exception = proc.ExceptionInfo{
			Code:        debugInfo.ExceptionRecord.ExceptionCode,
			Address:     uint64(debugInfo.ExceptionRecord.ExceptionAddress),
			FirstChance: debugInfo.FirstChance != 0,
		}
	case _EXIT_THREAD_DEBUG_EVENT:
		ev.Kind = proc.EventExitThread
		ev.ExitCode = int((*_EXIT_THREAD_DEBUG_INFO)(unionPtr).ExitCode)
	case _EXIT_PROCESS_DEBUG_EVENT:
		ev.Kind = proc.EventExitProcess
		ev.ExitCode = int((*_EXIT_PROCESS_DEBUG_INFO)(unionPtr).ExitCode)
	case _LOAD_DLL_DEBUG_EVENT:
		closeFile((*_LOAD_DLL_DEBUG_INFO)(unionPtr).File)
		ev.Kind = proc.EventLoadDLL
	case _UNLOAD_DLL_DEBUG_EVENT:
		ev.Kind = proc.EventUnloadDLL
	case _OUTPUT_DEBUG_STRING_EVENT:
		ev.Kind = proc.EventOutputDebugString
	case _RIP_EVENT:
		ev.Kind = proc.EventRIP
	default:
		return nil, fmt.Errorf("unknown debug event code: %d", debugEvent.DebugEventCode)
	}
	return ev, nil
}

func closeFile(hFile windows.Handle) {
	if hFile != 0 && hFile != windows.InvalidHandle {
		if err := windows.CloseHandle(hFile); err != nil {
			logflags.EngineLogger().Debugf("could not close image file handle: %v", err)
		}
	}
}

// ContinueDebugEvent resumes the target after ev.
func (h *Host) ContinueDebugEvent(ev *proc.DebugEvent, d proc.Disposition) error {
	continueStatus := uint32(_DBG_CONTINUE)
	if d == proc.NotHandled {
		continueStatus = _DBG_EXCEPTION_NOT_HANDLED
	}
	return _ContinueDebugEvent(uint32(ev.ProcessID), uint32(ev.ThreadID), continueStatus)
}

// Interrupt makes the system create a thread in the target that raises
// a breakpoint exception.
func (h *Host) Interrupt() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.attached {
		return errors.New("not attached")
	}
	return _DebugBreakProcess(h.hProcess)
}

// Detach stops debugging the target, which keeps running.
func (h *Host) Detach() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.attached {
		return nil
	}
	err := _DebugActiveProcessStop(uint32(h.pid))
	windows.CloseHandle(h.hProcess)
	h.hProcess = 0
	h.attached = false
	return err
}
