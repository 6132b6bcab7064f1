package native

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// process is the handle to the target received with the create process
// event.
type process struct {
	h   windows.Handle
	pid int
}

func (p *process) Pid() int { return p.pid }

func (p *process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var count uintptr
	err := _ReadProcessMemory(p.h, uintptr(addr), &buf[0], uintptr(len(buf)), &count)
	if err == nil && count != uintptr(len(buf)) {
		err = proc.ErrShortRead
	}
	return int(count), err
}

// ThreadIDs walks a toolhelp snapshot of the threads of the system.
func (p *process) ThreadIDs() ([]int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(snap)

	var te windows.ThreadEntry32
	te.Size = uint32(unsafe.Sizeof(te))
	var tids []int
	for err = windows.Thread32First(snap, &te); err == nil; err = windows.Thread32Next(snap, &te) {
		if int(te.OwnerProcessID) == p.pid {
			tids = append(tids, int(te.ThreadID))
		}
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, err
	}
	return tids, nil
}

func (p *process) OpenThread(tid int) (proc.Thread, error) {
	h, err := windows.OpenThread(_THREAD_ACCESS, false, uint32(tid))
	if err != nil {
		return nil, err
	}
	return &thread{h: h, id: tid}, nil
}

func (p *process) Close() error {
	return windows.CloseHandle(p.h)
}

// thread is a handle to a thread of the target, either received with a
// debug event or opened by process.OpenThread.
type thread struct {
	h  windows.Handle
	id int
}

func (t *thread) ID() int { return t.id }

// GetContext and SetContext require a 16 byte aligned CONTEXT.
func (t *thread) GetContext(ctx *winutil.AMD64CONTEXT) error {
	return withAlignedContext(ctx, func(c *winutil.AMD64CONTEXT) error {
		return _GetThreadContext(t.h, c)
	})
}

func (t *thread) SetContext(ctx *winutil.AMD64CONTEXT) error {
	return withAlignedContext(ctx, func(c *winutil.AMD64CONTEXT) error {
		return _SetThreadContext(t.h, c)
	})
}

func withAlignedContext(ctx *winutil.AMD64CONTEXT, f func(*winutil.AMD64CONTEXT) error) error {
	if uintptr(unsafe.Pointer(ctx))&15 == 0 {
		return f(ctx)
	}
	aligned := winutil.NewAMD64CONTEXT()
	*aligned = *ctx
	err := f(aligned)
	*ctx = *aligned
	return err
}

func (t *thread) Suspend() error {
	_, err := _SuspendThread(t.h)
	return err
}

func (t *thread) Resume() error {
	_, err := _ResumeThread(t.h)
	return err
}

func (t *thread) Close() error {
	return windows.CloseHandle(t.h)
}
