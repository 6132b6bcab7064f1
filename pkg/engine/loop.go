package engine

import (
	"fmt"

	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/amd64util"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// outcome is the result of handling one debug event.
type outcome struct {
	disp proc.Disposition
	// breakIn is set for breakpoint exceptions that do not belong to a
	// hook, like the one raised by Host.Interrupt.
	breakIn bool
	exited  bool
}

func (s *Session) loop() error {
	for {
		ev, err := s.host.WaitForDebugEvent()
		if err != nil {
			s.teardown()
			return fmt.Errorf("waiting for debug event: %w", err)
		}
		out, err := s.handleEvent(ev)
		if err != nil {
			// Setup of the target failed, leave it running unhooked.
			s.host.ContinueDebugEvent(ev, proc.Continue)
			s.teardown()
			return err
		}
		if err := s.host.ContinueDebugEvent(ev, out.disp); err != nil {
			if out.exited {
				s.threads = newThreadRegistry()
				s.release()
			} else {
				s.teardown()
			}
			return fmt.Errorf("could not continue event %v: %w", ev.Kind, err)
		}
		if out.exited {
			s.threads = newThreadRegistry()
			s.release()
			return proc.ErrProcessExited{Pid: s.pid, Status: ev.ExitCode}
		}
		if out.breakIn && s.detaching.Load() {
			s.teardown()
			return nil
		}
	}
}

// handleEvent processes ev. An error is only returned when the session
// can not go on.
func (s *Session) handleEvent(ev *proc.DebugEvent) (outcome, error) {
	switch ev.Kind {
	case proc.EventCreateProcess:
		return outcome{}, s.setupProcess(ev)

	case proc.EventCreateThread:
		s.log.Debugf("thread %d created", ev.ThreadID)
		s.threads.add(ev.Thread)
		s.installHooks(ev.Thread)

	case proc.EventExitThread:
		s.log.Debugf("thread %d exited with code %d", ev.ThreadID, ev.ExitCode)
		s.threads.remove(ev.ThreadID)

	case proc.EventException:
		switch ev.Exception.Code {
		case proc.ExceptionSingleStep, proc.ExceptionBreakpoint:
			return s.dispatch(ev), nil
		case proc.ExceptionMSVC:
			// thread naming, nothing to do
		default:
			s.log.Debugf("thread %d: exception %#x at %#x passed to the target", ev.ThreadID, ev.Exception.Code, ev.Exception.Address)
			return outcome{disp: proc.NotHandled}, nil
		}

	case proc.EventExitProcess:
		s.log.Infof("process exited with code %d", ev.ExitCode)
		return outcome{exited: true}, nil

	default:
		s.log.Debugf("ignoring %v event", ev.Kind)
	}
	return outcome{}, nil
}

func (s *Session) setupProcess(ev *proc.DebugEvent) error {
	s.log.Infof("process created, image base %#x", ev.ImageBase)
	s.process = ev.Process
	s.image = proc.NewImage(ev.Process, ev.ImageBase)
	s.threads.add(ev.Thread)

	errs, err := s.table.ResolveAll(s.image)
	if err != nil {
		s.log.Errorf("could not capture image: %v", err)
		s.listeners.Error(err)
		return err
	}
	s.log.Debugf("code %#x-%#x fingerprint %016x", s.image.CodeStart(), s.image.CodeStart()+s.image.CodeSize(), s.image.Fingerprint())
	for _, err := range errs {
		if err != nil {
			s.log.Warnf("%v", err)
			s.listeners.Error(err)
		}
	}

	s.installHooks(ev.Thread)

	s.setState(Running)
	close(s.ready)
	return nil
}

// installHooks sets the breakpoints of every resolved hook on th.
func (s *Session) installHooks(th proc.Thread) {
	for _, h := range s.table.Resolved() {
		if err := setBreakpoint(th, h.Start(), amd64util.Len1, amd64util.Execute, h.Slot); err != nil {
			err = fmt.Errorf("hook %s on thread %d: %w: %v", h.Name, th.ID(), notify.ErrHookInstallFailed, err)
			s.log.Warnf("%v", err)
			s.listeners.Error(err)
		}
	}
}

// dispatch handles single step and breakpoint exceptions.
func (s *Session) dispatch(ev *proc.DebugEvent) outcome {
	th := s.threads.get(ev.ThreadID)
	if th == nil {
		s.log.Warnf("exception %#x on unknown thread %d", ev.Exception.Code, ev.ThreadID)
		return outcome{disp: proc.NotHandled}
	}

	ctx := s.ctx
	ctx.SetFlags(winutil.CONTEXT_ALL)
	if err := th.GetContext(ctx); err != nil {
		s.log.Warnf("thread %d: could not read context: %v", th.ID(), err)
		return outcome{disp: proc.NotHandled}
	}

	h := s.table.Lookup(ev.Exception.Address)
	if ev.Exception.Code == proc.ExceptionSingleStep {
		if ok, slot := ctx.DebugRegisters().ActiveBreakpoint(); ok {
			switch {
			case h == nil:
				s.log.Warnf("thread %d: slot %d triggered at %#x, no hook there", th.ID(), slot, ev.Exception.Address)
			case slot != h.Slot:
				s.log.Warnf("thread %d: hook %s hit through slot %d, installed in slot %d", th.ID(), h.Name, slot, h.Slot)
			}
		}
	}
	if h != nil {
		if err := h.Handle(ctx, s.process, s.listeners); err != nil {
			s.log.Warnf("thread %d: %v", th.ID(), err)
		}
	}

	ctx.SetFlags(winutil.CONTEXT_ALL)
	if err := th.SetContext(ctx); err != nil {
		err = fmt.Errorf("thread %d: %w: could not write context: %v", th.ID(), notify.ErrExceptionNotHandled, err)
		s.log.Warnf("%v", err)
		if h != nil {
			s.listeners.Error(err)
		}
		return outcome{disp: proc.NotHandled}
	}
	return outcome{breakIn: h == nil && ev.Exception.Code == proc.ExceptionBreakpoint}
}

// teardown removes every hook from the target, detaches from it and
// releases everything the session holds.
func (s *Session) teardown() {
	if s.process != nil {
		for _, h := range s.table.Resolved() {
			if err := broadcast(s.process, h.Start(), amd64util.Len1, amd64util.Execute, h.Slot, false); err != nil {
				s.log.Warnf("removing hook %s: %v", h.Name, err)
			}
		}
	}
	if err := s.host.Detach(); err != nil {
		s.log.Errorf("could not detach: %v", err)
	} else {
		s.log.Infof("detached")
	}
	s.log.Debugf("closing thread handles %v", s.threads.ids())
	s.threads.closeAll()
	if s.process != nil {
		s.process.Close()
	}
	s.release()
}

func (s *Session) release() {
	if s.image != nil {
		s.image.Release()
	}
	s.process = nil
}
