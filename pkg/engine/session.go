// Package engine drives a debugging session: it attaches to the target,
// installs the hooks of a table on every thread and dispatches the debug
// events the target reports until it exits or the session is detached.
package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pktdbg/pktdbg/pkg/hooks"
	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Attaching State = iota
	Running
	Detaching
	Stopped
)

func (s State) String() string {
	switch s {
	case Attaching:
		return "attaching"
	case Running:
		return "running"
	case Detaching:
		return "detaching"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	// ErrSessionStarted is returned by Run and Start when the session was
	// already started.
	ErrSessionStarted = errors.New("session already started")
	// ErrSessionNotStarted is returned by Detach before Run or Start.
	ErrSessionNotStarted = errors.New("session not started")
)

// Session is a debugging session on one target process.
type Session struct {
	id        string
	host      proc.Host
	pid       int
	table     *hooks.Table
	listeners *notify.Listeners
	log       logflags.Logger

	state     atomic.Int32
	launched  atomic.Bool
	detaching atomic.Bool
	ready     chan struct{}
	done      chan struct{}
	err       error

	// Owned by the event loop.
	process proc.Process
	image   *proc.Image
	threads *threadRegistry
	ctx     *winutil.AMD64CONTEXT
}

// NewSession returns a session that will attach host to pid and install
// the hooks of table. Captured packets and errors are delivered to
// listeners, which may be nil.
func NewSession(host proc.Host, pid int, table *hooks.Table, listeners *notify.Listeners) *Session {
	id := uuid.New().String()
	return &Session{
		id:        id,
		host:      host,
		pid:       pid,
		table:     table,
		listeners: listeners,
		log:       logflags.EngineLogger().WithFields(logflags.Fields{"pid": pid, "session": id}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		threads:   newThreadRegistry(),
		ctx:       winutil.NewAMD64CONTEXT(),
	}
}

// ID returns the identifier the session logs with.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.log.Debugf("state %v", st)
	s.state.Store(int32(st))
}

// Run attaches to the target and processes its debug events until the
// target exits, in which case a proc.ErrProcessExited is returned, or the
// session is detached, in which case the error is nil.
//
// Run locks the calling goroutine to its OS thread since the operating
// system only delivers debug events to the thread that attached.
func (s *Session) Run() error {
	if !s.launched.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.err = s.run()
	s.setState(Stopped)
	close(s.done)
	return s.err
}

func (s *Session) run() error {
	s.setState(Attaching)
	if err := s.host.Attach(s.pid); err != nil {
		s.listeners.Error(err)
		return fmt.Errorf("could not attach to process %d: %w", s.pid, err)
	}
	s.log.Infof("attached")
	return s.loop()
}

// Start calls Run on a new goroutine and returns once the target has been
// set up, or Run failed.
func (s *Session) Start() error {
	if s.launched.Load() {
		return ErrSessionStarted
	}
	errc := make(chan error, 1)
	go func() {
		errc <- s.Run()
	}()
	select {
	case <-s.ready:
		return nil
	case err := <-errc:
		if err == nil {
			err = errors.New("session stopped during startup")
		}
		return err
	}
}

// Wait blocks until the session stops and returns the error returned by
// Run.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Done returns a channel that is closed when the session stops.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Detach removes every hook from the target, stops debugging it and waits
// for the event loop to exit. The target keeps running.
func (s *Session) Detach() error {
	if !s.launched.Load() {
		return ErrSessionNotStarted
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	if s.detaching.CompareAndSwap(false, true) {
		s.setState(Detaching)
		s.log.Infof("detach requested")
		if err := s.host.Interrupt(); err != nil {
			s.detaching.Store(false)
			s.setState(Running)
			return fmt.Errorf("could not interrupt process %d: %w", s.pid, err)
		}
	}
	<-s.done
	var exited proc.ErrProcessExited
	if errors.As(s.err, &exited) {
		return nil
	}
	return s.err
}
