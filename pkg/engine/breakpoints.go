package engine

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/amd64util"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// withDebugRegisters reads the debug registers of th, calls f on them and
// writes them back if f changed them.
func withDebugRegisters(th proc.Thread, f func(*amd64util.DebugRegisters) error) error {
	ctx := winutil.NewAMD64CONTEXT()
	ctx.SetFlags(winutil.CONTEXT_DEBUG_REGISTERS)
	if err := th.GetContext(ctx); err != nil {
		return err
	}

	drs := ctx.DebugRegisters()

	if err := f(drs); err != nil {
		return err
	}

	if drs.Dirty {
		return th.SetContext(ctx)
	}
	return nil
}

// setBreakpoint programs slot of th to trigger on addr.
func setBreakpoint(th proc.Thread, addr uint64, length amd64util.Length, cond amd64util.Condition, slot uint8) error {
	err := withDebugRegisters(th, func(drs *amd64util.DebugRegisters) error {
		return drs.SetBreakpoint(slot, addr, length, cond)
	})
	if err == nil {
		logflags.BreakpointsLogger().Debugf("thread %d: slot %d set to %#x (%v, %d bytes)", th.ID(), slot, addr, cond, length.Size())
	}
	return err
}

// clearBreakpoint disables slot of th.
func clearBreakpoint(th proc.Thread, slot uint8) error {
	err := withDebugRegisters(th, func(drs *amd64util.DebugRegisters) error {
		drs.ClearBreakpoint(slot)
		return nil
	})
	if err == nil {
		logflags.BreakpointsLogger().Debugf("thread %d: slot %d cleared", th.ID(), slot)
	}
	return err
}

// broadcast sets (enable) or clears slot on every thread of p. Each thread
// is suspended while its registers are changed. A failure on one thread
// does not stop the others, all failures are returned together.
func broadcast(p proc.Process, addr uint64, length amd64util.Length, cond amd64util.Condition, slot uint8, enable bool) error {
	log := logflags.BreakpointsLogger()
	tids, err := p.ThreadIDs()
	if err != nil {
		return fmt.Errorf("could not enumerate threads: %w", err)
	}
	var result *multierror.Error
	done := 0
	for _, tid := range tids {
		if err := broadcastOne(p, tid, addr, length, cond, slot, enable); err != nil {
			log.Warnf("thread %d: %v", tid, err)
			result = multierror.Append(result, fmt.Errorf("thread %d: %w", tid, err))
			continue
		}
		done++
	}
	log.Debugf("slot %d updated on %d of %d threads", slot, done, len(tids))
	return result.ErrorOrNil()
}

func broadcastOne(p proc.Process, tid int, addr uint64, length amd64util.Length, cond amd64util.Condition, slot uint8, enable bool) (err error) {
	th, err := p.OpenThread(tid)
	if err != nil {
		return err
	}
	defer th.Close()
	if err := th.Suspend(); err != nil {
		return err
	}
	defer func() {
		if rerr := th.Resume(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	if enable {
		return setBreakpoint(th, addr, length, cond, slot)
	}
	return clearBreakpoint(th, slot)
}
