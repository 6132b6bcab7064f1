// Package hooks resolves hook descriptors against the code of the target
// and implements what happens when a hook is hit.
package hooks

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/arch/x86/x86asm"

	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/amd64util"
)

// DefaultBufferSize is the default capacity of the buffer each hook copies
// payloads into.
const DefaultBufferSize = 0x100000

// ErrPatternNotFound is returned for hooks whose pattern does not occur in
// the code section.
var ErrPatternNotFound = fmt.Errorf("%w: pattern not found", notify.ErrHookResolveFailed)

// Hook is a Descriptor plus the state computed when it is resolved.
type Hook struct {
	Descriptor

	resolved   bool
	start, end uint64
	buf        []byte
}

// Resolved reports whether the hook location was found.
func (h *Hook) Resolved() bool {
	return h.resolved
}

// Start returns the remote address of the first byte covered by the hook.
// Only valid once resolved.
func (h *Hook) Start() uint64 {
	return h.start
}

// End returns the remote address execution resumes at.
func (h *Hook) End() uint64 {
	return h.end
}

// Capacity returns the size of the payload buffer.
func (h *Hook) Capacity() int {
	return len(h.buf)
}

// Table is the set of hooks installed in a target.
type Table struct {
	hooks      []*Hook
	byStart    map[uint64]*Hook
	bufferSize int
}

// NewTable validates descs and returns a table of unresolved hooks. Each
// hook gets a payload buffer of bufferSize bytes once resolved, zero
// selects DefaultBufferSize.
func NewTable(descs []Descriptor, bufferSize int) (*Table, error) {
	if bufferSize < 0 {
		return nil, fmt.Errorf("negative buffer size %d", bufferSize)
	}
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	t := &Table{byStart: make(map[uint64]*Hook), bufferSize: bufferSize}
	names := make(map[string]bool)
	var slots [amd64util.NumSlots]bool
	for i := range descs {
		d := descs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if names[d.Name] {
			return nil, fmt.Errorf("duplicate hook %s", d.Name)
		}
		if slots[d.Slot] {
			return nil, fmt.Errorf("hook %s: slot %d already in use", d.Name, d.Slot)
		}
		names[d.Name] = true
		slots[d.Slot] = true
		t.hooks = append(t.hooks, &Hook{Descriptor: d})
	}
	return t, nil
}

// Hooks returns all hooks in table order.
func (t *Table) Hooks() []*Hook {
	return t.hooks
}

// Resolved returns the hooks whose location is known.
func (t *Table) Resolved() []*Hook {
	var r []*Hook
	for _, h := range t.hooks {
		if h.resolved {
			r = append(r, h)
		}
	}
	return r
}

// Lookup returns the resolved hook starting at addr, or nil.
func (t *Table) Lookup(addr uint64) *Hook {
	return t.byStart[addr]
}

// ResolveAll locates every unresolved hook in img, capturing it first if
// needed. The returned slice has one entry per hook, nil for hooks that are
// resolved. The error is only non-nil when the image could not be
// captured, in which case nothing was resolved.
func (t *Table) ResolveAll(img *proc.Image) ([]error, error) {
	if err := img.EnsureCaptured(); err != nil {
		return nil, err
	}
	log := logflags.HooksLogger()
	errs := make([]error, len(t.hooks))
	for i, h := range t.hooks {
		if h.resolved {
			continue
		}
		from := uint64(0)
		if h.SearchFrom != 0 {
			from = img.Base() + h.SearchFrom
		}
		addr, found, err := img.Find(h.Pattern, from)
		if err != nil {
			return nil, err
		}
		if !found {
			errs[i] = fmt.Errorf("hook %s: %w", h.Name, ErrPatternNotFound)
			log.Warnf("hook %s: pattern %v not found", h.Name, h.Pattern)
			continue
		}
		if prev := t.byStart[addr+uint64(h.Offset)]; prev != nil {
			errs[i] = fmt.Errorf("hook %s: %w: location %#x already used by %s", h.Name, notify.ErrHookResolveFailed, addr+uint64(h.Offset), prev.Name)
			continue
		}
		h.start = addr + uint64(h.Offset)
		h.end = h.start + uint64(h.Size)
		h.buf = make([]byte, t.bufferSize)
		h.resolved = true
		t.byStart[h.start] = h
		log.Infof("hook %s resolved at %#x-%#x", h.Name, h.start, h.end)
		checkBoundaries(log, img, h)
	}
	return errs, nil
}

// checkBoundaries warns when the range skipped by h does not end on an
// instruction boundary.
func checkBoundaries(log logflags.Logger, img *proc.Image, h *Hook) {
	code := img.Code()
	pc := img.ToLocal(h.start)
	end := img.ToLocal(h.end)
	for pc < end {
		if pc >= uint64(len(code)) {
			log.Warnf("hook %s: skipped range leaves the code section", h.Name)
			return
		}
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil {
			log.Warnf("hook %s: could not decode instruction at %#x: %v", h.Name, img.ToRemote(pc), err)
			return
		}
		log.Debugf("hook %s skips %#x: %s", h.Name, img.ToRemote(pc), x86asm.IntelSyntax(inst, img.ToRemote(pc), nil))
		pc += uint64(inst.Len)
	}
	if pc != end {
		log.Warnf("hook %s: resume address %#x is inside an instruction ending at %#x", h.Name, h.end, img.ToRemote(pc))
	}
}

// Errors returns the non nil errors of errs as a single error.
func Errors(errs []error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
