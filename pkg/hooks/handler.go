package hooks

import (
	"errors"
	"fmt"

	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// ErrPayloadTooLarge is returned when a payload does not fit the hook
// buffer. Nothing is copied or delivered in that case.
var ErrPayloadTooLarge = errors.New("payload larger than capture buffer")

// dr6Triggers are the B0-B3 bits of DR6.
const dr6Triggers = 0xf

// Handle processes a hit of h by the thread whose registers are in ctx:
// the payload is copied out of mem and delivered to l, then ctx is
// modified so that the thread resumes after the hooked range.
//
// The thread is always moved past the hook, the returned error only
// describes why the payload was not delivered.
func (h *Hook) Handle(ctx *winutil.AMD64CONTEXT, mem proc.MemoryReader, l *notify.Listeners) error {
	if !h.resolved {
		return fmt.Errorf("hook %s is not resolved", h.Name)
	}
	err := h.capture(ctx, mem, l)
	for _, op := range h.Resume {
		if rerr := op.Apply(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	ctx.Rip = h.end
	ctx.Dr6 &^= dr6Triggers
	return err
}

func (h *Hook) capture(ctx *winutil.AMD64CONTEXT, mem proc.MemoryReader, l *notify.Listeners) error {
	ptr, err := h.Buffer.Eval(ctx, mem)
	if err != nil {
		return fmt.Errorf("hook %s: buffer operand %v: %w", h.Name, h.Buffer, err)
	}
	length, err := h.Length.Eval(ctx, mem)
	if err != nil {
		return fmt.Errorf("hook %s: length operand %v: %w", h.Name, h.Length, err)
	}
	if length > uint64(len(h.buf)) {
		return fmt.Errorf("hook %s: %w (%d > %d)", h.Name, ErrPayloadTooLarge, length, len(h.buf))
	}
	data := h.buf[:length]
	if length > 0 {
		if err := proc.ReadFull(mem, data, ptr); err != nil {
			return fmt.Errorf("hook %s: reading %d bytes at %#x: %w", h.Name, length, ptr, err)
		}
	}
	var tag byte
	if length >= 2 {
		tag = data[1]
	}
	l.Packet(h.Category, uint32(length), tag, data)
	return nil
}
