package hooks

import (
	"errors"
	"fmt"

	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/pattern"
	"github.com/pktdbg/pktdbg/pkg/proc/amd64util"
)

// Descriptor describes where a hook goes and what it does when it is hit.
//
// The hook starts Offset bytes after the first match of Pattern and covers
// Size bytes, which must all belong to the pattern. The instructions in
// that range are not executed by the target: their effect is reproduced
// by Resume.
type Descriptor struct {
	Name     string          `yaml:"name"`
	Category notify.Category `yaml:"category"`
	Pattern  pattern.Pattern `yaml:"pattern"`
	Offset   int             `yaml:"offset"`
	Size     int             `yaml:"size"`
	// Slot is the debug register used by the hook.
	Slot uint8 `yaml:"slot"`
	// SearchFrom is the image relative address where the pattern search
	// starts, zero searches the whole code section.
	SearchFrom uint64 `yaml:"search-from,omitempty"`

	// Buffer and Length locate the payload when the hook is hit.
	Buffer Operand    `yaml:"buffer"`
	Length Operand    `yaml:"length"`
	Resume []ResumeOp `yaml:"resume"`
}

var errNoName = errors.New("hook without a name")

func (d *Descriptor) validate() error {
	if d.Name == "" {
		return errNoName
	}
	if d.Category != notify.PacketSent && d.Category != notify.PacketReceived {
		return fmt.Errorf("hook %s: %v is not a packet category", d.Name, d.Category)
	}
	if len(d.Pattern) == 0 {
		return fmt.Errorf("hook %s: empty pattern", d.Name)
	}
	if d.Size <= 0 || d.Offset < 0 || d.Offset+d.Size > len(d.Pattern) {
		return fmt.Errorf("hook %s: range %d+%d is not inside the %d byte pattern", d.Name, d.Offset, d.Size, len(d.Pattern))
	}
	if d.Slot >= amd64util.NumSlots {
		return fmt.Errorf("hook %s: slot %d out of range", d.Name, d.Slot)
	}
	if d.Buffer.Reg == "" || d.Length.Reg == "" {
		return fmt.Errorf("hook %s: missing buffer or length operand", d.Name)
	}
	return nil
}
