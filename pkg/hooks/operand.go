package hooks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// Operand is a value computed from the registers of a stopped thread,
// either a register ("rdx") or a qword loaded from memory at a register
// plus a displacement ("[rsp+0x48]").
type Operand struct {
	Reg   string
	Deref bool
	Disp  int64
}

// ParseOperand parses the textual form of an operand.
func ParseOperand(s string) (Operand, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var op Operand
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return op, fmt.Errorf("unterminated memory operand %q", s)
		}
		op.Deref = true
		s = strings.TrimSpace(s[1 : len(s)-1])
		if i := strings.IndexAny(s, "+-"); i >= 0 {
			disp, err := strconv.ParseInt(strings.ReplaceAll(s[i:], " ", ""), 0, 64)
			if err != nil {
				return op, fmt.Errorf("bad displacement in %q: %v", s, err)
			}
			op.Disp = disp
			s = strings.TrimSpace(s[:i])
		}
	}
	if !winutil.IsRegister(s) {
		return op, fmt.Errorf("unknown register %q", s)
	}
	op.Reg = s
	return op, nil
}

func (op Operand) String() string {
	if !op.Deref {
		return op.Reg
	}
	switch {
	case op.Disp > 0:
		return fmt.Sprintf("[%s+%#x]", op.Reg, op.Disp)
	case op.Disp < 0:
		return fmt.Sprintf("[%s-%#x]", op.Reg, -op.Disp)
	}
	return "[" + op.Reg + "]"
}

// MarshalYAML implements yaml.Marshaler.
func (op Operand) MarshalYAML() (interface{}, error) {
	return op.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (op *Operand) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseOperand(s)
	if err != nil {
		return err
	}
	*op = v
	return nil
}

// Eval computes the value of op. Memory is only accessed for
// dereferencing operands.
func (op Operand) Eval(ctx *winutil.AMD64CONTEXT, mem proc.MemoryReader) (uint64, error) {
	r, err := ctx.Reg(op.Reg)
	if err != nil {
		return 0, err
	}
	if !op.Deref {
		return *r, nil
	}
	return proc.ReadUint64(mem, *r+uint64(op.Disp))
}
