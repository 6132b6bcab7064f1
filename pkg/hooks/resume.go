package hooks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

// OpKind is the operation of a ResumeOp.
type OpKind uint8

const (
	// Mov copies the source into the destination.
	Mov OpKind = iota
	// Mov32 copies the low 32 bits of the source, zero extending them.
	Mov32
	// Movsxd copies the low 32 bits of the source, sign extending them.
	Movsxd
	// Add adds the source to the destination.
	Add
)

var opNames = [...]string{Mov: "mov", Mov32: "mov32", Movsxd: "movsxd", Add: "add"}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// ResumeOp emulates the effect of one of the instructions skipped by a
// hook, e.g. "add rcx, 0x10" or "mov32 rdi, rax".
type ResumeOp struct {
	Op  OpKind
	Dst string
	// Src is a register name, when empty Imm is used.
	Src string
	Imm uint64
}

// ParseResumeOp parses "op dst, src" where src is a register or an
// integer literal.
func ParseResumeOp(s string) (ResumeOp, error) {
	var r ResumeOp
	s = strings.ToLower(strings.TrimSpace(s))
	sp := strings.IndexAny(s, " \t")
	if sp < 0 {
		return r, fmt.Errorf("malformed resume operation %q", s)
	}
	op := s[:sp]
	found := false
	for i, name := range opNames {
		if name == op {
			r.Op = OpKind(i)
			found = true
			break
		}
	}
	if !found {
		return r, fmt.Errorf("unknown resume operation %q", op)
	}
	args := strings.Split(s[sp+1:], ",")
	if len(args) != 2 {
		return r, fmt.Errorf("resume operation %q needs two operands", s)
	}
	r.Dst = strings.TrimSpace(args[0])
	if !winutil.IsRegister(r.Dst) {
		return r, fmt.Errorf("unknown register %q", r.Dst)
	}
	src := strings.TrimSpace(args[1])
	if winutil.IsRegister(src) {
		r.Src = src
		return r, nil
	}
	imm, err := strconv.ParseInt(src, 0, 64)
	if err != nil {
		return r, fmt.Errorf("bad source operand %q", src)
	}
	r.Imm = uint64(imm)
	return r, nil
}

func (r ResumeOp) String() string {
	src := r.Src
	if src == "" {
		src = fmt.Sprintf("%#x", r.Imm)
	}
	return fmt.Sprintf("%s %s, %s", r.Op, r.Dst, src)
}

// MarshalYAML implements yaml.Marshaler.
func (r ResumeOp) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *ResumeOp) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseResumeOp(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Apply performs the operation on ctx.
func (r ResumeOp) Apply(ctx *winutil.AMD64CONTEXT) error {
	dst, err := ctx.Reg(r.Dst)
	if err != nil {
		return err
	}
	src := r.Imm
	if r.Src != "" {
		p, err := ctx.Reg(r.Src)
		if err != nil {
			return err
		}
		src = *p
	}
	switch r.Op {
	case Mov:
		*dst = src
	case Mov32:
		*dst = uint64(uint32(src))
	case Movsxd:
		*dst = uint64(int64(int32(uint32(src))))
	case Add:
		*dst += src
	default:
		return fmt.Errorf("unknown resume operation %v", r.Op)
	}
	return nil
}
