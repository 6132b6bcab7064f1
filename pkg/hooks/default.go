package hooks

import (
	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/pattern"
)

func mustOperand(s string) Operand {
	op, err := ParseOperand(s)
	if err != nil {
		panic(err)
	}
	return op
}

func mustResume(s string) ResumeOp {
	r, err := ParseResumeOp(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the built-in hooks: the client's packet sender, its
// packet receiver and the WSARecv completion path.
func Default() []Descriptor {
	return []Descriptor{
		{
			Name:     "send",
			Category: notify.PacketSent,
			// mov rax, [rcx+0x10]; add rcx, 0x10; mov r9, r8
			Pattern: pattern.MustParse("48 8b 41 10 48 83 c1 10 4d 8b c8"),
			Offset:  4,
			Size:    4,
			Slot:    0,
			Buffer:  mustOperand("rdx"),
			Length:  mustOperand("r8"),
			Resume:  []ResumeOp{mustResume("add rcx, 0x10")},
		},
		{
			Name:     "recv",
			Category: notify.PacketReceived,
			// mov edi, eax; jmp +0x78; lea rax, [rdx+r14]
			Pattern: pattern.MustParse("8b f8 eb 78 4a 8d 04 32"),
			Offset:  0,
			Size:    2,
			Slot:    1,
			Buffer:  mustOperand("r9"),
			Length:  mustOperand("rax"),
			Resume:  []ResumeOp{mustResume("mov32 rdi, rax")},
		},
		{
			Name:     "wsarecv",
			Category: notify.PacketReceived,
			// movsxd rax, edi; add [rbx+0x198], rax
			Pattern: pattern.MustParse("48 63 c7 48 01 83 98 01 00 00"),
			Offset:  0,
			Size:    3,
			Slot:    2,
			Buffer:  mustOperand("[rsp+0x48]"),
			Length:  mustOperand("rdi"),
			Resume:  []ResumeOp{mustResume("movsxd rax, rdi")},
		},
	}
}
