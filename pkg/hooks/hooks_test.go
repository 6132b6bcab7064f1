package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/pattern"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/simproc"
	"github.com/pktdbg/pktdbg/pkg/proc/winutil"
)

const (
	imageBase = 0x7ff700000000
	codeRVA   = 0x1000

	sendOff    = 0x100
	recvOff    = 0x200
	wsarecvOff = 0x300
)

func signatureCode(withRecv bool) []byte {
	code := make([]byte, 0x400)
	for i := range code {
		code[i] = 0x90
	}
	copy(code[sendOff:], []byte{0x48, 0x8b, 0x41, 0x10, 0x48, 0x83, 0xc1, 0x10, 0x4d, 0x8b, 0xc8})
	if withRecv {
		copy(code[recvOff:], []byte{0x8b, 0xf8, 0xeb, 0x78, 0x4a, 0x8d, 0x04, 0x32})
	}
	copy(code[wsarecvOff:], []byte{0x48, 0x63, 0xc7, 0x48, 0x01, 0x83, 0x98, 0x01, 0x00, 0x00})
	return code
}

func newImage(t *testing.T, withRecv bool) (*simproc.Process, *proc.Image) {
	t.Helper()
	p := simproc.NewProcess(1)
	p.Map(imageBase, simproc.BuildPE(signatureCode(withRecv), codeRVA, 0x2000))
	return p, proc.NewImage(p, imageBase)
}

func resolvedTable(t *testing.T, bufferSize int) (*simproc.Process, *Table) {
	t.Helper()
	p, img := newImage(t, true)
	tbl, err := NewTable(Default(), bufferSize)
	require.NoError(t, err)
	errs, err := tbl.ResolveAll(img)
	require.NoError(t, err)
	require.NoError(t, Errors(errs))
	return p, tbl
}

func TestResolveDefault(t *testing.T) {
	_, tbl := resolvedTable(t, 0)
	hs := tbl.Hooks()
	require.Len(t, hs, 3)

	want := []struct{ start, end uint64 }{
		{imageBase + codeRVA + sendOff + 4, imageBase + codeRVA + sendOff + 8},
		{imageBase + codeRVA + recvOff, imageBase + codeRVA + recvOff + 2},
		{imageBase + codeRVA + wsarecvOff, imageBase + codeRVA + wsarecvOff + 3},
	}
	for i, h := range hs {
		assert.True(t, h.Resolved(), h.Name)
		assert.Equal(t, want[i].start, h.Start(), h.Name)
		assert.Equal(t, want[i].end, h.End(), h.Name)
		assert.Equal(t, DefaultBufferSize, h.Capacity())
		assert.Same(t, h, tbl.Lookup(h.Start()))
	}
	assert.Nil(t, tbl.Lookup(imageBase+codeRVA+sendOff))
}

func TestResolvePartial(t *testing.T) {
	p, img := newImage(t, false)
	tbl, err := NewTable(Default(), 0)
	require.NoError(t, err)

	errs, err := tbl.ResolveAll(img)
	require.NoError(t, err)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrPatternNotFound)
	assert.Equal(t, notify.StatusHookResolveFailed, notify.StatusOf(errs[1]))
	assert.NoError(t, errs[2])
	assert.Len(t, tbl.Resolved(), 2)

	// resolved hooks are never scanned again
	send := tbl.Hooks()[0].Start()
	p.FailReads = errors.New("unreadable")
	errs, err = tbl.ResolveAll(img)
	require.NoError(t, err)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrPatternNotFound)
	assert.Equal(t, send, tbl.Hooks()[0].Start())
}

func TestResolveCaptureFailure(t *testing.T) {
	p := simproc.NewProcess(1)
	tbl, err := NewTable(Default(), 0)
	require.NoError(t, err)
	_, err = tbl.ResolveAll(proc.NewImage(p, imageBase))
	require.ErrorIs(t, err, proc.ErrHeaderNotFound)
	assert.Empty(t, tbl.Resolved())
}

func TestResolveSearchFrom(t *testing.T) {
	code := signatureCode(true)
	copy(code[0x380:], code[sendOff:sendOff+11])
	p := simproc.NewProcess(1)
	p.Map(imageBase, simproc.BuildPE(code, codeRVA, 0x2000))

	descs := Default()[:1]
	descs[0].SearchFrom = codeRVA + sendOff + 1
	tbl, err := NewTable(descs, 16)
	require.NoError(t, err)
	errs, err := tbl.ResolveAll(proc.NewImage(p, imageBase))
	require.NoError(t, err)
	require.NoError(t, errs[0])
	assert.Equal(t, uint64(imageBase+codeRVA+0x380+4), tbl.Hooks()[0].Start())
}

func TestNewTableValidation(t *testing.T) {
	mod := func(fn func(d []Descriptor)) []Descriptor {
		d := Default()
		fn(d)
		return d
	}
	for name, descs := range map[string][]Descriptor{
		"no name":        mod(func(d []Descriptor) { d[0].Name = "" }),
		"duplicate name": mod(func(d []Descriptor) { d[1].Name = d[0].Name }),
		"slot range":     mod(func(d []Descriptor) { d[0].Slot = 4 }),
		"slot reuse":     mod(func(d []Descriptor) { d[2].Slot = 0 }),
		"size":           mod(func(d []Descriptor) { d[0].Size = 0 }),
		"outside":        mod(func(d []Descriptor) { d[0].Offset = 10 }),
		"category":       mod(func(d []Descriptor) { d[0].Category = notify.Error }),
		"no operands":    mod(func(d []Descriptor) { d[0].Buffer = Operand{} }),
	} {
		_, err := NewTable(descs, 0)
		assert.Error(t, err, name)
	}
	_, err := NewTable(Default(), -1)
	assert.Error(t, err)
}

type packet struct {
	length uint32
	tag    byte
	data   []byte
}

func listen(t *testing.T, cat notify.Category) (*notify.Listeners, *[]packet) {
	t.Helper()
	l := notify.NewListeners()
	var got []packet
	require.NoError(t, l.RegisterPacket(cat, func(length uint32, tag byte, data []byte) {
		got = append(got, packet{length, tag, append([]byte(nil), data...)})
	}))
	return l, &got
}

func TestHandleSend(t *testing.T) {
	p, tbl := resolvedTable(t, 0)
	send := tbl.Hooks()[0]
	payload := []byte{0x01, 0xa7, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	p.Map(0x5000, payload)
	l, got := listen(t, notify.PacketSent)

	ctx := winutil.NewAMD64CONTEXT()
	ctx.Rip = send.Start()
	ctx.Rdx = 0x5000
	ctx.R8 = uint64(len(payload))
	ctx.Rcx = 0x100
	ctx.Dr6 = 0xffff0ff1

	require.NoError(t, send.Handle(ctx, p, l))
	require.Len(t, *got, 1)
	assert.Equal(t, packet{12, 0xa7, payload}, (*got)[0])
	assert.Equal(t, send.End(), ctx.Rip)
	assert.Equal(t, uint64(0x110), ctx.Rcx)
	assert.Equal(t, uint64(0xffff0ff0), ctx.Dr6)
}

func TestHandleOverflow(t *testing.T) {
	p, tbl := resolvedTable(t, 16)
	recv := tbl.Hooks()[1]
	p.Map(0x5000, make([]byte, 64))
	l, got := listen(t, notify.PacketReceived)

	ctx := winutil.NewAMD64CONTEXT()
	ctx.R9 = 0x5000
	ctx.Rax = 17
	ctx.Rdi = 0xffffffff00000000

	err := recv.Handle(ctx, p, l)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, *got)
	// the thread still resumes past the hook
	assert.Equal(t, recv.End(), ctx.Rip)
	assert.Equal(t, uint64(17), ctx.Rdi)

	ctx.Rax = 16
	require.NoError(t, recv.Handle(ctx, p, l))
	assert.Len(t, *got, 1)
}

func TestHandleWSARecv(t *testing.T) {
	p, tbl := resolvedTable(t, 0)
	wsa := tbl.Hooks()[2]
	stack := make([]byte, 0x60)
	stack[0x48] = 0x00
	stack[0x49] = 0x60 // buffer pointer 0x6000
	p.Map(0x8000, stack)
	p.Map(0x6000, []byte{0xaa})
	l, got := listen(t, notify.PacketReceived)

	ctx := winutil.NewAMD64CONTEXT()
	ctx.Rsp = 0x8000
	ctx.Rdi = 1
	require.NoError(t, wsa.Handle(ctx, p, l))
	require.Len(t, *got, 1)
	assert.Equal(t, packet{1, 0, []byte{0xaa}}, (*got)[0], "tag of a short payload is zero")
	assert.Equal(t, uint64(1), ctx.Rax)

	ctx.Rdi = 0xfffffffe // movsxd sign extends
	wsa.Handle(ctx, p, l)
	assert.Equal(t, ^uint64(1), ctx.Rax)
}

func TestHandleReadFailure(t *testing.T) {
	p, tbl := resolvedTable(t, 0)
	send := tbl.Hooks()[0]
	l, got := listen(t, notify.PacketSent)

	ctx := winutil.NewAMD64CONTEXT()
	ctx.Rdx = 0xdead0000
	ctx.R8 = 8
	ctx.Rcx = 0x10
	assert.Error(t, send.Handle(ctx, p, l))
	assert.Empty(t, *got)
	assert.Equal(t, send.End(), ctx.Rip)
	assert.Equal(t, uint64(0x20), ctx.Rcx)
}

func TestOperands(t *testing.T) {
	for in, want := range map[string]Operand{
		"rdx":         {Reg: "rdx"},
		"R8":          {Reg: "r8"},
		"[rsp+0x48]":  {Reg: "rsp", Deref: true, Disp: 0x48},
		"[ rbp - 8 ]": {Reg: "rbp", Deref: true, Disp: -8},
		"[rax]":       {Reg: "rax", Deref: true},
	} {
		got, err := ParseOperand(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		again, err := ParseOperand(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
	for _, in := range []string{"eax", "[rsp+", "[rsp+zz]", ""} {
		_, err := ParseOperand(in)
		assert.Error(t, err, in)
	}
}

func TestResumeOps(t *testing.T) {
	ctx := winutil.NewAMD64CONTEXT()
	ctx.Rax = 0xffffffff80000000
	for _, tc := range []struct {
		op   string
		want uint64
	}{
		{"mov rbx, rax", 0xffffffff80000000},
		{"mov32 rbx, rax", 0x80000000},
		{"movsxd rbx, rax", 0xffffffff80000000},
		{"add rbx, -1", 0xffffffff7fffffff},
	} {
		r, err := ParseResumeOp(tc.op)
		require.NoError(t, err, tc.op)
		if r.Op != Add {
			ctx.Rbx = 0
		}
		require.NoError(t, r.Apply(ctx))
		assert.Equal(t, tc.want, ctx.Rbx, tc.op)
	}
	for _, in := range []string{"nop", "mov rax", "xor rax, rax", "mov eax, rbx", "add rax, zz"} {
		_, err := ParseResumeOp(in)
		assert.Error(t, err, in)
	}
}

func TestTableFile(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	descs, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), descs)

	descs, err = Unmarshal([]byte(`
hooks:
- name: custom
  category: packet-received
  pattern: "_e8 ?? ?? ?? ?? &40 89 c3"
  offset: 5
  size: 3
  slot: 3
  buffer: "[rsp+0x20]"
  length: rbx
  resume: ["mov rbx, rax"]
`))
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, pattern.MustParse("e8 ?? ?? ?? ?? &40 89 c3"), descs[0].Pattern)
	assert.Equal(t, notify.PacketReceived, descs[0].Category)
	assert.Equal(t, uint8(3), descs[0].Slot)
	_, err = NewTable(descs, 0)
	assert.NoError(t, err)

	_, err = Unmarshal([]byte("hooks: []"))
	assert.Error(t, err)
	_, err = Unmarshal([]byte("hooks:\n- name: x\n  bogus: 1\n"))
	assert.Error(t, err)
}
