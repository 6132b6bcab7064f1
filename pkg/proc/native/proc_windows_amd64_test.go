package native

import (
	"encoding/binary"
	"testing"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

func TestTranslateEvent(t *testing.T) {
	var de _DEBUG_EVENT
	de.DebugEventCode = _EXIT_PROCESS_DEBUG_EVENT
	de.ProcessId = 10
	de.ThreadId = 11
	binary.LittleEndian.PutUint32(de.U[:], 3)
	ev, err := translateEvent(&de)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != proc.EventExitProcess || ev.ExitCode != 3 || ev.ProcessID != 10 || ev.ThreadID != 11 {
		t.Fatalf("unexpected event %#v", ev)
	}

	de = _DEBUG_EVENT{DebugEventCode: _EXCEPTION_DEBUG_EVENT, ProcessId: 10, ThreadId: 12}
	binary.LittleEndian.PutUint32(de.U[0:], proc.ExceptionSingleStep)
	binary.LittleEndian.PutUint64(de.U[16:], 0x140001000)
	ev, err = translateEvent(&de)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != proc.EventException || ev.Exception.Code != proc.ExceptionSingleStep || ev.Exception.Address != 0x140001000 {
		t.Fatalf("unexpected exception %#v", ev.Exception)
	}

	if _, err := translateEvent(&_DEBUG_EVENT{DebugEventCode: 42}); err == nil {
		t.Fatal("expected error for unknown event code")
	}
}
