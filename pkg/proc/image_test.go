package proc_test

import (
	"errors"
	"testing"

	"github.com/pktdbg/pktdbg/pkg/pattern"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/simproc"
)

const (
	testBase    = 0x7ff600000000
	testCodeRVA = 0x1000
)

func testCode() []byte {
	code := make([]byte, 0x200)
	for i := range code {
		code[i] = 0xcc
	}
	copy(code[0x40:], []byte{0x90, 0x48, 0x8b, 0x41, 0x10})
	copy(code[0x180:], []byte{0x48, 0x8b, 0x41, 0x10})
	return code
}

func mappedImage(t *testing.T) (*simproc.Process, *proc.Image) {
	t.Helper()
	p := simproc.NewProcess(1)
	p.Map(testBase, simproc.BuildPE(testCode(), testCodeRVA, 0x3000))
	return p, proc.NewImage(p, testBase)
}

func TestImageCapture(t *testing.T) {
	_, img := mappedImage(t)
	if img.Captured() {
		t.Fatal("captured before EnsureCaptured")
	}
	if err := img.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	if img.CodeStart() != testBase+testCodeRVA {
		t.Fatalf("expected code start %#x; got %#x", testBase+testCodeRVA, img.CodeStart())
	}
	if img.CodeSize() != 0x200 {
		t.Fatalf("expected code size 0x200; got %#x", img.CodeSize())
	}
	if img.ImageSize() != 0x3000 {
		t.Fatalf("expected image size 0x3000; got %#x", img.ImageSize())
	}
	if got := img.Code()[0x41]; got != 0x48 {
		t.Fatalf("expected 0x48 in shadow; got %#x", got)
	}
}

func TestImageCaptureOnce(t *testing.T) {
	p, img := mappedImage(t)
	if err := img.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	p.FailReads = errors.New("gone")
	if err := img.EnsureCaptured(); err != nil {
		t.Fatalf("second capture read the target again: %v", err)
	}
}

func TestAddressTranslation(t *testing.T) {
	_, img := mappedImage(t)
	if err := img.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	for _, x := range []uint64{testBase + testCodeRVA, testBase + testCodeRVA + 0x1ff, 0, ^uint64(0), 12345} {
		if got := img.ToRemote(img.ToLocal(x)); got != x {
			t.Errorf("ToRemote(ToLocal(%#x)) = %#x", x, got)
		}
		if got := img.ToLocal(img.ToRemote(x)); got != x {
			t.Errorf("ToLocal(ToRemote(%#x)) = %#x", x, got)
		}
	}
	if img.ToLocal(testBase+testCodeRVA+0x10) != 0x10 {
		t.Errorf("local addresses are not code offsets")
	}
}

func TestImageFind(t *testing.T) {
	_, img := mappedImage(t)
	p := pattern.MustParse("48 8b 41 10")

	addr, ok, err := img.Find(p, 0)
	if err != nil || !ok {
		t.Fatalf("Find: %v %v", ok, err)
	}
	if want := uint64(testBase + testCodeRVA + 0x41); addr != want {
		t.Fatalf("expected %#x; got %#x", want, addr)
	}

	addr, ok, err = img.Find(p, testBase+testCodeRVA+0x42)
	if err != nil || !ok {
		t.Fatalf("Find from: %v %v", ok, err)
	}
	if want := uint64(testBase + testCodeRVA + 0x180); addr != want {
		t.Fatalf("expected %#x; got %#x", want, addr)
	}

	if _, ok, _ := img.Find(pattern.MustParse("0f 0b 0f 0b"), 0); ok {
		t.Fatal("found pattern absent from code")
	}
	if _, ok, _ := img.Find(p, testBase); ok {
		t.Fatal("search started outside the code section")
	}
}

func TestImageCaptureErrors(t *testing.T) {
	good := simproc.BuildPE(testCode(), testCodeRVA, 0x3000)

	for _, tc := range []struct {
		name   string
		mangle func(b []byte) []byte
		want   error
	}{
		{"unmapped", func(b []byte) []byte { return nil }, proc.ErrHeaderNotFound},
		{"bad MZ", func(b []byte) []byte { b[0] = 'X'; return b }, proc.ErrHeaderInvalid},
		{"bad PE", func(b []byte) []byte { b[0x81] = 'X'; return b }, proc.ErrHeaderInvalid},
		{"truncated", func(b []byte) []byte { return b[:0x800] }, proc.ErrCopyFailed},
		{"no code", func(b []byte) []byte {
			// SizeOfCode is at offset 4 of the optional header
			b[0x80+4+20+4] = 0
			b[0x80+4+20+5] = 0
			return b
		}, proc.ErrAllocationFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, len(good))
			copy(buf, good)
			buf = tc.mangle(buf)
			p := simproc.NewProcess(1)
			if buf != nil {
				p.Map(testBase, buf)
			}
			img := proc.NewImage(p, testBase)
			err := img.EnsureCaptured()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v; got %v", tc.want, err)
			}
			if img.Captured() {
				t.Fatal("image marked as captured after failure")
			}
		})
	}
}

func TestFileImage(t *testing.T) {
	raw := simproc.BuildPE(testCode(), testCodeRVA, 0x3000)
	img, err := proc.NewFileImage(raw[:testCodeRVA+0x200], 0x140000000)
	if err != nil {
		t.Fatal(err)
	}
	addr, ok, err := img.Find(pattern.MustParse("90 48 8b"), 0)
	if err != nil || !ok {
		t.Fatalf("Find: %v %v", ok, err)
	}
	if addr != 0x140000000+testCodeRVA+0x40 {
		t.Fatalf("unexpected address %#x", addr)
	}
}

func TestImageFingerprint(t *testing.T) {
	_, img := mappedImage(t)
	if err := img.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	file, err := proc.NewFileImage(simproc.BuildPE(testCode(), testCodeRVA, 0x3000), 0x140000000)
	if err != nil {
		t.Fatal(err)
	}
	if err := file.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	if img.Fingerprint() != file.Fingerprint() {
		t.Fatalf("fingerprint depends on the image base: %#x %#x", img.Fingerprint(), file.Fingerprint())
	}

	code := testCode()
	code[0] = 0x90
	other, err := proc.NewFileImage(simproc.BuildPE(code, testCodeRVA, 0x3000), 0x140000000)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.EnsureCaptured(); err != nil {
		t.Fatal(err)
	}
	if other.Fingerprint() == img.Fingerprint() {
		t.Fatal("fingerprint did not change with the code")
	}
}
