package proc

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/pattern"
)

var (
	// ErrHeaderNotFound is returned when the image headers could not be
	// read from the target.
	ErrHeaderNotFound = errors.New("image header not found")
	// ErrHeaderInvalid is returned when the image headers do not carry the
	// expected signatures.
	ErrHeaderInvalid = errors.New("image header invalid")
	// ErrAllocationFailed is returned when the code section dimensions can
	// not be backed by a local copy.
	ErrAllocationFailed = errors.New("code section allocation failed")
	// ErrCopyFailed is returned when the code section could not be copied
	// out of the target.
	ErrCopyFailed = errors.New("code section copy failed")
)

// MaxShadowSize is the largest code section that will be copied locally.
const MaxShadowSize = 512 << 20

const (
	dosMagic       = 0x5a4d // MZ
	peSignature    = 0x00004550
	dosLfanewField = 0x3c

	optionalHeader32Magic = 0x10b
	optionalHeader64Magic = 0x20b
)

// Image is a local copy of the code section of an executable image loaded
// in a target process.
//
// Addresses inside the copy (local addresses) are offsets from the start
// of the code section, remote and local addresses differ by the constant
// CodeStart.
type Image struct {
	mem  MemoryReader
	base uint64

	imageSize  uint32
	codeOffset uint32
	code       []byte
	captured   bool
}

// NewImage returns an Image for the executable mapped at base in mem.
// Nothing is read until EnsureCaptured is called.
func NewImage(mem MemoryReader, base uint64) *Image {
	return &Image{mem: mem, base: base}
}

// Base returns the remote load address of the image.
func (img *Image) Base() uint64 {
	return img.base
}

// Captured reports whether the code section has been copied.
func (img *Image) Captured() bool {
	return img.captured
}

// EnsureCaptured copies the code section of the image into local memory.
// Once it succeeds subsequent calls do nothing.
func (img *Image) EnsureCaptured() error {
	if img.captured {
		return nil
	}
	log := logflags.CaptureLogger()

	var dos [0x40]byte
	if err := ReadFull(img.mem, dos[:], img.base); err != nil {
		return fmt.Errorf("%w: reading DOS header at %#x: %v", ErrHeaderNotFound, img.base, err)
	}
	if binary.LittleEndian.Uint16(dos[:]) != dosMagic {
		return fmt.Errorf("%w: bad DOS signature %#x", ErrHeaderInvalid, binary.LittleEndian.Uint16(dos[:]))
	}
	ntOff := uint64(binary.LittleEndian.Uint32(dos[dosLfanewField:]))

	var sig [4]byte
	if err := ReadFull(img.mem, sig[:], img.base+ntOff); err != nil {
		return fmt.Errorf("%w: reading NT headers at %#x: %v", ErrHeaderNotFound, img.base+ntOff, err)
	}
	if binary.LittleEndian.Uint32(sig[:]) != peSignature {
		return fmt.Errorf("%w: bad PE signature % x", ErrHeaderInvalid, sig)
	}

	var fh pe.FileHeader
	fhbuf := make([]byte, binary.Size(fh))
	if err := ReadFull(img.mem, fhbuf, img.base+ntOff+4); err != nil {
		return fmt.Errorf("%w: reading file header: %v", ErrHeaderNotFound, err)
	}
	binary.Read(bytes.NewReader(fhbuf), binary.LittleEndian, &fh)

	imageSize, codeOffset, codeSize, err := img.readOptionalHeader(img.base+ntOff+4+uint64(len(fhbuf)), fh.SizeOfOptionalHeader)
	if err != nil {
		return err
	}
	log.Debugf("image at %#x: size=%#x code=%#x+%#x", img.base, imageSize, codeOffset, codeSize)

	switch {
	case codeSize == 0:
		return fmt.Errorf("%w: empty code section", ErrAllocationFailed)
	case uint64(codeOffset)+uint64(codeSize) > uint64(imageSize):
		return fmt.Errorf("%w: code section %#x+%#x exceeds image size %#x", ErrAllocationFailed, codeOffset, codeSize, imageSize)
	case codeSize > MaxShadowSize:
		return fmt.Errorf("%w: code section of %d bytes is too large", ErrAllocationFailed, codeSize)
	}

	code := make([]byte, codeSize)
	if err := ReadFull(img.mem, code, img.base+uint64(codeOffset)); err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}

	img.imageSize = imageSize
	img.codeOffset = codeOffset
	img.code = code
	img.captured = true
	log.Infof("captured %d bytes of code at %#x", codeSize, img.CodeStart())
	return nil
}

func (img *Image) readOptionalHeader(addr uint64, size uint16) (imageSize, codeOffset, codeSize uint32, err error) {
	var magic [2]byte
	if err := ReadFull(img.mem, magic[:], addr); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading optional header: %v", ErrHeaderNotFound, err)
	}

	var oh interface{}
	switch binary.LittleEndian.Uint16(magic[:]) {
	case optionalHeader32Magic:
		oh = new(pe.OptionalHeader32)
	case optionalHeader64Magic:
		oh = new(pe.OptionalHeader64)
	default:
		return 0, 0, 0, fmt.Errorf("%w: bad optional header magic %#x", ErrHeaderInvalid, binary.LittleEndian.Uint16(magic[:]))
	}

	// Data directories may be truncated, the fields needed are all in
	// the fixed part of the header.
	buf := make([]byte, binary.Size(oh))
	n := len(buf)
	if int(size) < n {
		n = int(size)
	}
	if n < 60 {
		return 0, 0, 0, fmt.Errorf("%w: optional header too short (%d bytes)", ErrHeaderInvalid, size)
	}
	if err := ReadFull(img.mem, buf[:n], addr); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: reading optional header: %v", ErrHeaderNotFound, err)
	}
	binary.Read(bytes.NewReader(buf), binary.LittleEndian, oh)

	switch oh := oh.(type) {
	case *pe.OptionalHeader32:
		return oh.SizeOfImage, oh.BaseOfCode, oh.SizeOfCode, nil
	case *pe.OptionalHeader64:
		return oh.SizeOfImage, oh.BaseOfCode, oh.SizeOfCode, nil
	}
	panic("unreachable")
}

// Code returns the local copy of the code section.
func (img *Image) Code() []byte {
	return img.code
}

// CodeStart returns the remote address of the first byte of code.
func (img *Image) CodeStart() uint64 {
	return img.base + uint64(img.codeOffset)
}

// CodeSize returns the size of the code section.
func (img *Image) CodeSize() uint64 {
	return uint64(len(img.code))
}

// Fingerprint returns a hash of the captured code section, it changes
// whenever the client is rebuilt.
func (img *Image) Fingerprint() uint64 {
	return xxh3.Hash(img.code)
}

// ImageSize returns the size of the image as declared by its headers.
func (img *Image) ImageSize() uint64 {
	return uint64(img.imageSize)
}

// ToLocal converts a remote address to a local one.
func (img *Image) ToLocal(remote uint64) uint64 {
	return remote - img.CodeStart()
}

// ToRemote converts a local address to a remote one.
func (img *Image) ToRemote(local uint64) uint64 {
	return local + img.CodeStart()
}

// Contains reports whether the remote address falls inside the captured
// code section.
func (img *Image) Contains(remote uint64) bool {
	return img.captured && remote >= img.CodeStart() && remote-img.CodeStart() < img.CodeSize()
}

// Find captures the image if necessary and searches the code section for p.
// If from is inside the code section the search starts there. The returned
// address is remote.
func (img *Image) Find(p pattern.Pattern, from uint64) (addr uint64, found bool, err error) {
	if err := img.EnsureCaptured(); err != nil {
		return 0, false, err
	}
	start := uint64(0)
	if from != 0 {
		if !img.Contains(from) {
			return 0, false, nil
		}
		start = img.ToLocal(from)
	}
	off, ok := pattern.Find(p, img.code[start:])
	if !ok {
		return 0, false, nil
	}
	return img.ToRemote(start + uint64(off)), true, nil
}

// Release drops the local copy.
func (img *Image) Release() {
	img.code = nil
	img.captured = false
}
