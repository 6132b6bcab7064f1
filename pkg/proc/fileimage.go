package proc

import (
	"bytes"
	"debug/pe"
	"fmt"
	"os"
)

// fileMemory presents a PE file on disk as if the loader had mapped it at
// base.
type fileMemory struct {
	base          uint64
	raw           []byte
	sizeOfHeaders uint32
	sections      []*pe.SectionHeader
}

func (m *fileMemory) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base {
		return 0, fmt.Errorf("address %#x below image base %#x", addr, m.base)
	}
	for i := range buf {
		b, ok := m.byteAt(addr - m.base + uint64(i))
		if !ok {
			return i, fmt.Errorf("address %#x not mapped", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (m *fileMemory) byteAt(rva uint64) (byte, bool) {
	if rva < uint64(m.sizeOfHeaders) {
		if rva >= uint64(len(m.raw)) {
			return 0, false
		}
		return m.raw[rva], true
	}
	for _, s := range m.sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva < uint64(s.VirtualAddress) || rva-uint64(s.VirtualAddress) >= uint64(size) {
			continue
		}
		off := rva - uint64(s.VirtualAddress)
		if off >= uint64(s.Size) {
			// uninitialized tail of the section
			return 0, true
		}
		foff := uint64(s.Offset) + off
		if foff >= uint64(len(m.raw)) {
			return 0, false
		}
		return m.raw[foff], true
	}
	return 0, false
}

// OpenFileImage returns an Image backed by the executable at path, laid
// out as if it was loaded at base.
func OpenFileImage(path string, base uint64) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFileImage(raw, base)
}

// NewFileImage is like OpenFileImage but reads the executable from raw.
func NewFileImage(raw []byte, base uint64) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeaderInvalid, err)
	}
	defer f.Close()

	m := &fileMemory{base: base, raw: raw}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		m.sizeOfHeaders = oh.SizeOfHeaders
	case *pe.OptionalHeader64:
		m.sizeOfHeaders = oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrHeaderInvalid)
	}
	for _, s := range f.Sections {
		sh := s.SectionHeader
		m.sections = append(m.sections, &sh)
	}
	return NewImage(m, base), nil
}
