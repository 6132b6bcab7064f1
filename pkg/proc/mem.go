package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a uint64 so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// ErrShortRead is returned when the target returned fewer bytes than
// requested.
var ErrShortRead = errors.New("short read")

// ReadFull reads exactly len(buf) bytes at addr.
func ReadFull(mem MemoryReader, buf []byte, addr uint64) error {
	n, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortRead
	}
	return nil
}

// ReadUint64 reads a little endian 64-bit value at addr.
func ReadUint64(mem MemoryReader, addr uint64) (uint64, error) {
	var buf [8]byte
	if err := ReadFull(mem, buf[:], addr); err != nil {
		return 0, fmt.Errorf("could not read qword at %#x: %w", addr, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
