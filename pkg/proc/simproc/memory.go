// Package simproc implements a simulated debug target: a process with
// sparse memory and register contexts, and a host that delivers a
// scripted sequence of debug events.
package simproc

import (
	"fmt"
	"sort"
	"sync"
)

type region struct {
	addr uint64
	data []byte
}

// Memory is a sparse address space made of mapped regions.
type Memory struct {
	mu      sync.Mutex
	regions []region
	// FailReads makes every read return this error when set.
	FailReads error
}

// Map copies data into the address space at addr. Overlapping regions are
// not supported.
func (m *Memory) Map(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.regions = append(m.regions, region{addr, buf})
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].addr < m.regions[j].addr })
}

// ReadMemory implements proc.MemoryReader. Reads that leave the region
// containing addr are truncated at the end of the region.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads != nil {
		return 0, m.FailReads
	}
	for _, r := range m.regions {
		if addr >= r.addr && addr-r.addr < uint64(len(r.data)) {
			n := copy(buf, r.data[addr-r.addr:])
			if n < len(buf) {
				return n, fmt.Errorf("read of %d bytes at %#x crosses end of mapping", len(buf), addr)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("address %#x not mapped", addr)
}
