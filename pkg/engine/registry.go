package engine

import (
	"sort"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

// threadRegistry maps thread ids to the handles received with their
// creation events. It is only accessed by the event loop.
type threadRegistry struct {
	threads map[int]proc.Thread
}

func newThreadRegistry() *threadRegistry {
	return &threadRegistry{threads: make(map[int]proc.Thread)}
}

func (r *threadRegistry) add(th proc.Thread) {
	r.threads[th.ID()] = th
}

func (r *threadRegistry) get(tid int) proc.Thread {
	return r.threads[tid]
}

// remove forgets tid without closing its handle, the system closes
// handles of exited threads.
func (r *threadRegistry) remove(tid int) {
	delete(r.threads, tid)
}

func (r *threadRegistry) ids() []int {
	ids := make([]int, 0, len(r.threads))
	for tid := range r.threads {
		ids = append(ids, tid)
	}
	sort.Ints(ids)
	return ids
}

// closeAll closes every handle and empties the registry.
func (r *threadRegistry) closeAll() {
	for _, tid := range r.ids() {
		r.threads[tid].Close()
		delete(r.threads, tid)
	}
}
