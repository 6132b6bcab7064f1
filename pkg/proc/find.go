package proc

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// FindProcess returns the pid of the first running process whose
// executable name matches one of names, compared case insensitively.
// Names are tried in order.
func FindProcess(ctx context.Context, names ...string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("could not list processes: %w", err)
	}
	byName := make(map[string]int32, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited or not accessible
			continue
		}
		name = strings.ToLower(name)
		if _, ok := byName[name]; !ok {
			byName[name] = p.Pid
		}
	}
	for _, name := range names {
		if pid, ok := byName[strings.ToLower(name)]; ok {
			return int(pid), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrTargetNotFound, strings.Join(names, ", "))
}
