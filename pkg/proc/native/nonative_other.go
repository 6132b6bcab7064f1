//go:build !windows || !amd64

package native

import (
	"errors"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

var ErrNativeBackendDisabled = errors.New("native backend only available on windows/amd64")

// Host returns ErrNativeBackendDisabled from every method.
type Host struct{}

// NewHost returns a Host that can not attach to anything.
func NewHost() *Host {
	return &Host{}
}

// Attach returns ErrNativeBackendDisabled.
func (*Host) Attach(int) error { return ErrNativeBackendDisabled }

func (*Host) WaitForDebugEvent() (*proc.DebugEvent, error) { return nil, ErrNativeBackendDisabled }

func (*Host) ContinueDebugEvent(*proc.DebugEvent, proc.Disposition) error {
	return ErrNativeBackendDisabled
}

func (*Host) Interrupt() error { return ErrNativeBackendDisabled }

func (*Host) Detach() error { return ErrNativeBackendDisabled }
