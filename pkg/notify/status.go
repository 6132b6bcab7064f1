package notify

import (
	"errors"
	"fmt"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

// Status is the numeric code delivered to error listeners.
type Status int32

const (
	StatusSuccess                Status = 0
	StatusPrivilegesNotFound     Status = -1
	StatusPrivilegesNotAssigned  Status = -2
	StatusPrivilegesInsufficient Status = -3
	StatusHeaderNotFound         Status = -4
	StatusHeaderInvalid          Status = -6
	StatusAllocationFailed       Status = -7
	StatusCopyFailed             Status = -8
	StatusHookInstallFailed      Status = -9
	StatusTargetNotFound         Status = -12
	StatusAlreadyRegistered      Status = -16
	StatusExceptionNotHandled    Status = -17
	StatusHookResolveFailed      Status = -18
	StatusUnknown                Status = -255
)

var (
	// ErrHookResolveFailed is wrapped by errors about hooks whose location
	// could not be found.
	ErrHookResolveFailed = errors.New("hook resolve failed")
	// ErrHookInstallFailed is wrapped by errors about breakpoints that
	// could not be written to a thread.
	ErrHookInstallFailed = errors.New("hook install failed")
	// ErrExceptionNotHandled is wrapped by errors about exceptions that
	// were passed back to the target.
	ErrExceptionNotHandled = errors.New("exception not handled")
)

var statusErrors = []struct {
	err    error
	status Status
}{
	{proc.ErrPrivilegesNotFound, StatusPrivilegesNotFound},
	{proc.ErrPrivilegesNotAssigned, StatusPrivilegesNotAssigned},
	{proc.ErrPrivilegesInsufficient, StatusPrivilegesInsufficient},
	{proc.ErrHeaderNotFound, StatusHeaderNotFound},
	{proc.ErrHeaderInvalid, StatusHeaderInvalid},
	{proc.ErrAllocationFailed, StatusAllocationFailed},
	{proc.ErrCopyFailed, StatusCopyFailed},
	{ErrHookInstallFailed, StatusHookInstallFailed},
	{proc.ErrTargetNotFound, StatusTargetNotFound},
	{ErrAlreadyRegistered, StatusAlreadyRegistered},
	{ErrExceptionNotHandled, StatusExceptionNotHandled},
	{ErrHookResolveFailed, StatusHookResolveFailed},
}

// StatusOf returns the status code describing err.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}
	return StatusUnknown
}

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	for _, se := range statusErrors {
		if se.status == s {
			return se.err.Error()
		}
	}
	return fmt.Sprintf("status %d", int32(s))
}
