package native

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

// enableDebugPrivilege enables SeDebugPrivilege on the token of the
// current process, it is required to debug processes of other users.
func enableDebugPrivilege() error {
	if !windows.GetCurrentProcessToken().IsElevated() {
		return proc.ErrPrivilegesInsufficient
	}

	var token windows.Token
	err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token)
	if err != nil {
		return fmt.Errorf("%w: OpenProcessToken: %v", proc.ErrPrivilegesInsufficient, err)
	}
	defer token.Close()

	var luid windows.LUID
	name, err := windows.UTF16PtrFromString("SeDebugPrivilege")
	if err != nil {
		return err
	}
	if err := windows.LookupPrivilegeValue(nil, name, &luid); err != nil {
		return fmt.Errorf("%w: %v", proc.ErrPrivilegesNotFound, err)
	}

	tp := windows.Tokenprivileges{
		PrivilegeCount: 1,
	}
	tp.Privileges[0] = windows.LUIDAndAttributes{
		Luid:       luid,
		Attributes: windows.SE_PRIVILEGE_ENABLED,
	}

	// AdjustTokenPrivileges succeeds when only some of the privileges
	// were assigned, the last error tells them apart. The last error is
	// per OS thread, callers run on the thread locked by Session.Run.
	if err := windows.AdjustTokenPrivileges(token, false, &tp, 0, nil, nil); err != nil {
		return fmt.Errorf("%w: %v", proc.ErrPrivilegesNotAssigned, err)
	}
	if err := windows.GetLastError(); errors.Is(err, windows.ERROR_NOT_ALL_ASSIGNED) {
		return proc.ErrPrivilegesNotAssigned
	}
	return nil
}
