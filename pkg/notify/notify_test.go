package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pktdbg/pktdbg/pkg/proc"
)

func TestRegisterTwice(t *testing.T) {
	l := NewListeners()
	nop := func(uint32, byte, []byte) {}

	require.NoError(t, l.RegisterPacket(PacketSent, nop))
	err := l.RegisterPacket(PacketSent, nop)
	require.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, StatusAlreadyRegistered, StatusOf(err))

	// other categories are independent
	require.NoError(t, l.RegisterPacket(PacketReceived, nop))

	l.Unregister(PacketSent)
	require.NoError(t, l.RegisterPacket(PacketSent, nop))

	require.NoError(t, l.RegisterError(func(Status) {}))
	require.ErrorIs(t, l.RegisterError(func(Status) {}), ErrAlreadyRegistered)
	l.Unregister(Error)
	require.NoError(t, l.RegisterError(func(Status) {}))
}

func TestRegisterNonPacketCategory(t *testing.T) {
	l := NewListeners()
	require.Error(t, l.RegisterPacket(Error, func(uint32, byte, []byte) {}))
}

func TestDelivery(t *testing.T) {
	l := NewListeners()
	var got []byte
	var gotTag byte
	require.NoError(t, l.RegisterPacket(PacketReceived, func(length uint32, tag byte, data []byte) {
		gotTag = tag
		got = append([]byte(nil), data[:length]...)
	}))
	var statuses []Status
	require.NoError(t, l.RegisterError(func(s Status) { statuses = append(statuses, s) }))

	l.Packet(PacketSent, 3, 1, []byte{1, 2, 3})
	assert.Nil(t, got, "delivered to the wrong category")

	l.Packet(PacketReceived, 3, 2, []byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, got)
	assert.Equal(t, byte(2), gotTag)

	l.Error(fmt.Errorf("capture: %w", proc.ErrCopyFailed))
	l.Error(nil)
	assert.Equal(t, []Status{StatusCopyFailed}, statuses)

	var nilListeners *Listeners
	nilListeners.Packet(PacketSent, 0, 0, nil)
	nilListeners.Error(proc.ErrCopyFailed)
}

func TestStatusOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{proc.ErrTargetNotFound, StatusTargetNotFound},
		{fmt.Errorf("send: %w", ErrHookResolveFailed), StatusHookResolveFailed},
		{fmt.Errorf("thread 4: %w", ErrHookInstallFailed), StatusHookInstallFailed},
		{proc.ErrPrivilegesInsufficient, StatusPrivilegesInsufficient},
		{fmt.Errorf("other"), StatusUnknown},
	} {
		assert.Equal(t, tc.want, StatusOf(tc.err), "%v", tc.err)
	}
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "status -255", StatusUnknown.String())
}
