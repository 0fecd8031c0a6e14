package errors

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/proto"
)

func TestFromStatusMapping(t *testing.T) {
	require.Nil(t, FromStatus(proto.StatusOk))
	require.Nil(t, FromStatus(proto.StatusTabletNodeOk))
	require.Nil(t, FromStatus(proto.StatusMasterOk))

	require.Equal(t, NotFound, FromStatus(proto.StatusKeyNotExist).Code)
	require.Equal(t, TxnFail, FromStatus(proto.StatusTxnFail).Code)
	require.Equal(t, BadParam, FromStatus(proto.StatusInvalidArgument).Code)
	require.Equal(t, NoAuth, FromStatus(proto.StatusNotPermission).Code)
	require.Equal(t, Timeout, FromStatus(proto.StatusRPCTimeout).Code)
	require.Equal(t, System, FromStatus(proto.StatusServerError).Code)
	require.Equal(t, System, FromStatus(proto.StatusKeyNotInRange).Code)
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, Ok, CodeOf(nil))
	require.Equal(t, Busy, CodeOf(New(Busy, "try later")))
	require.Equal(t, System, CodeOf(ErrMetaStale))
}

func TestErrorString(t *testing.T) {
	err := New(Timeout, "commit %d times", 2)
	require.Equal(t, "Timeout: commit 2 times", err.Error())
	require.Equal(t, "Busy", (&Error{Code: Busy}).Error())
}

func TestRetryableStatuses(t *testing.T) {
	for _, s := range []proto.StatusCode{
		proto.StatusServerError, proto.StatusClientError, proto.StatusConnectError,
		proto.StatusRPCTimeout, proto.StatusRPCError,
	} {
		require.True(t, s.Retryable(), s.String())
	}
	require.False(t, proto.StatusKeyNotInRange.Retryable())
	require.False(t, proto.StatusOk.Retryable())
}
