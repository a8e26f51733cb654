package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrPermissionDenied},
		{http.StatusUnauthorized, ErrPermissionDenied},
		{http.StatusInternalServerError, ErrTransientNetwork},
		{http.StatusBadRequest, ErrProtocol},
	}
	for _, tc := range cases {
		err := classifyStatus(tc.code)
		if tc.want == nil {
			require.NoError(t, err)
			continue
		}
		require.ErrorIs(t, err, tc.want)
	}
}

func TestClassifyRPCError(t *testing.T) {
	err := classifyRPCError(&rpcError{Code: "rate_limited", Message: "slow down"})
	require.True(t, errors.Is(err, ErrRateLimited))

	err = classifyRPCError(&rpcError{Code: "weird", Message: "?"})
	require.True(t, errors.Is(err, ErrProtocol))
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(ErrRateLimited))
	require.True(t, Retryable(ErrTransientNetwork))
	require.False(t, Retryable(ErrNotFound))
	require.False(t, Retryable(ErrPermissionDenied))
}

func TestChatRefEqual(t *testing.T) {
	a := ChatRef{ChatType: ChatTypeGroup, PeerUID: "p1", GuildID: "g1"}
	b := ChatRef{ChatType: ChatTypeGroup, PeerUID: "p1", GuildID: "g1"}
	c := ChatRef{ChatType: ChatTypeGroup, PeerUID: "p2", GuildID: "g1"}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestFakeAdapterConsumesBatchesInOrder(t *testing.T) {
	fa := NewFakeAdapter([][]RawMessage{
		{{MsgID: "m1"}},
		{{MsgID: "m2"}},
	})
	ref := ChatRef{ChatType: ChatTypePrivate, PeerUID: "p"}

	b1, err := fa.GetLatestMessages(context.Background(), ref, 10)
	require.NoError(t, err)
	require.Equal(t, "m1", b1[0].MsgID)

	b2, err := fa.GetMessageHistory(context.Background(), ref, "m1", 10, false)
	require.NoError(t, err)
	require.Equal(t, "m2", b2[0].MsgID)

	b3, err := fa.GetMessageHistory(context.Background(), ref, "m2", 10, false)
	require.NoError(t, err)
	require.Nil(t, b3)
}
