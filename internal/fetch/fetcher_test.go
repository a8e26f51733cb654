package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

func TestPromoteTimestamp(t *testing.T) {
	require.Equal(t, int64(1_700_000_000_000), PromoteTimestamp(1_700_000_000))
	require.Equal(t, int64(1_700_000_000_000), PromoteTimestamp(1_700_000_000_000))
}

func TestSelectStrategy(t *testing.T) {
	priv := upstream.ChatRef{ChatType: upstream.ChatTypePrivate}
	grp := upstream.ChatRef{ChatType: upstream.ChatTypeGroup}

	require.Equal(t, StrategyTimeSequential, SelectStrategy(priv, Filter{}))
	require.Equal(t, StrategySeqRange, SelectStrategy(grp, Filter{}))
	require.Equal(t, StrategyTimeSequential, SelectStrategy(grp, Filter{Keyword: "x"}))
}

func TestFetcherTerminatesOnLoopGuard(t *testing.T) {
	batch := []upstream.RawMessage{
		{MsgID: "m2", MsgSeq: "2", MsgTime: "1700000020", SenderUID: "u1", MsgType: "text"},
		{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000010", SenderUID: "u1", MsgType: "text"},
	}
	fa := upstream.NewFakeAdapter([][]upstream.RawMessage{batch, batch})
	ref := upstream.ChatRef{ChatType: upstream.ChatTypePrivate, PeerUID: "p"}

	f := New(fa, ref, Filter{BatchSize: 10}, 1)
	ctx := context.Background()

	first, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, first, 2)

	// Second call returns the same batch again (same head) -> loop guard.
	second, ok, err := f.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, second)
}

func TestFetcherEarlyStopBeforeWindow(t *testing.T) {
	batch := []upstream.RawMessage{
		{MsgID: "m1", MsgSeq: "1", MsgTime: "1000000000", SenderUID: "u1", MsgType: "text"},
	}
	fa := upstream.NewFakeAdapter([][]upstream.RawMessage{batch})
	ref := upstream.ChatRef{ChatType: upstream.ChatTypePrivate, PeerUID: "p"}

	f := New(fa, ref, Filter{BatchSize: 10, Window: TimeWindow{StartMillis: 1_700_000_000_000}}, 1)
	_, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetcherEmptyUpstreamEndsCleanly(t *testing.T) {
	fa := upstream.NewFakeAdapter(nil)
	ref := upstream.ChatRef{ChatType: upstream.ChatTypePrivate, PeerUID: "p"}
	f := New(fa, ref, Filter{BatchSize: 10}, 1)
	batch, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, batch)
}

func TestKeywordFilterSearchesJSONRenderingOfElements(t *testing.T) {
	m := upstream.RawMessage{
		MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{
			{Type: upstream.ElementFace, FaceID: "14", FaceName: "Smile"},
			{Type: upstream.ElementArkCard, RawPayload: `{"title":"weekly report"}`},
		},
	}

	require.True(t, matchesFilter(m, 1_700_000_000_000, Filter{Keyword: "smile"}))
	require.True(t, matchesFilter(m, 1_700_000_000_000, Filter{Keyword: "weekly report"}))
	require.False(t, matchesFilter(m, 1_700_000_000_000, Filter{Keyword: "absent"}))
}
