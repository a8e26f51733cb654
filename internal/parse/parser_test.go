package parse

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

func TestDisplayNamePriority(t *testing.T) {
	require.Equal(t, "card", resolveDisplayName("card", "remark", "nick", "123", "uid1"))
	require.Equal(t, "remark", resolveDisplayName("", "remark", "nick", "123", "uid1"))
	require.Equal(t, "nick", resolveDisplayName("", "", "nick", "123", "uid1"))
	require.Equal(t, "123", resolveDisplayName("", "", "", "123", "uid1"))
	require.Equal(t, "uid1", resolveDisplayName("", "", "", "", "uid1"))
	require.Equal(t, "unknown", resolveDisplayName("", "", "", "", ""))
}

func TestParseTextElement(t *testing.T) {
	p := New()
	m := upstream.RawMessage{
		MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hello <world>"}},
	}
	pm := p.Parse(m)
	require.Equal(t, int64(1_700_000_000_000), pm.Timestamp)
	require.Equal(t, "hello <world>", pm.Content.Text)
	require.Contains(t, pm.Content.HTML, "&lt;world&gt;")
}

func TestReplyResolutionFromRecords(t *testing.T) {
	p := New()
	first := upstream.RawMessage{
		MsgID: "M7", MsgSeq: "7", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hi"}},
	}
	p.Parse(first)

	second := upstream.RawMessage{
		MsgID: "M8", MsgSeq: "8", MsgTime: "1700000010", SenderUID: "u2", MsgType: "text",
		Elements: []upstream.MessageElement{{
			Type: upstream.ElementReply, ReplyMsgID: "M7", SourceMsgIDInRecords: "M7",
		}},
		Records: []upstream.RawMessage{{MsgID: "M7", Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hi"}}}},
	}
	pm := p.Parse(second)
	require.NotNil(t, pm.Content.Reply)
	require.Equal(t, "hi", pm.Content.Reply.Content)
	require.NotNil(t, pm.Content.Reply.ReferencedMessageID)
	require.Equal(t, "M7", *pm.Content.Reply.ReferencedMessageID)
}

func TestReplyResolutionFallsBackToLRUBySeq(t *testing.T) {
	p := New()
	first := upstream.RawMessage{
		MsgID: "M1", MsgSeq: "100", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "original text"}},
	}
	p.Parse(first)

	second := upstream.RawMessage{
		MsgID: "M2", MsgSeq: "101", MsgTime: "1700000010", SenderUID: "u2", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementReply, ReplyMsgSeq: "100"}},
	}
	pm := p.Parse(second)
	require.NotNil(t, pm.Content.Reply.ReferencedMessageID)
	require.Equal(t, "M1", *pm.Content.Reply.ReferencedMessageID)
	require.Equal(t, "original text", pm.Content.Reply.Content)
}

func TestReplyUnresolvedYieldsOriginalMessageLiteral(t *testing.T) {
	p := New()
	m := upstream.RawMessage{
		MsgID: "M2", MsgSeq: "2", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementReply, ReplyMsgID: "ghost", ReplyMsgSeq: "999"}},
	}
	pm := p.Parse(m)
	require.Nil(t, pm.Content.Reply.ReferencedMessageID)
	require.Equal(t, "original message", pm.Content.Reply.Content)
}

func TestParseResolvesFullSenderIdentity(t *testing.T) {
	p := New()
	m := upstream.RawMessage{
		MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", SenderUin: "123456",
		SendNickName: "nick", SendMemberName: "card", SendRemarkName: "remark", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hi"}},
	}
	pm := p.Parse(m)

	want := Sender{UID: "u1", Uin: "123456", DisplayName: "card", Nickname: "nick", GroupCard: "card", Remark: "remark"}
	if diff := cmp.Diff(want, pm.Sender); diff != "" {
		t.Errorf("Sender mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownElementPreservedAsSpecial(t *testing.T) {
	p := New()
	m := upstream.RawMessage{
		MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementUnknown, Raw: map[string]any{"weird": 1}}},
	}
	pm := p.Parse(m)
	require.Len(t, pm.Content.Special, 1)
	require.Equal(t, "unknown_unknown", pm.Content.Special[0].Type)
}

func TestGrayTipMarksSystemMessage(t *testing.T) {
	p := New()
	m := upstream.RawMessage{
		MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "gray-tip",
		Elements: []upstream.MessageElement{{Type: upstream.ElementGrayTip, SystemText: "X recalled a message"}},
	}
	pm := p.Parse(m)
	require.True(t, pm.IsSystem)
	require.Equal(t, "X recalled a message", pm.Content.Text)
}

func TestParseStreamPreservesBatchOrderingWithinBatch(t *testing.T) {
	p := New()
	batches := make(chan []upstream.RawMessage, 2)
	batches <- []upstream.RawMessage{
		{MsgID: "a", MsgSeq: "2", MsgTime: "1700000020", SenderUID: "u1", MsgType: "text", Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "a"}}},
		{MsgID: "b", MsgSeq: "1", MsgTime: "1700000010", SenderUID: "u1", MsgType: "text", Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "b"}}},
	}
	close(batches)

	var got []*ParsedMessage
	err := p.ParseStream(context.Background(), batches, func(batch []*ParsedMessage) {
		got = append(got, batch...)
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].MessageID)
	require.Equal(t, "b", got[1].MessageID)
}
