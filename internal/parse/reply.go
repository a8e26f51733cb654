package parse

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// DefaultReplyCacheSize bounds the reply-resolution index.
const DefaultReplyCacheSize = 50_000

// replyCandidate is the minimal record kept per recently-seen message so a
// later reply can resolve against it without holding the full batch.
type replyCandidate struct {
	msgID     string
	msgSeq    string
	clientSeq string
	sender    string
	elements  []upstream.MessageElement
}

// replyIndex resolves reply elements against recently seen messages. It is
// per-parser-instance and bounded by an LRU keyed on msgID, with two side
// indexes (by seq, by clientSeq) kept in sync as entries are evicted. All
// access goes through the methods below, which hold mu; onEvict runs inside
// Add and is therefore already under mu.
type replyIndex struct {
	mu          sync.Mutex
	byID        *lru.Cache[string, *replyCandidate]
	bySeq       map[string]string
	byClientSeq map[string]string
}

func newReplyIndex(capacity int) *replyIndex {
	if capacity <= 0 {
		capacity = DefaultReplyCacheSize
	}
	idx := &replyIndex{
		bySeq:       make(map[string]string),
		byClientSeq: make(map[string]string),
	}
	cache, err := lru.NewWithEvict[string, *replyCandidate](capacity, idx.onEvict)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		cache, _ = lru.New[string, *replyCandidate](DefaultReplyCacheSize)
	}
	idx.byID = cache
	return idx
}

func (idx *replyIndex) onEvict(key string, value *replyCandidate) {
	if value == nil {
		return
	}
	if idx.bySeq[value.msgSeq] == key {
		delete(idx.bySeq, value.msgSeq)
	}
	if idx.byClientSeq[value.clientSeq] == key {
		delete(idx.byClientSeq, value.clientSeq)
	}
}

func (idx *replyIndex) remember(m upstream.RawMessage, senderName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	c := &replyCandidate{
		msgID:     m.MsgID,
		msgSeq:    m.MsgSeq,
		clientSeq: m.ClientSeq,
		sender:    senderName,
		elements:  m.Elements,
	}
	idx.byID.Add(m.MsgID, c)
	if m.MsgSeq != "" {
		idx.bySeq[m.MsgSeq] = m.MsgID
	}
	if m.ClientSeq != "" {
		idx.byClientSeq[m.ClientSeq] = m.MsgID
	}
}

func (idx *replyIndex) byMsgID(id string) (*replyCandidate, bool) {
	if id == "" {
		return nil, false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.byID.Get(id)
}

func (idx *replyIndex) byMsgSeq(seq string) (*replyCandidate, bool) {
	if seq == "" {
		return nil, false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id, ok := idx.bySeq[seq]
	if !ok {
		return nil, false
	}
	return idx.byID.Get(id)
}

func (idx *replyIndex) byMsgClientSeq(seq string) (*replyCandidate, bool) {
	if seq == "" {
		return nil, false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id, ok := idx.byClientSeq[seq]
	if !ok {
		return nil, false
	}
	return idx.byID.Get(id)
}

// resolveReply tries, in order: (1) sourceMsgIdInRecords, (2) the current
// message's records[], (3) the index by msgSeq, (4) the index by clientSeq.
// The literal "original message" is used when nothing resolves.
func (idx *replyIndex) resolveReply(m upstream.RawMessage, el upstream.MessageElement) Reply {
	reply := Reply{MessageID: el.ReplyMsgID}

	if el.SourceMsgIDInRecords != "" {
		for _, rec := range m.Records {
			if rec.MsgID == el.SourceMsgIDInRecords {
				reply.ReferencedMessageID = &rec.MsgID
				reply.SenderName = resolveDisplayName(rec.SendMemberName, rec.SendRemarkName, rec.SendNickName, rec.SenderUin, rec.SenderUID)
				reply.Content = renderElementsToText(rec.Elements)
				return reply
			}
		}
	}

	for _, rec := range m.Records {
		if rec.MsgID == el.ReplyMsgID || rec.MsgSeq == el.ReplyMsgSeq {
			id := rec.MsgID
			reply.ReferencedMessageID = &id
			reply.SenderName = resolveDisplayName(rec.SendMemberName, rec.SendRemarkName, rec.SendNickName, rec.SenderUin, rec.SenderUID)
			reply.Content = renderElementsToText(rec.Elements)
			return reply
		}
	}

	if cand, ok := idx.byMsgSeq(el.ReplyMsgSeq); ok {
		id := cand.msgID
		reply.ReferencedMessageID = &id
		reply.SenderName = cand.sender
		reply.Content = renderElementsToText(cand.elements)
		return reply
	}

	if cand, ok := idx.byMsgClientSeq(el.ReplyMsgClientSeq); ok {
		id := cand.msgID
		reply.ReferencedMessageID = &id
		reply.SenderName = cand.sender
		reply.Content = renderElementsToText(cand.elements)
		return reply
	}

	reply.ReferencedMessageID = nil
	reply.Content = "original message"
	return reply
}
