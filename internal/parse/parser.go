package parse

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// DefaultYieldEvery is the message count after which ParseStream yields to
// the scheduler.
const DefaultYieldEvery = 1000

// softMemoryCeilingBytes is the heap-alloc threshold above which ParseStream
// asks the runtime for a GC pass between batches, so a very large export
// completes in bounded memory.
const softMemoryCeilingBytes = 512 << 20

// Parser turns RawMessage into ParsedMessage. A single instance owns its
// own reply-resolution index (internally locked), so it is safe for
// concurrent use by ParseStream's worker pool as well as direct Parse calls.
type Parser struct {
	replies    *replyIndex
	yieldEvery int
}

// Option configures a Parser.
type Option func(*Parser)

// WithReplyCacheSize overrides the default 50,000-entry reply LRU.
func WithReplyCacheSize(n int) Option {
	return func(p *Parser) { p.replies = newReplyIndex(n) }
}

// WithYieldEvery overrides the default yield-every-1000-messages cadence.
func WithYieldEvery(n int) Option {
	return func(p *Parser) { p.yieldEvery = n }
}

// New builds a Parser with default cache size and yield cadence.
func New(opts ...Option) *Parser {
	p := &Parser{
		replies:    newReplyIndex(DefaultReplyCacheSize),
		yieldEvery: DefaultYieldEvery,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse transforms a single RawMessage into a ParsedMessage. Element-level
// failures are folded into content.special and never abort the message;
// Parse itself never returns an error — a failed message is represented as
// a stub ParsedMessage carrying a message-level special marker, so no item
// is ever dropped.
func (p *Parser) Parse(m upstream.RawMessage) *ParsedMessage {
	start := time.Now()

	senderName := resolveDisplayName(m.SendMemberName, m.SendRemarkName, m.SendNickName, m.SenderUin, m.SenderUID)

	pm := &ParsedMessage{
		MessageID:  m.MsgID,
		MessageSeq: m.MsgSeq,
		Timestamp:  promotedMillis(m.MsgTime),
		Sender: Sender{
			UID:         m.SenderUID,
			Uin:         m.SenderUin,
			DisplayName: senderName,
			Nickname:    m.SendNickName,
			GroupCard:   m.SendMemberName,
			Remark:      m.SendRemarkName,
		},
		Receiver:    Receiver{UID: m.PeerUID, Type: m.ChatType},
		MessageType: m.MsgType,
		IsRecalled:  m.RecallTime != "" && m.RecallTime != "0",
		RawRef:      m.MsgID,
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				pm.Content.Special = append(pm.Content.Special, Special{Type: "error_message", Detail: panicDetail(r)})
			}
		}()
		p.parseElements(pm, m)
	}()

	if pm.MessageType == "gray-tip" || hasGrayTip(m.Elements) {
		pm.IsSystem = true
	}

	p.replies.remember(m, senderName)

	pm.Stats = Stats{
		ElementCount:     len(m.Elements),
		ResourceCount:    len(pm.Content.Resources),
		TextLength:       len(pm.Content.Text),
		ProcessingMillis: time.Since(start).Milliseconds(),
	}
	return pm
}

func (p *Parser) parseElements(pm *ParsedMessage, m upstream.RawMessage) {
	var textParts []string
	var htmlParts []string

	for _, el := range m.Elements {
		rendered := p.parseOneElement(pm, m, el)
		if rendered.text != "" {
			textParts = append(textParts, rendered.text)
		}
		if rendered.html != "" {
			htmlParts = append(htmlParts, rendered.html)
		}
	}

	pm.Content.Text = strings.Join(textParts, " ")
	pm.Content.HTML = strings.Join(htmlParts, "")
}

// parseOneElement isolates a single element's render call so a panic in one
// variant's renderer degrades to a special marker instead of losing the
// whole message.
func (p *Parser) parseOneElement(pm *ParsedMessage, m upstream.RawMessage, el upstream.MessageElement) (out elementRenderer) {
	defer func() {
		if r := recover(); r != nil {
			pm.Content.Special = append(pm.Content.Special, Special{Type: "error_" + string(el.Type), Detail: panicDetail(r)})
			out = elementRenderer{}
		}
	}()
	return p.renderElement(&pm.Content, m, el)
}

func hasGrayTip(elements []upstream.MessageElement) bool {
	for _, el := range elements {
		if el.Type == upstream.ElementGrayTip {
			return true
		}
	}
	return false
}

func panicDetail(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic"
}

func promotedMillis(msgTime string) int64 {
	sec, err := strconv.ParseInt(msgTime, 10, 64)
	if err != nil {
		return 0
	}
	return promoteTimestamp(sec)
}

// workerPoolSize is min(32, max(4, 2×cpuCount)).
func workerPoolSize() int {
	n := 2 * runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	if n > 32 {
		n = 32
	}
	return n
}

// ParseStream consumes batches from a channel, parsing each with a bounded
// worker pool (golang.org/x/sync/errgroup with a semaphore), preserving
// batch order within onBatch calls. Each batch is parsed by one task so
// within-batch ordering (already newest-to-oldest from the fetcher) is
// preserved; the pool parallelizes *across* batches.
func (p *Parser) ParseStream(ctx context.Context, batches <-chan []upstream.RawMessage, onBatch func([]*ParsedMessage)) error {
	sem := make(chan struct{}, workerPoolSize())
	g, gctx := errgroup.WithContext(ctx)

	processed := 0
	var mu, onBatchMu sync.Mutex

loop:
	for batch := range batches {
		batch := batch
		select {
		case <-gctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		g.Go(func() error {
			defer func() { <-sem }()

			parsed := make([]*ParsedMessage, 0, len(batch))
			for _, m := range batch {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				parsed = append(parsed, p.Parse(m))

				mu.Lock()
				processed++
				yield := p.yieldEvery > 0 && processed%p.yieldEvery == 0
				mu.Unlock()
				if yield {
					runtime.Gosched()
				}
			}

			onBatchMu.Lock()
			onBatch(parsed)
			onBatchMu.Unlock()
			maybeGC()
			return nil
		})
	}

	return g.Wait()
}

func maybeGC() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc > softMemoryCeilingBytes {
		runtime.GC()
	}
}
