// Package fetch implements the strategy-driven message fetcher: an
// iterator that yields ordered batches of raw messages for a (chat,
// window), enforcing pagination, retries, and client-side filtering.
package fetch

import (
	"encoding/json"
	"strings"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// Strategy selects which upstream pagination primitive the fetcher uses.
type Strategy string

const (
	StrategyTimeSequential Strategy = "TIME_SEQUENTIAL"
	StrategySeqRange       Strategy = "SEQ_RANGE"
	StrategyHybrid         Strategy = "HYBRID"
)

// TimeWindow is a half-open interval [StartMillis, EndMillis) applied to
// msgTime. Either bound may be 0, meaning unbounded on that side.
type TimeWindow struct {
	StartMillis int64
	EndMillis   int64
}

// Contains reports whether t (already in millis) falls within the window.
func (w TimeWindow) Contains(t int64) bool {
	if w.StartMillis != 0 && t < w.StartMillis {
		return false
	}
	if w.EndMillis != 0 && t >= w.EndMillis {
		return false
	}
	return true
}

// Filter is applied client-side to every raw batch, in order: window,
// sender set, type set, keyword.
type Filter struct {
	Window        TimeWindow
	SenderUIDs    map[string]bool
	MessageTypes  map[string]bool
	Keyword       string
	BatchSize     int
	TimeoutMillis int
	RetryCount    int
}

// SelectStrategy picks the pagination primitive: history-walking for
// private chats (most reliable there) and whenever client-side filters
// apply, seq-range walking otherwise (cheaper per call).
func SelectStrategy(ref upstream.ChatRef, f Filter) Strategy {
	if ref.ChatType == upstream.ChatTypePrivate {
		return StrategyTimeSequential
	}
	if len(f.SenderUIDs) > 0 || len(f.MessageTypes) > 0 || f.Keyword != "" {
		return StrategyTimeSequential
	}
	return StrategySeqRange
}

// matchesFilter applies the client-side filter to a single raw message.
// msgTimeMillis is the already-promoted timestamp.
func matchesFilter(m upstream.RawMessage, msgTimeMillis int64, f Filter) bool {
	if !f.Window.Contains(msgTimeMillis) {
		return false
	}
	if len(f.SenderUIDs) > 0 && !f.SenderUIDs[m.SenderUID] {
		return false
	}
	if len(f.MessageTypes) > 0 && !f.MessageTypes[m.MsgType] {
		return false
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(renderElementsForKeyword(m)), kw) {
			return false
		}
	}
	return true
}

// renderElementsForKeyword renders the full element slice as JSON so the
// keyword filter sees every field an element carries (face names, card
// payloads, reply text), not just a hand-picked subset.
func renderElementsForKeyword(m upstream.RawMessage) string {
	data, err := json.Marshal(m.Elements)
	if err != nil {
		return ""
	}
	return string(data)
}

// Stats are the per-instance fetcher counters surfaced for observability.
type Stats struct {
	CallCount           int
	SuccessCount        int
	FailureCount        int
	AverageResponseMs   float64
	ConsecutiveFailures int
	LastCallAtUnixMs    int64
}
