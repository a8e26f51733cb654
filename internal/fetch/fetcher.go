package fetch

import (
	"context"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// Fetcher drives one strategy-selected pagination loop for a single
// (chat, filter). It is not re-entrant: a single instance must only ever
// be consumed by one caller at a time.
type Fetcher struct {
	adapter  upstream.Adapter
	ref      upstream.ChatRef
	filter   Filter
	strategy Strategy

	anchorMsgID  string
	anchorSeq    string
	started      bool
	done         bool
	interBatchMs int

	stats Stats
}

// New builds a Fetcher for ref/filter. interBatchMs is the pacing sleep
// between successful calls (default 100ms), yielding to other tasks.
func New(adapter upstream.Adapter, ref upstream.ChatRef, filter Filter, interBatchMs int) *Fetcher {
	if interBatchMs <= 0 {
		interBatchMs = 100
	}
	if filter.BatchSize <= 0 {
		filter.BatchSize = 100
	}
	if filter.RetryCount <= 0 {
		filter.RetryCount = 3
	}
	if filter.TimeoutMillis <= 0 {
		filter.TimeoutMillis = 30_000
	}
	return &Fetcher{
		adapter:      adapter,
		ref:          ref,
		filter:       filter,
		strategy:     SelectStrategy(ref, filter),
		interBatchMs: interBatchMs,
	}
}

// Stats returns a snapshot of the per-instance counters.
func (f *Fetcher) Stats() Stats { return f.stats }

// Next returns the next filtered batch, or ok=false when the iterator is
// exhausted (loop guard, early stop, or upstream returning no more data).
// Cancellation via ctx causes a clean end (ok=false, err=nil), never a
// failure.
func (f *Fetcher) Next(ctx context.Context) (batch []upstream.RawMessage, ok bool, err error) {
	if f.done {
		return nil, false, nil
	}
	select {
	case <-ctx.Done():
		f.done = true
		return nil, false, nil
	default:
	}

	raw, err := f.fetchRaw(ctx)
	if err != nil {
		if ctx.Err() != nil {
			f.done = true
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(raw) == 0 {
		f.done = true
		return nil, false, nil
	}

	// Earliest message (by position) anchors the next call; batches are
	// newest-to-oldest, so the last element is earliest.
	earliest := raw[len(raw)-1]
	nextAnchor := earliest.MsgID
	if f.started && nextAnchor == f.anchorMsgID {
		// Loop guard: upstream returned the same head again.
		f.done = true
		return nil, false, nil
	}
	f.started = true

	filtered := make([]upstream.RawMessage, 0, len(raw))
	for _, m := range raw {
		ms, perr := promotedMsgTime(m)
		if perr != nil {
			continue
		}
		if matchesFilter(m, ms, f.filter) {
			filtered = append(filtered, m)
		}
	}

	earliestMs, _ := promotedMsgTime(earliest)
	if len(filtered) == 0 && f.filter.Window.StartMillis != 0 && earliestMs < f.filter.Window.StartMillis {
		f.done = true
		return filtered, len(filtered) > 0, nil
	}

	f.anchorMsgID = nextAnchor
	f.anchorSeq = earliest.MsgSeq

	select {
	case <-time.After(time.Duration(f.interBatchMs) * time.Millisecond):
	case <-ctx.Done():
	}

	return filtered, true, nil
}

func promotedMsgTime(m upstream.RawMessage) (int64, error) {
	sec, err := strconv.ParseInt(m.MsgTime, 10, 64)
	if err != nil {
		return 0, err
	}
	return PromoteTimestamp(sec), nil
}

func (f *Fetcher) fetchRaw(ctx context.Context) ([]upstream.RawMessage, error) {
	call := func(ctx context.Context) ([]upstream.RawMessage, error) {
		if !f.started {
			return f.adapter.GetLatestMessages(ctx, f.ref, f.filter.BatchSize)
		}
		switch f.strategy {
		case StrategySeqRange:
			seqStart := decrementSeq(f.anchorSeq, f.filter.BatchSize)
			return f.adapter.GetMessagesBySeqRange(ctx, f.ref, seqStart, f.anchorSeq)
		default:
			return f.adapter.GetMessageHistory(ctx, f.ref, f.anchorMsgID, f.filter.BatchSize, false)
		}
	}
	return f.callWithRetry(ctx, call)
}

// decrementSeq computes seqStart = seqEnd - n, tolerating non-numeric
// sequence identifiers by falling back to seqEnd unchanged.
func decrementSeq(seqEnd string, n int) string {
	v, err := strconv.ParseInt(seqEnd, 10, 64)
	if err != nil {
		return seqEnd
	}
	v -= int64(n)
	if v < 0 {
		v = 0
	}
	return strconv.FormatInt(v, 10)
}

// callWithRetry wraps a single RPC with backoff = interval × attempt,
// racing against the filter's TimeoutMillis, retrying only transient
// network errors and rate limiting.
func (f *Fetcher) callWithRetry(ctx context.Context, call func(context.Context) ([]upstream.RawMessage, error)) ([]upstream.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= f.filter.RetryCount; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(f.filter.TimeoutMillis)*time.Millisecond)
		start := time.Now()
		f.stats.CallCount++
		f.stats.LastCallAtUnixMs = start.UnixMilli()

		result, err := call(callCtx)
		cancel()

		elapsed := time.Since(start)
		f.updateAverage(elapsed)

		if err == nil {
			f.stats.SuccessCount++
			f.stats.ConsecutiveFailures = 0
			return result, nil
		}

		f.stats.FailureCount++
		f.stats.ConsecutiveFailures++
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !upstream.Retryable(err) {
			return nil, err
		}
		if attempt == f.filter.RetryCount {
			break
		}
		backoff := time.Duration(attempt) * 200 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (f *Fetcher) updateAverage(elapsed time.Duration) {
	n := float64(f.stats.CallCount)
	if n <= 1 {
		f.stats.AverageResponseMs = float64(elapsed.Milliseconds())
		return
	}
	f.stats.AverageResponseMs = f.stats.AverageResponseMs + (float64(elapsed.Milliseconds())-f.stats.AverageResponseMs)/n
}
