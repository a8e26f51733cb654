package resource

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// fakeDownloader writes deterministic content to destPath, optionally
// failing the first N calls per msgID to exercise the retry path.
type fakeDownloader struct {
	mu        sync.Mutex
	failTimes map[string]int // msgID -> remaining failures before success
	calls     int32
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, msgID string, chatType upstream.ChatType, peerUID, elementID, destPath string) (*upstream.DownloadResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	remaining := f.failTimes[msgID]
	if remaining > 0 {
		f.failTimes[msgID] = remaining - 1
	}
	f.mu.Unlock()
	if remaining > 0 {
		return nil, upstream.ErrTransientNetwork
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(destPath, []byte("payload"), 0o644); err != nil {
		return nil, err
	}
	return &upstream.DownloadResult{Path: destPath}, nil
}

func newTestHandler(t *testing.T, d downloader) *Handler {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.DownloadTimeout = 2 * time.Second
	return New(d, cfg)
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Hour)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, "CLOSED", b.State())
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, "OPEN", b.State())
	require.Error(t, b.Allow())
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	b := NewCircuitBreaker(1, time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, "OPEN", b.State())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Allow())
	require.Equal(t, "HALF_OPEN", b.State())
	b.RecordSuccess()
	require.Equal(t, "CLOSED", b.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, "OPEN", b.State())
}

func TestPriorityQueueOrdersByTypeThenInsertion(t *testing.T) {
	q := newPriorityQueue()
	q.pushTail(Info{Type: TypeFile, FileName: "f1"})
	q.pushTail(Info{Type: TypeImage, FileName: "i1"})
	q.pushTail(Info{Type: TypeVideo, FileName: "v1"})

	first, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "i1", first.info.FileName)

	second, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "v1", second.info.FileName)

	third, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "f1", third.info.FileName)

	_, ok = q.pop()
	require.False(t, ok)
}

func TestPriorityQueuePushHeadGoesFirstWithinBand(t *testing.T) {
	q := newPriorityQueue()
	q.pushTail(Info{Type: TypeFile, FileName: "original"})
	retry := &downloadTask{info: Info{Type: TypeFile, FileName: "retried"}}
	q.pushHead(retry)

	first, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, "retried", first.info.FileName)
}

func TestHealthCacheDetectsMissingFile(t *testing.T) {
	c := newHealthCache()
	info := Info{MD5: "abc", LocalPath: filepath.Join(t.TempDir(), "missing.bin")}
	require.False(t, c.checkHealth(info))
}

func TestHealthCacheAcceptsMatchingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	c := newHealthCache()
	info := Info{LocalPath: path, FileSize: 5}
	require.True(t, c.checkHealth(info))
}

func TestSanitizeFileNameReplacesReservedChars(t *testing.T) {
	require.Equal(t, "a_b_c", sanitizeFileName(`a/b\c`))
	require.Equal(t, "file", sanitizeFileName(""))
}

func TestDestPathUsesContentAddressedLayout(t *testing.T) {
	got := destPath("/root/exports/x", Info{Type: TypeImage, FileName: "photo.jpg", MD5: "deadbeef"})
	require.Equal(t, filepath.Join("/root/exports/x", "images", "deadbeef_photo.jpg"), got)
}

func TestProcessDownloadsResourceAndDedupsByIdentity(t *testing.T) {
	d := &fakeDownloader{failTimes: map[string]int{}}
	h := newTestHandler(t, d)

	msgs := []*parse.ParsedMessage{
		{MessageID: "m1", Content: parse.Content{Resources: []parse.ResourceRef{
			{Type: "image", FileName: "photo.jpg", MD5: "m5"},
		}}},
		{MessageID: "m2", Content: parse.Content{Resources: []parse.ResourceRef{
			{Type: "image", FileName: "photo.jpg", MD5: "m5"}, // same identity, different message
		}}},
	}

	result, err := h.Process(context.Background(), upstream.ChatRef{ChatType: upstream.ChatTypeGroup, PeerUID: "g1"}, msgs)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&d.calls))

	require.Equal(t, StatusDownloaded, result["m1"][0].Status)
	require.Equal(t, StatusDownloaded, result["m2"][0].Status)
	require.Same(t, result["m1"][0], result["m2"][0])
}

func TestProcessRetriesTransientFailureThenSucceeds(t *testing.T) {
	d := &fakeDownloader{failTimes: map[string]int{"m1": 2}}
	h := newTestHandler(t, d)

	msgs := []*parse.ParsedMessage{
		{MessageID: "m1", Content: parse.Content{Resources: []parse.ResourceRef{
			{Type: "file", FileName: "doc.pdf", MD5: "abc123"},
		}}},
	}

	result, err := h.Process(context.Background(), upstream.ChatRef{ChatType: upstream.ChatTypePrivate, PeerUID: "u1"}, msgs)
	require.NoError(t, err)
	require.Equal(t, StatusDownloaded, result["m1"][0].Status)
	require.Equal(t, 3, result["m1"][0].DownloadAttempts)
}

func TestProcessMarksFailedAfterExhaustingRetries(t *testing.T) {
	d := &fakeDownloader{failTimes: map[string]int{"m1": 99}}
	h := newTestHandler(t, d)

	msgs := []*parse.ParsedMessage{
		{MessageID: "m1", Content: parse.Content{Resources: []parse.ResourceRef{
			{Type: "file", FileName: "doc.pdf", MD5: "perma-fail"},
		}}},
	}

	result, err := h.Process(context.Background(), upstream.ChatRef{ChatType: upstream.ChatTypePrivate, PeerUID: "u1"}, msgs)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, result["m1"][0].Status)
	require.NotEmpty(t, result["m1"][0].LastError)
}
