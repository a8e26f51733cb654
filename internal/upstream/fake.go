package upstream

import (
	"context"
	"sync"
)

// FakeAdapter is an in-memory Adapter used by fetcher/parser/orchestrator
// tests. Batches is consumed strictly in order, one batch per
// GetLatestMessages / GetMessageHistory / GetMessagesBySeqRange call.
type FakeAdapter struct {
	mu      sync.Mutex
	Batches [][]RawMessage
	next    int

	Groups  []GroupSummary
	Friends []FriendSummary

	// Err, if set, is returned by the next latest/history/seq-range call
	// instead of consuming a batch. Cleared after use.
	Err error
}

func NewFakeAdapter(batches [][]RawMessage) *FakeAdapter {
	return &FakeAdapter{Batches: batches}
}

func (f *FakeAdapter) ListGroups(ctx context.Context) ([]GroupSummary, error)   { return f.Groups, nil }
func (f *FakeAdapter) ListFriends(ctx context.Context) ([]FriendSummary, error) { return f.Friends, nil }

func (f *FakeAdapter) ResolveDisplayName(ctx context.Context, ref ChatRef) (string, error) {
	return "Fake Chat", nil
}

func (f *FakeAdapter) GetLatestMessages(ctx context.Context, ref ChatRef, count int) ([]RawMessage, error) {
	return f.nextBatch()
}

func (f *FakeAdapter) GetMessageHistory(ctx context.Context, ref ChatRef, anchorMsgID string, count int, forward bool) ([]RawMessage, error) {
	return f.nextBatch()
}

func (f *FakeAdapter) GetMessagesBySeqRange(ctx context.Context, ref ChatRef, seqStart, seqEnd string) ([]RawMessage, error) {
	return f.nextBatch()
}

func (f *FakeAdapter) nextBatch() ([]RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		err := f.Err
		f.Err = nil
		return nil, err
	}
	if f.next >= len(f.Batches) {
		return nil, nil
	}
	b := f.Batches[f.next]
	f.next++
	return b, nil
}

func (f *FakeAdapter) DownloadMedia(ctx context.Context, msgID string, chatType ChatType, peerUID, elementID, destPath string) (*DownloadResult, error) {
	return &DownloadResult{Path: destPath, Size: 0}, nil
}

func (f *FakeAdapter) ResolvePttUrl(ctx context.Context, peerUID, fileUUID string) (string, error) {
	return "", nil
}

var _ Adapter = (*FakeAdapter)(nil)
