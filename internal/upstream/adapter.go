package upstream

import "context"

// Adapter is the narrow capability set the rest of the engine is allowed
// to use against the upstream chat bridge. It is the only place that
// knows about upstream-specific wire shapes; every method classifies its
// failures into the taxonomy in errors.go.
type Adapter interface {
	ListGroups(ctx context.Context) ([]GroupSummary, error)
	ListFriends(ctx context.Context) ([]FriendSummary, error)
	ResolveDisplayName(ctx context.Context, ref ChatRef) (string, error)

	GetLatestMessages(ctx context.Context, ref ChatRef, count int) ([]RawMessage, error)
	GetMessageHistory(ctx context.Context, ref ChatRef, anchorMsgID string, count int, forward bool) ([]RawMessage, error)
	GetMessagesBySeqRange(ctx context.Context, ref ChatRef, seqStart, seqEnd string) ([]RawMessage, error)

	DownloadMedia(ctx context.Context, msgID string, chatType ChatType, peerUID, elementID, destPath string) (*DownloadResult, error)
	ResolvePttUrl(ctx context.Context, peerUID, fileUUID string) (string, error)
}
