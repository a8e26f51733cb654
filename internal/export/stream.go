package export

import (
	"context"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
)

// forEachMessage drains batches in delivery order, applying the
// includeSystem filter, until the channel closes or ctx is done.
func forEachMessage(ctx context.Context, batches <-chan []*parse.ParsedMessage, includeSystem bool, fn func(*parse.ParsedMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			for _, msg := range batch {
				if msg.IsSystem && !includeSystem {
					continue
				}
				if err := fn(msg); err != nil {
					return err
				}
			}
		}
	}
}
