package repo

import (
	"context"
	"time"
)

// SessionRepo records lightweight per-chat session bookkeeping. The pipeline
// only emits observations into it; it never reads session state back on the
// hot path.
type SessionRepo interface {
	// Observe records that a message was seen for a chat and returns the
	// chat's stable session key, creating one on first sight.
	Observe(ctx context.Context, chatID, messageID string, at time.Time) (string, error)

	// MarkReplied records that a reply cycle completed for a chat.
	MarkReplied(ctx context.Context, chatID string) error

	// CleanupStale removes sessions not touched since before.
	CleanupStale(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
