package repo

import (
	"context"

	"github.com/larkgate/larkgate/internal/biz/domain"
)

// Resource is one downloaded media payload plus its transport metadata.
type Resource struct {
	Data        []byte
	ContentType string // empty when the transport did not supply one
	FileName    string
}

// PlatformRepo is the chat platform transport consumed by the pipeline.
// All calls are fallible and potentially permission-gated; permission
// failures are reported as *domain.PermissionError in the error chain.
type PlatformRepo interface {
	// SendText sends a plain text message and returns the new message ID.
	SendText(ctx context.Context, chatID, text string) (string, error)

	// SendTextWithMentions sends text prefixed with @-mention tags.
	SendTextWithMentions(ctx context.Context, chatID, text string, mentions []domain.Mention) (string, error)

	// SendCard sends an interactive card and returns the new message ID.
	SendCard(ctx context.Context, chatID, cardJSON string) (string, error)

	// UpdateCard replaces the content of a previously sent card in place.
	UpdateCard(ctx context.Context, messageID, cardJSON string) error

	// GetMessage fetches a single message by ID (used for quoted messages).
	GetMessage(ctx context.Context, messageID string) (*domain.StoredMessage, error)

	// ListMessages returns up to limit messages for a chat, newest first.
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.HistoryMessage, error)

	// DownloadResource fetches a media payload attached to a message.
	// resourceType is "image" or "file".
	DownloadResource(ctx context.Context, messageID, key, resourceType string) (*Resource, error)

	// GetUserName resolves a user's display name by open ID.
	GetUserName(ctx context.Context, openID string) (string, error)
}
