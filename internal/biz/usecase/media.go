package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

// DefaultMediaMaxBytes caps a single saved media payload at 30 MB.
const DefaultMediaMaxBytes = int64(30 * 1024 * 1024)

// MediaResolver downloads media referenced by a message within a byte
// budget. Fetch failures degrade to absence of that item; they never abort
// the message. Fetches are sequential: volume per message is small.
type MediaResolver struct {
	platform   repo.PlatformRepo
	normalizer *Normalizer
	dir        string
	maxBytes   int64
}

// NewMediaResolver creates a media resolver saving into dir, capping
// payloads at maxBytes (0 means the 30 MB default).
func NewMediaResolver(platform repo.PlatformRepo, normalizer *Normalizer, dir string, maxBytes int64) *MediaResolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMediaMaxBytes
	}
	return &MediaResolver{platform: platform, normalizer: normalizer, dir: dir, maxBytes: maxBytes}
}

// Resolve returns the media references of one message, in order. For post
// messages every embedded image is fetched and individual failures are
// skipped; for other kinds the single most relevant key is fetched, and a
// failure skips media entirely for that message.
func (r *MediaResolver) Resolve(ctx context.Context, messageID string, kind domain.ContentKind, raw string) []domain.MediaReference {
	if kind == domain.ContentPost {
		var refs []domain.MediaReference
		for _, key := range r.normalizer.PostImageKeys(raw) {
			ref, err := r.fetch(ctx, messageID, MediaKey{Key: key, ResourceType: "image", Placeholder: placeholderImage})
			if err != nil {
				slog.Warn("media: embedded image fetch failed, skipping", "message_id", messageID, "key", key, "error", err)
				continue
			}
			refs = append(refs, *ref)
		}
		return refs
	}

	key := r.normalizer.ExtractMediaKey(kind, raw)
	if key == nil {
		return nil
	}
	ref, err := r.fetch(ctx, messageID, *key)
	if err != nil {
		slog.Warn("media: fetch failed, skipping media for message", "message_id", messageID, "key", key.Key, "error", err)
		return nil
	}
	return []domain.MediaReference{*ref}
}

// ResolveWithQuoted resolves the live message's media and, when a quoted
// message is given, appends the quoted message's media after it. Current
// message media always sorts first.
func (r *MediaResolver) ResolveWithQuoted(ctx context.Context, messageID string, kind domain.ContentKind, raw string, quoted *domain.StoredMessage) []domain.MediaReference {
	refs := r.Resolve(ctx, messageID, kind, raw)
	if quoted != nil && !quoted.Deleted {
		refs = append(refs, r.Resolve(ctx, quoted.MessageID, quoted.Kind, quoted.RawContent)...)
	}
	return refs
}

func (r *MediaResolver) fetch(ctx context.Context, messageID string, key MediaKey) (*domain.MediaReference, error) {
	res, err := r.platform.DownloadResource(ctx, messageID, key.Key, key.ResourceType)
	if err != nil {
		return nil, err
	}
	// Enforce the byte budget before anything touches disk.
	if int64(len(res.Data)) > r.maxBytes {
		return nil, fmt.Errorf("payload %d bytes exceeds cap %d", len(res.Data), r.maxBytes)
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(res.Data)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	name := key.FileName
	if name == "" {
		name = key.Key + extensionFor(contentType)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return nil, fmt.Errorf("save media: %w", err)
	}

	return &domain.MediaReference{
		Path:        path,
		ContentType: contentType,
		Placeholder: key.Placeholder,
	}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
