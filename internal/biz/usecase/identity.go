package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

const (
	senderNameTTL      = 10 * time.Minute
	permissionCooldown = 5 * time.Minute
)

type nameEntry struct {
	name    string
	expires time.Time
}

// IdentityResolver resolves sender display names with a TTL cache and rate
// limits permission-denied notifications per app key. Expiry is fixed at
// insertion and never extended on read (pure TTL, not LRU).
type IdentityResolver struct {
	platform repo.PlatformRepo

	mu    sync.Mutex
	names map[string]nameEntry
	ttl   time.Duration

	noticeMu   sync.Mutex
	lastNotice map[string]time.Time
	cooldown   time.Duration
}

// NewIdentityResolver creates an identity resolver.
func NewIdentityResolver(platform repo.PlatformRepo) *IdentityResolver {
	return &IdentityResolver{
		platform:   platform,
		names:      make(map[string]nameEntry),
		ttl:        senderNameTTL,
		lastNotice: make(map[string]time.Time),
		cooldown:   permissionCooldown,
	}
}

// SenderName resolves the display name for an open ID, best effort. A
// permission failure is returned separately so the caller can flag it; any
// other failure degrades to an empty name.
func (r *IdentityResolver) SenderName(ctx context.Context, openID string) (string, *domain.PermissionError) {
	if openID == "" {
		return "", nil
	}

	r.mu.Lock()
	if e, ok := r.names[openID]; ok && time.Now().Before(e.expires) {
		r.mu.Unlock()
		return e.name, nil
	}
	r.mu.Unlock()

	name, err := r.platform.GetUserName(ctx, openID)
	if err != nil {
		if pe, ok := domain.AsPermissionError(err); ok {
			return "", pe
		}
		slog.Warn("identity: profile lookup failed", "open_id", openID, "error", err)
		return "", nil
	}

	r.mu.Lock()
	r.names[openID] = nameEntry{name: name, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return name, nil
}

// ShouldNotifyPermission reports whether a permission notice may be emitted
// for the app key, and records the emission when it may. At most one notice
// per key per cooldown window, regardless of how many calls failed.
func (r *IdentityResolver) ShouldNotifyPermission(appKey string) bool {
	r.noticeMu.Lock()
	defer r.noticeMu.Unlock()
	now := time.Now()
	if last, ok := r.lastNotice[appKey]; ok && now.Sub(last) < r.cooldown {
		return false
	}
	r.lastNotice[appKey] = now
	return true
}
