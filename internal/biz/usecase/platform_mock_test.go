package usecase

import (
	"context"
	"errors"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

// fakePlatform is a hand-written PlatformRepo stub shared by the usecase
// tests. Unconfigured calls fail loudly.
type fakePlatform struct {
	resources map[string]*repo.Resource
	downloads []string // keys in fetch order
	listed    []domain.HistoryMessage
	listCalls int
	lastLimit int
	names     map[string]string
	nameCalls int
	nameErr   error
}

func (f *fakePlatform) SendText(ctx context.Context, chatID, text string) (string, error) {
	return "om_sent", nil
}

func (f *fakePlatform) SendTextWithMentions(ctx context.Context, chatID, text string, mentions []domain.Mention) (string, error) {
	return "om_sent", nil
}

func (f *fakePlatform) SendCard(ctx context.Context, chatID, cardJSON string) (string, error) {
	return "om_card", nil
}

func (f *fakePlatform) UpdateCard(ctx context.Context, messageID, cardJSON string) error {
	return nil
}

func (f *fakePlatform) GetMessage(ctx context.Context, messageID string) (*domain.StoredMessage, error) {
	return nil, errors.New("not configured")
}

func (f *fakePlatform) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.HistoryMessage, error) {
	f.listCalls++
	f.lastLimit = limit
	if limit < len(f.listed) {
		return f.listed[:limit], nil
	}
	return f.listed, nil
}

func (f *fakePlatform) DownloadResource(ctx context.Context, messageID, key, resourceType string) (*repo.Resource, error) {
	f.downloads = append(f.downloads, key)
	res, ok := f.resources[key]
	if !ok {
		return nil, errors.New("resource unavailable")
	}
	return res, nil
}

func (f *fakePlatform) GetUserName(ctx context.Context, openID string) (string, error) {
	f.nameCalls++
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.names[openID], nil
}
