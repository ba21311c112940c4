package render

import (
	"context"
	"errors"
	"sync"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

type sentMessage struct {
	kind     string // "text", "text+mentions", "card", "update"
	chatID   string
	body     string
	mentions []domain.Mention
}

// recordingPlatform captures outbound sends for assertion.
type recordingPlatform struct {
	mu         sync.Mutex
	sent       []sentMessage
	cardSends  int
	mentionErr error
	nextID     int
}

func (p *recordingPlatform) record(m sentMessage) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, m)
	p.nextID++
	return "om_" + string(rune('0'+p.nextID%10))
}

func (p *recordingPlatform) snapshot() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func (p *recordingPlatform) SendText(ctx context.Context, chatID, text string) (string, error) {
	return p.record(sentMessage{kind: "text", chatID: chatID, body: text}), nil
}

func (p *recordingPlatform) SendTextWithMentions(ctx context.Context, chatID, text string, mentions []domain.Mention) (string, error) {
	if p.mentionErr != nil {
		return "", p.mentionErr
	}
	return p.record(sentMessage{kind: "text+mentions", chatID: chatID, body: text, mentions: mentions}), nil
}

func (p *recordingPlatform) SendCard(ctx context.Context, chatID, cardJSON string) (string, error) {
	p.mu.Lock()
	p.cardSends++
	p.mu.Unlock()
	return p.record(sentMessage{kind: "card", chatID: chatID, body: cardJSON}), nil
}

func (p *recordingPlatform) UpdateCard(ctx context.Context, messageID, cardJSON string) error {
	p.record(sentMessage{kind: "update", chatID: messageID, body: cardJSON})
	return nil
}

func (p *recordingPlatform) GetMessage(ctx context.Context, messageID string) (*domain.StoredMessage, error) {
	return nil, errors.New("not supported")
}

func (p *recordingPlatform) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.HistoryMessage, error) {
	return nil, nil
}

func (p *recordingPlatform) DownloadResource(ctx context.Context, messageID, key, resourceType string) (*repo.Resource, error) {
	return nil, errors.New("not supported")
}

func (p *recordingPlatform) GetUserName(ctx context.Context, openID string) (string, error) {
	return "", nil
}
