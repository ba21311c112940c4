package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

const (
	// DefaultHistoryFetch is used when the message names no count.
	DefaultHistoryFetch = 200
	// MaxHistoryFetch bounds an explicit count; larger values are ignored.
	MaxHistoryFetch = 1000

	defaultBufferLimit = 50
)

// Bilingual ask-for-history intent. Matching only injects context; it never
// changes the dispatch decision.
var historyIntentRe = regexp.MustCompile(`(?i)(聊天记录|历史消息|历史记录|最近的?消息|总结.{0,6}(聊天|群|消息|对话)|chat history|show .{0,12}history|recent messages|summari[sz]e .{0,16}(chat|conversation|messages))`)

var historyCountRe = regexp.MustCompile(`(\d+)\s*(?:条|messages?|msgs?)`)

// HistoryAggregator owns the per-chat pending buffer and the on-demand
// history fetch. Buffer operations are atomic per chat key so a passive
// append racing a triggering dispatch cannot lose or duplicate entries.
type HistoryAggregator struct {
	platform repo.PlatformRepo

	mu      sync.Mutex
	pending map[string][]domain.PendingHistoryEntry
	limit   int

	defaultFetch int
	maxFetch     int
}

// NewHistoryAggregator creates an aggregator. Zero limits select the
// defaults (buffer 50, fetch 200, max 1000).
func NewHistoryAggregator(platform repo.PlatformRepo, bufferLimit, defaultFetch, maxFetch int) *HistoryAggregator {
	if bufferLimit <= 0 {
		bufferLimit = defaultBufferLimit
	}
	if defaultFetch <= 0 {
		defaultFetch = DefaultHistoryFetch
	}
	if maxFetch <= 0 {
		maxFetch = MaxHistoryFetch
	}
	return &HistoryAggregator{
		platform:     platform,
		pending:      make(map[string][]domain.PendingHistoryEntry),
		limit:        bufferLimit,
		defaultFetch: defaultFetch,
		maxFetch:     maxFetch,
	}
}

// Buffer appends a policy-gated-out message to the chat's pending list.
// Ring semantics: the oldest entry is dropped once the list is over limit.
func (h *HistoryAggregator) Buffer(chatID string, entry domain.PendingHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.pending[chatID], entry)
	if len(list) > h.limit {
		list = list[len(list)-h.limit:]
	}
	h.pending[chatID] = list
}

// Drain atomically returns and clears the chat's pending entries, in
// chronological order.
func (h *HistoryAggregator) Drain(chatID string) []domain.PendingHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.pending[chatID]
	delete(h.pending, chatID)
	return list
}

// Clear discards any entries buffered for the chat.
func (h *HistoryAggregator) Clear(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, chatID)
}

// PendingCount reports the buffered entry count for a chat.
func (h *HistoryAggregator) PendingCount(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending[chatID])
}

// FormatPending renders drained entries as context lines.
func FormatPending(entries []domain.PendingHistoryEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.At.Format("15:04"), e.Sender, e.Body)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// WantsHistory reports whether the message text matches the ask-for-history
// intent pattern.
func (h *HistoryAggregator) WantsHistory(text string) bool {
	return historyIntentRe.MatchString(text)
}

// ParseCount extracts an explicit message count from the text. Counts
// outside [1, max] are ignored and the default is used.
func (h *HistoryAggregator) ParseCount(text string) int {
	m := historyCountRe.FindStringSubmatch(text)
	if m == nil {
		return h.defaultFetch
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > h.maxFetch {
		return h.defaultFetch
	}
	return n
}

// FetchRecent pulls the requested number of messages from the platform's
// history API (descending recency), reverses them to chronological order,
// filters deleted/empty ones, and formats them as "[time] sender: content"
// lines.
func (h *HistoryAggregator) FetchRecent(ctx context.Context, chatID, text string) (string, error) {
	count := h.ParseCount(text)
	messages, err := h.platform.ListMessages(ctx, chatID, count)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	// Newest-first from the API; flip to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	var sb strings.Builder
	for _, m := range messages {
		if m.Deleted || strings.TrimSpace(m.Text) == "" {
			continue
		}
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreateTime.Format("01-02 15:04"), sender, m.Text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
