package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

// chunkRunes bounds a single plain text send.
const chunkRunes = 2000

var markdownTableRe = regexp.MustCompile(`(?m)^\|.+\|\s*$\n^\|[\s:\-|]+\|\s*$`)

// SimpleController renders each delivered fragment independently and
// immediately: as one rich card when the fragment needs card rendering, or
// as chunked plain text sends. Stateless across fragments except for the
// first-chunk mention attachment.
type SimpleController struct {
	platform  repo.PlatformRepo
	chatID    string
	forceCard bool
	// mention attached to the first chunk only, for group replies
	mention *domain.Mention

	mu    sync.Mutex
	first bool
}

// NewSimpleController creates a simple chunked-text controller. mention, when
// non-nil, is attached to the first chunk sent.
func NewSimpleController(platform repo.PlatformRepo, chatID string, forceCard bool, mention *domain.Mention) *SimpleController {
	return &SimpleController{
		platform:  platform,
		chatID:    chatID,
		forceCard: forceCard,
		mention:   mention,
		first:     true,
	}
}

// Deliver sends one fragment, each chunk independently and immediately.
func (c *SimpleController) Deliver(ctx context.Context, frag domain.ReplyFragment) error {
	text := frag.Text
	if len(frag.Events) > 0 {
		var sb strings.Builder
		for _, ev := range frag.Events {
			if ev.Phase == domain.PhaseAssistant {
				sb.WriteString(ev.Text)
			}
		}
		text = sb.String()
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if c.needsCard(text) {
		_, err := c.platform.SendCard(ctx, c.chatID, markdownCard(text))
		return err
	}

	for _, chunk := range chunkText(text, chunkRunes) {
		if err := c.sendChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Finalize is a no-op: every fragment was already sent.
func (c *SimpleController) Finalize(ctx context.Context) error {
	return nil
}

// OnError sends a short failure notice.
func (c *SimpleController) OnError(ctx context.Context, cause error) error {
	slog.Error("render: reply failed", "chat_id", c.chatID, "error", cause)
	_, err := c.platform.SendText(ctx, c.chatID, "Something went wrong while producing the reply.")
	return err
}

func (c *SimpleController) sendChunk(ctx context.Context, chunk string) error {
	c.mu.Lock()
	attachMention := c.first && c.mention != nil
	c.first = false
	c.mu.Unlock()

	var err error
	if attachMention {
		_, err = c.platform.SendTextWithMentions(ctx, c.chatID, chunk, []domain.Mention{*c.mention})
		if err != nil {
			// Fall back to a plain send rather than dropping the chunk.
			_, err = c.platform.SendText(ctx, c.chatID, chunk)
		}
		return err
	}
	_, err = c.platform.SendText(ctx, c.chatID, chunk)
	return err
}

// needsCard reports whether the fragment carries structure plain text would
// mangle: a fenced code block or a markdown table.
func (c *SimpleController) needsCard(text string) bool {
	if c.forceCard {
		return true
	}
	return strings.Contains(text, "```") || markdownTableRe.MatchString(text)
}

// markdownCard wraps text in a minimal interactive card body.
func markdownCard(text string) string {
	card := map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"elements": []map[string]any{
			{"tag": "markdown", "content": text},
		},
	}
	data, _ := json.Marshal(card)
	return string(data)
}

// chunkText splits text into rune-bounded chunks, preferring newline breaks.
func chunkText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := limit
		if n > len(runes) {
			n = len(runes)
		} else {
			// Break at the last newline inside the window when there is one.
			if i := lastIndexRune(runes[:n], '\n'); i > limit/2 {
				n = i + 1
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:n]), "\n"))
		runes = runes[n:]
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
