package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
	"github.com/larkgate/larkgate/internal/conf"
)

const systemPrompt = "You are a helpful chat assistant replying inside a team messenger. " +
	"Messages arrive prefixed with speaker labels like [Alice]:. Reply to the latest " +
	"message, using any quoted message or history context that precedes it. Keep replies " +
	"concise and use markdown only when it helps."

// maxTurns bounds the per-session transcript kept in memory.
const maxTurns = 40

// AgentDispatcher streams replies from an OpenAI-compatible endpoint. It keeps
// a short rolling transcript per session key so follow-up messages in a chat
// carry conversational context.
type AgentDispatcher struct {
	client *openai.Client
	model  string

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessage
}

var _ repo.ReplyDispatcher = (*AgentDispatcher)(nil)

// NewAgentDispatcher creates a dispatcher for the configured agent endpoint.
func NewAgentDispatcher(cfg conf.AgentConfig) *AgentDispatcher {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &AgentDispatcher{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		sessions: make(map[string][]openai.ChatCompletionMessage),
	}
}

// Dispatch sends one envelope to the agent and streams the reply through
// ctrl. Returns the number of delivered fragments.
func (d *AgentDispatcher) Dispatch(ctx context.Context, env *repo.Envelope, ctrl repo.DeliveryController) (int, error) {
	messages := d.transcript(env.SessionKey, env)

	stream, err := d.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		if cerr := ctrl.OnError(ctx, err); cerr != nil {
			slog.Warn("agent: error render failed", "error", cerr)
		}
		return 0, fmt.Errorf("agent stream: %w", err)
	}
	defer stream.Close()

	// Raw deltas are word fragments; rendering heuristics need complete
	// lines, so deltas are assembled and released on paragraph boundaries.
	var full strings.Builder
	var asm replyAssembler
	delivered := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctrl.OnError(ctx, err); cerr != nil {
				slog.Warn("agent: error render failed", "error", cerr)
			}
			return delivered, fmt.Errorf("agent stream recv: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		ready := asm.Add(delta)
		if ready == "" {
			continue
		}
		if err := ctrl.Deliver(ctx, domain.ReplyFragment{Text: ready}); err != nil {
			slog.Warn("agent: deliver failed", "envelope_id", env.ID, "error", err)
			continue
		}
		delivered++
	}

	if rest := asm.Flush(); strings.TrimSpace(rest) != "" {
		if err := ctrl.Deliver(ctx, domain.ReplyFragment{Text: rest}); err != nil {
			slog.Warn("agent: deliver failed", "envelope_id", env.ID, "error", err)
		} else {
			delivered++
		}
	}

	d.record(env.SessionKey, full.String())

	if err := ctrl.Finalize(ctx); err != nil {
		return delivered, fmt.Errorf("finalize reply: %w", err)
	}
	return delivered, nil
}

// transcript appends the envelope as a user turn and returns the prompt
// messages for this call.
func (d *AgentDispatcher) transcript(sessionKey string, env *repo.Envelope) []openai.ChatCompletionMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	turn := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: envelopeBody(env),
	}
	history := append(d.sessions[sessionKey], turn)
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	d.sessions[sessionKey] = history

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	return append(messages, history...)
}

// record appends the assistant reply to the session transcript.
func (d *AgentDispatcher) record(sessionKey, reply string) {
	if strings.TrimSpace(reply) == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionKey] = append(d.sessions[sessionKey], openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
}

// replyAssembler buffers stream deltas and releases them in render-safe
// chunks. A chunk always ends at a paragraph break, so downstream line
// classification never sees a line split mid-word, and a fenced code block is
// held back until its closing fence has arrived.
type replyAssembler struct {
	pending strings.Builder
}

// Add appends one delta and returns the text ready for delivery, or "" when
// no paragraph has completed yet.
func (a *replyAssembler) Add(delta string) string {
	a.pending.WriteString(delta)
	text := a.pending.String()
	cut := flushPoint(text)
	if cut <= 0 {
		return ""
	}
	a.pending.Reset()
	a.pending.WriteString(text[cut:])
	return text[:cut]
}

// Flush returns whatever is still buffered.
func (a *replyAssembler) Flush() string {
	out := a.pending.String()
	a.pending.Reset()
	return out
}

// flushPoint returns the end offset of the last completed paragraph that is
// not inside an open code fence, or 0 when nothing is ready.
func flushPoint(text string) int {
	fenceOpen := false
	last := 0
	for i := 0; i+1 < len(text); i++ {
		if strings.HasPrefix(text[i:], "```") {
			fenceOpen = !fenceOpen
			i += 2
			continue
		}
		if !fenceOpen && text[i] == '\n' && text[i+1] == '\n' {
			last = i + 2
		}
	}
	return last
}

// envelopeBody renders the envelope for the agent, noting local attachments.
func envelopeBody(env *repo.Envelope) string {
	if len(env.Attachments) == 0 {
		return env.Body
	}
	var sb strings.Builder
	sb.WriteString(env.Body)
	sb.WriteString("\n\n[Attachments]")
	for _, att := range env.Attachments {
		sb.WriteString("\n- ")
		if att.Path != "" {
			sb.WriteString(att.Path)
		} else {
			sb.WriteString(att.Placeholder)
		}
		if att.ContentType != "" {
			sb.WriteString(" (" + att.ContentType + ")")
		}
	}
	return sb.String()
}
