package render

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

type timelineItem struct {
	phase domain.EventPhase
	name  string
	text  string
}

// CardController renders a streamed reply as one progressively updated
// interactive card. The first Deliver lazily sends the initial card behind a
// single-flight guard; every later state change schedules a throttled,
// latest-wins update. Finalize and OnError are terminal and block until the
// update queue is fully flushed.
type CardController struct {
	platform repo.PlatformRepo
	chatID   string
	throttle time.Duration

	mu        sync.Mutex
	status    domain.RunStatus
	draft     strings.Builder
	timeline  []timelineItem
	collapsed bool
	cardMsgID string
	queue     *updateQueue
	sent      bool

	initGroup singleflight.Group
}

// NewCardController creates a progressive-card controller for one reply
// cycle in one chat.
func NewCardController(platform repo.PlatformRepo, chatID string, throttle time.Duration) *CardController {
	return &CardController{
		platform: platform,
		chatID:   chatID,
		throttle: throttle,
		status:   domain.RunIdle,
	}
}

// Deliver folds one reply fragment into the run state, sends the initial
// card if needed, and schedules a card update.
func (c *CardController) Deliver(ctx context.Context, frag domain.ReplyFragment) error {
	c.apply(frag)
	if err := c.ensureCard(ctx); err != nil {
		return err
	}
	c.scheduleUpdate()
	return nil
}

// Finalize forces Completed, renders with the timeline collapsed, and blocks
// until the queue drains. A turn that never produced a draft nor sent a card
// while still thinking emits nothing.
func (c *CardController) Finalize(ctx context.Context) error {
	c.mu.Lock()
	noop := !c.sent &&
		(c.status == domain.RunIdle || c.status == domain.RunThinking) &&
		strings.TrimSpace(c.draft.String()) == ""
	if !noop {
		if c.status != domain.RunError {
			c.status = domain.RunCompleted
		}
		c.collapsed = true
	}
	c.mu.Unlock()

	if noop {
		return nil
	}
	return c.flushTerminal(ctx)
}

// OnError forces Error and flushes like Finalize. Mutually exclusive with
// Finalize.
func (c *CardController) OnError(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.status = domain.RunError
	c.collapsed = true
	if cause != nil {
		c.timeline = append(c.timeline, timelineItem{phase: domain.PhaseError, text: cause.Error()})
	}
	c.mu.Unlock()
	return c.flushTerminal(ctx)
}

func (c *CardController) flushTerminal(ctx context.Context) error {
	if err := c.ensureCard(ctx); err != nil {
		return err
	}
	c.scheduleUpdate()
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q != nil {
		q.Drain()
	}
	return nil
}

// apply folds a fragment into the state machine. Structured events drive
// transitions directly; flat text is split heuristically into tool activity
// and prose.
func (c *CardController) apply(frag domain.ReplyFragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := frag.Events
	if len(events) == 0 && frag.Text != "" {
		toolLines, prose := splitToolLines(frag.Text)
		for _, line := range toolLines {
			events = append(events, domain.AgentEvent{Phase: domain.PhaseToolCall, Text: line})
		}
		if prose != "" {
			events = append(events, domain.AgentEvent{Phase: domain.PhaseAssistant, Text: prose})
		}
	}

	for _, ev := range events {
		switch ev.Phase {
		case domain.PhaseAssistant:
			if c.status == domain.RunIdle {
				c.status = domain.RunThinking
			}
			c.draft.WriteString(ev.Text)
		case domain.PhaseToolCall:
			if c.status != domain.RunError {
				c.status = domain.RunToolCalling
			}
			c.timeline = append(c.timeline, timelineItem{phase: ev.Phase, name: ev.Name, text: ev.Text})
		case domain.PhaseToolResult:
			if c.status != domain.RunError {
				c.status = domain.RunWaitingToolResult
			}
			c.timeline = append(c.timeline, timelineItem{phase: ev.Phase, name: ev.Name, text: ev.Text})
		case domain.PhaseError:
			c.status = domain.RunError
			if ev.Text != "" {
				c.timeline = append(c.timeline, timelineItem{phase: ev.Phase, name: ev.Name, text: ev.Text})
			}
		}
	}
}

// ensureCard sends the initial card exactly once. Concurrent Deliver calls
// before the first send resolves share the same in-flight send.
func (c *CardController) ensureCard(ctx context.Context) error {
	c.mu.Lock()
	if c.sent {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.initGroup.Do("init", func() (any, error) {
		c.mu.Lock()
		if c.sent {
			c.mu.Unlock()
			return nil, nil
		}
		body := c.renderBody()
		c.mu.Unlock()

		id, err := c.platform.SendCard(ctx, c.chatID, body)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cardMsgID = id
		c.queue = newUpdateQueue(c.throttle, func(ctx context.Context, payload string) error {
			return c.platform.UpdateCard(ctx, id, payload)
		})
		c.sent = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func (c *CardController) scheduleUpdate() {
	c.mu.Lock()
	q := c.queue
	body := c.renderBody()
	c.mu.Unlock()
	if q != nil {
		q.Schedule(body)
	}
}

// Status returns the current run status.
func (c *CardController) Status() domain.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// renderBody builds the interactive card JSON for the current state.
// Callers must hold c.mu.
func (c *CardController) renderBody() string {
	title, template := headerFor(c.status)

	var elements []map[string]any
	if len(c.timeline) > 0 {
		elements = append(elements, map[string]any{
			"tag":     "markdown",
			"content": c.renderTimeline(),
		})
		elements = append(elements, map[string]any{"tag": "hr"})
	}
	draft := c.draft.String()
	if draft == "" && len(elements) == 0 {
		draft = "…"
	}
	if draft != "" {
		elements = append(elements, map[string]any{
			"tag":     "markdown",
			"content": draft,
		})
	}

	card := map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"template": template,
			"title":    map[string]any{"tag": "plain_text", "content": title},
		},
		"elements": elements,
	}
	data, _ := json.Marshal(card)
	return string(data)
}

func (c *CardController) renderTimeline() string {
	if c.collapsed {
		steps := 0
		for _, item := range c.timeline {
			if item.phase == domain.PhaseToolCall {
				steps++
			}
		}
		if steps == 0 {
			steps = len(c.timeline)
		}
		if steps == 1 {
			return "🧰 1 step"
		}
		return "🧰 " + strconv.Itoa(steps) + " steps"
	}

	var sb strings.Builder
	for _, item := range c.timeline {
		label := item.name
		if label != "" && item.text != "" {
			label += ": "
		}
		switch item.phase {
		case domain.PhaseToolCall:
			sb.WriteString("⏺ " + label + item.text + "\n")
		case domain.PhaseToolResult:
			sb.WriteString("↳ " + label + item.text + "\n")
		case domain.PhaseError:
			sb.WriteString("✗ " + label + item.text + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func headerFor(status domain.RunStatus) (title, template string) {
	switch status {
	case domain.RunToolCalling:
		return "🛠 Running tools…", "blue"
	case domain.RunWaitingToolResult:
		return "⏳ Waiting for tool result…", "blue"
	case domain.RunCompleted:
		return "✅ Done", "green"
	case domain.RunError:
		return "❌ Error", "red"
	default:
		return "💭 Thinking…", "blue"
	}
}
