package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
	"github.com/larkgate/larkgate/internal/biz/usecase"
	"github.com/larkgate/larkgate/internal/conf"
	"github.com/larkgate/larkgate/internal/render"
)

// Orchestrator sequences the full handling of one inbound event: dedup gate,
// normalization, identity resolution, policy gate, media and history
// enrichment, envelope assembly and the downstream dispatch. Nothing thrown
// below it may reach the platform's delivery acknowledgment path: every
// failure is caught, logged and treated as best-effort enrichment.
type Orchestrator struct {
	appID string

	dedup      *usecase.Deduplicator
	normalizer *usecase.Normalizer
	policy     *usecase.PolicyResolver
	media      *usecase.MediaResolver
	history    *usecase.HistoryAggregator
	identity   *usecase.IdentityResolver

	platform   repo.PlatformRepo
	dispatcher repo.ReplyDispatcher
	sessions   repo.SessionRepo

	renderCfg conf.RenderConfig
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(
	appID string,
	dedup *usecase.Deduplicator,
	normalizer *usecase.Normalizer,
	policy *usecase.PolicyResolver,
	media *usecase.MediaResolver,
	history *usecase.HistoryAggregator,
	identity *usecase.IdentityResolver,
	platform repo.PlatformRepo,
	dispatcher repo.ReplyDispatcher,
	sessions repo.SessionRepo,
	renderCfg conf.RenderConfig,
) *Orchestrator {
	return &Orchestrator{
		appID:      appID,
		dedup:      dedup,
		normalizer: normalizer,
		policy:     policy,
		media:      media,
		history:    history,
		identity:   identity,
		platform:   platform,
		dispatcher: dispatcher,
		sessions:   sessions,
		renderCfg:  renderCfg,
	}
}

// HandleEvent processes one inbound event end to end. It never returns an
// error: the inbound ack must always succeed.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *domain.InboundEvent) {
	if ev == nil || ev.MessageID == "" {
		return
	}

	if o.dedup.Seen(ev.MessageID) {
		slog.Debug("orchestrator: duplicate event ignored", "message_id", ev.MessageID)
		return
	}
	o.dedup.MarkSeen(ev.MessageID)

	mc := o.normalizer.Normalize(ev)

	name, perr := o.identity.SenderName(ctx, mc.Sender.OpenID)
	mc.SenderName = name
	mc.Permission = perr

	decision, reason := o.policy.Resolve(mc)
	switch decision {
	case usecase.DecisionReject:
		slog.Info("orchestrator: policy rejected message",
			"chat_id", mc.ChatID, "message_id", mc.MessageID, "reason", reason)
		return
	case usecase.DecisionBuffer:
		o.history.Buffer(mc.ChatID, domain.PendingHistoryEntry{
			Sender:    mc.SpeakerLabel(),
			Body:      mc.Text,
			MessageID: mc.MessageID,
			At:        mc.CreateTime,
		})
		slog.Debug("orchestrator: message buffered", "chat_id", mc.ChatID, "reason", reason)
		return
	}

	sessionKey := o.observeSession(ctx, mc)

	quoted := o.resolveQuoted(ctx, mc)
	attachments := o.media.ResolveWithQuoted(ctx, mc.MessageID, mc.Kind, ev.RawContent, quoted)

	historyContext := o.buildHistoryContext(ctx, mc)
	body := o.assembleBody(mc, quoted, historyContext)

	if mc.Permission != nil && o.identity.ShouldNotifyPermission(o.appID) {
		o.dispatchPermissionNotice(ctx, mc, sessionKey)
	}

	env := &repo.Envelope{
		ID:             uuid.NewString(),
		From:           mc.Sender.OpenID,
		To:             mc.ChatID,
		SessionKey:     sessionKey,
		Body:           body,
		Attachments:    attachments,
		MentionTargets: mc.ForwardTargets,
	}

	count, err := o.dispatcher.Dispatch(ctx, env, o.newController(mc))
	if err != nil {
		slog.Error("orchestrator: dispatch failed",
			"chat_id", mc.ChatID, "message_id", mc.MessageID, "error", err)
	} else {
		slog.Info("orchestrator: dispatched",
			"chat_id", mc.ChatID, "message_id", mc.MessageID, "deliveries", count)
	}

	// Entries buffered while the dispatch was in flight are stale context now.
	o.history.Clear(mc.ChatID)

	if err := o.sessions.MarkReplied(ctx, mc.ChatID); err != nil {
		slog.Warn("orchestrator: mark replied failed", "chat_id", mc.ChatID, "error", err)
	}
}

func (o *Orchestrator) observeSession(ctx context.Context, mc *domain.MessageContext) string {
	key, err := o.sessions.Observe(ctx, mc.ChatID, mc.MessageID, mc.CreateTime)
	if err != nil {
		slog.Warn("orchestrator: session observe failed", "chat_id", mc.ChatID, "error", err)
		return uuid.NewString()
	}
	return key
}

func (o *Orchestrator) resolveQuoted(ctx context.Context, mc *domain.MessageContext) *domain.StoredMessage {
	if mc.ParentID == "" {
		return nil
	}
	quoted, err := o.platform.GetMessage(ctx, mc.ParentID)
	if err != nil {
		slog.Warn("orchestrator: quoted message fetch failed",
			"chat_id", mc.ChatID, "parent_id", mc.ParentID, "error", err)
		return nil
	}
	return quoted
}

func (o *Orchestrator) buildHistoryContext(ctx context.Context, mc *domain.MessageContext) string {
	var parts []string

	if pending := o.history.Drain(mc.ChatID); len(pending) > 0 {
		parts = append(parts, "[Messages since your last reply]\n"+usecase.FormatPending(pending))
	}

	if o.history.WantsHistory(mc.Text) {
		fetched, err := o.history.FetchRecent(ctx, mc.ChatID, mc.Text)
		if err != nil {
			slog.Warn("orchestrator: history fetch failed", "chat_id", mc.ChatID, "error", err)
		} else if fetched != "" {
			parts = append(parts, "[Recent chat history]\n"+fetched)
		}
	}

	return strings.Join(parts, "\n\n")
}

// assembleBody builds the envelope body: history context, quoted message,
// speaker-prefixed live text, then the mention-forward notice.
func (o *Orchestrator) assembleBody(mc *domain.MessageContext, quoted *domain.StoredMessage, historyContext string) string {
	var parts []string
	if historyContext != "" {
		parts = append(parts, historyContext)
	}

	if quoted != nil && !quoted.Deleted {
		quotedText := o.quotedText(quoted)
		if quotedText != "" {
			parts = append(parts, "[Quoted message]: "+quotedText)
		}
	}

	// Forward requests carry the bare body; the mention tokens are noise to
	// the agent once the targets are listed separately.
	text := mc.Text
	if len(mc.ForwardTargets) > 0 && mc.StrippedText != "" {
		text = mc.StrippedText
	}
	parts = append(parts, fmt.Sprintf("[%s]: %s", mc.SpeakerLabel(), text))

	if len(mc.ForwardTargets) > 0 {
		var names []string
		for _, t := range mc.ForwardTargets {
			names = append(names, "@"+t.Name)
		}
		parts = append(parts, "(The sender asked that the reply also notify: "+strings.Join(names, ", ")+")")
	}

	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) quotedText(quoted *domain.StoredMessage) string {
	switch quoted.Kind {
	case domain.ContentText:
		return o.normalizer.ParseText(quoted.RawContent, nil)
	case domain.ContentPost:
		text, _ := o.normalizer.ParsePost(quoted.RawContent, nil)
		return text
	default:
		return quoted.RawContent
	}
}

// dispatchPermissionNotice sends a preliminary envelope telling the agent
// about the missing grant, before the real message envelope.
func (o *Orchestrator) dispatchPermissionNotice(ctx context.Context, mc *domain.MessageContext, sessionKey string) {
	notice := &repo.Envelope{
		ID:         uuid.NewString(),
		From:       mc.Sender.OpenID,
		To:         mc.ChatID,
		SessionKey: sessionKey,
		Body: fmt.Sprintf(
			"[System notice] A platform call failed because the app is missing a permission grant. "+
				"Profile names may be unavailable until an admin approves the scope here: %s",
			mc.Permission.GrantURL),
	}
	if _, err := o.dispatcher.Dispatch(ctx, notice, o.newController(mc)); err != nil {
		slog.Warn("orchestrator: permission notice dispatch failed", "chat_id", mc.ChatID, "error", err)
	}
}

// newController picks the render strategy configured for outbound replies.
func (o *Orchestrator) newController(mc *domain.MessageContext) repo.DeliveryController {
	if o.renderCfg.Mode == "card" {
		return render.NewCardController(o.platform, mc.ChatID, o.renderCfg.Throttle())
	}
	var mention *domain.Mention
	if mc.ChatKind == domain.ChatKindGroup && mc.Sender.OpenID != "" {
		mention = &domain.Mention{OpenID: mc.Sender.OpenID, Name: mc.SpeakerLabel()}
	}
	return render.NewSimpleController(o.platform, mc.ChatID, o.renderCfg.ForceCard, mention)
}

// StartBackground launches the orchestrator-owned background tasks: the
// dedup sweep and an opportunistic stale-session cleanup.
func (o *Orchestrator) StartBackground(ctx context.Context) {
	o.dedup.Start(ctx)
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := o.sessions.CleanupStale(ctx, time.Now().Add(-30*24*time.Hour))
				if err != nil {
					slog.Warn("orchestrator: session cleanup failed", "error", err)
				} else if n > 0 {
					slog.Info("orchestrator: cleaned stale sessions", "count", n)
				}
			}
		}
	}()
}
