package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
	"github.com/larkgate/larkgate/internal/biz/usecase"
	"github.com/larkgate/larkgate/internal/conf"
)

type stubPlatform struct {
	names    map[string]string
	nameErr  error
	stored   map[string]*domain.StoredMessage
	listed   []domain.HistoryMessage
	sentText []string
}

func (s *stubPlatform) SendText(ctx context.Context, chatID, text string) (string, error) {
	s.sentText = append(s.sentText, text)
	return "om_out", nil
}

func (s *stubPlatform) SendTextWithMentions(ctx context.Context, chatID, text string, mentions []domain.Mention) (string, error) {
	return "om_out", nil
}

func (s *stubPlatform) SendCard(ctx context.Context, chatID, cardJSON string) (string, error) {
	return "om_card", nil
}

func (s *stubPlatform) UpdateCard(ctx context.Context, messageID, cardJSON string) error {
	return nil
}

func (s *stubPlatform) GetMessage(ctx context.Context, messageID string) (*domain.StoredMessage, error) {
	if m, ok := s.stored[messageID]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

func (s *stubPlatform) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.HistoryMessage, error) {
	return s.listed, nil
}

func (s *stubPlatform) DownloadResource(ctx context.Context, messageID, key, resourceType string) (*repo.Resource, error) {
	return nil, fmt.Errorf("no resources in stub")
}

func (s *stubPlatform) GetUserName(ctx context.Context, openID string) (string, error) {
	if s.nameErr != nil {
		return "", s.nameErr
	}
	return s.names[openID], nil
}

type stubDispatcher struct {
	mu        sync.Mutex
	envelopes []*repo.Envelope
}

func (d *stubDispatcher) Dispatch(ctx context.Context, env *repo.Envelope, ctrl repo.DeliveryController) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envelopes = append(d.envelopes, env)
	return 1, nil
}

func (d *stubDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.envelopes)
}

func (d *stubDispatcher) last() *repo.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.envelopes) == 0 {
		return nil
	}
	return d.envelopes[len(d.envelopes)-1]
}

type stubSessions struct {
	observed []string
	replied  []string
}

func (s *stubSessions) Observe(ctx context.Context, chatID, messageID string, at time.Time) (string, error) {
	s.observed = append(s.observed, chatID)
	return "sess-" + chatID, nil
}

func (s *stubSessions) MarkReplied(ctx context.Context, chatID string) error {
	s.replied = append(s.replied, chatID)
	return nil
}

func (s *stubSessions) CleanupStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *stubSessions) Close() error { return nil }

type fixture struct {
	orch       *Orchestrator
	platform   *stubPlatform
	dispatcher *stubDispatcher
	sessions   *stubSessions
	history    *usecase.HistoryAggregator
}

func newFixture(t *testing.T, policy conf.PolicyConfig) *fixture {
	t.Helper()
	platform := &stubPlatform{
		names:  map[string]string{"ou_alice": "Alice"},
		stored: map[string]*domain.StoredMessage{},
	}
	dispatcher := &stubDispatcher{}
	sessions := &stubSessions{}
	normalizer := usecase.NewNormalizer("ou_bot")
	history := usecase.NewHistoryAggregator(platform, 0, 0, 0)

	orch := NewOrchestrator(
		"cli_test",
		usecase.NewDeduplicator(),
		normalizer,
		usecase.NewPolicyResolver(policy),
		usecase.NewMediaResolver(platform, normalizer, t.TempDir(), 0),
		history,
		usecase.NewIdentityResolver(platform),
		platform,
		dispatcher,
		sessions,
		conf.RenderConfig{Mode: "text"},
	)
	return &fixture{orch: orch, platform: platform, dispatcher: dispatcher, sessions: sessions, history: history}
}

func dmEvent(msgID, text string) *domain.InboundEvent {
	return &domain.InboundEvent{
		MessageID:  msgID,
		ChatID:     "oc_dm",
		ChatKind:   domain.ChatKindDirect,
		Kind:       domain.ContentText,
		RawContent: fmt.Sprintf(`{"text":%q}`, text),
		Sender:     domain.SenderIDs{OpenID: "ou_alice"},
		CreateTime: time.Now(),
	}
}

func TestHandleEventDispatchesDM(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open"})

	f.orch.HandleEvent(context.Background(), dmEvent("om_1", "hello"))

	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}
	env := f.dispatcher.last()
	if env.SessionKey != "sess-oc_dm" {
		t.Fatalf("session key = %q", env.SessionKey)
	}
	if !strings.Contains(env.Body, "[Alice]: hello") {
		t.Fatalf("body = %q, want speaker label", env.Body)
	}
	if len(f.sessions.replied) != 1 {
		t.Fatal("MarkReplied not recorded")
	}
}

func TestHandleEventDeduplicates(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open"})
	ctx := context.Background()

	f.orch.HandleEvent(ctx, dmEvent("om_1", "hello"))
	f.orch.HandleEvent(ctx, dmEvent("om_1", "hello"))

	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1 (duplicate dropped)", f.dispatcher.count())
	}
}

func TestHandleEventRejectsSilently(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "allowlist", DMAllowlist: []string{"ou_someone_else"}, Group: "open"})

	f.orch.HandleEvent(context.Background(), dmEvent("om_1", "hello"))

	if f.dispatcher.count() != 0 {
		t.Fatal("rejected message was dispatched")
	}
	if len(f.platform.sentText) != 0 {
		t.Fatalf("rejection produced outbound sends: %v", f.platform.sentText)
	}
	if len(f.sessions.observed) != 0 {
		t.Fatal("rejected message touched the session store")
	}
}

func TestHandleEventBuffersUnmentionedGroupMessage(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open", RequireMention: true})
	ctx := context.Background()

	passive := &domain.InboundEvent{
		MessageID:  "om_passive",
		ChatID:     "oc_g",
		ChatKind:   domain.ChatKindGroup,
		Kind:       domain.ContentText,
		RawContent: `{"text":"side chatter"}`,
		Sender:     domain.SenderIDs{OpenID: "ou_alice"},
		CreateTime: time.Now(),
	}
	f.orch.HandleEvent(ctx, passive)

	if f.dispatcher.count() != 0 {
		t.Fatal("unmentioned message was dispatched")
	}
	if f.history.PendingCount("oc_g") != 1 {
		t.Fatalf("pending = %d, want 1", f.history.PendingCount("oc_g"))
	}

	trigger := &domain.InboundEvent{
		MessageID:   "om_trigger",
		ChatID:      "oc_g",
		ChatKind:    domain.ChatKindGroup,
		Kind:        domain.ContentText,
		RawContent:  `{"text":"@_user_1 what did I miss"}`,
		Sender:      domain.SenderIDs{OpenID: "ou_alice"},
		Mentions:    []domain.Mention{{Key: "@_user_1", OpenID: "ou_bot", Name: "Bot"}},
		MentionsBot: true,
		CreateTime:  time.Now(),
	}
	f.orch.HandleEvent(ctx, trigger)

	if f.dispatcher.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", f.dispatcher.count())
	}
	body := f.dispatcher.last().Body
	if !strings.Contains(body, "side chatter") {
		t.Fatalf("buffered context missing from body: %q", body)
	}
	if f.history.PendingCount("oc_g") != 0 {
		t.Fatal("buffer not cleared after dispatch")
	}
}

func TestHandleEventIncludesQuotedMessage(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open"})
	f.platform.stored["om_parent"] = &domain.StoredMessage{
		MessageID:  "om_parent",
		Kind:       domain.ContentText,
		RawContent: `{"text":"the original question"}`,
	}

	ev := dmEvent("om_reply", "see above")
	ev.ParentID = "om_parent"
	f.orch.HandleEvent(context.Background(), ev)

	body := f.dispatcher.last().Body
	if !strings.Contains(body, "[Quoted message]: the original question") {
		t.Fatalf("body = %q", body)
	}
}

func TestHandleEventPermissionNoticeOncePerCooldown(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open"})
	f.platform.nameErr = fmt.Errorf("get user: %w", &domain.PermissionError{
		Code:     99991672,
		GrantURL: "https://open.feishu.cn/app/cli_test/auth",
	})
	ctx := context.Background()

	f.orch.HandleEvent(ctx, dmEvent("om_1", "first"))
	f.orch.HandleEvent(ctx, dmEvent("om_2", "second"))

	// Two real envelopes plus exactly one permission notice.
	if f.dispatcher.count() != 3 {
		t.Fatalf("dispatches = %d, want 3", f.dispatcher.count())
	}
	notices := 0
	for _, env := range f.dispatcher.envelopes {
		if strings.Contains(env.Body, "missing a permission grant") {
			notices++
			if !strings.Contains(env.Body, "https://open.feishu.cn/app/cli_test/auth") {
				t.Fatalf("notice lacks grant url: %q", env.Body)
			}
		}
	}
	if notices != 1 {
		t.Fatalf("notices = %d, want 1", notices)
	}
}

func TestHandleEventMentionForwardNotice(t *testing.T) {
	f := newFixture(t, conf.PolicyConfig{DM: "pairing", Group: "open", RequireMention: true})

	ev := &domain.InboundEvent{
		MessageID:  "om_1",
		ChatID:     "oc_g",
		ChatKind:   domain.ChatKindGroup,
		Kind:       domain.ContentText,
		RawContent: `{"text":"@_user_1 @_user_2 summarize"}`,
		Sender:     domain.SenderIDs{OpenID: "ou_alice"},
		Mentions: []domain.Mention{
			{Key: "@_user_1", OpenID: "ou_bot", Name: "Bot"},
			{Key: "@_user_2", OpenID: "ou_carol", Name: "Carol"},
		},
		MentionsBot: true,
		CreateTime:  time.Now(),
	}
	f.orch.HandleEvent(context.Background(), ev)

	env := f.dispatcher.last()
	if env == nil {
		t.Fatal("nothing dispatched")
	}
	if len(env.MentionTargets) != 1 || env.MentionTargets[0].OpenID != "ou_carol" {
		t.Fatalf("mention targets = %+v", env.MentionTargets)
	}
	if !strings.Contains(env.Body, "@Carol") {
		t.Fatalf("body = %q, want forward notice", env.Body)
	}
	// The speaker line carries the bare request, not the mention tokens.
	if !strings.Contains(env.Body, "[Alice]: summarize") {
		t.Fatalf("body = %q, want stripped speaker line", env.Body)
	}
	if strings.Contains(env.Body, "[Alice]: @Bot") {
		t.Fatalf("body = %q, mention tokens leaked into speaker line", env.Body)
	}
}
