package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/biz/repo"
)

// permissionDeniedCode is the platform error code indicating a missing
// permission grant.
const permissionDeniedCode = 99991672

// EventHandler receives converted inbound events.
type EventHandler func(ev *domain.InboundEvent)

// BotAddedHandler receives the chat ID the bot was just added to.
type BotAddedHandler func(chatID string)

// FeishuClient implements repo.PlatformRepo on the Lark open API and owns
// the websocket event connection.
type FeishuClient struct {
	appID     string
	appSecret string
	botOpenID string

	larkCli *lark.Client
	wsCli   *larkws.Client
	cancel  context.CancelFunc

	onEvent    EventHandler
	onBotAdded BotAddedHandler
}

var _ repo.PlatformRepo = (*FeishuClient)(nil)

// NewFeishuClient creates a platform client. botOpenID may be empty; it is
// resolved at Start.
func NewFeishuClient(appID, appSecret, botOpenID string) *FeishuClient {
	return &FeishuClient{
		appID:     appID,
		appSecret: appSecret,
		botOpenID: botOpenID,
		larkCli:   lark.NewClient(appID, appSecret),
	}
}

// BotOpenID returns the bot's own open ID (known after Start).
func (c *FeishuClient) BotOpenID() string {
	return c.botOpenID
}

// OnEvent sets the inbound message handler.
func (c *FeishuClient) OnEvent(h EventHandler) {
	c.onEvent = h
}

// OnBotAdded sets the bot-added-to-chat handler.
func (c *FeishuClient) OnBotAdded(h BotAddedHandler) {
	c.onBotAdded = h
}

// Start resolves the bot identity, registers event handlers and runs the
// websocket connection until Stop. Blocking.
func (c *FeishuClient) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.ResolveBotIdentity(); err != nil {
		slog.Warn("feishu: could not resolve bot open_id, mention detection degraded", "error", err)
	}

	// Handlers must return quickly so the SDK can ack; processing is async.
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			if ev := c.convertEvent(event); ev != nil && c.onEvent != nil {
				go c.onEvent(ev)
			}
			return nil
		}).
		OnP2ChatMemberBotAddedV1(func(ctx context.Context, event *larkim.P2ChatMemberBotAddedV1) error {
			if c.onBotAdded != nil && event.Event != nil && event.Event.ChatId != nil {
				go c.onBotAdded(*event.Event.ChatId)
			}
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	slog.Info("feishu: starting websocket connection")
	return c.wsCli.Start(ctx)
}

// Stop closes the websocket connection.
func (c *FeishuClient) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// convertEvent maps a wire event to the domain event. Returns nil for events
// that must be dropped before the pipeline (the bot's own messages).
func (c *FeishuClient) convertEvent(event *larkim.P2MessageReceiveV1) *domain.InboundEvent {
	if event.Event == nil || event.Event.Message == nil {
		return nil
	}
	raw := event.Event.Message

	ev := &domain.InboundEvent{
		MessageID: deref(raw.MessageId),
		ChatID:    deref(raw.ChatId),
		Kind:      domain.ContentKind(deref(raw.MessageType)),
		ParentID:  deref(raw.ParentId),
		RootID:    deref(raw.RootId),
	}
	if raw.Content != nil {
		ev.RawContent = *raw.Content
	}
	if event.EventV2Base != nil && event.EventV2Base.Header != nil {
		ev.EventID = event.EventV2Base.Header.EventID
	}
	if deref(raw.ChatType) == "group" {
		ev.ChatKind = domain.ChatKindGroup
	} else {
		ev.ChatKind = domain.ChatKindDirect
	}
	if ts, err := strconv.ParseInt(deref(raw.CreateTime), 10, 64); err == nil {
		ev.CreateTime = time.UnixMilli(ts)
	} else {
		ev.CreateTime = time.Now()
	}

	if sender := event.Event.Sender; sender != nil {
		ev.SenderType = deref(sender.SenderType)
		// Suppress the bot's own messages to prevent reply loops.
		if ev.SenderType == "app" {
			return nil
		}
		if sender.SenderId != nil {
			ev.Sender = domain.SenderIDs{
				OpenID:  deref(sender.SenderId.OpenId),
				UserID:  deref(sender.SenderId.UserId),
				UnionID: deref(sender.SenderId.UnionId),
			}
		}
	}

	for _, m := range raw.Mentions {
		mention := domain.Mention{Key: deref(m.Key), Name: deref(m.Name)}
		if m.Id != nil {
			mention.OpenID = deref(m.Id.OpenId)
		}
		if mention.OpenID != "" && mention.OpenID == c.botOpenID {
			ev.MentionsBot = true
		}
		ev.Mentions = append(ev.Mentions, mention)
	}

	return ev
}

// ResolveBotIdentity resolves the bot's own open_id via the bot info
// endpoint. No-op when already known.
func (c *FeishuClient) ResolveBotIdentity() error {
	if c.botOpenID != "" {
		return nil
	}
	tokenReq := fmt.Sprintf(`{"app_id":%q,"app_secret":%q}`, c.appID, c.appSecret)
	tokenResp, err := http.Post(
		"https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal",
		"application/json",
		strings.NewReader(tokenReq),
	)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	defer tokenResp.Body.Close()

	var tokenResult struct {
		Code              int    `json:"code"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenResult); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "https://open.feishu.cn/open-apis/bot/v3/info", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResult.TenantAccessToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	defer resp.Body.Close()

	var botResult struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&botResult); err != nil {
		return fmt.Errorf("decode bot info: %w", err)
	}
	if botResult.Code != 0 {
		return fmt.Errorf("bot info error: %s", botResult.Msg)
	}

	c.botOpenID = botResult.Bot.OpenID
	slog.Info("feishu: resolved bot identity", "open_id", c.botOpenID, "name", botResult.Bot.AppName)
	return nil
}

// SendText sends a plain text message.
func (c *FeishuClient) SendText(ctx context.Context, chatID, text string) (string, error) {
	content, _ := json.Marshal(map[string]string{"text": text})
	return c.createMessage(ctx, chatID, larkim.MsgTypeText, string(content))
}

// SendTextWithMentions sends text prefixed with @-mention tags.
func (c *FeishuClient) SendTextWithMentions(ctx context.Context, chatID, text string, mentions []domain.Mention) (string, error) {
	var tags strings.Builder
	for _, m := range mentions {
		fmt.Fprintf(&tags, `<at user_id=%q>@%s</at> `, m.OpenID, m.Name)
	}
	content, _ := json.Marshal(map[string]string{"text": tags.String() + text})
	return c.createMessage(ctx, chatID, larkim.MsgTypeText, string(content))
}

// SendCard sends an interactive card.
func (c *FeishuClient) SendCard(ctx context.Context, chatID, cardJSON string) (string, error) {
	return c.createMessage(ctx, chatID, larkim.MsgTypeInteractive, cardJSON)
}

func (c *FeishuClient) createMessage(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if !resp.Success() {
		return "", c.apiError("send message", resp.Code, resp.Msg)
	}
	return deref(resp.Data.MessageId), nil
}

// UpdateCard patches a previously sent card in place.
func (c *FeishuClient) UpdateCard(ctx context.Context, messageID, cardJSON string) error {
	req := larkim.NewPatchMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewPatchMessageReqBodyBuilder().
			Content(cardJSON).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Patch(ctx, req)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if !resp.Success() {
		return c.apiError("update card", resp.Code, resp.Msg)
	}
	return nil
}

// GetMessage fetches one message by ID.
func (c *FeishuClient) GetMessage(ctx context.Context, messageID string) (*domain.StoredMessage, error) {
	req := larkim.NewGetMessageReqBuilder().MessageId(messageID).Build()
	resp, err := c.larkCli.Im.Message.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if !resp.Success() {
		return nil, c.apiError("get message", resp.Code, resp.Msg)
	}
	if len(resp.Data.Items) == 0 {
		return nil, fmt.Errorf("get message: %s not found", messageID)
	}

	item := resp.Data.Items[0]
	stored := &domain.StoredMessage{
		MessageID: deref(item.MessageId),
		Kind:      domain.ContentKind(deref(item.MsgType)),
	}
	if item.Deleted != nil {
		stored.Deleted = *item.Deleted
	}
	if item.Body != nil {
		stored.RawContent = deref(item.Body.Content)
	}
	if item.Sender != nil {
		stored.SenderID = deref(item.Sender.Id)
	}
	return stored, nil
}

// ListMessages returns up to limit messages for a chat, newest first.
func (c *FeishuClient) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.HistoryMessage, error) {
	var out []domain.HistoryMessage
	var pageToken string

	for len(out) < limit {
		pageSize := limit - len(out)
		if pageSize > 50 {
			pageSize = 50
		}
		builder := larkim.NewListMessageReqBuilder().
			ContainerIdType("chat").
			ContainerId(chatID).
			SortType("ByCreateTimeDesc").
			PageSize(pageSize)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.Message.List(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		if !resp.Success() {
			return nil, c.apiError("list messages", resp.Code, resp.Msg)
		}

		for _, item := range resp.Data.Items {
			msg := domain.HistoryMessage{
				MessageID: deref(item.MessageId),
				Kind:      domain.ContentKind(deref(item.MsgType)),
			}
			if item.Deleted != nil {
				msg.Deleted = *item.Deleted
			}
			if item.Sender != nil {
				msg.SenderID = deref(item.Sender.Id)
			}
			if ts, err := strconv.ParseInt(deref(item.CreateTime), 10, 64); err == nil {
				msg.CreateTime = time.UnixMilli(ts)
			}
			if item.Body != nil {
				msg.Text = flattenContent(msg.Kind, deref(item.Body.Content))
			}
			out = append(out, msg)
		}

		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}

	return out, nil
}

// DownloadResource fetches a media payload attached to a message.
func (c *FeishuClient) DownloadResource(ctx context.Context, messageID, key, resourceType string) (*repo.Resource, error) {
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(key).
		Type(resourceType).
		Build()

	resp, err := c.larkCli.Im.MessageResource.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("download resource: %w", err)
	}
	if !resp.Success() {
		return nil, c.apiError("download resource", resp.Code, resp.Msg)
	}

	data, err := io.ReadAll(resp.File)
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	res := &repo.Resource{Data: data, FileName: resp.FileName}
	if resp.ApiResp != nil {
		res.ContentType = resp.Header.Get("Content-Type")
	}
	return res, nil
}

// GetUserName resolves a user's display name by open ID.
func (c *FeishuClient) GetUserName(ctx context.Context, openID string) (string, error) {
	req := larkcontact.NewGetUserReqBuilder().
		UserId(openID).
		UserIdType("open_id").
		Build()

	resp, err := c.larkCli.Contact.User.Get(ctx, req)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if !resp.Success() {
		return "", c.apiError("get user", resp.Code, resp.Msg)
	}
	if resp.Data.User == nil {
		return "", nil
	}
	return deref(resp.Data.User.Name), nil
}

// apiError wraps a failed API response, surfacing permission failures as
// *domain.PermissionError so callers can rate-limit grant notices.
func (c *FeishuClient) apiError(op string, code int, msg string) error {
	if code == permissionDeniedCode {
		return fmt.Errorf("%s: %w", op, &domain.PermissionError{
			Code:     code,
			GrantURL: fmt.Sprintf("https://open.feishu.cn/app/%s/auth", c.appID),
			Msg:      msg,
		})
	}
	return fmt.Errorf("%s failed: code=%d msg=%s", op, code, msg)
}

// flattenContent extracts a readable line from a raw history payload. Only
// text and post messages yield prose; other kinds stay raw for the caller.
func flattenContent(kind domain.ContentKind, raw string) string {
	switch kind {
	case domain.ContentText:
		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return raw
		}
		return parsed.Text
	case domain.ContentPost:
		var parsed struct {
			Title   string `json:"title"`
			Content [][]struct {
				Tag  string `json:"tag"`
				Text string `json:"text,omitempty"`
			} `json:"content"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return raw
		}
		var lines []string
		if parsed.Title != "" {
			lines = append(lines, parsed.Title)
		}
		for _, paragraph := range parsed.Content {
			var parts []string
			for _, span := range paragraph {
				if span.Tag == "text" && span.Text != "" {
					parts = append(parts, span.Text)
				}
			}
			if len(parts) > 0 {
				lines = append(lines, strings.Join(parts, ""))
			}
		}
		return strings.Join(lines, " ")
	default:
		return raw
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
