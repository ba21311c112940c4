package server

import (
	"context"
	"log/slog"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/data"
	"github.com/larkgate/larkgate/internal/service"
)

const greeting = "Hi! I'm connected now. Mention me in this chat (or message me directly) and I'll reply."

// FeishuServer owns the platform event connection and routes inbound events
// into the orchestrator.
type FeishuServer struct {
	client       *data.FeishuClient
	orchestrator *service.Orchestrator
	cancel       context.CancelFunc
}

// NewFeishuServer wires the platform client to the orchestrator.
func NewFeishuServer(client *data.FeishuClient, orchestrator *service.Orchestrator) *FeishuServer {
	return &FeishuServer{client: client, orchestrator: orchestrator}
}

// Start launches background tasks and runs the event connection. Blocking.
func (s *FeishuServer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.orchestrator.StartBackground(ctx)

	s.client.OnEvent(func(ev *domain.InboundEvent) {
		s.orchestrator.HandleEvent(ctx, ev)
	})
	s.client.OnBotAdded(func(chatID string) {
		if _, err := s.client.SendText(ctx, chatID, greeting); err != nil {
			slog.Warn("server: greeting send failed", "chat_id", chatID, "error", err)
		}
	})

	return s.client.Start()
}

// Stop tears down the event connection and background tasks.
func (s *FeishuServer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.client.Stop()
}
