package repo

import (
	"context"

	"github.com/larkgate/larkgate/internal/biz/domain"
)

// Envelope is the normalized inbound record handed to the downstream agent
// dispatcher.
type Envelope struct {
	ID         string
	From       string // sender open ID
	To         string // chat ID
	SessionKey string
	Body       string
	Attachments []domain.MediaReference
	// MentionTargets are users the reply should also notify.
	MentionTargets []domain.Mention
}

// DeliveryController consumes the streamed agent reply and renders it into
// platform sends/updates. Deliver may be called many times; exactly one of
// Finalize or OnError terminates the cycle.
type DeliveryController interface {
	Deliver(ctx context.Context, frag domain.ReplyFragment) error
	Finalize(ctx context.Context) error
	OnError(ctx context.Context, cause error) error
}

// ReplyDispatcher invokes the underlying agent for one envelope, streaming
// the reply through the given controller. Returns the number of completed
// deliveries.
type ReplyDispatcher interface {
	Dispatch(ctx context.Context, env *Envelope, ctrl DeliveryController) (int, error)
}
