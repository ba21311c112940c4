package usecase

import (
	"slices"

	"github.com/larkgate/larkgate/internal/biz/domain"
	"github.com/larkgate/larkgate/internal/conf"
)

// Decision is the policy outcome for one inbound message.
type Decision int

const (
	// DecisionDispatch lets the message proceed to envelope assembly.
	DecisionDispatch Decision = iota
	// DecisionBuffer withholds the message into the history buffer.
	DecisionBuffer
	// DecisionReject drops the message silently. No reply, no error: a
	// non-member should not learn the bot is listening.
	DecisionReject
)

// PolicyResolver decides per message whether the bot should act.
type PolicyResolver struct {
	cfg conf.PolicyConfig
}

// NewPolicyResolver creates a policy resolver over the given policy config.
func NewPolicyResolver(cfg conf.PolicyConfig) *PolicyResolver {
	return &PolicyResolver{cfg: cfg}
}

// Resolve applies the decision order: group allow, per-group sender allow,
// effective require-mention, DM policy. The returned reason is for logging
// only; rejections are never surfaced to the sender.
func (p *PolicyResolver) Resolve(mc *domain.MessageContext) (Decision, string) {
	if mc.ChatKind == domain.ChatKindGroup {
		return p.resolveGroup(mc)
	}
	return p.resolveDirect(mc)
}

func (p *PolicyResolver) resolveGroup(mc *domain.MessageContext) (Decision, string) {
	if p.cfg.Group == "allowlist" && !slices.Contains(p.cfg.GroupAllowlist, mc.ChatID) {
		return DecisionReject, "group not allowlisted"
	}

	group, hasOverride := p.cfg.Groups[mc.ChatID]
	if hasOverride && len(group.Senders) > 0 {
		if !slices.Contains(group.Senders, mc.Sender.OpenID) && !slices.Contains(group.Senders, mc.Sender.UserID) {
			return DecisionReject, "sender not in group allowlist"
		}
	}

	requireMention := p.cfg.RequireMention
	if hasOverride && group.RequireMention != nil {
		requireMention = *group.RequireMention
	}
	if requireMention && !mc.MentionsBot {
		return DecisionBuffer, "mention required"
	}
	return DecisionDispatch, ""
}

func (p *PolicyResolver) resolveDirect(mc *domain.MessageContext) (Decision, string) {
	if p.cfg.DM == "allowlist" {
		if !slices.Contains(p.cfg.DMAllowlist, mc.Sender.OpenID) && !slices.Contains(p.cfg.DMAllowlist, mc.Sender.UserID) {
			return DecisionReject, "sender not in dm allowlist"
		}
	}
	return DecisionDispatch, ""
}
