package domain

import "time"

// MessageContext is the normalized view of one inbound event. It is created
// once per event by the normalizer and enriched in place by the downstream
// resolvers (sender name, permission flag) before dispatch begins. It is not
// mutated after the envelope has been handed to the dispatcher.
type MessageContext struct {
	ChatID    string
	MessageID string
	Sender    SenderIDs
	ChatKind  ChatKind
	Kind      ContentKind

	// Text is the resolved plaintext body.
	Text string
	// StrippedText is Text with mention placeholders removed, used when the
	// message is a mention-forward request.
	StrippedText string

	MentionsBot bool
	ParentID    string
	RootID      string
	CreateTime  time.Time

	// Filled in by the identity resolver.
	SenderName string
	Permission *PermissionError

	// ForwardTargets are the non-bot users named alongside the bot, signaling
	// that the reply should also notify them.
	ForwardTargets []Mention
}

// SpeakerLabel returns the display name to prefix the body with, falling back
// to the open ID when the profile lookup did not produce a name.
func (m *MessageContext) SpeakerLabel() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.Sender.OpenID
}

// StoredMessage is a message fetched back from the platform by ID, used to
// resolve quoted/replied messages.
type StoredMessage struct {
	MessageID  string
	Kind       ContentKind
	RawContent string
	SenderID   string
	Deleted    bool
}

// HistoryMessage is one entry from the platform's chat history listing.
type HistoryMessage struct {
	MessageID  string
	SenderID   string
	SenderName string
	Kind       ContentKind
	Text       string
	CreateTime time.Time
	Deleted    bool
}
