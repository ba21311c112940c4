package domain

import "time"

// ChatKind is the kind of chat a message arrived in.
type ChatKind string

const (
	ChatKindDirect ChatKind = "p2p"
	ChatKindGroup  ChatKind = "group"
)

// ContentKind is the platform message type tag.
type ContentKind string

const (
	ContentText    ContentKind = "text"
	ContentPost    ContentKind = "post"
	ContentImage   ContentKind = "image"
	ContentFile    ContentKind = "file"
	ContentAudio   ContentKind = "audio"
	ContentVideo   ContentKind = "media"
	ContentSticker ContentKind = "sticker"
)

// SenderIDs carries the sender's identifiers across the platform's ID namespaces.
type SenderIDs struct {
	OpenID  string
	UserID  string
	UnionID string
}

// Mention is one @-mention carried on an inbound message.
// Key is the placeholder token embedded in the raw content (e.g. "@_user_1").
type Mention struct {
	Key    string
	OpenID string
	Name   string
}

// InboundEvent is the platform-delivered description of one received message.
// It is immutable once constructed from the wire event.
type InboundEvent struct {
	EventID    string
	MessageID  string
	ChatID     string
	ChatKind   ChatKind
	Kind       ContentKind
	RawContent string
	Sender     SenderIDs
	SenderType string // user, app
	Mentions   []Mention
	// MentionsBot is true when one of Mentions resolves to the bot itself.
	MentionsBot bool
	// ParentID/RootID link a reply to the message it quotes and its thread root.
	ParentID   string
	RootID     string
	CreateTime time.Time
}
