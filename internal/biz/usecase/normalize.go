package usecase

import (
	"encoding/json"
	"strings"

	"github.com/larkgate/larkgate/internal/biz/domain"
)

// postPlaceholder stands in for rich text that produced no readable spans or
// could not be parsed at all.
const postPlaceholder = "[rich text]"

// Media placeholder tokens, one per media-bearing content kind.
const (
	placeholderImage   = "this is an image"
	placeholderFile    = "this is a file"
	placeholderAudio   = "this is an audio clip"
	placeholderVideo   = "this is a video"
	placeholderSticker = "this is a sticker"
)

// Normalizer turns heterogeneous raw message payloads into the uniform
// content + media-reference model. Parsing failures never raise; they fall
// back to placeholder or raw text.
type Normalizer struct {
	botOpenID string
}

// NewNormalizer creates a content normalizer. botOpenID is used to exclude
// the bot itself from mention-forward targets.
func NewNormalizer(botOpenID string) *Normalizer {
	return &Normalizer{botOpenID: botOpenID}
}

// Normalize derives the message context for one inbound event.
func (n *Normalizer) Normalize(ev *domain.InboundEvent) *domain.MessageContext {
	mc := &domain.MessageContext{
		ChatID:      ev.ChatID,
		MessageID:   ev.MessageID,
		Sender:      ev.Sender,
		ChatKind:    ev.ChatKind,
		Kind:        ev.Kind,
		MentionsBot: ev.MentionsBot,
		ParentID:    ev.ParentID,
		RootID:      ev.RootID,
		CreateTime:  ev.CreateTime,
	}

	mentionMap := mentionKeyMap(ev.Mentions)
	switch ev.Kind {
	case domain.ContentText:
		mc.Text = n.ParseText(ev.RawContent, mentionMap)
	case domain.ContentPost:
		text, _ := n.ParsePost(ev.RawContent, mentionMap)
		mc.Text = text
	default:
		// Caller must know how to interpret the raw blob.
		mc.Text = ev.RawContent
	}

	if ev.MentionsBot {
		for _, m := range ev.Mentions {
			if m.OpenID != "" && m.OpenID != n.botOpenID {
				mc.ForwardTargets = append(mc.ForwardTargets, m)
			}
		}
		if len(mc.ForwardTargets) > 0 {
			mc.StrippedText = stripMentions(mc.Text, ev.Mentions)
		}
	}
	return mc
}

// ParseText extracts the plain text field, replacing mention placeholders
// with display names. Malformed payloads yield the raw input unchanged.
func (n *Normalizer) ParseText(raw string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	return replaceMentionKeys(parsed.Text, mentionMap)
}

// ParsePost walks the ordered paragraph/span structure of a rich text
// message. Text, link-label and mention-label spans are concatenated per
// paragraph; paragraphs join with newlines below the title. Embedded image
// keys are collected separately for the media resolver. Malformed payloads
// and span-less posts both yield the fixed placeholder.
func (n *Normalizer) ParsePost(raw string, mentionMap map[string]string) (string, []string) {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag      string `json:"tag"`
			Text     string `json:"text,omitempty"`
			Href     string `json:"href,omitempty"`
			UserID   string `json:"user_id,omitempty"`
			UserName string `json:"user_name,omitempty"`
			ImageKey string `json:"image_key,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return postPlaceholder, nil
	}

	var lines []string
	var imageKeys []string
	for _, paragraph := range parsed.Content {
		var parts []string
		for _, span := range paragraph {
			switch span.Tag {
			case "text":
				if span.Text != "" {
					parts = append(parts, span.Text)
				}
			case "a":
				// Prefer the label, fall back to the target.
				if span.Text != "" {
					parts = append(parts, span.Text)
				} else if span.Href != "" {
					parts = append(parts, span.Href)
				}
			case "at":
				switch {
				case span.UserName != "":
					parts = append(parts, "@"+span.UserName)
				case span.UserID != "":
					if name, ok := mentionMap[span.UserID]; ok {
						parts = append(parts, "@"+name)
					} else {
						parts = append(parts, "@"+span.UserID)
					}
				}
			case "img":
				if span.ImageKey != "" {
					imageKeys = append(imageKeys, span.ImageKey)
				}
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ""))
		}
	}

	if len(lines) == 0 && len(imageKeys) == 0 && parsed.Title == "" {
		return postPlaceholder, nil
	}

	text := strings.Join(lines, "\n")
	if parsed.Title != "" {
		if text != "" {
			text = parsed.Title + "\n\n" + text
		} else {
			text = parsed.Title
		}
	}
	return replaceMentionKeys(text, mentionMap), imageKeys
}

// MediaKey identifies the single most relevant downloadable asset of a
// non-post message.
type MediaKey struct {
	Key          string
	FileName     string
	ResourceType string // "image" or "file"
	Placeholder  string
}

// ExtractMediaKey maps a content kind to its primary media asset key. For
// video-like kinds the video stream wins, falling back to the thumbnail
// image. Returns nil when the kind carries no media or the payload is
// malformed.
func (n *Normalizer) ExtractMediaKey(kind domain.ContentKind, raw string) *MediaKey {
	var parsed struct {
		ImageKey string `json:"image_key"`
		FileKey  string `json:"file_key"`
		FileName string `json:"file_name"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil
	}

	switch kind {
	case domain.ContentImage:
		if parsed.ImageKey == "" {
			return nil
		}
		return &MediaKey{Key: parsed.ImageKey, ResourceType: "image", Placeholder: placeholderImage}
	case domain.ContentFile:
		if parsed.FileKey == "" {
			return nil
		}
		return &MediaKey{Key: parsed.FileKey, FileName: parsed.FileName, ResourceType: "file", Placeholder: placeholderFile}
	case domain.ContentAudio:
		if parsed.FileKey == "" {
			return nil
		}
		return &MediaKey{Key: parsed.FileKey, ResourceType: "file", Placeholder: placeholderAudio}
	case domain.ContentVideo:
		if parsed.FileKey != "" {
			return &MediaKey{Key: parsed.FileKey, FileName: parsed.FileName, ResourceType: "file", Placeholder: placeholderVideo}
		}
		if parsed.ImageKey != "" {
			return &MediaKey{Key: parsed.ImageKey, ResourceType: "image", Placeholder: placeholderVideo}
		}
		return nil
	case domain.ContentSticker:
		if parsed.FileKey == "" {
			return nil
		}
		return &MediaKey{Key: parsed.FileKey, ResourceType: "image", Placeholder: placeholderSticker}
	}
	return nil
}

// PostImageKeys returns the embedded image keys of a post payload.
func (n *Normalizer) PostImageKeys(raw string) []string {
	_, keys := n.ParsePost(raw, nil)
	return keys
}

func mentionKeyMap(mentions []domain.Mention) map[string]string {
	if len(mentions) == 0 {
		return nil
	}
	m := make(map[string]string, len(mentions))
	for _, mention := range mentions {
		if mention.Key != "" && mention.Name != "" {
			m[mention.Key] = mention.Name
		}
	}
	return m
}

func replaceMentionKeys(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// stripMentions removes resolved mention tokens from text, leaving the bare
// message body for mention-forward requests.
func stripMentions(text string, mentions []domain.Mention) string {
	for _, m := range mentions {
		if m.Name != "" {
			text = strings.ReplaceAll(text, "@"+m.Name, "")
		}
		if m.Key != "" {
			text = strings.ReplaceAll(text, m.Key, "")
		}
	}
	return strings.Join(strings.Fields(text), " ")
}
