package usecase

import (
	"reflect"
	"testing"

	"github.com/larkgate/larkgate/internal/biz/domain"
)

func TestParseText(t *testing.T) {
	n := NewNormalizer("ou_bot")

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"text":"hello"}`, "hello"},
		{"malformed json stays raw", `not json at all`, "not json at all"},
		{"empty object", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.ParseText(tt.raw, nil); got != tt.want {
				t.Fatalf("ParseText(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseTextReplacesMentionKeys(t *testing.T) {
	n := NewNormalizer("ou_bot")
	got := n.ParseText(`{"text":"@_user_1 deploy please"}`, map[string]string{"@_user_1": "Bot"})
	if got != "@Bot deploy please" {
		t.Fatalf("got %q", got)
	}
}

func TestParsePost(t *testing.T) {
	n := NewNormalizer("ou_bot")

	tests := []struct {
		name     string
		raw      string
		wantText string
		wantKeys []string
	}{
		{
			name:     "title and single paragraph",
			raw:      `{"title":"T","content":[[{"tag":"text","text":"hello"}]]}`,
			wantText: "T\n\nhello",
		},
		{
			name:     "multiple paragraphs join with newline",
			raw:      `{"content":[[{"tag":"text","text":"one"}],[{"tag":"text","text":"two"}]]}`,
			wantText: "one\ntwo",
		},
		{
			name:     "link prefers label",
			raw:      `{"content":[[{"tag":"a","text":"docs","href":"https://example.com"}]]}`,
			wantText: "docs",
		},
		{
			name:     "link falls back to href",
			raw:      `{"content":[[{"tag":"a","href":"https://example.com"}]]}`,
			wantText: "https://example.com",
		},
		{
			name:     "at span uses user name",
			raw:      `{"content":[[{"tag":"at","user_name":"Alice"},{"tag":"text","text":" hi"}]]}`,
			wantText: "@Alice hi",
		},
		{
			name:     "embedded images collected",
			raw:      `{"content":[[{"tag":"img","image_key":"img_a"}],[{"tag":"img","image_key":"img_b"},{"tag":"text","text":"caption"}]]}`,
			wantText: "caption",
			wantKeys: []string{"img_a", "img_b"},
		},
		{
			name:     "malformed json yields placeholder",
			raw:      `{{{`,
			wantText: "[rich text]",
		},
		{
			name:     "no readable spans yields placeholder",
			raw:      `{"content":[[]]}`,
			wantText: "[rich text]",
		},
		{
			name:     "title only",
			raw:      `{"title":"Just a title","content":[]}`,
			wantText: "Just a title",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, keys := n.ParsePost(tt.raw, nil)
			if text != tt.wantText {
				t.Fatalf("text = %q, want %q", text, tt.wantText)
			}
			if !reflect.DeepEqual(keys, tt.wantKeys) {
				t.Fatalf("keys = %v, want %v", keys, tt.wantKeys)
			}
		})
	}
}

func TestExtractMediaKey(t *testing.T) {
	n := NewNormalizer("ou_bot")

	tests := []struct {
		name string
		kind domain.ContentKind
		raw  string
		want *MediaKey
	}{
		{
			name: "image",
			kind: domain.ContentImage,
			raw:  `{"image_key":"img_1"}`,
			want: &MediaKey{Key: "img_1", ResourceType: "image", Placeholder: "this is an image"},
		},
		{
			name: "file keeps name",
			kind: domain.ContentFile,
			raw:  `{"file_key":"f_1","file_name":"report.pdf"}`,
			want: &MediaKey{Key: "f_1", FileName: "report.pdf", ResourceType: "file", Placeholder: "this is a file"},
		},
		{
			name: "audio",
			kind: domain.ContentAudio,
			raw:  `{"file_key":"a_1"}`,
			want: &MediaKey{Key: "a_1", ResourceType: "file", Placeholder: "this is an audio clip"},
		},
		{
			name: "video prefers file key",
			kind: domain.ContentVideo,
			raw:  `{"file_key":"v_1","image_key":"thumb_1"}`,
			want: &MediaKey{Key: "v_1", ResourceType: "file", Placeholder: "this is a video"},
		},
		{
			name: "video falls back to thumbnail",
			kind: domain.ContentVideo,
			raw:  `{"image_key":"thumb_1"}`,
			want: &MediaKey{Key: "thumb_1", ResourceType: "image", Placeholder: "this is a video"},
		},
		{
			name: "sticker downloads as image",
			kind: domain.ContentSticker,
			raw:  `{"file_key":"s_1"}`,
			want: &MediaKey{Key: "s_1", ResourceType: "image", Placeholder: "this is a sticker"},
		},
		{
			name: "malformed payload",
			kind: domain.ContentImage,
			raw:  `nope`,
			want: nil,
		},
		{
			name: "missing key",
			kind: domain.ContentImage,
			raw:  `{}`,
			want: nil,
		},
		{
			name: "text carries no media",
			kind: domain.ContentText,
			raw:  `{"text":"hi"}`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.ExtractMediaKey(tt.kind, tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeForwardTargets(t *testing.T) {
	n := NewNormalizer("ou_bot")

	ev := &domain.InboundEvent{
		MessageID:  "om_1",
		ChatID:     "oc_1",
		ChatKind:   domain.ChatKindGroup,
		Kind:       domain.ContentText,
		RawContent: `{"text":"@_user_1 @_user_2 please summarize"}`,
		Mentions: []domain.Mention{
			{Key: "@_user_1", OpenID: "ou_bot", Name: "Bot"},
			{Key: "@_user_2", OpenID: "ou_alice", Name: "Alice"},
		},
		MentionsBot: true,
	}

	mc := n.Normalize(ev)
	if len(mc.ForwardTargets) != 1 || mc.ForwardTargets[0].OpenID != "ou_alice" {
		t.Fatalf("forward targets = %+v", mc.ForwardTargets)
	}
	if mc.Text != "@Bot @Alice please summarize" {
		t.Fatalf("text = %q", mc.Text)
	}
	if mc.StrippedText != "please summarize" {
		t.Fatalf("stripped = %q", mc.StrippedText)
	}
}

func TestNormalizeNoForwardTargetsWhenOnlyBotMentioned(t *testing.T) {
	n := NewNormalizer("ou_bot")

	ev := &domain.InboundEvent{
		Kind:        domain.ContentText,
		RawContent:  `{"text":"@_user_1 hi"}`,
		Mentions:    []domain.Mention{{Key: "@_user_1", OpenID: "ou_bot", Name: "Bot"}},
		MentionsBot: true,
	}

	mc := n.Normalize(ev)
	if len(mc.ForwardTargets) != 0 {
		t.Fatalf("forward targets = %+v, want none", mc.ForwardTargets)
	}
	if mc.StrippedText != "" {
		t.Fatalf("stripped = %q, want empty", mc.StrippedText)
	}
}
