package data

import (
	"strings"
	"testing"

	"github.com/larkgate/larkgate/internal/biz/repo"
)

func TestReplyAssemblerHoldsPartialLines(t *testing.T) {
	var asm replyAssembler

	// Word fragments that would look like tool activity if released alone.
	for _, delta := range []string{"Please ", "read", " the file carefully."} {
		if got := asm.Add(delta); got != "" {
			t.Fatalf("mid-line delta released early: %q", got)
		}
	}
	if got := asm.Flush(); got != "Please read the file carefully." {
		t.Fatalf("flush = %q", got)
	}
}

func TestReplyAssemblerReleasesOnParagraphBreak(t *testing.T) {
	var asm replyAssembler

	if got := asm.Add("First paragraph."); got != "" {
		t.Fatalf("released before break: %q", got)
	}
	got := asm.Add("\n\nSecond")
	if got != "First paragraph.\n\n" {
		t.Fatalf("chunk = %q", got)
	}
	if rest := asm.Flush(); rest != "Second" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestReplyAssemblerKeepsCodeFenceTogether(t *testing.T) {
	var asm replyAssembler

	if got := asm.Add("```go\nfunc a() {}\n\n"); got != "" {
		t.Fatalf("open fence released: %q", got)
	}
	if got := asm.Add("func b() {}\n```"); got != "" {
		t.Fatalf("fence body released: %q", got)
	}
	got := asm.Add("\n\ndone")
	if !strings.Contains(got, "```go") || !strings.Contains(got, "func b() {}\n```") {
		t.Fatalf("fence split across chunks: %q", got)
	}
	if rest := asm.Flush(); rest != "done" {
		t.Fatalf("rest = %q", rest)
	}
}

func TestEnvelopeBodyListsAttachments(t *testing.T) {
	env := &repo.Envelope{Body: "look at this"}
	if got := envelopeBody(env); got != "look at this" {
		t.Fatalf("body without attachments = %q", got)
	}
}
