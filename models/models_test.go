package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreviewShortStringUnchanged(t *testing.T) {
	if got := Preview("short text"); got != "short text" {
		t.Fatalf("got %q", got)
	}
}

func TestPreviewTruncatesAtLimit(t *testing.T) {
	s := strings.Repeat("a", PreviewLimit+50)
	if got := Preview(s); len(got) != PreviewLimit {
		t.Fatalf("len = %d", len(got))
	}
}

func TestPreviewKeepsRunesIntact(t *testing.T) {
	// 3-byte runes straddle the byte limit, so the cut must back up to a boundary
	s := strings.Repeat("日", 100)
	got := Preview(s)
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	if len(got) > PreviewLimit {
		t.Fatalf("len = %d", len(got))
	}
	if len(got) == 0 {
		t.Fatal("preview empty")
	}
}
