package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestShortID(t *testing.T) {
	cases := []struct{ id, want string }{
		{"", ""},
		{"abc", "abc"},
		{"visitor-abcd", "abcd"},
		{"görüşme-çağrı", "ağrı"},
		{"面试-候选人-聊天记录", "聊天记录"},
	}
	for _, tc := range cases {
		got := Conversation{SessionID: tc.id}.ShortID()
		if got != tc.want || !utf8.ValidString(got) {
			t.Fatalf("ShortID(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("ş", PreviewLength+10)
	got := Preview(long)
	if utf8.RuneCountInString(got) != PreviewLength || !utf8.ValidString(got) {
		t.Fatalf("preview should keep %d whole runes, got %q", PreviewLength, got)
	}
	if Preview("short") != "short" {
		t.Fatalf("short content must be kept as is")
	}
}
