package document

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses space runs", "a    b\tc", "a b\tc"},
		{"collapses blank lines", "a\n\n\n\nb", "a\n\nb"},
		{"normalizes crlf", "a\r\nb", "a\nb"},
		{"trims", "  a  \n", "a"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	got := Preview(text, 20)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Preview = %q, want ellipsis suffix", got)
	}
	if len(got) > 23 {
		t.Errorf("Preview too long: %q", got)
	}
	if strings.Contains(strings.TrimSuffix(got, "..."), "jump") {
		t.Errorf("Preview cut mid-word territory: %q", got)
	}

	if Preview("short", 20) != "short" {
		t.Error("short text should pass through")
	}
}
