package textutil

import (
	"strings"
	"testing"
)

func TestStripHTML(t *testing.T) {
	got := StripHTML("<p>Hello <b>world</b> &amp; friends</p>")
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "& friends") {
		t.Errorf("StripHTML returned %q", got)
	}
	if strings.Contains(got, "<") {
		t.Errorf("StripHTML left tags in %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	got := NormalizeWhitespace("  a \t b\n\nc  ")
	if got != "a b c" {
		t.Errorf("NormalizeWhitespace = %q, want %q", got, "a b c")
	}
}

func TestFoldUnicode(t *testing.T) {
	got := FoldUnicode("café naïve")
	if got != "cafe naive" {
		t.Errorf("FoldUnicode = %q, want %q", got, "cafe naive")
	}
}

func TestRemoveURLs(t *testing.T) {
	got := RemoveURLs("see https://example.com/x?y=1 for details")
	if strings.Contains(got, "example.com") {
		t.Errorf("RemoveURLs left URL in %q", got)
	}
	if !strings.Contains(got, "for details") {
		t.Errorf("RemoveURLs removed too much: %q", got)
	}
}

func TestRemoveSignature(t *testing.T) {
	in := "Meeting at 3.\n\nBest regards,\nAlex\nACME Corp"
	got := RemoveSignature(in)
	if strings.Contains(got, "ACME Corp") {
		t.Errorf("RemoveSignature left signature in %q", got)
	}
	if !strings.Contains(got, "Meeting at 3.") {
		t.Errorf("RemoveSignature removed body: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hello..."},
		{"disabled", "hello world", 0, "hello world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestCleanContent(t *testing.T) {
	in := "<div>Team   sync tomorrow.</div> https://zoom.us/j/123 \n\nThanks,\nBob"
	got := CleanContent(in, 0)
	if strings.Contains(got, "<div>") || strings.Contains(got, "zoom.us") ||
		strings.Contains(got, "Bob") {
		t.Errorf("CleanContent left noise in %q", got)
	}
	if !strings.Contains(got, "Team sync tomorrow.") {
		t.Errorf("CleanContent mangled body: %q", got)
	}
}
