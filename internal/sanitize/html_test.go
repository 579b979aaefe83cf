package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestText_RemovesAllHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "script tag",
			input:    `Hello <script>alert(1)</script> World`,
			expected: `Hello  World`,
		},
		{
			name:     "inline event handler",
			input:    `<div onclick="alert(1)">Click me</div>`,
			expected: `Click me`,
		},
		{
			name:     "mixed HTML tags",
			input:    `<b>Bold</b> <i>Italic</i> <a href="http://example.com">Link</a>`,
			expected: `Bold Italic Link`,
		},
		{
			name:     "plain text unchanged",
			input:    `1967 Ford Mustang fastback`,
			expected: `1967 Ford Mustang fastback`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Text(tt.input)
			if result != tt.expected {
				t.Errorf("Text(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "entities decoded",
			input:    `Tom's "clean" 240Z & more`,
			expected: `Tom's "clean" 240Z & more`,
		},
		{
			name:     "tags removed and whitespace collapsed",
			input:    "<p>1972 Datsun</p>\n\n<p>  240Z   rust free</p>",
			expected: `1972 Datsun 240Z rust free`,
		},
		{
			name:     "already encoded entity",
			input:    `Price &amp; terms`,
			expected: `Price & terms`,
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PlainText(tt.input)
			if result != tt.expected {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("exactly10!", 10); got != "exactly10!" {
		t.Errorf("Truncate exact = %q", got)
	}
	if got := Truncate("this is too long", 10); got != "this is..." {
		t.Errorf("Truncate long = %q", got)
	}
	if got := Truncate("anything", 0); got != "anything" {
		t.Errorf("Truncate disabled = %q", got)
	}

	long := strings.Repeat("é", 3000)
	got := Truncate(long, 2048)
	if n := utf8.RuneCountInString(got); n != 2048 {
		t.Errorf("Truncate rune count = %d, want 2048", n)
	}
	if !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("Truncate missing ellipsis")
	}
}
