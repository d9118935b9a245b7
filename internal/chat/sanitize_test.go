package chat

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{
			name:  "plain text unchanged",
			input: "hello world",
			max:   MaxMessageLength,
			want:  "hello world",
		},
		{
			name:  "crlf normalized to lf",
			input: "line one\r\nline two",
			max:   MaxMessageLength,
			want:  "line one\nline two",
		},
		{
			name:  "bare cr normalized to lf",
			input: "line one\rline two",
			max:   MaxMessageLength,
			want:  "line one\nline two",
		},
		{
			name:  "control characters stripped",
			input: "he\x00ll\x1bo\x7f",
			max:   MaxMessageLength,
			want:  "hello",
		},
		{
			name:  "tab and newline preserved",
			input: "a\tb\nc",
			max:   MaxMessageLength,
			want:  "a\tb\nc",
		},
		{
			name:  "trailing whitespace trimmed",
			input: "hello   \n\t",
			max:   MaxMessageLength,
			want:  "hello",
		},
		{
			name:  "truncated with marker",
			input: strings.Repeat("a", 20),
			max:   10,
			want:  strings.Repeat("a", 8) + " …",
		},
		{
			name:  "empty input",
			input: "",
			max:   MaxMessageLength,
			want:  "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeText(tt.input, tt.max)
			if got != tt.want {
				t.Errorf("SanitizeText(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestSanitizeTextIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"plain",
		"with\r\nnewlines\r",
		"ctrl\x01chars\x1f",
		strings.Repeat("long ", 2000),
		"trailing   \t ",
		"",
		"多字节文字" + strings.Repeat("字", 5000),
	}

	for _, input := range inputs {
		once := SanitizeText(input, MaxMessageLength)
		twice := SanitizeText(once, MaxMessageLength)
		if once != twice {
			t.Errorf("sanitize not idempotent for %.30q: %q != %q", input, once, twice)
		}
	}
}

func TestSanitizeTextNeverExceedsCap(t *testing.T) {
	t.Parallel()

	inputs := []string{
		strings.Repeat("x", MaxMessageLength*2),
		strings.Repeat("字", MaxMessageLength+1),
		strings.Repeat("a\r\n", MaxMessageLength),
	}

	for _, input := range inputs {
		got := SanitizeText(input, MaxMessageLength)
		if n := utf8.RuneCountInString(got); n > MaxMessageLength {
			t.Errorf("sanitized output has %d runes, cap is %d", n, MaxMessageLength)
		}
		for _, r := range got {
			if r != '\t' && r != '\n' && (r < 0x20 || r == 0x7f) {
				t.Errorf("sanitized output contains control character %q", r)
			}
		}
	}
}

func TestSanitizeAuthorUsesShorterCap(t *testing.T) {
	t.Parallel()

	got := SanitizeAuthor(strings.Repeat("n", MaxAuthorLength*2))
	if n := utf8.RuneCountInString(got); n > MaxAuthorLength {
		t.Errorf("author name has %d runes, cap is %d", n, MaxAuthorLength)
	}
}
