package javascript

import (
	"testing"
)

func TestDecodeStringLiteral(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{`"plain"`, "plain"},
		{`'single'`, "single"},
		{`"tab\there"`, "tab\there"},
		{`'it\'s'`, "it's"},
		{`"a\/b"`, "a/b"},
		{`"\u0041\x42"`, "AB"},
		{`"café"`, "café"},
		{`"日本\u00e9"`, "日本é"},
		{`""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := decodeStringLiteral(tt.raw); got != tt.expected {
				t.Errorf("decodeStringLiteral(%s) = %q, expected %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestParseNumberLiteral(t *testing.T) {
	tests := []struct {
		raw      string
		expected float64
		ok       bool
	}{
		{"42", 42, true},
		{"3.5", 3.5, true},
		{".5", 0.5, true},
		{"1e3", 1000, true},
		{"0x1F", 31, true},
		{"0b101", 5, true},
		{"0o17", 15, true},
		{"1_000", 1000, true},
		{"10n", 10, true},
		{"0xZZ", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseNumberLiteral(tt.raw)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("parseNumberLiteral(%s) = (%v, %v), expected (%v, %v)", tt.raw, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestCamelize(t *testing.T) {
	if got := camelize("for_in_statement"); got != "ForInStatement" {
		t.Errorf("expected ForInStatement, got %s", got)
	}
	if got := camelize("if_statement"); got != "IfStatement" {
		t.Errorf("expected IfStatement, got %s", got)
	}
}

func TestFindLineStart(t *testing.T) {
	content := `line one
line two
line three`
	source := []byte(content)

	tests := []struct {
		name     string
		idx      int
		expected int
	}{
		{"middle of first line", 3, 0},
		{"start of first line", 0, 0},
		{"end of first line", 7, 0},
		{"on newline char", 8, 9},
		{"start of second line", 9, 9}, // This is the failing case
		{"middle of second line", 12, 9},
		{"end of last line", len(content) - 1, 18},
		{"out of bounds high", len(content) + 5, 18},
		{"out of bounds low", -5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findLineStart(source, tt.idx)
			if got != tt.expected {
				t.Errorf("expected findLineStart(..., %d) to be %d, but got %d", tt.idx, tt.expected, got)
			}
		})
	}
}
