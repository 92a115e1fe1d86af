package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_StripsTrailingWhitespacePerLine(t *testing.T) {
	got := Normalize([]byte("hello  \nworld\t\n"))
	assert.Equal(t, "hello\nworld\n", string(got))
}

func TestNormalize_CollapsesFinalNewlines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no trailing newline", "hello", "hello\n"},
		{"one trailing newline", "hello\n", "hello\n"},
		{"many trailing newlines", "hello\n\n\n", "hello\n"},
		{"empty", "", ""},
		{"only newlines", "\n\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Normalize([]byte(tt.in))))
		})
	}
}

func TestNormalize_UnicodeNFC(t *testing.T) {
	// "é" as a precomposed rune vs. "e" + combining acute accent.
	composed := "café"
	decomposed := "cafe\u0301"

	assert.Equal(t, Normalize([]byte(composed)), Normalize([]byte(decomposed)))
}

func TestContent_Deterministic(t *testing.T) {
	c := []byte("some document content\nwith two lines\n")
	assert.Equal(t, Content(c), Content(c))
}

func TestContent_EquivalentFormsCollide(t *testing.T) {
	// Whitespace-only differences normalize away.
	assert.Equal(t, Content([]byte("hello")), Content([]byte("hello  \n\n")))
	// Real differences do not.
	assert.NotEqual(t, Content([]byte("hello")), Content([]byte("hallo")))
}

func TestCanonicalMap_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"doc_id": "A", "category": "other", "tags": []string{"x", "y"}}
	b := map[string]any{"tags": []string{"x", "y"}, "category": "other", "doc_id": "A"}

	assert.Equal(t, CanonicalMap(a), CanonicalMap(b))
}

func TestCanonicalMap_ValueSensitive(t *testing.T) {
	a := map[string]any{"doc_id": "A"}
	b := map[string]any{"doc_id": "B"}

	assert.NotEqual(t, CanonicalMap(a), CanonicalMap(b))
}
