package notifications

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestStorable(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "ok", limit: 10, want: "ok"},
		{name: "exact", in: "abcd", limit: 4, want: "abcd"},
		{name: "cut", in: "abcdef", limit: 4, want: "abcd"},
		{name: "multibyte at boundary", in: "abc" + "é", limit: 4, want: "abc"},
		{name: "multibyte fits", in: "ab" + "é", limit: 4, want: "abé"},
		{name: "nul stripped", in: "a\x00b", limit: 10, want: "ab"},
		{name: "invalid utf8 replaced", in: "a\xffb", limit: 10, want: "a�b"},
		{name: "empty", in: "", limit: 10, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storable(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestStorable_ResponseLimit(t *testing.T) {
	raw := strings.Repeat("a", maxLoggedResponse-1) + "é" + "tail"

	got := storable(raw, maxLoggedResponse)

	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxLoggedResponse-1)
	assert.NotContains(t, got, "\x00")
}
