package repository

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateKeepsShortMessages(t *testing.T) {
	assert.Equal(t, "platform timeout", truncate("platform timeout"))
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	// "é" is two bytes, so the limit falls inside a rune.
	msg := strings.Repeat("a", maxErrorLength-1) + strings.Repeat("é", 10)

	got := truncate(msg)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxErrorLength-1, len(got))
	assert.True(t, strings.HasPrefix(msg, got))
}

func TestTruncateMultibyteOnly(t *testing.T) {
	got := truncate(strings.Repeat("日本", maxErrorLength))
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxErrorLength)
}
