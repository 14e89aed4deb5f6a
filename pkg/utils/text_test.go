package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello...", Truncate("hello world", 5))
	assert.Equal(t, "x", Truncate("x", 0))
	assert.Equal(t, "hé...", Truncate("héllo", 2))
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "a b", JoinNonEmpty("a", "  ", "", "b "))
	assert.Equal(t, "", JoinNonEmpty())
}
