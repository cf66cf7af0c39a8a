package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 100 {
		id := NewID()
		assert.Len(t, id, 32)
		assert.True(t, IsValidID(id))
		assert.False(t, seen[id], "IDs must be unique")
		seen[id] = true
	}
}

func TestIsValidID(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidID("0123456789abcdef0123456789abcdef"))
	assert.False(t, IsValidID("short"))
	assert.False(t, IsValidID("0123456789abcdef0123456789abcdeg"))
	assert.False(t, IsValidID(""))
}

func TestResourceIDDeterminism(t *testing.T) {
	t.Parallel()

	sources := []string{
		"notes/ideas.md",
		"https://example.com/page",
		"",
		"notes/ideas.md ", // trailing space is a different source
	}

	for _, src := range sources {
		a := ResourceID(src)
		b := ResourceID(src)
		assert.Equal(t, a, b)
		assert.Len(t, a, 8)
	}

	assert.NotEqual(t, ResourceID("notes/ideas.md"), ResourceID("notes/ideas.md "))
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ContentHash("hello"), ContentHash("hello"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("hello!"))
	assert.Len(t, ContentHash("hello"), 32)
}
