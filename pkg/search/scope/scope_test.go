package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicateVault(t *testing.T) {
	t.Parallel()

	fragment, args, err := Vault().Predicate()
	require.NoError(t, err)
	assert.Empty(t, fragment)
	assert.Empty(t, args)

	// A zero scope defaults to vault.
	fragment, _, err = (Scope{}).Predicate()
	require.NoError(t, err)
	assert.Empty(t, fragment)
}

func TestPredicateInFile(t *testing.T) {
	t.Parallel()

	fragment, args, err := InFile("notes/a.md").Predicate()
	require.NoError(t, err)
	assert.Equal(t, "d.path = ?", fragment)
	assert.Equal(t, []any{"notes/a.md"}, args)

	_, _, err = InFile("").Predicate()
	assert.Error(t, err)
}

func TestPredicateInFolder(t *testing.T) {
	t.Parallel()

	fragment, args, err := InFolder("notes/").Predicate()
	require.NoError(t, err)
	assert.Equal(t, "(d.path = ? OR d.path LIKE ?)", fragment)
	assert.Equal(t, []any{"notes", "notes/%"}, args)
}

func TestPredicateLimitIDs(t *testing.T) {
	t.Parallel()

	fragment, args, err := LimitIDs([]string{"e1", "e2"}).Predicate()
	require.NoError(t, err)
	assert.Equal(t, "e.id IN (?,?)", fragment)
	assert.Len(t, args, 2)

	_, _, err = LimitIDs(nil).Predicate()
	assert.Error(t, err)
}

func TestMatchesPath(t *testing.T) {
	t.Parallel()

	assert.True(t, Vault().MatchesPath("anything.md"))
	assert.True(t, InFile("a.md").MatchesPath("a.md"))
	assert.False(t, InFile("a.md").MatchesPath("b.md"))
	assert.True(t, InFolder("notes").MatchesPath("notes/deep/c.md"))
	assert.False(t, InFolder("notes").MatchesPath("notes2/c.md"))
	assert.False(t, LimitIDs([]string{"e1"}).MatchesPath("a.md"))
}
