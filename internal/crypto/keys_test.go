package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKeyIsWellFormedAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := NewAPIKey()
		require.NoError(t, err)
		require.True(t, LooksLikeAPIKey(key), "malformed key %q", key)
		require.False(t, seen[key], "duplicate key")
		seen[key] = true
	}
}

func TestHashAPIKeyIsStable(t *testing.T) {
	key, err := NewAPIKey()
	require.NoError(t, err)

	assert.Equal(t, HashAPIKey(key), HashAPIKey(key))
	assert.Equal(t, HashAPIKey(key), HashAPIKey(" "+key+"\n"))
	assert.Len(t, HashAPIKey(key), 64)
	assert.NotContains(t, HashAPIKey(key), key)
}

func TestLooksLikeAPIKeyRejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "rk_", "rk_short", "sk_" + "A", "not-a-key", "rk_!!!!"} {
		assert.False(t, LooksLikeAPIKey(key), key)
	}
}

func TestNewAgentIDIsVersion7(t *testing.T) {
	id := NewAgentID()
	assert.Equal(t, 7, int(id.Version()))
	assert.NotEqual(t, id, NewAgentID())
}
