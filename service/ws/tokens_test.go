package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/kromer/service/kerr"
)

func TestTokenObtainUse(t *testing.T) {
	tokens := NewTokens()
	cid := int32(7)

	id := tokens.Obtain(TokenData{Address: "kaddress01", PrivateKey: "hunter2", ComputerID: &cid})
	assert.Equal(t, 1, tokens.Len())

	data, err := tokens.Use(id)
	require.NoError(t, err)
	assert.Equal(t, "kaddress01", data.Address)
	assert.Equal(t, "hunter2", data.PrivateKey)
	require.NotNil(t, data.ComputerID)
	assert.Equal(t, int32(7), *data.ComputerID)
	assert.Equal(t, 0, tokens.Len())

	// A token is a take, not a read.
	_, err = tokens.Use(id)
	require.Error(t, err)
	assert.True(t, kerr.IsKind(err, kerr.KindTokenNotFound))
}

func TestTokenUniqueness(t *testing.T) {
	tokens := NewTokens()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := tokens.Obtain(TokenData{Address: "guest"})
		require.False(t, seen[id.String()])
		seen[id.String()] = true
	}
	assert.Equal(t, 100, tokens.Len())
}
