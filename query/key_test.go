package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyHasPrefix(t *testing.T) {
	k := Key{"orderbook", "BBCA", 20}
	assert.True(t, k.HasPrefix(Key{}))
	assert.True(t, k.HasPrefix(Key{"orderbook"}))
	assert.True(t, k.HasPrefix(Key{"orderbook", "BBCA"}))
	assert.True(t, k.HasPrefix(k))
	assert.False(t, k.HasPrefix(Key{"orderbook", "TLKM"}))
	assert.False(t, k.HasPrefix(Key{"orderbook", "BBCA", 20, 1}))
	assert.False(t, k.HasPrefix(Key{"my-orders"}))
	assert.False(t, Key{"x", 1}.HasPrefix(Key{"x", "1"}))
}

func TestKeyHash(t *testing.T) {
	assert.NotEqual(t, Key{"x", 1}.hash(), Key{"x", "1"}.hash())
	assert.Equal(t, Key{"x", 1}.hash(), Key{"x", 1}.hash())
	assert.Equal(t, "[orderbook BBCA]", Key{"orderbook", "BBCA"}.String())
}
