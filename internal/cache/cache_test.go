package cache

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	token := common.HexToAddress("0xAAA0000000000000000000000000000000000A")
	holders := []HolderRecord{
		{Address: "0xb4dd4fb3d4bced984cce972991fb100488b5922", Rank: 1, Balance: "123456789"},
		{Address: "0xcd94a87696fac69edae3a70fe5725307ae1c43f", Rank: 2, Balance: "987654321"},
	}

	before := time.Now()
	ok := store.Save(1, token, holders, "PEPE", "primary", 18)
	require.True(t, ok)
	after := time.Now()

	doc, found := store.Load(1, token, 0)
	require.True(t, found)
	assert.Equal(t, "PEPE", doc.Symbol)
	assert.Equal(t, "primary", doc.Source)
	assert.Equal(t, len(holders), doc.HoldersCount)
	assert.Equal(t, holders, doc.Holders)

	meta, found := store.Metadata(1, token)
	require.True(t, found)
	assert.Equal(t, len(holders), meta.Count)
	assert.Equal(t, "primary", meta.Source)
	assert.True(t, !meta.UpdatedAt.Before(before) && !meta.UpdatedAt.After(after))
}

func TestLoadExpiresBeyondMaxAge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	token := common.HexToAddress("0xBBB0000000000000000000000000000000000B")
	store.Save(1, token, nil, "X", "cache", 18)

	_, found := store.Load(1, token, time.Nanosecond)
	time.Sleep(time.Millisecond)
	_, found = store.Load(1, token, time.Nanosecond)
	assert.False(t, found)

	_, found = store.Load(1, token, 0)
	assert.True(t, found, "zero max age means no freshness check")
}

func TestLoadMissingReturnsFalse(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	token := common.HexToAddress("0xCCC0000000000000000000000000000000000C")
	_, found := store.Load(1, token, 0)
	assert.False(t, found)

	_, found = store.Metadata(1, token)
	assert.False(t, found)
}

func TestChainPrefixPreventsCollision(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	token := common.HexToAddress("0xDDD0000000000000000000000000000000000D")
	store.Save(1, token, []HolderRecord{{Address: "0x1", Rank: 1, Balance: "1"}}, "A", "primary", 18)
	store.Save(56, token, []HolderRecord{{Address: "0x2", Rank: 1, Balance: "2"}}, "B", "primary", 18)

	docEth, _ := store.Load(1, token, 0)
	docBsc, _ := store.Load(56, token, 0)
	assert.Equal(t, "A", docEth.Symbol)
	assert.Equal(t, "B", docBsc.Symbol)
}

func TestListAndClearAll(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	t1 := common.HexToAddress("0x1110000000000000000000000000000000000E")
	t2 := common.HexToAddress("0x2220000000000000000000000000000000000F")
	store.Save(1, t1, nil, "A", "primary", 18)
	store.Save(1, t2, nil, "B", "primary", 18)

	names, err := store.ListCachedTokens()
	require.NoError(t, err)
	assert.Len(t, names, 2)

	removed := store.ClearAll()
	assert.Equal(t, 2, removed)

	names, err = store.ListCachedTokens()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	token := common.HexToAddress("0x3330000000000000000000000000000000000A")
	store.Save(1, token, nil, "A", "primary", 18)
	assert.True(t, store.Delete(1, token))
	_, found := store.Load(1, token, 0)
	assert.False(t, found)
}
