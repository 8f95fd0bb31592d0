package provider

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChoSanghyuk/whalewatch/internal/cache"
	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

func testSpec() model.TokenSpec {
	return model.TokenSpec{
		Address:      common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933"),
		Chain:        "ethereum",
		TopN:         2,
		ThresholdUSD: 100,
	}
}

func TestPrimaryAdapterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"wallet_address":"0x1111111111111111111111111111111111111111","original_amount":"300"},
			{"wallet_address":"0x2222222222222222222222222222222222222222","original_amount":"500"},
			{"wallet_address":"0x3333333333333333333333333333333333333333","original_amount":"100"}
		]}`))
	}))
	defer srv.Close()

	a := &PrimaryAdapter{BaseURL: srv.URL}
	holders, source, err := a.Fetch(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.SourcePrimary, source)
	require.Len(t, holders, 2) // topN=2
	assert.Equal(t, 1, holders[0].Rank)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), holders[0].Address)
	assert.Equal(t, 2, holders[1].Rank)
}

func TestPrimaryAdapterRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := &PrimaryAdapter{BaseURL: srv.URL}
	_, _, err := a.Fetch(context.Background(), testSpec(), nil)
	require.Error(t, err)
	fe, ok := err.(*FetchError)
	require.True(t, ok)
	assert.Equal(t, RateLimited, fe.Kind)
}

func TestPrimaryAdapterEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	a := &PrimaryAdapter{BaseURL: srv.URL}
	_, _, err := a.Fetch(context.Background(), testSpec(), nil)
	fe, ok := err.(*FetchError)
	require.True(t, ok)
	assert.Equal(t, Empty, fe.Kind)
}

func TestSecondaryAdapterUnsupportedChain(t *testing.T) {
	a := &SecondaryAdapter{BaseURL: "http://unused"}
	spec := testSpec()
	spec.Chain = "bsc"

	_, _, err := a.Fetch(context.Background(), spec, nil)
	fe, ok := err.(*FetchError)
	require.True(t, ok)
	assert.Equal(t, Unsupported, fe.Kind)
}

func TestSecondaryAdapterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"holders":[
			{"address":"0x1111111111111111111111111111111111111111","balance":300},
			{"address":"0x2222222222222222222222222222222222222222","balance":500}
		]}`))
	}))
	defer srv.Close()

	a := &SecondaryAdapter{BaseURL: srv.URL}
	holders, source, err := a.Fetch(context.Background(), testSpec(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.SourceSecondary, source)
	require.Len(t, holders, 2)
	assert.Equal(t, 1, holders[0].Rank)
}

func TestFilterAndRankExcludesIgnoreList(t *testing.T) {
	raw := []model.HolderEntry{
		{Address: common.HexToAddress("0x0000000000000000000000000000000000000000"), Balance: bigI(1000)},
		{Address: common.HexToAddress("0x000000000000000000000000000000000000dEaD"), Balance: bigI(900)},
		{Address: common.HexToAddress("0x1111111111111111111111111111111111111111"), Balance: bigI(50)},
	}
	out := filterAndRank(raw, 10)
	require.Len(t, out, 1)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), out[0].Address)
}

func TestFilterAndRankTopNZeroYieldsEmpty(t *testing.T) {
	raw := []model.HolderEntry{
		{Address: common.HexToAddress("0x1111111111111111111111111111111111111111"), Balance: bigI(50)},
	}
	out := filterAndRank(raw, 0)
	assert.Empty(t, out)
}

func TestCacheAdapterFetch(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	spec := testSpec()
	store.Save(1, spec.Address, []cache.HolderRecord{
		{Address: "0x1111111111111111111111111111111111111111", Rank: 1, Balance: "500"},
		{Address: "0x2222222222222222222222222222222222222222", Rank: 2, Balance: "300"},
	}, "PEPE", "primary", 18)

	a := &CacheAdapter{Store: store, ChainID: func(string) uint64 { return 1 }}
	holders, source, err := a.Fetch(context.Background(), spec, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SourceCache, source)
	require.Len(t, holders, 2)
	assert.Equal(t, 1, holders[0].Rank)
}

func TestCacheAdapterMissReturnsEmpty(t *testing.T) {
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)

	a := &CacheAdapter{Store: store, ChainID: func(string) uint64 { return 1 }, MaxAge: time.Hour}
	_, _, err = a.Fetch(context.Background(), testSpec(), nil)
	fe, ok := err.(*FetchError)
	require.True(t, ok)
	assert.Equal(t, Empty, fe.Kind)
}

func bigI(v int64) *big.Int { return big.NewInt(v) }
