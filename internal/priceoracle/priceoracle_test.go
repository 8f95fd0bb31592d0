package priceoracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

func TestRefreshAllUpdatesMatchingEntries(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`{"coins":{"ethereum:0x6982508145454ce325ddbe47a25d4ec3d2311933":{"price":0.0000123}}}`))
	}))
	defer srv.Close()

	state := model.NewTokenState(common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933"), "ethereum", "PEPE", 18)
	other := model.NewTokenState(common.HexToAddress("0x1111111111111111111111111111111111111111"), "ethereum", "OTH", 18)

	c := &Client{BaseURL: srv.URL}
	updated, err := c.RefreshAll(context.Background(), []Entry{
		{State: state, PricePrefix: "ethereum"},
		{State: other, PricePrefix: "ethereum"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Contains(t, gotURL, "0x6982508145454ce325ddbe47a25d4ec3d2311933")
	assert.Contains(t, gotURL, "0x1111111111111111111111111111111111111111")

	price, _ := state.Price()
	assert.InDelta(t, 0.0000123, price, 1e-12)

	otherPrice, _ := other.Price()
	assert.Equal(t, 0.0, otherPrice)
}

func TestRefreshAllCountsWholeRequestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	state := model.NewTokenState(common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933"), "ethereum", "PEPE", 18)
	c := &Client{BaseURL: srv.URL}

	_, err := c.RefreshAll(context.Background(), []Entry{{State: state, PricePrefix: "ethereum"}})
	require.Error(t, err)
	assert.Equal(t, 1, c.ErrorCount())
}

func TestRefreshAllEmptyIsNoop(t *testing.T) {
	c := &Client{BaseURL: "http://unused"}
	updated, err := c.RefreshAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
}
