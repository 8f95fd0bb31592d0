// Package priceoracle implements the Price Oracle Client of
// SPEC_FULL.md §4.4: a single batched spot-price fetch keyed by
// "chainPrefix:address", used to convert on-chain transfer amounts to USD.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

// Client batches a spot-price request across every tracked token in one
// HTTP call, per SPEC_FULL.md §6(d).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// errors counts whole-request failures; there are no per-token retries
	// (spec §4.4: "a whole-request failure increments the error counter").
	errors int
}

type coinEntry struct {
	Price float64 `json:"price"`
}

type priceResponse struct {
	Coins map[string]coinEntry `json:"coins"`
}

// key is the "prefix:address" identifier used both in the request and in
// the response's coins map.
func key(prefix string, addr string) string {
	return fmt.Sprintf("%s:%s", prefix, strings.ToLower(addr))
}

// RefreshAll forms a single request for all given token states and updates
// each matching TokenState's price in place. States whose entry is absent
// from the response are left untouched. Returns the count of states updated.
func (c *Client) RefreshAll(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(entries))
	byKey := make(map[string]*model.TokenState, len(entries))
	for _, e := range entries {
		k := key(e.PricePrefix, e.State.Address.Hex())
		keys = append(keys, k)
		byKey[k] = e.State
	}

	url := fmt.Sprintf("%s/prices/current/%s", strings.TrimRight(c.BaseURL, "/"), strings.Join(keys, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.errors++
		return 0, fmt.Errorf("priceoracle: build request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.errors++
		return 0, fmt.Errorf("priceoracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.errors++
		return 0, fmt.Errorf("priceoracle: http %d", resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.errors++
		return 0, fmt.Errorf("priceoracle: decode response: %w", err)
	}

	now := time.Now()
	updated := 0
	for k, state := range byKey {
		coin, ok := parsed.Coins[k]
		if !ok {
			continue
		}
		state.SetPrice(coin.Price, now)
		updated++
	}

	return updated, nil
}

// Entry pairs a TokenState with the price-oracle prefix of its chain.
type Entry struct {
	State       *model.TokenState
	PricePrefix string
}

// ErrorCount returns the number of whole-request failures observed so far.
func (c *Client) ErrorCount() int { return c.errors }

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
