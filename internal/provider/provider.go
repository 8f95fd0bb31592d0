// Package provider implements the Holder Provider Adapters of
// SPEC_FULL.md §4.3: a uniform capability over heterogeneous
// ranked-holder upstreams (a paid primary API, a free Ethereum-only
// secondary API, and the local Holder Cache Store used as a backup).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/whalewatch/internal/cache"
	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

// FailureKind classifies why an adapter failed to produce a holder set.
type FailureKind string

const (
	RateLimited FailureKind = "rate_limited"
	Transient   FailureKind = "transient"
	Empty       FailureKind = "empty"
	Unsupported FailureKind = "unsupported"
	Other       FailureKind = "other"
)

// FetchError is the typed failure adapters return, per SPEC_FULL.md §4.3.
type FetchError struct {
	Kind FailureKind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable implements pkg/retry's Retryable: only Transient failures are
// retryable. The adapters in this package do not call pkg/retry
// themselves; each Fetch makes a single HTTP attempt.
func (e *FetchError) Retryable() bool {
	return e.Kind == Transient
}

// Adapter fetches a ranked holder list for a token.
type Adapter interface {
	Fetch(ctx context.Context, spec model.TokenSpec, state *model.TokenState) ([]model.HolderEntry, model.SourceTag, error)
}

// ignoreList excludes the zero and dead addresses from any ranking, per
// SPEC_FULL.md §4.3/§4 Glossary.
var ignoreList = map[common.Address]struct{}{
	common.HexToAddress("0x0000000000000000000000000000000000000000"): {},
	common.HexToAddress("0x000000000000000000000000000000000000dEaD"): {},
}

func filterAndRank(raw []model.HolderEntry, topN int) []model.HolderEntry {
	filtered := make([]model.HolderEntry, 0, len(raw))
	for _, h := range raw {
		if _, ignored := ignoreList[h.Address]; ignored {
			continue
		}
		filtered = append(filtered, h)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Balance.Cmp(filtered[j].Balance) > 0
	})
	if topN > 0 && len(filtered) > topN {
		filtered = filtered[:topN]
	}
	if topN == 0 {
		filtered = nil
	}
	for i := range filtered {
		filtered[i].Rank = i + 1
	}
	return filtered
}

// --- Primary adapter --------------------------------------------------

// PrimaryAdapter queries a paid ranked-holders endpoint (SPEC_FULL.md
// §6(b)).
type PrimaryAdapter struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type primaryResponseRow struct {
	WalletAddress  string `json:"wallet_address"`
	Address        string `json:"address"`
	OriginalAmount string `json:"original_amount"`
	Amount         string `json:"amount"`
}

type primaryResponse struct {
	Data []primaryResponseRow `json:"data"`
}

func (a *PrimaryAdapter) Fetch(ctx context.Context, spec model.TokenSpec, state *model.TokenState) ([]model.HolderEntry, model.SourceTag, error) {
	limit := spec.TopN + 10
	if limit > 100 {
		limit = 100
	}

	url := fmt.Sprintf("%s?chain_id=%s&contract_address=%s&page=1&limit=%d",
		a.BaseURL, spec.Chain, spec.Address.Hex(), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &FetchError{Kind: Other, Err: err}
	}
	if a.APIKey != "" {
		req.Header.Set("X-API-Key", a.APIKey)
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, "", &FetchError{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", &FetchError{Kind: RateLimited, Err: fmt.Errorf("http 429")}
	case resp.StatusCode >= 500:
		return nil, "", &FetchError{Kind: Transient, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, "", &FetchError{Kind: Other, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var parsed primaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", &FetchError{Kind: Other, Err: err}
	}
	if len(parsed.Data) == 0 {
		return nil, "", &FetchError{Kind: Empty}
	}

	raw := make([]model.HolderEntry, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		addr := row.WalletAddress
		if addr == "" {
			addr = row.Address
		}
		amt := row.OriginalAmount
		if amt == "" {
			amt = row.Amount
		}
		bal, ok := new(big.Int).SetString(amt, 10)
		if !ok {
			continue
		}
		raw = append(raw, model.HolderEntry{Address: common.HexToAddress(addr), Balance: bal})
	}

	return filterAndRank(raw, spec.TopN), model.SourcePrimary, nil
}

func (a *PrimaryAdapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// --- Secondary adapter --------------------------------------------------

// SecondaryAdapter queries a free ranked-holders endpoint that only
// supports the canonical Ethereum chain (SPEC_FULL.md §6(c)).
type SecondaryAdapter struct {
	BaseURL    string
	APIKey     string // defaults to "freekey" per spec
	HTTPClient *http.Client
}

type secondaryHolder struct {
	Address string  `json:"address"`
	Balance float64 `json:"balance"`
}

type secondaryResponse struct {
	Holders []secondaryHolder `json:"holders"`
}

func (a *SecondaryAdapter) Fetch(ctx context.Context, spec model.TokenSpec, state *model.TokenState) ([]model.HolderEntry, model.SourceTag, error) {
	if !strings.EqualFold(spec.Chain, "ethereum") {
		return nil, "", &FetchError{Kind: Unsupported}
	}

	key := a.APIKey
	if key == "" {
		key = "freekey"
	}
	url := fmt.Sprintf("%s?address=%s&apiKey=%s&limit=%d", a.BaseURL, spec.Address.Hex(), key, spec.TopN+10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &FetchError{Kind: Other, Err: err}
	}

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, "", &FetchError{Kind: Transient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", &FetchError{Kind: RateLimited, Err: fmt.Errorf("http 429")}
	case resp.StatusCode >= 500:
		return nil, "", &FetchError{Kind: Transient, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, "", &FetchError{Kind: Other, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var parsed secondaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", &FetchError{Kind: Other, Err: err}
	}
	if len(parsed.Holders) == 0 {
		return nil, "", &FetchError{Kind: Empty}
	}

	raw := make([]model.HolderEntry, 0, len(parsed.Holders))
	for _, h := range parsed.Holders {
		bal := new(big.Float).SetFloat64(h.Balance)
		balInt, _ := bal.Int(nil)
		raw = append(raw, model.HolderEntry{Address: common.HexToAddress(h.Address), Balance: balInt})
	}

	return filterAndRank(raw, spec.TopN), model.SourceSecondary, nil
}

func (a *SecondaryAdapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// --- Cache adapter --------------------------------------------------

// CacheAdapter reads the Holder Cache Store. MaxAge == 0 means "no
// freshness check" -- used as the last-resort backup source. ChainID
// resolves a TokenSpec's chain name to the numeric chain id used as the
// Holder Cache Store's file-naming prefix; it is injected explicitly
// rather than kept as global state (SPEC_FULL.md §9 design note).
type CacheAdapter struct {
	Store   *cache.Store
	MaxAge  time.Duration
	ChainID func(chain string) uint64
}

func (a *CacheAdapter) Fetch(ctx context.Context, spec model.TokenSpec, state *model.TokenState) ([]model.HolderEntry, model.SourceTag, error) {
	doc, ok := a.Store.Load(a.ChainID(spec.Chain), spec.Address, a.MaxAge)
	if !ok {
		return nil, "", &FetchError{Kind: Empty}
	}

	raw := make([]model.HolderEntry, 0, len(doc.Holders))
	for _, h := range doc.Holders {
		bal, ok := new(big.Int).SetString(h.Balance, 10)
		if !ok {
			continue
		}
		raw = append(raw, model.HolderEntry{Address: common.HexToAddress(h.Address), Rank: h.Rank, Balance: bal})
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i].Rank < raw[j].Rank })

	return raw, model.SourceCache, nil
}
