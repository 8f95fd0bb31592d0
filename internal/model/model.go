// Package model defines the core data types shared across the whale-watch
// pipeline: chain/token configuration, mutable per-token runtime state, and
// the ephemeral alert record handed to the sink.
package model

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainDescriptor is immutable per-chain configuration.
type ChainDescriptor struct {
	Name             string // e.g. "ethereum", "bsc"
	ChainID          uint64
	RPCEndpoint      string
	ExplorerBaseURL  string
	PriceOraclePrefix string // e.g. "ethereum", "bsc" used as "prefix:addr"
	DisplayName      string
}

// TokenSpec is immutable per-token configuration.
type TokenSpec struct {
	Address      common.Address
	Chain        string // ChainDescriptor.Name
	TopN         int
	ThresholdUSD float64
}

// Validate checks the basic shape invariants of a TokenSpec.
func (s TokenSpec) Validate(providerPageMax int) error {
	if s.Chain == "" {
		return fmt.Errorf("token %s: chain is required", s.Address.Hex())
	}
	if s.TopN < 0 {
		return fmt.Errorf("token %s: top_n must not be negative", s.Address.Hex())
	}
	if providerPageMax > 0 && s.TopN > providerPageMax {
		return fmt.Errorf("token %s: top_n %d exceeds provider page max %d", s.Address.Hex(), s.TopN, providerPageMax)
	}
	if s.ThresholdUSD < 0 {
		return fmt.Errorf("token %s: threshold_usd must not be negative", s.Address.Hex())
	}
	return nil
}

// HolderEntry is a single ranked holder as returned by a provider adapter.
type HolderEntry struct {
	Address common.Address
	Rank    int // 1-based, smaller = larger holder
	Balance *big.Int
}

// ReadableBalance returns Balance scaled down by 10^decimals. The log poller
// also uses it for the transfer amount it converts to USD.
func (h HolderEntry) ReadableBalance(decimals uint8) *big.Float {
	if h.Balance == nil {
		return big.NewFloat(0)
	}
	scale := new(big.Float).SetInt(pow10(decimals))
	return new(big.Float).Quo(new(big.Float).SetInt(h.Balance), scale)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// SourceTag identifies which upstream produced a whale-set.
type SourceTag string

const (
	SourcePrimary   SourceTag = "primary"
	SourceSecondary SourceTag = "secondary"
	SourceCache     SourceTag = "cache"
)

// TokenState is the mutable per-token runtime record. Ownership (per
// SPEC_FULL.md §3):
//   - identity fields are set once at startup by the Supervisor.
//   - ranking/provenance fields are mutated only by the Refresh Engine's
//     install, under this TokenState's own ranking lock; the WhaleIndex
//     lock is not held for this step.
//   - Price/PriceUpdatedAt are mutated only by the Price Oracle Client.
//   - Poll loops are strictly read-only on all fields below.
type TokenState struct {
	// identity
	Address  common.Address
	Chain    string
	Symbol   string
	Decimals uint8

	// pricing - owned by the price oracle client
	priceMu        sync.RWMutex
	price          float64
	priceUpdatedAt time.Time

	// ranking - owned by the refresh engine; replaced wholesale on install
	rankMu     sync.RWMutex
	whitelist  map[common.Address]struct{}
	details    map[common.Address]HolderEntry

	// provenance
	Source      SourceTag
	LastRefresh time.Time

	// degradation - sticky for process lifetime once set
	degradedMu      sync.Mutex
	primaryDegraded bool
}

// NewTokenState constructs an empty TokenState for the given identity.
func NewTokenState(addr common.Address, chain, symbol string, decimals uint8) *TokenState {
	return &TokenState{
		Address:   addr,
		Chain:     chain,
		Symbol:    symbol,
		Decimals:  decimals,
		whitelist: map[common.Address]struct{}{},
		details:   map[common.Address]HolderEntry{},
	}
}

// SetPrice atomically updates the latest spot price and its timestamp.
func (t *TokenState) SetPrice(price float64, at time.Time) {
	t.priceMu.Lock()
	defer t.priceMu.Unlock()
	t.price = price
	t.priceUpdatedAt = at
}

// Price returns the latest known spot price and its timestamp.
func (t *TokenState) Price() (float64, time.Time) {
	t.priceMu.RLock()
	defer t.priceMu.RUnlock()
	return t.price, t.priceUpdatedAt
}

// Whitelist returns a snapshot of the current whale address set.
func (t *TokenState) Whitelist() map[common.Address]struct{} {
	t.rankMu.RLock()
	defer t.rankMu.RUnlock()
	out := make(map[common.Address]struct{}, len(t.whitelist))
	for a := range t.whitelist {
		out[a] = struct{}{}
	}
	return out
}

// Detail returns the HolderEntry for addr and whether it is currently a whale.
func (t *TokenState) Detail(addr common.Address) (HolderEntry, bool) {
	t.rankMu.RLock()
	defer t.rankMu.RUnlock()
	d, ok := t.details[addr]
	return d, ok
}

// ReplaceRanking installs a new whitelist/details pair wholesale under the
// TokenState's ranking lock. The Refresh Engine calls it right after
// WhaleIndex.Replace has returned, so the WhaleIndex lock is not held here
// and a concurrent reader can briefly see the new index entries alongside
// the old TokenState ranking.
func (t *TokenState) ReplaceRanking(whitelist map[common.Address]struct{}, details map[common.Address]HolderEntry, source SourceTag, at time.Time) {
	t.rankMu.Lock()
	t.whitelist = whitelist
	t.details = details
	t.rankMu.Unlock()
	t.Source = source
	t.LastRefresh = at
}

// SetPrimaryDegraded sets the sticky primary-provider degradation flag.
func (t *TokenState) SetPrimaryDegraded() {
	t.degradedMu.Lock()
	defer t.degradedMu.Unlock()
	t.primaryDegraded = true
}

// PrimaryDegraded reports whether the primary provider is degraded for this token.
func (t *TokenState) PrimaryDegraded() bool {
	t.degradedMu.Lock()
	defer t.degradedMu.Unlock()
	return t.primaryDegraded
}

// AlertKind classifies a detected transfer relative to a known whale.
type AlertKind string

const (
	KindBuy  AlertKind = "buy"
	KindSell AlertKind = "sell"
	KindMint AlertKind = "mint"
	KindBurn AlertKind = "burn"
)

// AlertRecord is ephemeral and never persisted.
type AlertRecord struct {
	Token       common.Address
	TokenSymbol string
	Chain       string
	Whale       common.Address
	Rank        int
	Kind        AlertKind
	Amount      *big.Float
	USDValue    float64
	TxHash      common.Hash
	BlockNumber uint64
}
