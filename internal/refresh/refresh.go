// Package refresh implements the Refresh Engine of SPEC_FULL.md §4.7: a
// per-token state machine that chooses a holder-set source by freshness and
// degradation rules, and atomically installs the result into the shared
// WhaleIndex.
package refresh

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/whalewatch/internal/cache"
	"github.com/ChoSanghyuk/whalewatch/internal/model"
	"github.com/ChoSanghyuk/whalewatch/internal/provider"
	"github.com/ChoSanghyuk/whalewatch/internal/whaleindex"
)

// Tracked is everything the engine needs for one monitored token.
type Tracked struct {
	Spec    model.TokenSpec
	State   *model.TokenState
	ChainID uint64
}

// Engine runs the §4.7 per-token policy on a fixed tick.
type Engine struct {
	Index           *whaleindex.Index
	Store           *cache.Store
	Primary         provider.Adapter
	Secondary       provider.Adapter
	RefreshInterval time.Duration
	// FreshnessConfigured gates whether step 1 runs at all: the cache
	// freshness horizon of §6 is optional ("or never-expire"). When false,
	// the policy skips straight to step 2 regardless of FreshnessHorizon.
	FreshnessConfigured bool
	// FreshnessHorizon is passed straight to cache.Store.Load: zero means
	// "never expire" (use the cache document at any age), positive means
	// the usual max-age check.
	FreshnessHorizon time.Duration

	tracked []*Tracked
}

// NewEngine constructs an Engine over the given set of tracked tokens.
// freshnessConfigured selects whether step 1 (cache-fresh short circuit)
// participates in the policy at all; freshnessHorizon is its max age (zero
// meaning never-expire).
func NewEngine(index *whaleindex.Index, store *cache.Store, primary, secondary provider.Adapter, refreshInterval time.Duration, freshnessConfigured bool, freshnessHorizon time.Duration, tracked []*Tracked) *Engine {
	return &Engine{
		Index:               index,
		Store:               store,
		Primary:             primary,
		Secondary:           secondary,
		RefreshInterval:     refreshInterval,
		FreshnessConfigured: freshnessConfigured,
		FreshnessHorizon:    freshnessHorizon,
		tracked:             tracked,
	}
}

// Run loops on a ~10s tick, per SPEC_FULL.md §4.7 "Scheduling", refreshing
// any token whose last refresh is older than RefreshInterval. It returns
// when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	const tick = 10 * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tickOnce(ctx)
		}
	}
}

// Tracked returns the set of tokens this engine manages, for callers that
// need to report on it (the Supervisor's status loop).
func (e *Engine) Tracked() []*Tracked {
	return e.tracked
}

func (e *Engine) tickOnce(ctx context.Context) {
	now := time.Now()
	for _, t := range e.tracked {
		if now.Sub(t.State.LastRefresh) < e.RefreshInterval {
			continue
		}
		if err := e.RefreshOne(ctx, t); err != nil {
			log.Printf("[refresh] %s/%s: %v", t.Spec.Chain, t.Spec.Address.Hex(), err)
		}
	}
}

// RefreshOne executes the ordered policy of §4.7 for a single token.
func (e *Engine) RefreshOne(ctx context.Context, t *Tracked) error {
	// Step 1: fresh cache short-circuits with no write-back.
	if e.FreshnessConfigured {
		if doc, ok := e.Store.Load(t.ChainID, t.Spec.Address, e.FreshnessHorizon); ok {
			holders := decodeDoc(doc)
			e.install(t, holders, model.SourceCache, now())
			return nil
		}
	}

	// Step 2: primary adapter, unless degraded.
	if !t.State.PrimaryDegraded() {
		holders, _, err := e.Primary.Fetch(ctx, t.Spec, t.State)
		if err == nil {
			e.Store.Save(t.ChainID, t.Spec.Address, encodeHolders(holders), t.State.Symbol, string(model.SourcePrimary), t.State.Decimals)
			e.install(t, holders, model.SourcePrimary, now())
			return nil
		}
		if fe, ok := err.(*provider.FetchError); ok && fe.Kind == provider.RateLimited {
			t.State.SetPrimaryDegraded()
			log.Printf("[refresh] %s/%s: primary rate limited, degrading for process lifetime", t.Spec.Chain, t.Spec.Address.Hex())
		}
	}

	// Step 3: secondary adapter (Ethereum only).
	if e.Secondary != nil {
		holders, _, err := e.Secondary.Fetch(ctx, t.Spec, t.State)
		if err == nil {
			e.Store.Save(t.ChainID, t.Spec.Address, encodeHolders(holders), t.State.Symbol, string(model.SourceSecondary), t.State.Decimals)
			e.install(t, holders, model.SourceSecondary, now())
			return nil
		}
	}

	// Step 4: stale cache, no write-back.
	if doc, ok := e.Store.Load(t.ChainID, t.Spec.Address, 0); ok {
		holders := decodeDoc(doc)
		e.install(t, holders, model.SourceCache, now())
		return nil
	}

	// Step 5: hard failure, leave prior state intact.
	return fmt.Errorf("all sources exhausted for %s", t.Spec.Address.Hex())
}

// install is the only legal way to mutate ranking state (§4.7 "Install
// procedure"): build the new whitelist/details, capture the old whitelist,
// swap the WhaleIndex under its own lock, then assign the new ranking onto
// TokenState so the swap is observed only after the index is consistent.
func (e *Engine) install(t *Tracked, holders []model.HolderEntry, source model.SourceTag, at time.Time) {
	oldWhitelist := t.State.Whitelist()

	newWhitelist := make(map[common.Address]struct{}, len(holders))
	newDetails := make(map[common.Address]model.HolderEntry, len(holders))
	ranks := make(map[common.Address]int, len(holders))
	for _, h := range holders {
		newWhitelist[h.Address] = struct{}{}
		newDetails[h.Address] = h
		ranks[h.Address] = h.Rank
	}

	e.Index.Replace(t.Spec.Address, oldWhitelist, newWhitelist, ranks)
	t.State.ReplaceRanking(newWhitelist, newDetails, source, at)
}

func decodeDoc(doc *cache.Document) []model.HolderEntry {
	out := make([]model.HolderEntry, 0, len(doc.Holders))
	for _, h := range doc.Holders {
		bal, ok := new(big.Int).SetString(h.Balance, 10)
		if !ok {
			continue
		}
		out = append(out, model.HolderEntry{Address: common.HexToAddress(h.Address), Rank: h.Rank, Balance: bal})
	}
	return out
}

func encodeHolders(holders []model.HolderEntry) []cache.HolderRecord {
	out := make([]cache.HolderRecord, 0, len(holders))
	for _, h := range holders {
		out = append(out, cache.HolderRecord{
			Address: h.Address.Hex(),
			Rank:    h.Rank,
			Balance: h.Balance.String(),
		})
	}
	return out
}

// now is indirected for testability (tests can't rely on wall-clock
// ordering beyond "some time after RefreshOne starts").
var now = time.Now
