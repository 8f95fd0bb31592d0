// Package whaleindex implements the shared WhaleIndex of SPEC_FULL.md §4.6:
// an address -> {token -> rank} lookup structure, written by the refresh
// engine and read by the log polling engine. It is the one place in the
// system where data races are possible by construction (§9 design note), so
// it is modeled as an opaque value with every mutation behind one mutex --
// the inner map is never exposed to callers.
package whaleindex

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Index is address -> token -> rank, guarded by a single RWMutex.
type Index struct {
	mu   sync.RWMutex
	data map[common.Address]map[common.Address]int
}

// New constructs an empty Index.
func New() *Index {
	return &Index{data: make(map[common.Address]map[common.Address]int)}
}

// Replace atomically swaps the whale-set for token: every address in
// oldSet but not newSet is removed (dropping the outer entry if it becomes
// empty), and every address in newSet is inserted with its rank from
// ranks. Concurrent Lookup calls observe either the pre- or post-state,
// never a mixture, per SPEC_FULL.md §4.6/§8.
func (idx *Index) Replace(token common.Address, oldSet, newSet map[common.Address]struct{}, ranks map[common.Address]int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for addr := range oldSet {
		if _, stillWhale := newSet[addr]; stillWhale {
			continue
		}
		inner, ok := idx.data[addr]
		if !ok {
			continue
		}
		delete(inner, token)
		if len(inner) == 0 {
			delete(idx.data, addr)
		}
	}

	for addr := range newSet {
		inner, ok := idx.data[addr]
		if !ok {
			inner = make(map[common.Address]int)
			idx.data[addr] = inner
		}
		inner[token] = ranks[addr]
	}
}

// Lookup returns a snapshot of the token->rank mapping for addr.
func (idx *Index) Lookup(addr common.Address) map[common.Address]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	inner, ok := idx.data[addr]
	if !ok {
		return nil
	}
	out := make(map[common.Address]int, len(inner))
	for k, v := range inner {
		out[k] = v
	}
	return out
}

// Len returns the number of distinct addresses currently indexed as a
// whale of at least one token, for status reporting.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.data)
}

// RankFor returns the rank of addr within token, and whether addr is
// currently a whale of that token -- the single-token-restricted lookup
// used by the classification algorithm (§4.8.1 step 6).
func (idx *Index) RankFor(addr, token common.Address) (int, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	inner, ok := idx.data[addr]
	if !ok {
		return 0, false
	}
	rank, ok := inner[token]
	return rank, ok
}
