// Package cache implements the Holder Cache Store: a crash-safe on-disk
// key->document store keyed by (chain, token), used as a write-through
// backup and last-resort fallback for the whale-set refresh engine.
//
// Grounded on original_source/cache.py's WhaleCache (temp-file then
// os.rename atomic write, a single mutex shared by reads and writes, and
// a metadata-only accessor distinct from the full load).
package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HolderRecord is one ranked holder as persisted on disk.
type HolderRecord struct {
	Address         string  `json:"address"`
	Rank            int     `json:"rank"`
	Balance         string  `json:"balance"` // decimal string, arbitrary precision
	ReadableBalance float64 `json:"readableBalance,omitempty"`
}

// Document is the on-disk shape of a cached holder set (SPEC_FULL.md §3).
type Document struct {
	TokenAddress string         `json:"token_address"`
	ChainID      uint64         `json:"chain,omitempty"`
	Symbol       string         `json:"symbol"`
	Decimals     uint8          `json:"decimals"`
	UpdatedAt    float64        `json:"updated_at"`
	UpdatedAtStr string         `json:"updated_at_str,omitempty"`
	Source       string         `json:"source"`
	HoldersCount int            `json:"holders_count"`
	Holders      []HolderRecord `json:"holders"`
}

// Metadata is the envelope-only accessor result: updated_at/source/count.
// The file is still decoded in full to produce it.
type Metadata struct {
	UpdatedAt time.Time
	Source    string
	Count     int
}

// Store is a process-local, mutex-guarded JSON document store.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// path resolves the file for (chainID, token). Filenames are prefixed by
// chain id to avoid collisions between tokens that share an address across
// chains -- the one ambiguity flagged in SPEC_FULL.md §9/§4.1.
func (s *Store) path(chainID uint64, token common.Address) string {
	addr := strings.ToLower(strings.TrimPrefix(token.Hex(), "0x"))
	return filepath.Join(s.dir, fmt.Sprintf("holders_%d_%s.json", chainID, addr))
}

// Save atomically persists a ranked holder set. Failures are reported as a
// bool, not an error: the refresh engine treats a cache write failure as
// non-fatal (it already has the data it needs to install).
func (s *Store) Save(chainID uint64, token common.Address, holders []HolderRecord, symbol string, source string, decimals uint8) bool {
	now := time.Now()
	// Float seconds lose sub-microsecond precision; step up to the next
	// representable value until reading it back is not earlier than now.
	updatedAt := float64(now.UnixNano()) / 1e9
	for time.Unix(0, int64(updatedAt*1e9)).Before(now) {
		updatedAt = math.Nextafter(updatedAt, math.Inf(1))
	}
	doc := Document{
		TokenAddress: strings.ToLower(token.Hex()),
		ChainID:      chainID,
		Symbol:       symbol,
		Decimals:     decimals,
		UpdatedAt:    updatedAt,
		UpdatedAtStr: now.Format(time.RFC3339),
		Source:       source,
		HoldersCount: len(holders),
		Holders:      holders,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false
	}

	target := s.path(chainID, token)
	tmp := target + ".tmp"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return false
	}
	return true
}

// Load returns the full document for (chainID, token), or (nil, false) if
// absent, unreadable, or -- when maxAge is non-zero -- older than maxAge.
// maxAge == 0 means "no freshness check".
func (s *Store) Load(chainID uint64, token common.Address, maxAge time.Duration) (*Document, bool) {
	doc, ok := s.read(chainID, token)
	if !ok {
		return nil, false
	}
	if maxAge > 0 {
		age := time.Since(time.Unix(0, int64(doc.UpdatedAt*1e9)))
		if age > maxAge {
			return nil, false
		}
	}
	return doc, true
}

// Metadata returns the envelope fields only, used by the refresh engine to
// distinguish "no usable cache" from "expired usable cache" ahead of Load.
func (s *Store) Metadata(chainID uint64, token common.Address) (Metadata, bool) {
	doc, ok := s.read(chainID, token)
	if !ok {
		return Metadata{}, false
	}
	return Metadata{
		UpdatedAt: time.Unix(0, int64(doc.UpdatedAt*1e9)),
		Source:    doc.Source,
		Count:     doc.HoldersCount,
	}, true
}

func (s *Store) read(chainID uint64, token common.Address) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(chainID, token))
	if err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

// Delete removes the cached document for (chainID, token), if any.
func (s *Store) Delete(chainID uint64, token common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.Remove(s.path(chainID, token)) == nil
}

// ListCachedTokens enumerates all (chainID, token) pairs present on disk,
// for operator tooling -- adapted from original_source/cache.py's
// list_cached_tokens.
func (s *Store) ListCachedTokens() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("cache: list dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "holders_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "holders_"), ".json"))
	}
	return out, nil
}

// ClearAll removes every cached document, returning the count removed.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "holders_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if os.Remove(filepath.Join(s.dir, name)) == nil {
			count++
		}
	}
	return count
}
