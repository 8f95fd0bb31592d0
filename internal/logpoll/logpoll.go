// Package logpoll implements the Log Polling Engine of SPEC_FULL.md §4.8:
// one goroutine per chain, batching Transfer log queries and classifying
// hits against the shared WhaleIndex.
package logpoll

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ChoSanghyuk/whalewatch/internal/alert"
	"github.com/ChoSanghyuk/whalewatch/internal/dedup"
	"github.com/ChoSanghyuk/whalewatch/internal/model"
	"github.com/ChoSanghyuk/whalewatch/internal/whaleindex"
	"github.com/ChoSanghyuk/whalewatch/pkg/retry"
)

// TransferTopic is the ERC-20 Transfer(address,address,uint256) event
// signature hash, topic-0 of every qualifying log.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var (
	zeroAddress = common.HexToAddress("0x0000000000000000000000000000000000000000")
	deadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

// Monitored is one token tracked on a given chain.
type Monitored struct {
	Spec  model.TokenSpec
	State *model.TokenState
}

// Poller runs the per-chain tick loop of §4.8 for one ChainDescriptor.
type Poller struct {
	Chain  model.ChainDescriptor
	Client *ethclient.Client
	Tokens map[common.Address]*Monitored

	Index    *whaleindex.Index
	Dedup    *dedup.Set
	Notifier *alert.Notifier

	PollInterval         time.Duration
	RPCTimeout           time.Duration
	MaxConsecutiveErrors int
	MaxRetries           int
	BaseRetryDelay       time.Duration

	lastBlock         uint64
	consecutiveErrors int
	lastAdvance       time.Time
	lastHeartbeat     time.Time
}

// Init reads the chain head and sets it as the starting point: historical
// replay is explicitly out of scope (§4.8 "Loop invariant").
func (p *Poller) Init(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout())
	defer cancel()
	head, err := p.Client.BlockNumber(callCtx)
	if err != nil {
		return fmt.Errorf("logpoll: %s: read initial head: %w", p.Chain.Name, err)
	}
	p.lastBlock = head
	now := clock()
	p.lastAdvance = now
	p.lastHeartbeat = now
	return nil
}

func (p *Poller) rpcTimeout() time.Duration {
	if p.RPCTimeout > 0 {
		return p.RPCTimeout
	}
	return 10 * time.Second
}

// Run loops ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.tick(ctx)
		p.maybeHeartbeat()

		sleep := p.PollInterval
		if p.consecutiveErrors > 0 {
			backoff := time.Duration(minInt(5*p.consecutiveErrors, 30)) * time.Second
			if backoff > sleep {
				sleep = backoff
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// tick implements §4.8 steps 1-5: read head, batch-fetch, classify,
// advance, and the consecutive-error escalation policy.
func (p *Poller) tick(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout())
	head, err := p.Client.BlockNumber(callCtx)
	cancel()
	if err != nil {
		p.onTickError(ctx, fmt.Errorf("read head: %w", err))
		return
	}

	if head <= p.lastBlock {
		return
	}

	addrs := make([]common.Address, 0, len(p.Tokens))
	for a := range p.Tokens {
		addrs = append(addrs, a)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(p.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: addrs,
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	var logs []types.Log
	err = retry.Do(ctx, retry.Policy{MaxRetries: p.maxRetries(), BaseDelay: p.baseRetryDelay()}, func(opCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(opCtx, p.rpcTimeout())
		defer cancel()
		var ferr error
		logs, ferr = p.Client.FilterLogs(callCtx, query)
		return ferr
	})
	if err != nil {
		p.onTickError(ctx, fmt.Errorf("filter logs: %w", err))
		return
	}

	for _, lg := range logs {
		p.classify(ctx, lg)
	}

	p.lastBlock = head
	p.lastAdvance = clock()
	p.consecutiveErrors = 0
}

func (p *Poller) onTickError(ctx context.Context, err error) {
	p.consecutiveErrors++
	log.Printf("[logpoll] %s: tick error (%d consecutive): %v", p.Chain.Name, p.consecutiveErrors, err)

	if p.consecutiveErrors >= p.maxConsecutiveErrors() {
		if p.Notifier != nil {
			_ = p.Notifier.Notice(ctx, fmt.Sprintf("%s poll loop hit %d consecutive errors, pausing 60s", p.Chain.DisplayName, p.consecutiveErrors))
		}
		select {
		case <-ctx.Done():
		case <-time.After(60 * time.Second):
		}
		p.consecutiveErrors = 0
	}
}

func (p *Poller) maxConsecutiveErrors() int {
	if p.MaxConsecutiveErrors > 0 {
		return p.MaxConsecutiveErrors
	}
	return 5
}

func (p *Poller) maxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return 3
}

func (p *Poller) baseRetryDelay() time.Duration {
	if p.BaseRetryDelay > 0 {
		return p.BaseRetryDelay
	}
	return 500 * time.Millisecond
}

// maybeHeartbeat implements §4.8's heartbeat/stale-chain warning: a log
// line every 60s, and a distinct warning if 180s pass with no new block.
func (p *Poller) maybeHeartbeat() {
	now := clock()
	if now.Sub(p.lastHeartbeat) >= 60*time.Second {
		log.Printf("[logpoll] %s: heartbeat, last_block=%d", p.Chain.Name, p.lastBlock)
		p.lastHeartbeat = now
	}
	if now.Sub(p.lastAdvance) > 180*time.Second {
		log.Printf("[logpoll] %s: WARNING stale chain, no new block in %s", p.Chain.Name, now.Sub(p.lastAdvance))
	}
}

// classify implements the §4.8.1 classification algorithm exactly.
func (p *Poller) classify(ctx context.Context, lg types.Log) {
	// Step 1: malformed log drop.
	if len(lg.Topics) < 3 {
		return
	}

	txHash := lg.TxHash.Hex()

	// Step 2: dedup short-circuit.
	if p.Dedup.Contains(txHash) {
		return
	}

	// Step 3: token resolution.
	mon, ok := p.Tokens[lg.Address]
	if !ok {
		return
	}

	// Step 4: decode + checksum-normalize from/to.
	from := common.HexToAddress(lg.Topics[1].Hex())
	to := common.HexToAddress(lg.Topics[2].Hex())

	// Step 5: mint/burn flags.
	isMint := from == zeroAddress
	isBurn := to == zeroAddress || to == deadAddress

	// Step 6: from wins ties against the WhaleIndex restricted to this token.
	fromRank, fromIsWhale := p.Index.RankFor(from, mon.Spec.Address)
	toRank, toIsWhale := p.Index.RankFor(to, mon.Spec.Address)

	var kind model.AlertKind
	var whale common.Address
	var rank int
	switch {
	case fromIsWhale && isBurn:
		kind, whale, rank = model.KindBurn, from, fromRank
	case fromIsWhale:
		kind, whale, rank = model.KindSell, from, fromRank
	case toIsWhale && isMint:
		kind, whale, rank = model.KindMint, to, toRank
	case toIsWhale:
		kind, whale, rank = model.KindBuy, to, toRank
	default:
		return
	}

	// Step 8: amount/usd value.
	amountRaw := new(big.Int).SetBytes(lg.Data)
	amount := model.HolderEntry{Balance: amountRaw}.ReadableBalance(mon.State.Decimals)
	price, _ := mon.State.Price()
	amountF, _ := amount.Float64()
	usdValue := amountF * price

	// Step 9/10: threshold gate; dedup insert happens either way.
	if usdValue < mon.Spec.ThresholdUSD {
		p.Dedup.Add(txHash)
		return
	}
	p.Dedup.Add(txHash)

	rec := model.AlertRecord{
		Token:       mon.Spec.Address,
		TokenSymbol: mon.State.Symbol,
		Chain:       p.Chain.Name,
		Whale:       whale,
		Rank:        rank,
		Kind:        kind,
		Amount:      amount,
		USDValue:    usdValue,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
	}

	if p.Notifier != nil {
		if err := p.Notifier.Alert(ctx, rec, p.Chain); err != nil {
			log.Printf("[logpoll] %s: alert delivery failed: %v", p.Chain.Name, err)
		}
	}
}

// clock is indirected for test determinism.
var clock = time.Now
