// Package chainpool implements the Chain Client Pool of SPEC_FULL.md §4.5:
// one EVM JSON-RPC client per configured chain, validated at startup and
// reused by the refresh/poll engines.
package chainpool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

var (
	symbolSelector   = crypto.Keccak256([]byte("symbol()"))[:4]
	decimalsSelector = crypto.Keccak256([]byte("decimals()"))[:4]
)

// ErrAllChainsUnreachable is returned by Init when every configured chain
// failed to connect -- fatal per SPEC_FULL.md §4.5/§7 (ChainUnreachable).
var ErrAllChainsUnreachable = fmt.Errorf("chainpool: all configured chains unreachable")

// Pool holds one client per reachable chain, plus the last-observed head.
type Pool struct {
	clients map[string]*ethclient.Client
	descs   map[string]model.ChainDescriptor

	headMu sync.RWMutex
	heads  map[string]uint64

	timeout time.Duration
}

// Init validates each RPC endpoint: connects, reads chain_id, warns on a
// descriptor mismatch, and records the current head. Partial success
// continues with the reachable subset; total failure is fatal.
func Init(ctx context.Context, chains []model.ChainDescriptor, rpcTimeout time.Duration) (*Pool, error) {
	p := &Pool{
		clients: make(map[string]*ethclient.Client),
		descs:   make(map[string]model.ChainDescriptor),
		heads:   make(map[string]uint64),
		timeout: rpcTimeout,
	}

	for _, desc := range chains {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		client, err := ethclient.DialContext(callCtx, desc.RPCEndpoint)
		if err != nil {
			cancel()
			log.Printf("[chainpool] %s: dial failed: %v", desc.Name, err)
			continue
		}

		gotID, err := client.ChainID(callCtx)
		if err != nil {
			cancel()
			log.Printf("[chainpool] %s: chain_id query failed: %v", desc.Name, err)
			client.Close()
			continue
		}
		if gotID.Uint64() != desc.ChainID {
			log.Printf("[chainpool] %s: chain_id mismatch: configured %d, RPC reports %d", desc.Name, desc.ChainID, gotID.Uint64())
		}

		head, err := client.BlockNumber(callCtx)
		cancel()
		if err != nil {
			log.Printf("[chainpool] %s: head query failed: %v", desc.Name, err)
			client.Close()
			continue
		}

		p.clients[desc.Name] = client
		p.descs[desc.Name] = desc
		p.heads[desc.Name] = head
		log.Printf("[chainpool] %s: connected, head=%d", desc.Name, head)
	}

	if len(p.clients) == 0 {
		return nil, ErrAllChainsUnreachable
	}

	return p, nil
}

// Client returns the RPC client for chain, or (nil, false) if that chain
// failed to initialize.
func (p *Pool) Client(chain string) (*ethclient.Client, bool) {
	c, ok := p.clients[chain]
	return c, ok
}

// Chains returns the names of every chain that initialized successfully.
func (p *Pool) Chains() []string {
	out := make([]string, 0, len(p.clients))
	for name := range p.clients {
		out = append(out, name)
	}
	return out
}

// Head returns the last head recorded for chain by Init or SetHead.
func (p *Pool) Head(chain string) uint64 {
	p.headMu.RLock()
	defer p.headMu.RUnlock()
	return p.heads[chain]
}

// SetHead records a newly observed head for chain. The log polling engine
// tracks its own last block and does not call it.
func (p *Pool) SetHead(chain string, head uint64) {
	p.headMu.Lock()
	defer p.headMu.Unlock()
	p.heads[chain] = head
}

// Descriptor returns the ChainDescriptor for chain.
func (p *Pool) Descriptor(chain string) (model.ChainDescriptor, bool) {
	d, ok := p.descs[chain]
	return d, ok
}

// Close releases every underlying RPC connection.
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}

// Symbol and Decimals are the one-time ERC-20 metadata reads the
// Supervisor performs per token at startup (SPEC_FULL.md §4.10); they are
// the only on-chain `call(contract, method)` uses of the pool (§6b).

// Symbol calls the token's symbol() view function.
func (p *Pool) Symbol(ctx context.Context, chain string, token common.Address) (string, error) {
	client, ok := p.Client(chain)
	if !ok {
		return "", fmt.Errorf("chainpool: unknown chain %s", chain)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := client.CallContract(callCtx, ethereum.CallMsg{To: &token, Data: symbolSelector}, nil)
	if err != nil {
		return "", fmt.Errorf("chainpool: %s: symbol() call: %w", token.Hex(), err)
	}
	return decodeABIString(out)
}

// Decimals calls the token's decimals() view function.
func (p *Pool) Decimals(ctx context.Context, chain string, token common.Address) (uint8, error) {
	client, ok := p.Client(chain)
	if !ok {
		return 0, fmt.Errorf("chainpool: unknown chain %s", chain)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := client.CallContract(callCtx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil)
	if err != nil {
		return 0, fmt.Errorf("chainpool: %s: decimals() call: %w", token.Hex(), err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("chainpool: %s: decimals() returned %d bytes", token.Hex(), len(out))
	}
	return out[31], nil
}

// decodeABIString decodes the standard ABI encoding of a dynamic
// `string` return value: a 32-byte offset word, a 32-byte length word,
// then the UTF-8 bytes padded to a 32-byte boundary.
func decodeABIString(out []byte) (string, error) {
	if len(out) < 64 {
		return "", fmt.Errorf("chainpool: string return too short (%d bytes)", len(out))
	}
	strLen := beUint64(out[32:64])
	if 64+strLen > uint64(len(out)) {
		return "", fmt.Errorf("chainpool: string return length %d exceeds payload", strLen)
	}
	return string(out[64 : 64+strLen]), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
