// Package supervisor owns process lifetime: it builds every TokenState
// once at startup, then runs the refresh engine, one log poller per
// chain, the price-refresh loop, and the status-print loop side by side
// until the context is cancelled (SPEC_FULL.md §4.10, §5).
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ChoSanghyuk/whalewatch/configs"
	"github.com/ChoSanghyuk/whalewatch/internal/alert"
	"github.com/ChoSanghyuk/whalewatch/internal/cache"
	"github.com/ChoSanghyuk/whalewatch/internal/chainpool"
	"github.com/ChoSanghyuk/whalewatch/internal/db"
	"github.com/ChoSanghyuk/whalewatch/internal/dedup"
	"github.com/ChoSanghyuk/whalewatch/internal/logpoll"
	"github.com/ChoSanghyuk/whalewatch/internal/model"
	"github.com/ChoSanghyuk/whalewatch/internal/priceoracle"
	"github.com/ChoSanghyuk/whalewatch/internal/provider"
	"github.com/ChoSanghyuk/whalewatch/internal/refresh"
	"github.com/ChoSanghyuk/whalewatch/internal/whaleindex"
)

// countingSink wraps a delivery Sink to give the status loop a running
// count of successful Send calls on the inner sink, independent of the
// sink's own internal error counter. Whale alerts and system notices are
// counted alike, and with noopSink every discarded message counts.
type countingSink struct {
	inner alert.Sink
	sent  int64
}

func (c *countingSink) Send(ctx context.Context, text string) error {
	if err := c.inner.Send(ctx, text); err != nil {
		return err
	}
	atomic.AddInt64(&c.sent, 1)
	return nil
}

// noopSink discards alerts; used when no Telegram bot token is configured
// so the pipeline still runs end to end in a degraded delivery mode.
type noopSink struct{}

func (noopSink) Send(ctx context.Context, text string) error { return nil }

// Supervisor wires every component described by SPEC_FULL.md §4 together
// and runs them for the life of the process.
type Supervisor struct {
	cfg *configs.CoreConfig

	pool     *chainpool.Pool
	store    *cache.Store
	index    *whaleindex.Index
	dedup    *dedup.Set
	engine   *refresh.Engine
	pollers  []*logpoll.Poller
	price    *priceoracle.Client
	entries  []priceoracle.Entry
	sink     *countingSink
	notifier *alert.Notifier
	recorder *db.Recorder // nil when MySQLDSN is unset
}

// New builds the full dependency graph: dials every configured chain,
// reads each token's symbol()/decimals() once, and constructs the
// refresh engine and per-chain pollers. It does not start any loop.
func New(ctx context.Context, cfg *configs.CoreConfig) (*Supervisor, error) {
	chains := make([]model.ChainDescriptor, 0, len(cfg.Chains))
	for _, d := range cfg.Chains {
		chains = append(chains, d)
	}

	pool, err := chainpool.Init(ctx, chains, cfg.RPCTimeout)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	store, err := cache.NewStore(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	idx := whaleindex.New()
	dd := dedup.New(cfg.DedupCapacity)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	primary := &provider.PrimaryAdapter{BaseURL: cfg.PrimaryProviderURL, APIKey: cfg.Secrets.PrimaryProviderAPIKey, HTTPClient: httpClient}
	secondary := &provider.SecondaryAdapter{BaseURL: cfg.SecondaryProviderURL, HTTPClient: httpClient}

	var rawSink alert.Sink
	if cfg.Secrets.TelegramBotToken != "" {
		rawSink = &alert.TelegramSink{BotToken: cfg.Secrets.TelegramBotToken, ChatID: cfg.Secrets.TelegramChatID, HTTPClient: httpClient}
	} else {
		rawSink = noopSink{}
	}
	sink := &countingSink{inner: rawSink}
	notifier := &alert.Notifier{Sink: sink}

	tracked := make([]*refresh.Tracked, 0, len(cfg.Tokens))
	priceEntries := make([]priceoracle.Entry, 0, len(cfg.Tokens))
	perChainTokens := make(map[string]map[common.Address]*logpoll.Monitored, len(cfg.Chains))

	for _, spec := range cfg.Tokens {
		desc, ok := cfg.Chains[spec.Chain]
		if !ok {
			return nil, fmt.Errorf("supervisor: token %s references unconfigured chain %s", spec.Address.Hex(), spec.Chain)
		}

		symbol, decimals := "", uint8(18)
		if s, err := pool.Symbol(ctx, spec.Chain, spec.Address); err == nil {
			symbol = s
		} else {
			log.Printf("[supervisor] %s/%s: symbol() read failed, leaving blank: %v", spec.Chain, spec.Address.Hex(), err)
		}
		if dcs, err := pool.Decimals(ctx, spec.Chain, spec.Address); err == nil {
			decimals = dcs
		} else {
			log.Printf("[supervisor] %s/%s: decimals() read failed, defaulting to 18: %v", spec.Chain, spec.Address.Hex(), err)
		}

		state := model.NewTokenState(spec.Address, spec.Chain, symbol, decimals)

		tracked = append(tracked, &refresh.Tracked{Spec: spec, State: state, ChainID: desc.ChainID})
		priceEntries = append(priceEntries, priceoracle.Entry{State: state, PricePrefix: desc.PriceOraclePrefix})

		byAddr, ok := perChainTokens[spec.Chain]
		if !ok {
			byAddr = make(map[common.Address]*logpoll.Monitored)
			perChainTokens[spec.Chain] = byAddr
		}
		byAddr[spec.Address] = &logpoll.Monitored{Spec: spec, State: state}
	}

	pollers := make([]*logpoll.Poller, 0, len(perChainTokens))
	for chainName, tokens := range perChainTokens {
		desc := cfg.Chains[chainName]
		client, ok := pool.Client(chainName)
		if !ok {
			return nil, fmt.Errorf("supervisor: chain %s has tracked tokens but failed to dial", chainName)
		}
		pollers = append(pollers, &logpoll.Poller{
			Chain:                desc,
			Client:               client,
			Tokens:               tokens,
			Index:                idx,
			Dedup:                dd,
			Notifier:             notifier,
			PollInterval:         cfg.BlockPollInterval,
			RPCTimeout:           cfg.RPCTimeout,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
			MaxRetries:           cfg.MaxRetries,
			BaseRetryDelay:       cfg.BaseRetryDelay,
		})
	}

	engine := refresh.NewEngine(idx, store, primary, secondary, cfg.WhaleRefreshInterval,
		cfg.CacheFreshnessConfigured, cfg.CacheFreshnessHorizon, tracked)

	var recorder *db.Recorder
	if cfg.MySQLDSN != "" {
		recorder, err = db.NewRecorder(cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
	}

	return &Supervisor{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		index:    idx,
		dedup:    dd,
		engine:   engine,
		pollers:  pollers,
		price:    &priceoracle.Client{BaseURL: cfg.PriceOracleURL, HTTPClient: httpClient},
		entries:  priceEntries,
		sink:     sink,
		notifier: notifier,
		recorder: recorder,
	}, nil
}

// Run starts every loop and blocks until ctx is cancelled or one loop
// returns a fatal error; the others are then cancelled in turn.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range s.pollers {
		p := p
		if err := p.Init(gctx); err != nil {
			return fmt.Errorf("supervisor: %s: %w", p.Chain.Name, err)
		}
		g.Go(func() error {
			p.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		s.engine.Run(gctx)
		return nil
	})

	g.Go(func() error {
		s.runPriceLoop(gctx)
		return nil
	})

	g.Go(func() error {
		s.runStatusLoop(gctx)
		return nil
	})

	return g.Wait()
}

func (s *Supervisor) runPriceLoop(ctx context.Context) {
	interval := s.cfg.PriceRefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.price.RefreshAll(ctx, s.entries); err != nil {
				log.Printf("[supervisor] price refresh failed: %v", err)
			}
		}
	}
}

func (s *Supervisor) runStatusLoop(ctx context.Context) {
	interval := s.cfg.StatusPrintInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.printStatus()
		}
	}
}

func (s *Supervisor) printStatus() {
	tracked := s.engine.Tracked()
	degraded := 0
	for _, t := range tracked {
		if t.State.PrimaryDegraded() {
			degraded++
		}
	}

	sent := atomic.LoadInt64(&s.sink.sent)
	sinkErrors := s.sinkErrors()
	log.Printf("[supervisor] tokens=%d chains=%d whales=%d degraded=%d alerts_sent=%d sink_errors=%d",
		len(tracked), len(s.pollers), s.index.Len(), degraded, sent, sinkErrors)

	if s.recorder == nil {
		return
	}
	snap := db.PipelineSnapshot{
		TokensTracked:   len(tracked),
		ChainsConnected: len(s.pollers),
		WhalesIndexed:   s.index.Len(),
		AlertsEmitted:   sent,
		SinkErrors:      sinkErrors,
		DegradedTokens:  degraded,
	}
	if err := s.recorder.Record(snap); err != nil {
		log.Printf("[supervisor] snapshot persistence failed: %v", err)
	}
}

func (s *Supervisor) sinkErrors() int64 {
	if tg, ok := s.sink.inner.(*alert.TelegramSink); ok {
		return tg.ErrorCount()
	}
	return 0
}

// Close releases RPC connections and, if configured, the database pool.
func (s *Supervisor) Close() {
	s.pool.Close()
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			log.Printf("[supervisor] closing db recorder: %v", err)
		}
	}
}
