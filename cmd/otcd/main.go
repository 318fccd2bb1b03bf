// Command otcd runs the broker: the JSON-RPC server, the per-deal deposit
// watchers, and the background driver loop that advances every active deal
// through its state machine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/otcswap/broker/internal/adapterregistry"
	"github.com/otcswap/broker/internal/audit"
	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/provider"
	_ "github.com/otcswap/broker/internal/chainadapter/provider/alchemy"
	"github.com/otcswap/broker/internal/coinregistry"
	"github.com/otcswap/broker/internal/commission"
	"github.com/otcswap/broker/internal/config"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/engine"
	"github.com/otcswap/broker/internal/mail"
	"github.com/otcswap/broker/internal/oracle"
	"github.com/otcswap/broker/internal/payout"
	"github.com/otcswap/broker/internal/ratelimit"
	"github.com/otcswap/broker/internal/rpcserver"
	"github.com/otcswap/broker/internal/store"
	"github.com/otcswap/broker/internal/watcher"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("otcd: failed to load configuration: %v", err)
	}

	mnemonic := os.Getenv("BROKER_MNEMONIC")
	if mnemonic == "" {
		log.Fatal("otcd: BROKER_MNEMONIC is required")
	}
	keys, err := chainadapter.NewMnemonicKeySource(mnemonic, os.Getenv("BROKER_MNEMONIC_PASSPHRASE"))
	if err != nil {
		log.Fatalf("otcd: invalid BROKER_MNEMONIC: %v", err)
	}

	chains := coinregistry.NewRegistry()
	priceSource := priceSourceFrom(os.Getenv("ALCHEMY_API_KEY"))
	registry := adapterregistry.NewService(adapterConfigsFrom(cfg, chains), keys, priceSource, nil)

	dataDir := envOrDefault("DATA_DIR", "./data")
	deals, err := store.NewFileDealStore(filepath.Join(dataDir, "deals"))
	if err != nil {
		log.Fatalf("otcd: failed to open deal store: %v", err)
	}
	tokens := store.NewMemoryTokenStore()
	payouts := store.NewMemoryPayoutStore()
	quotes := oracle.NewStore()
	mailer := mail.New(cfg.EmailEnabled, nil)
	limiter := ratelimit.NewRateLimiter(10, time.Minute)
	auditLogger, err := audit.NewAuditLogger(filepath.Join(dataDir, "audit.ndjson"))
	if err != nil {
		log.Fatalf("otcd: failed to open audit log: %v", err)
	}

	planner := commission.NewPlanner(cfg.StablecoinFixedUSDAssets, erc20FeesFrom(cfg))
	queue := payout.NewQueue(payouts, registry.GetAdapter)
	operatorAddr := operatorAddressResolver(cfg)
	eng := engine.New(deals, registry, planner, queue, operatorAddr)
	if cfg.SwapGracePeriod > 0 {
		eng.GracePeriod = cfg.SwapGracePeriod
	}

	server := rpcserver.New(deals, tokens, payouts, quotes, chains, mailer, limiter, auditLogger, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := &driver{deals: deals, engine: eng, queue: queue, registry: registry, payouts: payouts, watchers: map[string]context.CancelFunc{}}
	go d.run(ctx)

	log.Printf("otcd: starting on %s", cfg.ListenAddr)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Printf("otcd: rpc server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("otcd: shutting down")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func adapterConfigsFrom(cfg *config.Config, chains *coinregistry.Registry) []adapterregistry.ChainConfig {
	var out []adapterregistry.ChainConfig
	for chainID, cc := range cfg.Chains {
		meta, err := chains.Get(chainID)
		if err != nil {
			log.Printf("otcd: %s_RPC configured but chain is not registered, skipping", chainID)
			continue
		}
		entry := adapterregistry.ChainConfig{
			ChainID:          chainID,
			RPCEndpoint:      cc.RPCEndpoint,
			MinConfirmations: meta.MinConfirmations,
			Category:         string(meta.Category),
		}
		if meta.Category == coinregistry.ChainCategoryUTXO {
			entry.Network = "mainnet"
		}
		if meta.Category == coinregistry.ChainCategoryEVM {
			entry.NetworkID = evmNetworkID(chainID)
		}
		out = append(out, entry)
	}
	return out
}

// priceSourceFrom builds the Alchemy-backed BlockchainProvider used for
// QuoteNativeForUSD when FIXED_USD_NATIVE commissions need a live rate; a
// deployment without ALCHEMY_API_KEY falls back to each adapter's own
// chain-specific default quoting path.
func priceSourceFrom(apiKey string) provider.BlockchainProvider {
	if apiKey == "" {
		return nil
	}
	// ChainID only selects this instance's RPC base URL for non-price calls;
	// GetNativeUSDPrice hits Alchemy's chain-agnostic Prices API directly.
	p, err := provider.GetRegistry().GetProvider(&provider.ProviderConfig{
		ProviderType: "alchemy",
		APIKey:       apiKey,
		ChainID:      "ethereum",
		Enabled:      true,
	})
	if err != nil {
		log.Printf("otcd: failed to initialize alchemy price source: %v", err)
		return nil
	}
	return p
}

func evmNetworkID(chainID string) int64 {
	switch chainID {
	case "ethereum":
		return 1
	case "polygon":
		return 137
	default:
		return 0
	}
}

func erc20FeesFrom(cfg *config.Config) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for chainID, cc := range cfg.Chains {
		out[chainID] = cc.ERC20FixedFee
	}
	return out
}

// operatorAddressResolver reads OPERATOR_ADDRESS_{CHAIN} for the commission
// wallet on each configured chain.
func operatorAddressResolver(cfg *config.Config) payout.OperatorAddress {
	return func(chainID string) string {
		return os.Getenv("OPERATOR_ADDRESS_" + upper(chainID))
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// driver periodically scans every active deal and drives its transition
// checks, and owns one watcher goroutine per live escrow.
type payoutLister interface {
	ByDeal(dealID string) []*payout.Intent
}

type driver struct {
	deals    store.DealStore
	engine   *engine.Engine
	queue    *payout.Queue
	registry *adapterregistry.Service
	payouts  payoutLister

	mu       sync.Mutex
	watchers map[string]context.CancelFunc // dealID|side -> cancel
}

func (d *driver) run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *driver) tick(ctx context.Context) {
	active, err := d.deals.Active(time.Now())
	if err != nil {
		log.Printf("otcd: failed to list active deals: %v", err)
		return
	}
	for _, dl := range active {
		d.driveDeal(ctx, dl)
	}
}

func (d *driver) driveDeal(ctx context.Context, dl *deal.Deal) {
	dealID := dl.ID
	switch dl.Stage {
	case deal.StageCreated:
		if dl.BothPartiesLocked() {
			if err := d.engine.EnterCollection(ctx, dealID); err != nil {
				log.Printf("otcd: EnterCollection failed for %s: %v", dealID, err)
				return
			}
			d.startWatchers(ctx, dealID)
		}
	case deal.StageCollection:
		d.startWatchers(ctx, dealID)
		if err := d.engine.CheckSufficiency(dealID); err != nil {
			log.Printf("otcd: CheckSufficiency failed for %s: %v", dealID, err)
		}
	case deal.StageWaiting:
		d.startWatchers(ctx, dealID)
		if err := d.engine.CheckReorg(dealID); err != nil {
			log.Printf("otcd: CheckReorg failed for %s: %v", dealID, err)
		}
		if err := d.engine.CheckGracePeriod(dealID); err != nil {
			log.Printf("otcd: CheckGracePeriod failed for %s: %v", dealID, err)
		}
	case deal.StageSwap:
		d.driveSwapPayouts(ctx, dl)
	case deal.StageClosed, deal.StageReverted:
		d.stopWatchers(dealID)
		d.surveilClosedDeal(ctx, dl)
	}
}

// surveilClosedDeal implements the post-closure surveillance window:
// store.DealStore.Active keeps returning a CLOSED/REVERTED deal for 24h
// after it settles so a deposit landing on its escrow after the fact is
// still observed and refunded to its depositor's payback address, rather
// than being silently stranded. Adapter calls happen before the deal lock
// is taken, the same pattern EnterCollection uses, so a slow adapter never
// blocks other work on this deal.
func (d *driver) surveilClosedDeal(ctx context.Context, dl *deal.Deal) {
	type observation struct {
		side    deal.Side
		raw     []chainadapter.RawDeposit
		minConf int
	}
	var observations []observation
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		escrow, ok := dl.Escrow[side]
		if !ok || escrow.Address == "" {
			continue
		}
		spec := dl.Spec[side]
		adapter, err := d.registry.GetAdapter(ctx, spec.ChainID)
		if err != nil {
			log.Printf("otcd: no adapter for chain %s during closure surveillance: %v", spec.ChainID, err)
			continue
		}
		raw, err := adapter.ListDeposits(ctx, &chainadapter.Escrow{Address: escrow.Address, KeyRef: escrow.KeyRef}, nil)
		if err != nil {
			log.Printf("otcd: closure surveillance listDeposits failed for deal=%s side=%s: %v", dl.ID, side, err)
			continue
		}
		observations = append(observations, observation{side: side, raw: raw, minConf: adapter.Capabilities().MinConfirmations})
	}
	if len(observations) == 0 {
		return
	}

	var intents []*payout.Intent
	err := d.mutateDeal(dl.ID, func(cur *deal.Deal) {
		if cur.Stage != deal.StageClosed && cur.Stage != deal.StageReverted {
			return
		}
		for _, obs := range observations {
			watcher.Reconcile(cur, obs.side, obs.raw, obs.minConf)
			sideIntents, err := payout.PlanClosureSurplusRefund(cur, obs.side)
			if err != nil {
				log.Printf("otcd: PlanClosureSurplusRefund failed for deal=%s side=%s: %v", cur.ID, obs.side, err)
				continue
			}
			intents = append(intents, sideIntents...)
		}
	})
	if err != nil {
		log.Printf("otcd: closure surveillance failed for %s: %v", dl.ID, err)
		return
	}

	for _, intent := range intents {
		if err := d.queue.Enqueue(intent); err != nil {
			log.Printf("otcd: failed to enqueue closure surplus refund for %s: %v", dl.ID, err)
			continue
		}
		if err := d.queue.ProcessQueueKey(ctx, intent.QueueKey()); err != nil {
			log.Printf("otcd: ProcessQueueKey %s failed during closure surveillance: %v", intent.QueueKey(), err)
		}
	}
}

func (d *driver) driveSwapPayouts(ctx context.Context, dl *deal.Deal) {
	intents := d.payoutsFor(dl.ID)
	keys := map[string]bool{}
	for _, intent := range intents {
		keys[intent.QueueKey()] = true
	}
	for key := range keys {
		if err := d.queue.ProcessQueueKey(ctx, key); err != nil {
			log.Printf("otcd: ProcessQueueKey %s failed: %v", key, err)
		}
	}

	intents = d.payoutsFor(dl.ID)
	if err := d.engine.CheckSwapCompletion(dl.ID, intents); err != nil {
		log.Printf("otcd: CheckSwapCompletion failed for %s: %v", dl.ID, err)
	}
	if err := d.engine.CheckSwapFailure(dl.ID, intents); err != nil {
		log.Printf("otcd: CheckSwapFailure failed for %s: %v", dl.ID, err)
	}
}

func (d *driver) payoutsFor(dealID string) []*payout.Intent {
	return d.payouts.ByDeal(dealID)
}

func (d *driver) startWatchers(ctx context.Context, dealID string) {
	dl, err := d.deals.Get(dealID)
	if err != nil {
		return
	}
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		escrow, ok := dl.Escrow[side]
		if !ok || escrow.Address == "" {
			continue
		}
		key := dealID + "|" + string(side)
		d.mu.Lock()
		_, running := d.watchers[key]
		d.mu.Unlock()
		if running {
			continue
		}

		spec := dl.Spec[side]
		adapter, err := d.registry.GetAdapter(ctx, spec.ChainID)
		if err != nil {
			log.Printf("otcd: no adapter for chain %s: %v", spec.ChainID, err)
			continue
		}

		watcherCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.watchers[key] = cancel
		d.mu.Unlock()

		w := watcher.NewWatcher(adapter, d.mutateDeal)
		go w.Run(watcherCtx, dealID, side, &chainadapter.Escrow{Address: escrow.Address, KeyRef: escrow.KeyRef})
	}
}

func (d *driver) stopWatchers(dealID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		key := dealID + "|" + string(side)
		if cancel, ok := d.watchers[key]; ok {
			cancel()
			delete(d.watchers, key)
		}
	}
}

func (d *driver) mutateDeal(dealID string, fn func(dl *deal.Deal)) error {
	return d.engine.WithDeal(dealID, func(dl *deal.Deal) error {
		fn(dl)
		return nil
	})
}
