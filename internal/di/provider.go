package di

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/camppoints/exchanged/internal/adminauth"
	"github.com/camppoints/exchanged/internal/api"
	"github.com/camppoints/exchanged/internal/audit"
	"github.com/camppoints/exchanged/internal/cache"
	"github.com/camppoints/exchanged/internal/clock"
	"github.com/camppoints/exchanged/internal/config"
	"github.com/camppoints/exchanged/internal/directory"
	"github.com/camppoints/exchanged/internal/domain"
	"github.com/camppoints/exchanged/internal/escrow"
	"github.com/camppoints/exchanged/internal/eventbus"
	"github.com/camppoints/exchanged/internal/grpcapi"
	"github.com/camppoints/exchanged/internal/holdings"
	"github.com/camppoints/exchanged/internal/ipo"
	"github.com/camppoints/exchanged/internal/kvstore"
	"github.com/camppoints/exchanged/internal/ledger"
	"github.com/camppoints/exchanged/internal/ledgerlog"
	"github.com/camppoints/exchanged/internal/lifecycle"
	"github.com/camppoints/exchanged/internal/matching"
	"github.com/camppoints/exchanged/internal/notify"
	"github.com/camppoints/exchanged/internal/router"
	"github.com/camppoints/exchanged/internal/transfer"
)

// Provider is the composition root: it builds every kernel component
// from Config and wires them together via the lifecycle service's port
// interfaces, the way the teacher's Provider builds its ledger/storage
// services from one Config and registers them in the Container.
type Provider struct {
	container *Container
	config    *config.Config
	logger    *slog.Logger
}

// NewProvider creates a new service provider.
func NewProvider(container *Container, cfg *config.Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{container: container, config: cfg, logger: logger}
}

// RegisterAll constructs every component eagerly, in dependency order,
// and registers each one as a ready value; nothing is deferred to the
// first Get.
func (p *Provider) RegisterAll(ctx context.Context) error {
	p.container.Register(ServiceConfig, p.config)

	kv, err := kvstore.Open(p.config.Storage.KVBackend, p.config.Storage.KVPath)
	if err != nil {
		return err
	}
	p.container.Register(ServiceKVStore, kv)

	log, err := ledgerlog.Open(p.config.Storage.LogBackend, p.logDSN())
	if err != nil {
		return err
	}
	p.container.Register(ServiceLedgerLog, log)

	l := ledger.New(kv, log, p.logger)
	p.container.Register(ServiceLedger, l)

	esc := escrow.New(kv, l, p.logger)
	p.container.Register(ServiceEscrow, esc)

	hold := holdings.New(kv)
	p.container.Register(ServiceHoldings, hold)

	market := p.config.Market.ToDomain()

	ipoSvc, err := ipo.New(ctx, kv, l, hold, log, ipo.State{SharesRemaining: market.IPOShares, Price: market.IPOPrice})
	if err != nil {
		return err
	}
	p.container.Register(ServiceIPO, ipoSvc)

	bus := eventbus.New(eventbus.Config{
		BufferSize: p.config.EventBus.BufferSize,
		RingSize:   p.config.EventBus.ReplaySize,
		MaxRetries: p.config.EventBus.MaxRetries,
		RetryBase:  50 * time.Millisecond,
	}, p.logger)
	p.container.Register(ServiceEventBus, bus)

	clk := clock.New(market, clock.DefaultConfig(), p.logger)
	p.container.Register(ServiceClock, clk)

	eng := matching.New(matching.Deps{
		Ledger: l, Escrow: esc, Holdings: hold, Trades: log, IPO: ipoSvc, Bus: bus,
	}, market.IPOPrice, market.BandBps)
	p.container.Register(ServiceMatching, eng)

	matcherAndBook := lifecycle.NewMatcherAdapter(eng)
	lc := lifecycle.New(lifecycle.Deps{
		Ledger: l, Escrow: esc, Holdings: hold,
		Book: matcherAndBook, Matcher: matcherAndBook, Clock: clk, Bus: bus,
		Orders: lifecycle.NewOrderStore(kv), Fee: market.TransferFee,
	}, p.logger)
	p.container.Register(ServiceLifecycle, lc)

	dir := directory.New(kv)
	p.container.Register(ServiceDirectory, dir)

	xfer := transfer.New(l, dir, bus, transfer.Config{
		Fee:              market.TransferFee,
		MaxRetries:       6,
		RetryBase:        20 * time.Millisecond,
		NonTransactional: p.config.Storage.AllowNonTransactionalFallback,
	}, p.logger)
	p.container.Register(ServiceTransfer, xfer)

	policy := router.PolicyReject
	if p.config.Router.OverloadPolicy == "redirect" {
		policy = router.PolicyRedirect
	}
	rtr := router.New(router.Config{
		Shards: p.config.Router.Shards, QueueDepth: p.config.Router.QueueDepth,
		MaxLoad: p.config.Router.MaxShardLoad, Policy: policy,
	}, p.logger)
	p.container.Register(ServiceRouter, rtr)

	auditor := audit.New(l, esc, bus, audit.DefaultConfig(), p.logger)
	p.container.Register(ServiceAuditor, auditor)

	grpcSrv := grpcapi.New(grpcapi.Config{Address: p.config.Server.GRPCAddress})
	p.container.Register(ServiceGRPCServer, grpcSrv)

	notifyClient := notify.New(notify.Config{
		WebhookURL: p.config.Notify.BaseURL,
		Enabled:    p.config.Notify.BaseURL != "",
		Timeout:    time.Duration(p.config.Notify.TimeoutMs) * time.Millisecond,
		RetryCount: p.config.Notify.MaxRetries,
	}, p.logger)
	p.container.Register(ServiceNotify, notifyClient)

	userCache, err := cache.NewUserCache(4096)
	if err != nil {
		return err
	}
	p.container.Register(ServiceUserCache, userCache)

	allowlist := adminauth.Allowlist{}
	for _, pk := range p.config.Admin.AllowedPubkeys {
		allowlist[pk] = true
	}

	lifecycleAPI := api.NewLifecycleAPI(lc, xfer, ipoSvc, l, hold, log, eng, rtr)
	p.container.Register(ServiceLifecycleAPI, lifecycleAPI)

	marketAPI := api.NewMarketAPI(eng, log, clk, ipoSvc)
	p.container.Register(ServiceMarketAPI, marketAPI)

	adminAPI := api.NewAdminAPI(l, hold, eng, clk, ipoSvc, lc, auditor, allowlist)
	p.container.Register(ServiceAdminAPI, adminAPI)

	clk.OnOpen(func(ctx context.Context) {
		eng.ResetSession()
		if _, _, ok, err := eng.CallAuction(ctx); err != nil {
			p.logger.Error("call auction failed on market open", "err", err)
		} else if ok {
			bus.Publish(eventbus.TopicMarketOpened, "", nil, "")
		} else {
			bus.Publish(eventbus.TopicMarketOpened, "", nil, "")
		}
	})
	clk.OnClose(func(ctx context.Context) {
		n, _ := lc.CancelAllResting(ctx, "market_closed")
		p.logger.Info("cancelled resting orders on market close", "count", n)
		bus.Publish(eventbus.TopicMarketClosed, "", nil, "")
	})

	return nil
}

func (p *Provider) logDSN() string {
	if p.config.Storage.LogBackend == "postgres" {
		return p.config.Storage.PostgresDSN
	}
	return p.config.Storage.SQLitePath
}

// Start brings up every background lifecycle: the event bus
// dispatcher, the market clock poller, the sharded router workers,
// the integrity auditor, and the gRPC admin surface.
func (p *Provider) Start(ctx context.Context) error {
	p.container.MustGet(ServiceEventBus).(*eventbus.Bus).Start()
	p.container.MustGet(ServiceClock).(*clock.Clock).Start(ctx)
	p.container.MustGet(ServiceRouter).(*router.Router).Start(ctx)
	p.container.MustGet(ServiceAuditor).(*audit.Auditor).Start(ctx)

	srv := p.container.MustGet(ServiceGRPCServer).(*grpcapi.Server)
	srv.StartAsync(func(err error) {
		p.logger.Error("grpc server error", "err", err)
	})
	return nil
}

// Stop tears down every background lifecycle concurrently (each owns an
// independent goroutine, so there is no ordering requirement between
// them), then closes the two storage handles once every consumer of
// them has drained.
func (p *Provider) Stop(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		if srv, ok := p.container.Get(ServiceGRPCServer); ok == nil {
			srv.(*grpcapi.Server).Stop(ctx)
		}
		return nil
	})
	g.Go(func() error {
		p.container.MustGet(ServiceAuditor).(*audit.Auditor).Stop()
		return nil
	})
	g.Go(func() error {
		p.container.MustGet(ServiceRouter).(*router.Router).Stop()
		return nil
	})
	g.Go(func() error {
		p.container.MustGet(ServiceClock).(*clock.Clock).Stop()
		return nil
	})
	g.Go(func() error {
		p.container.MustGet(ServiceEventBus).(*eventbus.Bus).Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		p.logger.Error("error during shutdown", "err", err)
	}

	if kv, err := p.container.Get(ServiceKVStore); err == nil {
		_ = kv.(kvstore.Store).Close()
	}
	if log, err := p.container.Get(ServiceLedgerLog); err == nil {
		_ = log.(ledgerlog.Store).Close()
	}
}

// GetConfig returns the configuration from the container.
func (p *Provider) GetConfig() *config.Config {
	return p.config
}

// GetLifecycle returns the Order Lifecycle Service.
func (p *Provider) GetLifecycle() *lifecycle.Service {
	return p.container.MustGet(ServiceLifecycle).(*lifecycle.Service)
}

// GetTransfer returns the Transfer Service.
func (p *Provider) GetTransfer() *transfer.Service {
	return p.container.MustGet(ServiceTransfer).(*transfer.Service)
}

// GetLedger returns the Ledger.
func (p *Provider) GetLedger() *ledger.Ledger {
	return p.container.MustGet(ServiceLedger).(*ledger.Ledger)
}

// GetAuditor returns the Integrity Auditor.
func (p *Provider) GetAuditor() *audit.Auditor {
	return p.container.MustGet(ServiceAuditor).(*audit.Auditor)
}

// GetDirectory returns the username directory.
func (p *Provider) GetDirectory() *directory.Directory {
	return p.container.MustGet(ServiceDirectory).(*directory.Directory)
}

// GetLifecycleAPI returns the Lifecycle API facade.
func (p *Provider) GetLifecycleAPI() *api.LifecycleAPI {
	return p.container.MustGet(ServiceLifecycleAPI).(*api.LifecycleAPI)
}

// GetMarketAPI returns the Market query API facade.
func (p *Provider) GetMarketAPI() *api.MarketAPI {
	return p.container.MustGet(ServiceMarketAPI).(*api.MarketAPI)
}

// GetAdminAPI returns the Admin API facade.
func (p *Provider) GetAdminAPI() *api.AdminAPI {
	return p.container.MustGet(ServiceAdminAPI).(*api.AdminAPI)
}

var _ = domain.MarketConfig{}
