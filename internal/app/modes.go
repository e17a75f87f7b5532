package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fusionbot/internal/arbitrage"
	"github.com/alanyoungcy/fusionbot/internal/config"
	"github.com/alanyoungcy/fusionbot/internal/controller"
	"github.com/alanyoungcy/fusionbot/internal/domain"
	"github.com/alanyoungcy/fusionbot/internal/execlog"
	"github.com/alanyoungcy/fusionbot/internal/executor"
	"github.com/alanyoungcy/fusionbot/internal/feed"
	"github.com/alanyoungcy/fusionbot/internal/flashloan"
	"github.com/alanyoungcy/fusionbot/internal/liquidation"
	"github.com/alanyoungcy/fusionbot/internal/matrix"
	"github.com/alanyoungcy/fusionbot/internal/pipeline"
	"github.com/alanyoungcy/fusionbot/internal/platform/subgraph"
	"github.com/alanyoungcy/fusionbot/internal/server"
	"github.com/alanyoungcy/fusionbot/internal/server/handler"
	"github.com/alanyoungcy/fusionbot/internal/server/ws"
	"github.com/alanyoungcy/fusionbot/internal/tunables"
	"github.com/alanyoungcy/fusionbot/internal/wallet"
)

// engine is the in-process state shared by the scanners, the executor, the
// controller and the API.
type engine struct {
	tunables *tunables.Tunables
	log      *execlog.Log
	matrices *matrix.Registry
	settings *arbitrage.Settings
	latest   *arbitrage.Latest
}

// ArbitrageMode runs the DEX price pollers and spread scanners of every
// enabled chain, feeding the executor.
func (a *App) ArbitrageMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting arbitrage mode",
		slog.Any("chains", a.cfg.EnabledChains()),
		slog.Float64("threshold_pct", a.cfg.Arbitrage.ThresholdPct),
	)
	return a.runPipelines(ctx, deps, true, false)
}

// LiquidationMode runs one monitor per enabled lending protocol, feeding
// the executor.
func (a *App) LiquidationMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting liquidation mode",
		slog.Any("protocols", a.cfg.EnabledProtocols()),
	)
	return a.runPipelines(ctx, deps, false, true)
}

// FullMode runs both detection pipelines into a single executor.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Any("chains", a.cfg.EnabledChains()),
		slog.Any("protocols", a.cfg.EnabledProtocols()),
	)
	return a.runPipelines(ctx, deps, a.cfg.Arbitrage.Enabled, a.cfg.Liquidation.Enabled)
}

// ServerMode serves the HTTP API and the WebSocket relay only. Execution
// history comes from postgres when it is enabled; live events arrive over
// the signal bus from the replicas that run the pipelines.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	eng, err := a.newEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// runPipelines starts the enabled detection pipelines, the executor, the
// controller, the archiver and the HTTP server, and waits for all of them.
func (a *App) runPipelines(ctx context.Context, deps *Dependencies, arb, liq bool) error {
	eng, err := a.newEngine(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var (
		opps chan domain.Opportunity
		liqs chan domain.LiquidationEvent
	)
	if arb {
		opps = make(chan domain.Opportunity, a.cfg.Executor.QueueSize)
		if err := a.startArbitrage(ctx, g, deps, eng, opps); err != nil {
			return fmt.Errorf("arbitrage: %w", err)
		}
	}
	if liq {
		liqs = make(chan domain.LiquidationEvent, a.cfg.Executor.QueueSize)
		if err := a.startLiquidation(ctx, g, deps, eng, liqs); err != nil {
			return fmt.Errorf("liquidation: %w", err)
		}
	}

	exec := a.buildExecutor(deps, eng)
	var (
		oppsIn <-chan domain.Opportunity
		liqsIn <-chan domain.LiquidationEvent
	)
	if opps != nil {
		oppsIn = opps
	}
	if liqs != nil {
		liqsIn = liqs
	}
	g.Go(func() error {
		return exec.Run(ctx, oppsIn, liqsIn)
	})

	if a.cfg.Controller.Enabled {
		ctrl := controller.New(eng.log, eng.tunables, controller.Config{
			Period:       a.cfg.Controller.Period.Duration,
			Window:       a.cfg.Controller.Window,
			BaseInterval: a.cfg.Controller.BaseInterval.Duration,
		}, a.logger)
		g.Go(func() error {
			return ctrl.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		arch := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveRetention.Duration, a.logger)
		g.Go(func() error {
			return arch.RunEvery(ctx, a.cfg.S3.ArchiveInterval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	if err := deps.Notifier.NotifyAll(ctx, "fusionbot started",
		fmt.Sprintf("mode=%s dry_run=%t", a.cfg.Mode, a.cfg.Executor.DryRun)); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// newEngine builds the shared state: tunables seeded from config, the
// execution log (hydrated from postgres when available), one matrix per
// chain and the operator scan settings.
func (a *App) newEngine(ctx context.Context, deps *Dependencies) (*engine, error) {
	tu := tunables.New(a.cfg.Controller.MinProfit, a.cfg.Controller.BaseInterval.Duration)
	tu.OnChange(deps.Metrics.TunablesChanged)

	matrices := matrix.NewRegistry()
	for _, id := range a.cfg.EnabledChains() {
		ch := a.cfg.Chains[id]
		if ch.ScanInterval.Duration > 0 {
			tu.SetInterval(domain.ArbitrageProtocol(id), ch.ScanInterval.Duration)
		}
		market := marketFor(id, ch)
		matrices.Add(matrix.New(id, id, market.DexNames(), market.AssetSymbols()))
	}
	for _, name := range a.cfg.EnabledProtocols() {
		interval := a.cfg.Liquidation.Protocols[name].Interval.Duration
		if interval <= 0 {
			interval = a.cfg.Liquidation.BaseInterval.Duration
		}
		if interval > 0 {
			tu.SetInterval(name, interval)
		}
	}

	log := execlog.New()
	if deps.ExecutionStore != nil && a.cfg.Postgres.Hydrate > 0 {
		n, err := log.Hydrate(ctx, deps.ExecutionStore, a.cfg.Postgres.Hydrate)
		if err != nil {
			a.logger.WarnContext(ctx, "execution log hydrate failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "execution log hydrated", slog.Int("records", n))
		}
	}

	settings, err := arbitrage.NewSettings(a.cfg.Arbitrage.ThresholdPct, a.cfg.Arbitrage.Usage, a.cfg.Arbitrage.Pairwise)
	if err != nil {
		return nil, err
	}

	return &engine{
		tunables: tu,
		log:      log,
		matrices: matrices,
		settings: settings,
		latest:   arbitrage.NewLatest(),
	}, nil
}

// startArbitrage launches one poller per (chain, dex) and one scanner per
// chain.
func (a *App) startArbitrage(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine, opps chan<- domain.Opportunity) error {
	for _, id := range a.cfg.EnabledChains() {
		ch := a.cfg.Chains[id]
		pool, err := deps.Pools.Get(id)
		if err != nil {
			return err
		}
		market := marketFor(id, ch)

		for _, dex := range market.Dexes {
			poller := feed.NewDexPoller(market, dex, eng.matrices, pool, ch.PollInterval.Duration, a.logger)
			poller.SetCache(deps.PriceCache)
			poller.SetBus(deps.SignalBus)
			poller.SetObserver(deps.Metrics)
			g.Go(func() error {
				return poller.Run(ctx)
			})
		}

		providers, err := flashloan.ParseProviders(ch.FlashloanProviders)
		if err != nil {
			return fmt.Errorf("chain %s: %w", id, err)
		}
		if len(providers) == 0 {
			a.logger.WarnContext(ctx, "no flash loan providers; spreads will be reported but not funded",
				slog.String("chain", id))
		}
		querier := flashloan.NewQuerier(pool, a.cfg.Arbitrage.LiquidityTimeout.Duration, a.logger)
		sizer := flashloan.NewSizer(querier, providers, eng.settings.Usage)

		scanner := arbitrage.NewScanner(market, eng.matrices, eng.settings, eng.tunables, sizer, eng.latest, opps, a.logger)
		scanner.SetPublisher(deps.SignalBus)
		scanner.SetObserver(deps.Metrics)
		g.Go(func() error {
			return scanner.Run(ctx)
		})
	}
	return nil
}

// startLiquidation launches one monitor per enabled protocol.
func (a *App) startLiquidation(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine, liqs chan<- domain.LiquidationEvent) error {
	for _, name := range a.cfg.EnabledProtocols() {
		pc := a.cfg.Liquidation.Protocols[name]
		pool, err := deps.Pools.Get(pc.Chain)
		if err != nil {
			return err
		}
		proto, err := newProtocol(name, pc)
		if err != nil {
			return err
		}

		mon := liquidation.NewMonitor(proto, a.accountSource(pc), pool, eng.tunables, liqs, liquidation.MonitorConfig{
			Concurrency:  int64(a.cfg.Liquidation.Concurrency),
			CheckTimeout: a.cfg.Liquidation.CheckTimeout.Duration,
		}, a.logger)
		mon.SetPublisher(deps.SignalBus)
		mon.SetObserver(deps.Metrics)
		g.Go(func() error {
			return mon.Run(ctx)
		})
	}
	return nil
}

// buildExecutor wires the executor. Without a signer it can only simulate,
// which Validate guarantees by requiring a key outside dry run.
func (a *App) buildExecutor(deps *Dependencies, eng *engine) *executor.Executor {
	var submitter executor.Submitter
	if deps.Signer != nil {
		backends := make(map[string]executor.Backend, len(deps.Pools))
		contracts := make(map[string]common.Address)
		for id, pool := range deps.Pools {
			backends[id] = pool
			if c := a.cfg.Chains[id].ExecutorContract; c != "" {
				contracts[id] = common.HexToAddress(c)
			}
		}
		targets := make(map[string]common.Address)
		for _, name := range a.cfg.EnabledProtocols() {
			targets[name] = common.HexToAddress(a.cfg.Liquidation.Protocols[name].Address)
		}
		submitter = executor.NewContractSubmitter(deps.Signer, backends, contracts, targets, a.cfg.Executor.GasLimit)
	}

	exec := executor.NewExecutor(executor.Config{
		DryRun:        a.cfg.Executor.DryRun,
		LockTTL:       a.cfg.Executor.LockTTL.Duration,
		DedupTTL:      a.cfg.Executor.DedupTTL.Duration,
		SubmitTimeout: a.cfg.Executor.SubmitTimeout.Duration,
	}, submitter, eng.tunables, eng.log, a.logger)
	if deps.ExecutionStore != nil {
		exec.SetStore(deps.ExecutionStore)
	}
	exec.SetLocks(deps.LockManager)
	exec.SetPublisher(deps.SignalBus)
	exec.SetNotifier(deps.Notifier)
	exec.SetObserver(deps.Metrics)
	return exec
}

// startHTTPServer registers the API handlers and the WebSocket hub and runs
// the server until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	checks := map[string]handler.Check{
		"redis": deps.Redis.Ping,
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.Blob != nil {
		checks["s3"] = deps.Blob.Health
	}

	providers := make(map[string]handler.ProviderSource, len(deps.Pools))
	for id, pool := range deps.Pools {
		providers[id] = pool.Rotation()
	}

	executions := handler.NewExecutionHandler(eng.log, a.logger)
	if deps.ExecutionStore != nil {
		executions = executions.WithStore(deps.ExecutionStore)
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, a.cfg.Executor.DryRun, checks, a.logger),
		Matrices:   handler.NewMatrixHandler(eng.matrices),
		Arb:        handler.NewArbHandler(eng.latest, eng.settings, a.logger),
		Executions: executions,
		Status:     handler.NewStatusHandler(eng.tunables, providers),
		Metrics:    deps.Metrics.Handler(),
	}

	// Wallet endpoints need a key; they stay unregistered without one.
	if deps.Signer != nil {
		reserve, err := a.cfg.Reserve()
		if err != nil {
			a.logger.WarnContext(ctx, "wallet endpoints disabled", slog.String("error", err.Error()))
		} else {
			backends := make(map[string]wallet.Backend, len(deps.Pools))
			for id, pool := range deps.Pools {
				backends[id] = pool
			}
			mgr := wallet.NewManager(deps.Signer, backends, common.HexToAddress(a.cfg.Wallet.ProfitWallet),
				reserve, a.cfg.Executor.DryRun, a.logger)
			handlers.Wallet = handler.NewWalletHandler(mgr, a.cfg.Wallet.SweepChain, a.logger)
		}
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		DryRun:    a.cfg.Executor.DryRun,
		StartedAt: time.Now().UTC(),
		Origins:   a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		Limiter:     deps.RateLimiter,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// accountSource merges the protocol's indexer listing and static watch list.
func (a *App) accountSource(pc config.ProtocolConfig) liquidation.AccountSource {
	var sources liquidation.MultiSource
	if pc.SubgraphURL != "" {
		client := subgraph.NewClient(pc.SubgraphURL, pc.SubgraphAPIKey)
		sources = append(sources, liquidation.NewSubgraphSource(client,
			subgraph.Listing{Entity: pc.Entity, Where: pc.Where}, a.cfg.Liquidation.PageSize))
	}
	if len(pc.Accounts) > 0 {
		static := make(liquidation.StaticSource, 0, len(pc.Accounts))
		for _, acct := range pc.Accounts {
			static = append(static, common.HexToAddress(acct))
		}
		sources = append(sources, static)
	}
	if len(sources) == 1 {
		return sources[0]
	}
	return sources
}

// newProtocol selects the account checker for the protocol kind.
func newProtocol(name string, pc config.ProtocolConfig) (liquidation.Protocol, error) {
	addr := common.HexToAddress(pc.Address)
	switch pc.Kind {
	case config.KindComptroller:
		var oracle common.Address
		if pc.Oracle != "" {
			oracle = common.HexToAddress(pc.Oracle)
		}
		return liquidation.NewComptroller(name, pc.Chain, addr, oracle), nil
	case config.KindAave:
		return liquidation.NewAave(name, pc.Chain, addr), nil
	default:
		return nil, fmt.Errorf("protocol %s: unknown kind %q", name, pc.Kind)
	}
}

// marketFor converts a chain's config section into the market it prices.
func marketFor(id string, ch config.ChainConfig) domain.Market {
	m := domain.Market{
		Chain: id,
		Quote: domain.Asset{Symbol: ch.Quote.Symbol, Address: ch.Quote.Address, Decimals: ch.Quote.Decimals},
	}
	for _, as := range ch.Assets {
		m.Assets = append(m.Assets, domain.Asset{Symbol: as.Symbol, Address: as.Address, Decimals: as.Decimals})
	}
	for _, d := range ch.Dexes {
		m.Dexes = append(m.Dexes, domain.Dex{Name: d.Name, Router: d.Router})
	}
	return m
}
