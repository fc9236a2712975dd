package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/tradetrigger/internal/blob/s3"
	"github.com/alanyoungcy/tradetrigger/internal/engine"
	"github.com/alanyoungcy/tradetrigger/internal/executor"
	"github.com/alanyoungcy/tradetrigger/internal/feed"
	"github.com/alanyoungcy/tradetrigger/internal/platform/kalshi"
	"github.com/alanyoungcy/tradetrigger/internal/platform/polymarket"
	"github.com/alanyoungcy/tradetrigger/internal/refresh"
	"github.com/alanyoungcy/tradetrigger/internal/server"
	"github.com/alanyoungcy/tradetrigger/internal/server/handler"
	"github.com/alanyoungcy/tradetrigger/internal/server/ws"
	"github.com/alanyoungcy/tradetrigger/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get on shutdown.
const shutdownGrace = 10 * time.Second

// FullMode runs everything: catalog refresh, streaming feeds, the rule
// engine with its execution coordinator, ledger archival when configured,
// and the HTTP/WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	reconciler := a.buildReconciler(deps)
	g.Go(func() error {
		return reconciler.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)
	a.startEngine(ctx, g, deps)

	if deps.Blob != nil {
		archiver := s3blob.NewArchiver(deps.TradeStore, deps.AuditStore, deps.Blob, s3blob.ArchiverConfig{
			RetentionDays: a.cfg.S3.RetentionDays,
			Interval:      a.cfg.S3.Interval.Duration,
		}, a.logger)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, reconciler)
	}

	return g.Wait()
}

// EngineMode runs only rule evaluation and execution. Catalog refresh and
// feed ingestion are expected to run in a separate process; evaluation falls
// back to the market store on cache misses.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	return g.Wait()
}

// IngestMode runs catalog refresh and the streaming feeds without the engine
// or HTTP surface.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	reconciler := a.buildReconciler(deps)
	g.Go(func() error {
		return reconciler.Run(ctx)
	})

	a.startFeeds(ctx, g, deps)
	return g.Wait()
}

// ServerMode runs only the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// buildReconciler assembles the catalog reconciler over both platform
// catalogs.
func (a *App) buildReconciler(deps *Dependencies) *refresh.Reconciler {
	catalogs := []refresh.Catalog{
		refresh.NewPolymarketCatalog(polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)),
		refresh.NewKalshiCatalog(kalshi.NewClient(a.cfg.Kalshi.BaseURL, "")),
	}
	return refresh.New(deps.MarketStore, deps.MarketCache, catalogs, deps.RateLimiter, refresh.Config{
		Interval:   a.cfg.Refresh.Interval.Duration,
		PageSize:   a.cfg.Refresh.PageSize,
		MaxMarkets: a.cfg.Refresh.MaxMarkets,
	}, a.logger)
}

// startFeeds launches one supervised streaming session per platform.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if host := a.cfg.Polymarket.WsHost; host != "" {
		wsClient := polymarket.NewWSClient(strings.TrimRight(host, "/") + "/ws/market")
		pmFeed := feed.NewPolymarketFeed(wsClient, deps.MarketCache, deps.MarketStore, deps.SignalBus, a.logger)
		sup := feed.NewSupervisor(pmFeed, 0, a.logger)
		g.Go(func() error {
			return sup.Run(ctx)
		})
	}

	if url := a.cfg.Kalshi.WsURL; url != "" {
		wsClient := kalshi.NewWSClient(url)
		kFeed := feed.NewKalshiFeed(wsClient, deps.MarketCache, deps.MarketStore, deps.SignalBus, a.logger)
		sup := feed.NewSupervisor(kFeed, 0, a.logger)
		g.Go(func() error {
			return sup.Run(ctx)
		})
	}
}

// startEngine launches the evaluation engine with its execution coordinator.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	credSvc := a.buildCredentialService(deps)
	positionSvc := service.NewPositionService(deps.PositionStore, a.logger)

	coordinator := executor.New(
		deps.RuleStore,
		deps.TradeStore,
		deps.CredentialStore,
		credSvc,
		deps.SignalBus,
		deps.AuditStore,
		deps.Notifier,
		positionSvc,
		executor.Config{ExecuteTimeout: a.cfg.Engine.ExecuteTimeout.Duration},
		a.logger,
	)

	eng := engine.New(
		deps.MarketCache,
		deps.MarketStore,
		deps.RuleStore,
		deps.PositionStore,
		coordinator,
		engine.Config{
			ScanInterval:  a.cfg.Engine.ScanInterval.Duration,
			TriggerBuffer: a.cfg.Engine.TriggerBuffer,
			Epsilon:       a.cfg.Engine.Epsilon,
		},
		a.logger,
	)

	g.Go(func() error {
		return eng.Run(ctx)
	})
}

// buildCredentialService assembles the credential service used both as the
// trading-client factory and behind the credentials API.
func (a *App) buildCredentialService(deps *Dependencies) *service.CredentialService {
	return service.NewCredentialService(
		deps.CredentialStore,
		service.PlatformEndpoints{
			PolymarketClobURL: a.cfg.Polymarket.ClobHost,
			KalshiBaseURL:     a.cfg.Kalshi.BaseURL,
		},
		a.cfg.Security.MasterKey,
		a.logger,
	)
}

// startHTTPServer assembles the handler set, the WebSocket hub, and the HTTP
// server, and launches them on the group. reconciler may be nil; the refresh
// endpoint then responds 503.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, reconciler *refresh.Reconciler) {
	marketSvc := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)
	positionSvc := service.NewPositionService(deps.PositionStore, a.logger)
	credSvc := a.buildCredentialService(deps)

	// Refresher is an interface; a nil concrete pointer must stay a nil
	// interface for the handler's guard to work.
	var refresher handler.Refresher
	if reconciler != nil {
		refresher = reconciler
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Markets:     handler.NewMarketHandler(marketSvc, refresher, a.logger),
		Rules:       handler.NewRuleHandler(deps.RuleStore, a.logger),
		Trades:      handler.NewTradeHandler(deps.TradeStore, a.logger),
		Credentials: handler.NewCredentialHandler(credSvc, a.logger),
		Positions:   handler.NewPositionHandler(positionSvc, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
