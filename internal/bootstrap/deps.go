package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/AlfredDev/alfred/api/handlers"
	"github.com/AlfredDev/alfred/audit"
	"github.com/AlfredDev/alfred/config"
	"github.com/AlfredDev/alfred/internal/database"
	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/circuitbreaker"
	"github.com/AlfredDev/alfred/llm/router"
	"github.com/AlfredDev/alfred/metering"
	"github.com/AlfredDev/alfred/semcache"
	"github.com/AlfredDev/alfred/wallet"
)

// Gateway holds every long-lived dependency the HTTP handlers need. It is
// built once at startup by Build and torn down by Close on shutdown.
type Gateway struct {
	Providers map[string]llm.Provider
	Router    *router.WeightedRouter
	Failover  *router.Failover
	Health    *router.HealthChecker
	Meter     *metering.Meter
	Pricing   *metering.PricingTable
	Cache     *semcache.Cache

	WalletStore *wallet.Store
	WalletMgr   *wallet.Manager

	AuditStore    *audit.Store
	AuditRecorder *audit.Recorder

	ChatHandler   *handlers.ChatHandler
	WalletHandler *handlers.WalletHandler

	janitorInterval  time.Duration
	rolloverInterval time.Duration
	logger           *zap.Logger

	cancelBackground context.CancelFunc
}

// Build assembles a Gateway from config plus the already-open relational
// and document-store connections. db may be nil (wallet/audit features are
// then unavailable, matching the degraded-mode behavior the rest of the
// server already tolerates when Postgres isn't reachable).
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, mongoDB *mongo.Database, logger *zap.Logger) (*Gateway, error) {
	providerMap, err := BuildProviders(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	rtr := router.NewWeightedRouter(logger, nil)
	rtr.LoadCandidates(BuildRouterConfig(cfg.LLM))
	healthChecker := router.NewHealthCheckerWithProviders(rtr, providerMap, 30*time.Second, 5*time.Second, logger)

	failoverPolicy := router.DefaultFailoverPolicy()
	if cfg.LLM.MaxRetries > 0 {
		failoverPolicy.MaxRetries = cfg.LLM.MaxRetries
	}
	breakers := router.NewBreakerRegistry(circuitbreaker.DefaultConfig(), logger)
	failover := router.NewFailover(rtr, failoverPolicy, breakers, logger)

	pricing := BuildPricingTable(cfg.LLM)
	meter := metering.NewMeter(pricing)

	var cache *semcache.Cache
	var embedder semcache.Embedder
	if cfg.Cache.Enabled {
		cache = semcache.NewCache(semcache.Config{
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			PerTenantByteBudget: cfg.Cache.PerTenantByteBudget,
			TTL:                 cfg.Cache.TTL,
		}, logger)
		embedder = semcache.NewHashEmbedder(cfg.Cache.EmbeddingDim)
	}

	gw := &Gateway{
		Providers:        providerMap,
		Router:           rtr,
		Failover:         failover,
		Health:           healthChecker,
		Meter:            meter,
		Pricing:          pricing,
		Cache:            cache,
		janitorInterval:  cfg.Wallet.JanitorInterval,
		rolloverInterval: cfg.Wallet.RolloverCheckInterval,
		logger:           logger,
	}

	if db == nil {
		logger.Warn("database unavailable, wallet and audit features disabled")
		gw.ChatHandler = nil
		return gw, nil
	}

	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: pool manager: %w", err)
	}

	walletStore, err := wallet.NewStore(pool)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: wallet store: %w", err)
	}
	gw.WalletStore = walletStore

	var journal wallet.Journal = noopJournal{}
	if mongoDB != nil {
		auditStore, err := audit.NewStore(ctx, mongoDB)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: audit store: %w", err)
		}
		recorder, err := audit.NewRecorder(ctx, auditStore, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: audit recorder: %w", err)
		}
		gw.AuditStore = auditStore
		gw.AuditRecorder = recorder
		journal = recorder
	} else {
		logger.Warn("mongo unavailable, audit journal disabled")
	}

	walletMgr := wallet.NewManager(walletStore, journal)
	gw.WalletMgr = walletMgr

	gw.ChatHandler = handlers.NewChatHandler(rtr, failover, providerMap, walletMgr, walletStore, meter, cache, embedder, handlers.GuardrailLimits{
		MaxOutputTokens:      cfg.Guardrails.MaxOutputTokens,
		MaxResponseBytes:     cfg.Guardrails.MaxResponseBytes,
		RepetitionWindow:     cfg.Guardrails.RepetitionWindow,
		RepetitionMaxRepeats: cfg.Guardrails.RepetitionMaxRepeats,
	}, logger)
	gw.WalletHandler = handlers.NewWalletHandler(walletStore, walletMgr, logger)

	return gw, nil
}

// Run starts the background loops (health checks, audit flush, reservation
// janitor, wallet rollover) that must keep running for the lifetime of the
// process. It owns a derived context so Close can cancel them independently
// of the caller's ctx.
func (g *Gateway) Run(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	g.cancelBackground = cancel

	if g.Health != nil {
		go g.Health.Start(bgCtx)
	}
	if g.AuditRecorder != nil {
		go g.AuditRecorder.Run(bgCtx, 2*time.Second, 200)
	}
	if g.WalletMgr != nil {
		interval := g.janitorInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		go wallet.RunJanitor(bgCtx, g.WalletMgr, interval, g.logger)

		rolloverInterval := g.rolloverInterval
		if rolloverInterval <= 0 {
			rolloverInterval = time.Hour
		}
		go wallet.RunRollover(bgCtx, g.WalletMgr, rolloverInterval, g.logger)
	}
}

// Close stops the background loops and waits for the audit recorder to
// drain its pending batch. Safe to call on a Gateway built with a nil
// database, or one on which Run was never called.
func (g *Gateway) Close() {
	if g.cancelBackground != nil {
		g.cancelBackground()
	}
	if g.AuditRecorder != nil {
		g.AuditRecorder.Wait()
	}
}

// noopJournal discards audit entries when Mongo isn't configured; the
// wallet manager treats journal failures as best-effort, so this degrades
// the gateway to an unaudited ledger rather than refusing to serve.
type noopJournal struct{}

func (noopJournal) Record(ctx context.Context, e wallet.JournalEntry) error { return nil }
