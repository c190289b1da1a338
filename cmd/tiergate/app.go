package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	apiv1 "github.com/ManuelReschke/tiergate/internal/api/v1"
	"github.com/ManuelReschke/tiergate/internal/pkg/archive"
	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/cache"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
	"github.com/ManuelReschke/tiergate/internal/pkg/database"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/env"
	"github.com/ManuelReschke/tiergate/internal/pkg/iapbroker"
	"github.com/ManuelReschke/tiergate/internal/pkg/ratelimit"
	"github.com/ManuelReschke/tiergate/internal/pkg/router"
)

// application is everything a command needs, wired once from the environment.
type application struct {
	cfg        *config.Config
	db         *gorm.DB
	repo       *billing.GormRepository
	engine     *commission.Engine
	reconciler *billing.Reconciler
	resolver   *entitlements.Resolver
	cardTiers  *entitlements.TierTable
	iapTiers   *entitlements.TierTable
}

func bootstrap(ctx context.Context) (*application, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	repo := billing.NewRepository(db)
	cardTiers, iapTiers, err := billing.TierTables(ctx, repo, cfg.CardTiers, cfg.IAPTiers)
	if err != nil {
		return nil, fmt.Errorf("load plan mappings: %w", err)
	}
	if cardTiers.Len() == 0 && iapTiers.Len() == 0 {
		log.Warn("[Startup] no tier mappings configured, every paid event will be unmappable")
	}

	engine := commission.NewEngine(repo.Commissions())

	var broker entitlements.BrokerSource
	if cfg.IAPAPIKey != "" {
		broker = iapbroker.NewClient(cfg.IAPAPIKey, cfg.IAPAPIBaseURL)
	}

	return &application{
		cfg:        cfg,
		db:         db,
		repo:       repo,
		engine:     engine,
		reconciler: billing.NewReconciler(repo, engine),
		resolver:   entitlements.NewResolver(repo, broker, iapTiers).WithTimeout(cfg.ResolveTimeout),
		cardTiers:  cardTiers,
		iapTiers:   iapTiers,
	}, nil
}

// newServer builds the HTTP application on top of a bootstrapped core.
func (a *application) newServer(ctx context.Context) (*fiber.App, error) {
	var (
		store          ratelimit.Store = ratelimit.NewMemoryStore()
		webhookStorage fiber.Storage
	)

	client := cache.NewClient(a.cfg.Cache)
	if err := cache.Ping(ctx, client); err != nil {
		log.Warnf("[Startup] cache unreachable, limiter counters stay in process memory: %v", err)
	} else {
		// fiber's redis storage panics when it cannot connect, so only after a ping
		webhookStorage = cache.NewFiberStorage(a.cfg.Cache)
		if a.cfg.RateLimitStore == config.RateLimitStoreRedis {
			store = ratelimit.NewRedisStore(client)
		}
	}
	log.Infof("[Startup] rate limit store: %T", store)

	processor := billing.NewProcessor(
		billing.NewVerifier(a.cfg.CardWebhookSecret, a.cfg.IAPWebhookToken),
		billing.NewNormalizer(a.cardTiers, a.iapTiers),
		a.reconciler,
		a.repo,
	)
	if a.cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, a.cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("webhook archive: %w", err)
		}
		processor = processor.WithArchiver(archiver)
		log.Infof("[Startup] archiving webhook payloads to bucket %s", a.cfg.Archive.Bucket)
	}

	if _, err := apiv1.Load(ctx); err != nil {
		log.Warnf("[Startup] openapi document is invalid: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "tiergate " + Version,
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.Deps{
		Config:         a.cfg,
		DB:             a.db,
		Cache:          client,
		Repo:           a.repo,
		Processor:      processor,
		Reconciler:     a.reconciler,
		Commission:     a.engine,
		Resolver:       a.resolver,
		Limiter:        ratelimit.NewLimiter(store).WithTimeout(a.cfg.RateLimitTimeout),
		WebhookStorage: webhookStorage,
		OpenAPI:        apiv1.Document(),
	})

	return app, nil
}

func (a *application) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warnf("[Shutdown] closing database: %v", err)
	}
}
