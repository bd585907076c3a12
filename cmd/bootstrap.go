package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/webhook"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/repository"
	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/core/database"
	"github.com/kinopsis/agensalud-mvp-sub003/infrastructure/ai"
	"github.com/kinopsis/agensalud-mvp-sub003/infrastructure/gateway"
	"github.com/kinopsis/agensalud-mvp-sub003/infrastructure/valkey"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/breaker"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/crypto"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/msgworker"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/observability"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// appRuntime holds every long-lived component a command needs.
type appRuntime struct {
	cfg        *config.Config
	db         *gorm.DB
	vk         *valkey.Client
	manager    *channels.Manager
	ingestor   *application.WebhookIngestor
	auditStore *repository.AuditGormStore
	audit      *application.AsyncAuditLogger
	pool       *msgworker.Pool
	hub        *websocket.Hub

	cancel       context.CancelFunc
	shutdownOTel func(context.Context) error
}

// bootstrap wires the channel subsystem from cfg. The caller must Stop the
// returned runtime.
func bootstrap(cfg *config.Config) (*appRuntime, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &appRuntime{cfg: cfg, cancel: cancel}

	shutdown, err := observability.SetupOTel(ctx, cfg.Observability, cfg.App.Version)
	if err != nil {
		logrus.WithError(err).Warn("[BOOT] Tracing disabled, exporter setup failed")
		shutdown = func(context.Context) error { return nil }
	}
	rt.shutdownOTel = shutdown

	db, err := database.NewDatabase(cfg)
	if err != nil {
		rt.Stop()
		return nil, err
	}
	rt.db = db
	if err := repository.Migrate(ctx, db); err != nil {
		rt.Stop()
		return nil, fmt.Errorf("migrate channel store: %w", err)
	}

	sealer, err := crypto.NewSealer(cfg.Security.SecretKey)
	if err != nil {
		rt.Stop()
		return nil, fmt.Errorf("secret sealer: %w", err)
	}
	if !sealer.Enabled() {
		logrus.Warn("[BOOT] APP_SECRET_KEY is not set, instance secrets are stored in plain text")
	}

	cfg.App.ServerID = utils.GetPersistentServerID(cfg.App.ServerID, cfg.App.StorageDir)

	var dedup webhook.DedupStore = repository.NewMemoryDedupStore(cfg.Webhook.DedupTTL)
	var hubOpts []websocket.Option
	if cfg.Database.ValkeyEnabled {
		vk, err := valkey.NewClient(valkey.ConfigFrom(cfg.Database))
		if err != nil {
			logrus.WithError(err).Warn("[BOOT] Valkey unavailable, falling back to in-memory dedup and local broadcast")
		} else {
			rt.vk = vk
			dedup = repository.NewValkeyDedupStore(vk, cfg.Webhook.DedupTTL)
			hubOpts = append(hubOpts, websocket.WithBroker(vk, cfg.App.ServerID))
			logrus.Infof("[BOOT] Valkey connected at %s", cfg.Database.ValkeyAddress)
		}
	}

	rt.hub = websocket.NewHub(hubOpts...)
	go rt.hub.Run(ctx)

	instances := repository.NewInstanceGormRepository(db, sealer)
	conversations := repository.NewConversationGormRepository(db)
	rt.auditStore = repository.NewAuditGormStore(db)
	rt.audit = application.NewAsyncAuditLogger(rt.auditStore, 1000)

	breakers := breaker.NewRegistry(breaker.Settings{
		Window:           cfg.Breaker.Window,
		MaxRequests:      cfg.Breaker.MaxRequests,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, breaker.WithFailureClassifier(application.IsInfrastructureFailure))

	rt.manager = channels.NewManager(channels.Dependencies{
		Repository:     instances,
		Gateway:        gateway.NewClient(cfg.Gateway),
		Breakers:       breakers,
		Audit:          rt.audit,
		Conversations:  conversations,
		Notifier:       rt.hub,
		WebhookBaseURL: cfg.Gateway.PublicWebhookURL + cfg.App.BasePath,
	})
	rt.manager.RegisterChannelType(instance.ChannelTypeWhatsApp, application.NewWhatsAppService)

	var model message.Interpreter
	if cfg.AI.OpenAIKey != "" {
		model = ai.NewOpenAIInterpreter(cfg.AI.OpenAIKey, cfg.AI.DefaultModel)
	}
	processor := application.NewMessageProcessor(conversations, ai.NewRouter(model))

	rt.pool = msgworker.New(cfg.Webhook.WorkerPoolSize, cfg.Webhook.WorkerQueueSize)
	rt.pool.Start(ctx)

	rt.ingestor = application.NewWebhookIngestor(rt.manager, instances, dedup, processor,
		application.WithWorkerPool(rt.pool),
		application.WithGlobalSecret(cfg.Webhook.Secret),
	)

	logrus.WithFields(logrus.Fields{
		"server_id":     cfg.App.ServerID,
		"db_driver":     cfg.Database.Driver,
		"gateway":       cfg.Gateway.BaseURL,
		"channel_types": rt.manager.ChannelTypes(),
	}).Info("[BOOT] Channel subsystem ready")
	return rt, nil
}

// healthChecks lists the dependencies /healthz reports on.
func (rt *appRuntime) healthChecks() map[string]rest.Pinger {
	checks := map[string]rest.Pinger{
		"database": rest.PingFunc(func(ctx context.Context) error {
			sqlDB, err := rt.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if rt.vk != nil {
		checks["valkey"] = rt.vk
	}
	return checks
}

// Stop releases everything in reverse order of construction.
func (rt *appRuntime) Stop() {
	logrus.Info("[BOOT] Stopping channel subsystem...")
	if rt.pool != nil {
		rt.pool.Stop()
	}
	if rt.manager != nil {
		rt.manager.Shutdown()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	rt.cancel()
	if rt.vk != nil {
		rt.vk.Close()
	}
	if rt.db != nil {
		if sqlDB, err := rt.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.shutdownOTel(ctx); err != nil {
		logrus.WithError(err).Warn("[BOOT] Tracer shutdown failed")
	}
}
