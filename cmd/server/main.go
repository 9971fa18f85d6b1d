package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-inbox/internal/api"
	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/inbox"
	"whatsapp-inbox/internal/media"
	"whatsapp-inbox/internal/metrics"
	"whatsapp-inbox/internal/notify"
	"whatsapp-inbox/internal/storage"
	"whatsapp-inbox/internal/storage/localfs"
	"whatsapp-inbox/internal/storage/s3store"
	"whatsapp-inbox/internal/store"
	"whatsapp-inbox/internal/webhook"
	"whatsapp-inbox/internal/whatsapp"
	"whatsapp-inbox/internal/ws"
	"whatsapp-inbox/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	if account, err := database.SeedAccount(ctx, db, cfg); err != nil {
		return err
	} else if account != nil {
		log.Info("bootstrap account ready", "account", account.Name, "phone_number_id", account.PhoneNumberID)
	}
	s := store.New(db)

	provider, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log.With("component", "ws"))
	go hub.Run(ctx)

	publishers := notify.Fanout{hub}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		publishers = append(publishers, notify.NewRedisPublisher(rdb, cfg.RedisChannelPrefix))
	}
	if cfg.AMQPURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log.With("component", "amqp"))
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		publishers = append(publishers, amqpPub)
	}

	var m *metrics.WebhookMetrics
	if cfg.MetricsEnabled {
		m = metrics.NewWebhookMetrics(nil)
	}

	graph := whatsapp.NewClient(&http.Client{Timeout: cfg.MediaTimeout})
	fetcher := media.NewFetcher(graph, provider, cfg.MediaMaxBytes)

	inboxLog := log.With("component", "inbox")
	notifier := inbox.NewNotifier(publishers, inboxLog)
	resolver := inbox.NewResolver(s, inboxLog)
	persister := inbox.NewPersister(s, notifier, inboxLog)
	ingestor := inbox.NewIngestor(s, resolver, persister, fetcher, m, inboxLog, inbox.IngestorConfig{
		MediaTimeout: cfg.MediaTimeout,
		MediaWorkers: cfg.MediaWorkers,
	})
	statuses := inbox.NewStatusUpdater(s, notifier, inboxLog)
	conversations := inbox.NewConversations(s, resolver, persister, graph, inboxLog)

	webhookLog := log.With("component", "webhook")
	relay := webhook.NewRelay(&http.Client{}, resolver, s, m, webhookLog, cfg.RelayTimeout)
	webhookHandler := webhook.NewHandler(s, ingestor, statuses, relay, m, webhookLog, webhook.HandlerConfig{
		FallbackAccountName: cfg.FallbackAccountName,
		AppSecret:           cfg.AppSecret,
		RelaySkipStatusOnly: cfg.RelaySkipStatusOnly,
	})
	contactHandler := api.NewContactHandler(s, conversations, log.With("component", "api"))
	dashboardHandler := api.NewDashboardHandler(s, conversations, log.With("component", "api"))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	r.GET("/ws", func(c *gin.Context) { hub.ServeWs(c.Writer, c.Request) })
	if local, ok := provider.(*localfs.Provider); ok {
		r.Static(cfg.StoragePublicPrefix, local.Root())
	}
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.GET("/contacts/export", contactHandler.ExportContacts)
		apiGroup.GET("/contacts/:id/messages", contactHandler.GetMessages)
		apiGroup.POST("/contacts/:id/read", contactHandler.MarkRead)
		apiGroup.POST("/contacts/:id/bot", contactHandler.PauseBot)
		apiGroup.POST("/contacts/:id/assign", contactHandler.AssignContact)

		apiGroup.POST("/send", dashboardHandler.SendMessage)
		apiGroup.POST("/send/template", dashboardHandler.SendTemplate)
		apiGroup.GET("/templates", dashboardHandler.GetTemplates)
		apiGroup.GET("/logs", dashboardHandler.GetWebhookLogs)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "db_driver", cfg.DBDriver, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	ingestor.Wait()
	relay.Wait()
	return err
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Provider, error) {
	if cfg.StorageDriver == "s3" {
		return s3store.NewFromEnv(ctx, cfg.S3Bucket, cfg.AWSRegion, cfg.AWSEndpointOverride)
	}
	return localfs.New(cfg.StorageRoot, cfg.StoragePublicPrefix)
}
