package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omnidesk/backend/internal/ai"
	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/config"
	"github.com/omnidesk/backend/internal/db"
	httpapi "github.com/omnidesk/backend/internal/http"
	"github.com/omnidesk/backend/internal/http/handlers"
	"github.com/omnidesk/backend/internal/jobs"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/outbound"
	"github.com/omnidesk/backend/internal/presence"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/service"
	"github.com/omnidesk/backend/internal/store"
)

const aiHistoryLimit = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "omnidesk-backend").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   store.Repository
		pg     *db.Store
		online presence.Store = presence.NewMemoryStore()
		locker store.TenantLocker
	)
	if cfg.DatabaseURL == "" {
		repo = store.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		pg, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
		repo = pg
		online = pg.Presence()
		if cfg.RoutingSerialize {
			locker = pg
		}
	}

	var broadcaster realtime.Broadcaster = realtime.LogBroadcaster{Logger: logger}
	if cfg.AMQPURL != "" {
		b, err := realtime.NewAMQPBroadcaster(cfg.AMQPURL, cfg.AMQPExchange, "omnidesk-backend", logger)
		if err != nil {
			logger.Error().Err(err).Msg("amqp unavailable, realtime events are only logged")
		} else {
			defer b.Close()
			broadcaster = b
		}
	}

	httpClient := &http.Client{Timeout: cfg.SendTimeout}
	whatsmeow := &channels.WhatsmeowPool{DBPath: cfg.WhatsmeowDBPath, Logger: logger}
	defer whatsmeow.Close()

	registry := channels.NewRegistry()
	registry.Register(models.ChannelWhatsApp, channels.ByProvider(
		channels.NewEvolutionFactory(cfg.EvolutionAPIURL, cfg.EvolutionAPIKey, httpClient),
		map[string]channels.Factory{"whatsmeow": whatsmeow.Factory},
	))
	registry.Register(models.ChannelInstagram, channels.NewInstagramFactory(cfg.GraphAPIURL, httpClient))
	registry.Register(models.ChannelFacebook, channels.NewFacebookFactory(cfg.GraphAPIURL, httpClient))
	registry.Register(models.ChannelMarketplace, channels.NewMarketplaceFactory(cfg.MarketplaceAPIURL, cfg.MarketplaceClientID, cfg.MarketplaceClientSecret, repo, httpClient, logger))
	registry.Register(models.ChannelEmail, channels.NewEmailFactory(channels.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     strconv.Itoa(cfg.SMTPPort),
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}))
	registry.Register(models.ChannelWebchat, channels.NewWebchatFactory(broadcaster))

	tracker := presence.NewTracker(online, logger, cfg.PresenceTimeout)
	queue := &service.QueueManager{Store: repo, Broadcaster: broadcaster, Logger: logger}
	router := &service.Router{
		Store:       repo,
		Presence:    tracker,
		Queue:       queue,
		Broadcaster: broadcaster,
		Locker:      locker,
		Logger:      logger,
	}
	dispatcher := &outbound.Dispatcher{
		Store:       repo,
		Registry:    registry,
		Limiters:    outbound.NewLimiters(cfg.SendRatePerSecond, cfg.SendBurst),
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
	}
	conversations := &service.ConversationService{
		Store:       repo,
		Router:      router,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Logger:      logger,
	}
	conversations.AI = newReplier(cfg, conversations, logger)
	processing := &service.ProcessingService{
		Store:     repo,
		Router:    router,
		Queue:     queue,
		Logger:    logger,
		BatchSize: cfg.QueueBatchSize,
	}
	inbox := &service.Inbox{Store: repo, Conversations: conversations, Router: router, Logger: logger}
	// TODO: connect native WhatsApp channels at startup once the repository can list
	// channels across tenants; until then a client connects on its first send.
	whatsmeow.OnMessage = func(ch models.Channel, msg channels.InboundMessage) {
		if _, err := inbox.Receive(context.Background(), ch, msg); err != nil {
			logger.Error().Err(err).Str("channel_id", ch.ID).Msg("whatsmeow inbound message")
		}
	}

	if cfg.JobsEnabled && pg != nil {
		if _, err := jobs.Migrate(ctx, pg.Pool); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate job tables")
		}
		runner, err := jobs.New(pg.Pool, dispatcher, processing, jobs.Config{
			MaxWorkers:      cfg.JobsMaxWorkers,
			ProcessInterval: cfg.QueueProcessInterval,
			SendTimeout:     cfg.SendTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create job runner")
		}
		if err := runner.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start job runner")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := runner.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("job runner stop")
			}
		}()
		conversations.DispatchQueue = runner
		logger.Info().Int("max_workers", cfg.JobsMaxWorkers).Msg("background jobs enabled")
	} else {
		go processQueues(ctx, processing, cfg.QueueProcessInterval, logger)
	}

	h := &handlers.Handler{
		Store:         repo,
		Conversations: conversations,
		Router:        router,
		Transfers: &service.TransferManager{
			Store:         repo,
			Router:        router,
			Conversations: conversations,
			Broadcaster:   broadcaster,
			Logger:        logger,
		},
		Queue:       queue,
		Processing:  processing,
		Departments: &service.DepartmentService{Store: repo, Logger: logger},
		Agents:      &service.AgentService{Store: repo, Presence: tracker, Processing: processing, Logger: logger},
		Inbox:       inbox,
		Presence:    tracker,
		Marketplace: func(ch models.Channel) (handlers.PackFetcher, error) {
			c, err := channels.NewMarketplaceClient(cfg.MarketplaceAPIURL, cfg.MarketplaceClientID, cfg.MarketplaceClientSecret, ch, repo, httpClient)
			if err != nil {
				return nil, err
			}
			c.Logger = logger
			return c, nil
		},
		Validator:       validator.New(),
		Logger:          logger,
		MetaVerifyToken: cfg.MetaVerifyToken,
	}
	if pg != nil {
		h.Pinger = pg
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.Router(cfg, h, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

// newReplier picks the assistant backend: a chat completions API when a key is
// configured, the internal AI service when only its URL is, the canned mock otherwise.
func newReplier(cfg config.Config, conversations *service.ConversationService, logger zerolog.Logger) ai.Replier {
	switch {
	case cfg.AIAPIKey != "":
		logger.Info().Str("model", cfg.AIModel).Msg("using chat completions assistant")
		return ai.OpenAICompatReplier{
			BaseURL: cfg.AIURL,
			Model:   cfg.AIModel,
			APIKey:  cfg.AIAPIKey,
			History: func(ctx context.Context, conversationID string) ([]ai.ChatMessage, error) {
				return conversations.History(ctx, conversationID, aiHistoryLimit)
			},
		}
	case cfg.AIURL != "":
		return ai.HTTPReplier{BaseURL: cfg.AIURL}
	default:
		logger.Info().Msg("using mock AI replier")
		return ai.MockReplier{}
	}
}

// processQueues drains every tenant's queue periodically when River is not running.
func processQueues(ctx context.Context, processing *service.ProcessingService, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		every = jobs.DefaultProcessInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := processing.ProcessAll(ctx); err != nil {
				logger.Error().Err(err).Msg("periodic queue processing")
			}
		}
	}
}
