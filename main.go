package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/kouzoh/oncall-support-bot/internal/config"
	"github.com/kouzoh/oncall-support-bot/internal/handlers"
	"github.com/kouzoh/oncall-support-bot/internal/services"
	"github.com/kouzoh/oncall-support-bot/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Set up logging
	setupLogging(cfg.Env)

	// Initialize database
	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := storage.InitDB(cfg.DBDriver, dsn)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	if cfg.SeedFile != "" {
		if err := storage.LoadSeedFile(db, cfg.SeedFile); err != nil {
			logrus.Fatalf("Failed to load seed file: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize transports
	slackService := services.NewSlackService(cfg)
	if slackService.Enabled() {
		authCtx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
		if err := slackService.ValidateToken(authCtx); err != nil {
			logrus.WithError(err).Warn("Slack token check failed, Slack delivery may not work")
		}
		cancel()
	}
	telegramService, err := services.NewTelegramService(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize Telegram: %v", err)
	}

	dispatcher := services.NewMultiDispatcher()
	dispatcher.Register(storage.PlatformSlack, slackService)
	dispatcher.Register(storage.PlatformTelegram, telegramService)

	// Initialize services
	support, conversations, registry := buildSupport(db, cfg, dispatcher)
	troubleshooting := services.NewTroubleshootingService(db)

	lease, err := buildLease(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to Redis: %v", err)
	}
	scheduler := services.NewEscalationScheduler(registry, support, lease, conversations, cfg.EscalationPollInterval)

	// Initialize handlers
	h := handlers.New(support, troubleshooting, slackService, cfg)
	router := setupRouter(h, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("Starting on-call support bot on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down server...")

		// Give outstanding requests a deadline for completion
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if bot := telegramService.Bot(); bot != nil {
		poller := handlers.NewTelegramPoller(bot, support, dispatcher, cfg)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logrus.Fatalf("Server stopped with error: %v", err)
	}

	logrus.Info("Server exited")
}

func buildSupport(db *gorm.DB, cfg *config.Config, dispatcher services.Dispatcher) (*services.SupportService, *services.ConversationTracker, *services.EscalationRegistry) {
	analyzer := services.NewTextAnalyzer()
	matcher := services.NewKnowledgeMatcher(analyzer, db)
	responder := services.NewAutoResponder(analyzer, matcher, db, cfg)
	conversations := services.NewConversationTracker(db, cfg)
	registry := services.NewEscalationRegistry(db, cfg.EscalationTimeout)

	support := services.NewSupportService(services.SupportDependencies{
		DB:            db,
		Config:        cfg,
		Responder:     responder,
		OnCall:        services.NewOnCallResolver(db, cfg.Location()),
		Conversations: conversations,
		Registry:      registry,
		Dispatcher:    dispatcher,
	})
	return support, conversations, registry
}

func buildLease(ctx context.Context, cfg *config.Config) (services.Lease, error) {
	if cfg.RedisURL == "" {
		return services.NewLocalLease(), nil
	}

	client, err := services.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	// Expires after two poll intervals if the holder dies.
	return services.NewRedisLease(client, "oncall-support:escalation-lease", 2*cfg.EscalationPollInterval), nil
}

func setupLogging(env string) {
	if env == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func setupRouter(h *handlers.Handler, cfg *config.Config) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "oncall-support-bot",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.Register(router.Group("/api/v1"))

	return router
}
