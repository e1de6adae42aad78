package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/Baaaki/teamchat/internal/broker"
	"github.com/Baaaki/teamchat/internal/config"
	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/handler"
	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/Baaaki/teamchat/internal/push"
	"github.com/Baaaki/teamchat/internal/realtime"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/internal/storage"
	"github.com/Baaaki/teamchat/internal/wal"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal("Server stopped with error", zap.Error(err))
	}
	logger.Log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	rdb, err := broker.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	feedBroker, err := newBroker(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer feedBroker.Close()
	logger.Log.Info("Change feed ready", zap.String("driver", cfg.FeedDriver))

	outbox, err := wal.NewWAL(cfg.WALPath)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer outbox.Close()

	publisher := service.NewPublisher(feedBroker, outbox)
	go publisher.RunReplay(ctx, cfg.OutboxReplayInterval)

	app, err := newFirebaseApp(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := newObjectStore(ctx, cfg, app)
	if err != nil {
		return err
	}
	pusher, err := newPusher(ctx, cfg, app)
	if err != nil {
		return err
	}

	// Repositories
	userRepo := repository.NewUserRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	fileRepo := repository.NewFileRepository(db)

	// Services
	channels := service.NewChannelService(channelRepo, memberRepo, userRepo).WithPublisher(publisher)
	messages := service.NewMessageService(repository.NewMessageRepository(db), fileRepo, channels, publisher)
	dms := service.NewDirectMessageService(repository.NewDirectMessageRepository(db), userRepo, fileRepo, publisher)
	presence := service.NewPresenceService(repository.NewPresenceRepository(db), userRepo, rdb, publisher,
		cfg.PresenceStaleAfter, cfg.PresenceHeartbeatInterval)
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), userRepo, publisher, pusher)
	files := service.NewFileService(fileRepo, userRepo, store)
	users := service.NewUserService(userRepo, presence)
	auth := service.NewAuthService(userRepo, channels, cfg.JWTSecret, cfg.JWTExpiry, cfg.Environment)

	views := service.NewViewRegistry(rdb, service.DefaultViewTTL)
	hub := realtime.NewHub(feedBroker, service.NewStreamAccess(channels), presence).WithViews(views)
	views.WithLocal(hub)
	fanout := service.NewFanout(feedBroker, notifications, channelRepo, memberRepo, userRepo, rdb, views)

	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("Realtime hub stopped, sessions closed", zap.Error(err))
		}
	}()
	go func() {
		if err := fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error("Notification fan-out stopped", zap.Error(err))
		}
	}()

	limiter := middleware.NewRateLimiter(rdb, middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
		BlockTime:   cfg.RateLimitBlockTime,
	})
	authLimiter := middleware.NewRateLimiter(rdb, middleware.RateLimiterConfig{
		MaxRequests: 10,
		Window:      time.Minute,
		BlockTime:   cfg.RateLimitBlockTime,
	})

	routerCfg := handler.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		IsProduction:   cfg.Environment == "production",
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Limiter:        limiter,
		AuthLimiter:    authLimiter,
	}
	if cfg.StorageDriver == config.StorageDriverLocal {
		routerCfg.FilesDir = cfg.StorageDir
		routerCfg.FilesURL = cfg.StorageBaseURL
	}

	router := handler.NewRouter(handler.Handlers{
		Auth:          handler.NewAuthHandler(auth),
		Channels:      handler.NewChannelHandler(channels),
		Messages:      handler.NewMessageHandler(messages),
		Directs:       handler.NewDirectMessageHandler(dms),
		Presence:      handler.NewPresenceHandler(presence),
		Notifications: handler.NewNotificationHandler(notifications),
		Files:         handler.NewFileHandler(files),
		Users:         handler.NewUserHandler(users),
		Admin:         handler.NewAdminHandler(users, limiter),
		WebSocket: handler.NewWebSocketHandler(hub, handler.WebSocketServices{
			Messages:      messages,
			Directs:       dms,
			Presence:      presence,
			Notifications: notifications,
		}, cfg.WSMaxSession, cfg.CORSAllowedOrigins),
	}, routerCfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server starting", zap.String("port", cfg.ServerPort))
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

	logger.Log.Info("Shutting down")
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newBroker(ctx context.Context, cfg *config.Config, rdb *redis.Client) (broker.Broker, error) {
	switch cfg.FeedDriver {
	case config.FeedDriverPostgres:
		return broker.NewPostgresBroker(ctx, cfg.DatabaseURL)
	case config.FeedDriverMemory:
		return broker.NewMemoryBroker(), nil
	default:
		return broker.NewRedisBroker(rdb), nil
	}
}

// newFirebaseApp returns nil when neither storage nor push uses Firebase.
func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	if cfg.StorageDriver != config.StorageDriverFirebase && !cfg.PushEnabled {
		return nil, nil
	}

	var opts []option.ClientOption
	if cfg.FirebaseCredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: cfg.FirebaseBucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase: %w", err)
	}
	return app, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, app *firebase.App) (storage.ObjectStore, error) {
	if cfg.StorageDriver == config.StorageDriverFirebase {
		return storage.NewFirebaseStore(ctx, app, cfg.FirebaseBucket)
	}
	return storage.NewLocalStore(cfg.StorageDir, cfg.StorageBaseURL)
}

func newPusher(ctx context.Context, cfg *config.Config, app *firebase.App) (push.Pusher, error) {
	if !cfg.PushEnabled {
		return push.Noop{}, nil
	}
	return push.NewFCMPusher(ctx, app)
}
