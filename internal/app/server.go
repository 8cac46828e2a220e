package app

import (
	"context"
	"fmt"
	"time"

	"friendserver/internal/config"
	"friendserver/internal/logger"
	"friendserver/internal/repository"
	"friendserver/internal/service"
	"friendserver/internal/util"
	"friendserver/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Server holds the assembled service and the resources it must release.
type Server struct {
	Router *gin.Engine
	Hub    *websocket.Hub

	worker  *service.NotificationWorker
	closers []func() error
}

// NewServer connects the configured backends and assembles the friends
// service on top of them.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{}

	store, err := s.initStore(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.RedisEnabled {
		if redisClient := initRedisWithRetry(ctx, cfg); redisClient != nil {
			s.closers = append(s.closers, redisClient.Close)
			store = repository.NewCachedFriendListRepository(store, redisClient, cfg.RedisCacheTTL)
			logger.Log.Info("friend list cache enabled", zap.Duration("ttl", cfg.RedisCacheTTL))
		}
	}

	// Initialize WebSocket hub
	s.Hub = websocket.NewHub()

	friendshipService := service.NewFriendshipService(store, s.Hub)
	notificationService := service.NewNotificationService(store, s.Hub)

	if cfg.RelayEnabled {
		if rabbitMQ := initRabbitMQWithRetry(ctx, cfg); rabbitMQ != nil {
			s.closers = append(s.closers, rabbitMQ.Close)
			worker := service.NewNotificationWorker(rabbitMQ, s.Hub, uuid.NewString())
			if err := worker.Start(); err != nil {
				logger.Log.Warn("notification relay not started", zap.Error(err))
			} else {
				s.worker = worker
				notificationService.SetRelay(worker)
			}
		}
	}

	dispatcher := NewFriendsDispatcher(s.Hub, friendshipService, notificationService, cfg.StoreTimeout)
	s.Hub.SetMessageHandler(dispatcher.Handle)
	s.Hub.SetPresenceCallback(dispatcher.OnPresenceChange)

	s.Router = NewRouter(cfg, s.Hub, NewAdminHandler(store, friendshipService))
	return s, nil
}

// Close stops the relay and releases backend connections.
func (s *Server) Close() {
	if s.worker != nil {
		s.worker.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Log.Warn("close failed", zap.Error(err))
		}
	}
}

func (s *Server) initStore(ctx context.Context, cfg *config.Config) (repository.FriendListRepository, error) {
	switch cfg.StoreBackend {
	case "mongo":
		db, err := initMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return db.Client().Disconnect(ctx)
		})
		if err := repository.EnsureMongoIndexes(ctx, db, cfg.MongoCollection); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Log.Info("using mongo store", zap.String("database", cfg.MongoDatabase), zap.String("collection", cfg.MongoCollection))
		return repository.NewMongoFriendListRepository(db, cfg.MongoCollection), nil

	case "postgres":
		db, err := initDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			s.closers = append(s.closers, sqlDB.Close)
		}
		if err := repository.MigrateGorm(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Log.Info("using postgres store", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))
		return repository.NewGormFriendListRepository(db), nil

	default:
		logger.Log.Warn("using in-memory store; relationships are lost on restart")
		return repository.NewMemoryFriendListRepository(), nil
	}
}

func initMongo(ctx context.Context, cfg *config.Config) (*mongo.Database, error) {
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.MongoUsername != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.MongoUsername,
			Password: cfg.MongoPassword,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if cfg.Debug {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	return gorm.Open(postgres.Open(cfg.PostgresDSN()), gormConfig)
}

const (
	maxConnectRetries = 5
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// retryDelay is the exponential backoff before the next attempt.
func retryDelay(attempt int) time.Duration {
	delay := initialRetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// initRedisWithRetry attempts to connect to Redis with exponential backoff retry.
// It returns nil when Redis stays unreachable; the service runs uncached.
func initRedisWithRetry(ctx context.Context, cfg *config.Config) *util.RedisClient {
	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		redisClient, err := util.NewRedisClient(ctx, cfg)
		if err == nil {
			logger.Log.Info("redis connected", zap.Int("attempt", attempt))
			return redisClient
		}

		if attempt == maxConnectRetries {
			logger.Log.Warn("redis unavailable, continuing without cache", zap.Int("attempts", attempt), zap.Error(err))
			break
		}
		delay := retryDelay(attempt)
		logger.Log.Warn("redis connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			break
		}
	}
	return nil
}

// initRabbitMQWithRetry attempts to connect to RabbitMQ with exponential backoff retry.
// It returns nil when the broker stays unreachable; notifications stay local.
func initRabbitMQWithRetry(ctx context.Context, cfg *config.Config) *util.RabbitMQClient {
	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		rabbitMQ, err := util.NewRabbitMQClient(cfg.RabbitMQURL)
		if err == nil {
			logger.Log.Info("rabbitmq connected", zap.Int("attempt", attempt))
			return rabbitMQ
		}

		if attempt == maxConnectRetries {
			logger.Log.Warn("rabbitmq unavailable, cross-instance relay disabled", zap.Int("attempts", attempt), zap.Error(err))
			break
		}
		delay := retryDelay(attempt)
		logger.Log.Warn("rabbitmq connect failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			break
		}
	}
	return nil
}
