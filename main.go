package main

import (
	"context"
	"log"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LifeNeedZoya/chat-backend/internal/api"
	"github.com/LifeNeedZoya/chat-backend/internal/auth"
	"github.com/LifeNeedZoya/chat-backend/internal/cache"
	"github.com/LifeNeedZoya/chat-backend/internal/config"
	"github.com/LifeNeedZoya/chat-backend/internal/service/ai"
	"github.com/LifeNeedZoya/chat-backend/internal/storage"
	"github.com/LifeNeedZoya/chat-backend/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	var cacheClient *cache.Client
	if cfg.Redis.Addr != "" {
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		defer cacheClient.Close()
	}

	authService, err := auth.NewService(cfg.JWT.Secret, cfg.JWT.Algorithm, cfg.JWT.TTL)
	if err != nil {
		logger.Fatal("init auth service", zap.Error(err))
	}
	generator, err := ai.NewService(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		logger.Fatal("init generation client", zap.Error(err))
	}

	storeService := store.NewService(db, cacheClient)
	handler := api.NewHandler(storeService, authService, generator, logger)

	router := gin.Default()
	router.Use(cors.Default())
	handler.RegisterRoutes(router)

	logger.Info("listening", zap.String("addr", cfg.ServerAddress))
	if err := router.Run(cfg.ServerAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
